package rpcstub

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ggoodman/cmis-bindings-go/binding"
	"github.com/ggoodman/cmis-bindings-go/cmis"
	"github.com/ggoodman/cmis-bindings-go/internal/logctx"
	"github.com/ggoodman/cmis-bindings-go/relay"
	"github.com/google/uuid"
)

// ErrBadCredentials is reported when the envelope security header is
// missing or rejected.
var ErrBadCredentials = errors.New("rpcstub: bad credentials")

// CredentialCheck validates the username and password of an envelope's
// security header.
type CredentialCheck func(ctx context.Context, username, password string) bool

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithCredentialCheck requires every envelope to carry a security header
// accepted by check.
func WithCredentialCheck(check CredentialCheck) ServerOption {
	return func(s *Server) { s.check = check }
}

// Server answers envelopes by calling a cmis.Service. It is the
// counterpart of Handle and exists mainly for tests and embedding.
type Server struct {
	svc        cmis.Service
	log        *slog.Logger
	check      CredentialCheck
	maxContent int64
}

// NewServer returns an http.Handler serving envelopes for svc.
func NewServer(svc cmis.Service, opts ...ServerOption) *Server {
	s := &Server{svc: svc, log: slog.New(slog.DiscardHandler), maxContent: DefaultMaxContent}
	for _, opt := range opts {
		opt(s)
	}
	s.log = slog.New(logctx.Handler{Handler: s.log.Handler()})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req Request
	body := http.MaxBytesReader(w, r.Body, s.maxContent+1<<20)
	if err := decMode.NewDecoder(body).Decode(&req); err != nil {
		s.fault(ctx, w, http.StatusBadRequest, cmis.Errorf(cmis.KindMalformedRequest, "decode", "decode envelope: %w", err))
		return
	}
	ctx = logctx.WithCallData(ctx, &logctx.CallData{RepositoryID: req.RepositoryID, Action: req.Operation, ObjectID: req.ObjectID})

	cc := &cmis.CallContext{RepositoryID: req.RepositoryID}
	if s.check != nil {
		user, ok := s.authenticate(ctx, req.Header)
		if !ok {
			s.fault(ctx, w, http.StatusUnauthorized, cmis.Errorf(cmis.KindConnection, req.Operation, "%w", ErrBadCredentials))
			return
		}
		cc.User = user
	}
	ctx = cmis.WithCallContext(ctx, cc)

	resp, err := s.dispatch(ctx, &req)
	if err != nil {
		s.fault(ctx, w, http.StatusInternalServerError, err)
		return
	}
	out, err := encMode.Marshal(resp)
	if err != nil {
		s.fault(ctx, w, http.StatusInternalServerError, cmis.Errorf(cmis.KindRuntime, req.Operation, "encode envelope: %w", err))
		return
	}
	w.Header().Set("Content-Type", MediaType)
	_, _ = w.Write(out)
	s.log.InfoContext(ctx, "rpc.call.ok")
}

func (s *Server) authenticate(ctx context.Context, header map[string]any) (string, bool) {
	sec, _ := header["security"].(map[string]any)
	user, _ := sec["username"].(string)
	pass, _ := sec["password"].(string)
	if user == "" || !s.check(ctx, user, pass) {
		s.log.InfoContext(ctx, "auth.check.fail", slog.String("user", user))
		return "", false
	}
	return user, true
}

// fault reports err as a fault envelope. Faults always use a failure
// status, like SOAP faults do.
func (s *Server) fault(ctx context.Context, w http.ResponseWriter, status int, err error) {
	kind := cmis.KindOf(err)
	s.log.Log(ctx, levelFor(kind), "rpc.call.fault", slog.String("kind", kind.String()), slog.String("err", err.Error()))
	out, _ := encMode.Marshal(&Response{Fault: &Fault{Kind: kind.String(), Message: err.Error()}})
	w.Header().Set("Content-Type", MediaType)
	w.WriteHeader(status)
	_, _ = w.Write(out)
}

func levelFor(kind cmis.Kind) slog.Level {
	switch kind {
	case cmis.KindMalformedRequest, cmis.KindNotFound, cmis.KindConstraint, cmis.KindConnection:
		return slog.LevelInfo
	default:
		return slog.LevelError
	}
}

func (s *Server) dispatch(ctx context.Context, req *Request) (*Response, error) {
	op := req.Operation
	repo := req.RepositoryID
	props, err := decodeProperties(req.Properties)
	if err != nil {
		return nil, cmis.Wrap(cmis.KindMalformedRequest, op, err)
	}

	switch op {
	case binding.OpGetObject, binding.OpGetObjectOfLatestVersion:
		opts := cmis.ObjectOptions{
			Filter:                  req.Params[binding.ParamFilter],
			IncludeAllowableActions: flag(req.Params, binding.ParamIncludeAllowableActions, false),
			IncludePolicyIDs:        flag(req.Params, binding.ParamIncludePolicyIDs, false),
			IncludeACL:              flag(req.Params, binding.ParamIncludeACL, false),
		}
		var obj *cmis.ObjectData
		if op == binding.OpGetObject {
			obj, err = s.svc.GetObject(ctx, repo, req.ObjectID, opts)
		} else {
			obj, err = s.svc.GetObjectOfLatestVersion(ctx, repo, req.ObjectID, flag(req.Params, binding.ParamMajor, false), opts)
		}
		if err != nil {
			return nil, err
		}
		if obj == nil {
			return nil, cmis.Errorf(cmis.KindConsistency, op, "repository returned no object for %q", req.ObjectID)
		}
		return &Response{ObjectID: obj.ID(), Object: encodeObject(obj)}, nil

	case binding.OpGetContentStream:
		var rng *cmis.ByteRange
		if req.Range != nil {
			rng = &cmis.ByteRange{Offset: req.Range.Offset, Length: req.Range.Length}
		}
		cs, err := s.svc.GetContentStream(ctx, repo, req.ObjectID, req.Params[binding.ParamStreamID], rng)
		if err != nil {
			return nil, err
		}
		if cs == nil || cs.Stream == nil {
			return nil, cmis.Errorf(cmis.KindConsistency, op, "repository returned no content stream for %q", req.ObjectID)
		}
		var buf bytes.Buffer
		if _, err := relay.Copy(&buf, cs.Stream, 0); err != nil {
			return nil, cmis.Wrap(cmis.KindTransfer, op, err)
		}
		return &Response{ObjectID: req.ObjectID, Content: &Content{
			Filename: cs.Filename,
			MimeType: cs.EffectiveMimeType(),
			Length:   cs.Length,
			Data:     buf.Bytes(),
		}}, nil

	case binding.OpCreateDocument:
		var state cmis.VersioningState
		if state, err = cmis.ParseVersioningState(req.Params[binding.ParamVersioningState]); err != nil {
			return nil, cmis.Wrap(cmis.KindMalformedRequest, op, err)
		}
		id, err := s.svc.CreateDocument(ctx, repo, &cmis.CreateDocumentRequest{
			Properties:      props,
			FolderID:        req.Params[binding.ParamFolderID],
			Content:         contentStream(req.Content),
			VersioningState: state,
			Policies:        req.Policies,
			AddACEs:         decodeACEs(req.AddACEs),
		})
		if err != nil {
			return nil, err
		}
		return s.created(ctx, repo, id)

	case binding.OpCreateFolder:
		id, err := s.svc.CreateFolder(ctx, repo, &cmis.CreateFolderRequest{
			Properties: props,
			FolderID:   req.Params[binding.ParamFolderID],
			Policies:   req.Policies,
			AddACEs:    decodeACEs(req.AddACEs),
		})
		if err != nil {
			return nil, err
		}
		return s.created(ctx, repo, id)

	case binding.OpSetContentStream:
		if req.Content == nil {
			return nil, cmis.Errorf(cmis.KindMalformedRequest, op, "no content")
		}
		if err := s.svc.SetContentStream(ctx, repo, req.ObjectID, flag(req.Params, binding.ParamOverwrite, true), contentStream(req.Content)); err != nil {
			return nil, err
		}
		return &Response{ObjectID: req.ObjectID}, nil

	case binding.OpDeleteContentStream:
		if err := s.svc.DeleteContentStream(ctx, repo, req.ObjectID); err != nil {
			return nil, err
		}
		return &Response{ObjectID: req.ObjectID}, nil

	case binding.OpDeleteObject:
		if err := s.svc.DeleteObject(ctx, repo, req.ObjectID, flag(req.Params, binding.ParamAllVersions, true)); err != nil {
			return nil, err
		}
		return &Response{}, nil

	default:
		return nil, cmis.Errorf(cmis.KindMalformedRequest, op, "unknown operation")
	}
}

func (s *Server) created(ctx context.Context, repo, id string) (*Response, error) {
	info, err := s.svc.GetObjectInfo(ctx, repo, id)
	if err != nil {
		return nil, err
	}
	if info == nil || info.Object == nil {
		return nil, cmis.Errorf(cmis.KindConsistency, "getObjectInfo", "no object info for new object %q", id)
	}
	return &Response{ObjectID: id, Object: encodeObject(info.Object)}, nil
}

func contentStream(c *Content) *cmis.ContentStream {
	if c == nil {
		return nil
	}
	return &cmis.ContentStream{
		Filename: c.Filename,
		MimeType: c.MimeType,
		Length:   int64(len(c.Data)),
		Stream:   io.NopCloser(bytes.NewReader(c.Data)),
	}
}

func flag(params map[string]string, key string, def bool) bool {
	v, err := strconv.ParseBool(params[key])
	if err != nil {
		return def
	}
	return v
}
