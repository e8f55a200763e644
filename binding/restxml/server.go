package restxml

import (
	"context"
	"encoding/xml"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/ggoodman/cmis-bindings-go/binding"
	"github.com/ggoodman/cmis-bindings-go/cmis"
	"github.com/ggoodman/cmis-bindings-go/internal/httpwire"
	"github.com/ggoodman/cmis-bindings-go/internal/logctx"
	"github.com/ggoodman/cmis-bindings-go/internal/metrics"
	"github.com/ggoodman/cmis-bindings-go/relay"
	"github.com/google/uuid"
)

// ParamReturnVersion selects the version returned by a GET on an object.
const ParamReturnVersion = "returnVersion"

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithServerMetrics records served requests and relayed bytes.
func WithServerMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// Server answers XML binding requests by calling a cmis.Service.
type Server struct {
	svc       cmis.Service
	log       *slog.Logger
	metrics   *metrics.Metrics
	maxInline int64
	mux       *http.ServeMux
}

// NewServer returns an http.Handler serving svc over the XML binding.
func NewServer(svc cmis.Service, opts ...ServerOption) *Server {
	s := &Server{svc: svc, log: slog.New(slog.DiscardHandler), maxInline: DefaultMaxInline}
	for _, opt := range opts {
		opt(s)
	}
	s.log = slog.New(logctx.Handler{Handler: s.log.Handler()})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{repositoryId}/objects/{objectId}", s.wrap(binding.OpGetObject, s.getObject))
	mux.HandleFunc("DELETE /{repositoryId}/objects/{objectId}", s.wrap(binding.OpDeleteObject, s.deleteObject))
	mux.HandleFunc("GET /{repositoryId}/objects/{objectId}/content", s.wrap(binding.OpGetContentStream, s.getContentStream))
	mux.HandleFunc("PUT /{repositoryId}/objects/{objectId}/content", s.wrap(binding.OpSetContentStream, s.setContentStream))
	mux.HandleFunc("DELETE /{repositoryId}/objects/{objectId}/content", s.wrap(binding.OpDeleteContentStream, s.deleteContentStream))
	mux.HandleFunc("POST /{repositoryId}/objects/{objectId}/children", s.wrap("create", s.create))
	mux.HandleFunc("POST /{repositoryId}/unfiled", s.wrap("create", s.create))
	s.mux = mux
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type handlerFunc func(ctx context.Context, w http.ResponseWriter, r *http.Request) (int, error)

// wrap attaches request and call data and reports any returned error.
func (s *Server) wrap(action string, fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		repo := r.PathValue("repositoryId")
		ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
			RequestID:  reqID,
			Method:     r.Method,
			UserAgent:  r.UserAgent(),
			RemoteAddr: r.RemoteAddr,
			Path:       r.URL.Path,
		})
		ctx = logctx.WithCallData(ctx, &logctx.CallData{RepositoryID: repo, Action: action, ObjectID: r.PathValue("objectId")})
		ctx = cmis.WithCallContext(ctx, &cmis.CallContext{RepositoryID: repo, RequestID: reqID})

		status, err := fn(ctx, w, r.WithContext(ctx))
		if err != nil {
			status = s.fail(ctx, w, err)
		}
		s.metrics.ObserveRequest(action, status)
	}
}

func (s *Server) fail(ctx context.Context, w http.ResponseWriter, err error) int {
	kind := cmis.KindOf(err)
	status := binding.StatusForKind(kind)
	if status >= http.StatusInternalServerError {
		s.log.ErrorContext(ctx, "http.call.fail", slog.String("kind", kind.String()), slog.String("err", err.Error()))
	} else {
		s.log.InfoContext(ctx, "http.call.reject", slog.String("kind", kind.String()), slog.String("err", err.Error()))
	}
	body, _ := xml.Marshal(&errorElement{Kind: kind.String(), Message: err.Error()})
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = w.Write(body)
	return status
}

func (s *Server) writeEntry(ctx context.Context, w http.ResponseWriter, status int, obj *cmis.ObjectData) (int, error) {
	body, err := xml.Marshal(newEntry(obj))
	if err != nil {
		return 0, cmis.Errorf(cmis.KindRuntime, "encodeEntry", "encode entry: %w", err)
	}
	w.Header().Set("Content-Type", MediaType)
	w.WriteHeader(status)
	_, _ = w.Write(append([]byte(xml.Header), body...))
	return status, nil
}

func (s *Server) getObject(ctx context.Context, w http.ResponseWriter, r *http.Request) (int, error) {
	const op = binding.OpGetObject
	q := r.URL.Query()
	repo, id := r.PathValue("repositoryId"), r.PathValue("objectId")
	rv, err := cmis.ParseReturnVersion(q.Get(ParamReturnVersion))
	if err != nil {
		return 0, cmis.Wrap(cmis.KindMalformedRequest, op, err)
	}
	opts := cmis.ObjectOptions{Filter: q.Get(binding.ParamFilter)}
	for name, dst := range map[string]*bool{
		binding.ParamIncludeAllowableActions: &opts.IncludeAllowableActions,
		binding.ParamIncludePolicyIDs:        &opts.IncludePolicyIDs,
		binding.ParamIncludeACL:              &opts.IncludeACL,
	} {
		if *dst, err = flag(q.Get(name), false); err != nil {
			return 0, cmis.Errorf(cmis.KindMalformedRequest, op, "%s: %w", name, err)
		}
	}

	var obj *cmis.ObjectData
	switch rv {
	case cmis.ReturnThis:
		obj, err = s.svc.GetObject(ctx, repo, id, opts)
	default:
		obj, err = s.svc.GetObjectOfLatestVersion(ctx, repo, id, rv == cmis.ReturnLatestMajor, opts)
	}
	if err != nil {
		return 0, err
	}
	if obj == nil {
		return 0, cmis.Errorf(cmis.KindConsistency, op, "repository returned no object for %q", id)
	}
	return s.writeEntry(ctx, w, http.StatusOK, obj)
}

func (s *Server) getContentStream(ctx context.Context, w http.ResponseWriter, r *http.Request) (int, error) {
	const op = binding.OpGetContentStream
	repo, id := r.PathValue("repositoryId"), r.PathValue("objectId")
	rng, err := httpwire.ParseRange(r.Header.Get("Range"))
	if err != nil {
		return 0, cmis.Wrap(cmis.KindMalformedRequest, op, err)
	}
	cs, err := s.svc.GetContentStream(ctx, repo, id, r.URL.Query().Get(binding.ParamStreamID), rng)
	if err != nil {
		return 0, err
	}
	if cs == nil || cs.Stream == nil {
		cs.Close()
		return 0, cmis.Errorf(cmis.KindConsistency, op, "repository returned no content stream for %q", id)
	}

	status := httpwire.SetContentHeaders(w.Header(), cs, rng)
	w.WriteHeader(status)
	n, err := relay.Copy(w, cs.Stream, relay.DefaultChunkSize)
	s.metrics.AddRelayed(n, err)
	if err != nil {
		s.log.ErrorContext(ctx, "relay.fail", slog.Int64("written", n), slog.String("err", err.Error()))
	}
	return status, nil
}

func (s *Server) create(ctx context.Context, w http.ResponseWriter, r *http.Request) (int, error) {
	const op = "create"
	repo, folderID := r.PathValue("repositoryId"), r.PathValue("objectId")

	var e Entry
	body := http.MaxBytesReader(w, r.Body, 2*s.maxInline+1<<20)
	if err := xml.NewDecoder(body).Decode(&e); err != nil {
		return 0, cmis.Errorf(cmis.KindMalformedRequest, op, "decode entry: %w", err)
	}
	obj, err := e.objectData()
	if err != nil {
		return 0, cmis.Wrap(cmis.KindMalformedRequest, op, err)
	}
	if obj.TypeID() == "" {
		return 0, cmis.Errorf(cmis.KindMalformedRequest, op, "%s is required", cmis.PropObjectTypeID)
	}
	td, err := s.svc.GetTypeDefinition(ctx, repo, obj.TypeID())
	if cmis.KindOf(err) == cmis.KindNotFound {
		return 0, cmis.Errorf(cmis.KindMalformedRequest, op, "unknown type %q", obj.TypeID())
	}
	if err != nil {
		return 0, err
	}
	if td == nil {
		return 0, cmis.Errorf(cmis.KindMalformedRequest, op, "unknown type %q", obj.TypeID())
	}

	var id string
	switch td.BaseType {
	case cmis.BaseTypeFolder:
		id, err = s.svc.CreateFolder(ctx, repo, &cmis.CreateFolderRequest{
			Properties: obj.Properties,
			FolderID:   folderID,
			Policies:   obj.PolicyIDs,
			AddACEs:    obj.ACL,
		})
	case cmis.BaseTypeDocument:
		state, perr := cmis.ParseVersioningState(r.URL.Query().Get(binding.ParamVersioningState))
		if perr != nil {
			return 0, cmis.Wrap(cmis.KindMalformedRequest, op, perr)
		}
		req := &cmis.CreateDocumentRequest{
			Properties:      obj.Properties,
			FolderID:        folderID,
			VersioningState: state,
			Policies:        obj.PolicyIDs,
			AddACEs:         obj.ACL,
		}
		if e.Content != nil {
			if req.Content, err = e.Content.stream(); err != nil {
				return 0, cmis.Wrap(cmis.KindMalformedRequest, op, err)
			}
		}
		id, err = s.svc.CreateDocument(ctx, repo, req)
	default:
		return 0, cmis.Errorf(cmis.KindConstraint, op, "cannot create objects of base type %s", td.BaseType)
	}
	if err != nil {
		return 0, err
	}
	if cd, ok := logctx.CallDataFrom(ctx); ok {
		cd.ObjectID = id
	}

	info, err := s.svc.GetObjectInfo(ctx, repo, id)
	if err != nil {
		return 0, err
	}
	if info == nil || info.Object == nil {
		return 0, cmis.Errorf(cmis.KindConsistency, "getObjectInfo", "no object info for new object %q", id)
	}
	w.Header().Set("Location", "objects/"+id)
	s.log.InfoContext(ctx, "repo.create.ok", slog.String("object_id", id))
	return s.writeEntry(ctx, w, http.StatusCreated, info.Object)
}

func (s *Server) setContentStream(ctx context.Context, w http.ResponseWriter, r *http.Request) (int, error) {
	const op = binding.OpSetContentStream
	repo, id := r.PathValue("repositoryId"), r.PathValue("objectId")
	overwrite, err := flag(r.URL.Query().Get(binding.ParamOverwrite), true)
	if err != nil {
		return 0, cmis.Errorf(cmis.KindMalformedRequest, op, "%s: %w", binding.ParamOverwrite, err)
	}
	cs := &cmis.ContentStream{
		MimeType: r.Header.Get("Content-Type"),
		Length:   r.ContentLength,
		Stream:   io.NopCloser(r.Body),
	}
	if _, params, err := mime.ParseMediaType(r.Header.Get("Content-Disposition")); err == nil {
		cs.Filename = params["filename"]
	}
	if err := s.svc.SetContentStream(ctx, repo, id, overwrite, cs); err != nil {
		return 0, err
	}
	return s.current(ctx, w, op, repo, id)
}

func (s *Server) deleteContentStream(ctx context.Context, w http.ResponseWriter, r *http.Request) (int, error) {
	repo, id := r.PathValue("repositoryId"), r.PathValue("objectId")
	if err := s.svc.DeleteContentStream(ctx, repo, id); err != nil {
		return 0, err
	}
	return s.current(ctx, w, binding.OpDeleteContentStream, repo, id)
}

func (s *Server) deleteObject(ctx context.Context, w http.ResponseWriter, r *http.Request) (int, error) {
	const op = binding.OpDeleteObject
	repo, id := r.PathValue("repositoryId"), r.PathValue("objectId")
	all, err := flag(r.URL.Query().Get(binding.ParamAllVersions), true)
	if err != nil {
		return 0, cmis.Errorf(cmis.KindMalformedRequest, op, "%s: %w", binding.ParamAllVersions, err)
	}
	if err := s.svc.DeleteObject(ctx, repo, id, all); err != nil {
		return 0, err
	}
	w.WriteHeader(http.StatusNoContent)
	return http.StatusNoContent, nil
}

// current answers with the object as it is after a content change.
func (s *Server) current(ctx context.Context, w http.ResponseWriter, op, repo, id string) (int, error) {
	obj, err := s.svc.GetObject(ctx, repo, id, cmis.ObjectOptions{})
	if err != nil {
		return 0, err
	}
	if obj == nil {
		return 0, cmis.Errorf(cmis.KindConsistency, op, "repository returned no object for %q", id)
	}
	return s.writeEntry(ctx, w, http.StatusOK, obj)
}

func flag(v string, def bool) (bool, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseBool(v)
}
