// Package httpjson is the binding.Factory for the CMIS browser binding:
// selector GETs for reads and form or multipart POSTs for writes, with JSON
// object documents in both directions.
//
// The endpoint configured for a service is the browser binding base URL;
// calls go to <base>/<repositoryId>/root.
package httpjson

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strings"

	"github.com/ggoodman/cmis-bindings-go/binding"
	"github.com/ggoodman/cmis-bindings-go/cmis"
	"github.com/ggoodman/cmis-bindings-go/internal/browserjson"
	"github.com/ggoodman/cmis-bindings-go/internal/httpwire"
	"github.com/ggoodman/cmis-bindings-go/relay"
)

// maxErrorBody bounds how much of a failure response is read.
const maxErrorBody = 64 << 10

// Option configures a Factory.
type Option func(*Factory)

// WithHTTPClient sets the client used by every handle. The default is a
// dedicated client with http.DefaultTransport.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Factory) { f.client = c }
}

// WithLogger sets the logger passed to handles.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.log = l }
}

// WithChunkSize sets the relay buffer used when uploading content.
func WithChunkSize(n int) Option {
	return func(f *Factory) { f.chunkSize = n }
}

// Factory builds browser binding handles.
type Factory struct {
	client    *http.Client
	log       *slog.Logger
	chunkSize int
}

var _ binding.Factory = (*Factory)(nil)

// New returns a Factory.
func New(opts ...Option) *Factory {
	f := &Factory{
		client:    &http.Client{},
		log:       slog.New(slog.DiscardHandler),
		chunkSize: relay.DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Build validates endpoint. No request is made.
func (f *Factory) Build(ctx context.Context, svc cmis.LogicalService, endpoint string) (binding.Handle, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, cmis.Errorf(cmis.KindConnection, "httpjson.build", "parse endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, cmis.Errorf(cmis.KindConnection, "httpjson.build", "endpoint %q is not an absolute http(s) url", endpoint)
	}
	u.RawQuery, u.Fragment = "", ""
	return &Handle{
		svc:       svc,
		base:      strings.TrimSuffix(u.String(), "/"),
		client:    f.client,
		log:       f.log,
		chunkSize: f.chunkSize,
	}, nil
}

// Handle performs browser binding calls for one logical service.
type Handle struct {
	svc       cmis.LogicalService
	base      string
	client    *http.Client
	log       *slog.Logger
	chunkSize int
}

var _ binding.Handle = (*Handle)(nil)

func (h *Handle) Service() cmis.LogicalService { return h.svc }
func (h *Handle) URL() string                  { return h.base }

// Close drops idle keep-alive connections.
func (h *Handle) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

func (h *Handle) Do(ctx context.Context, call *binding.Call) (*binding.Reply, error) {
	if call.RepositoryID == "" {
		return nil, cmis.Errorf(cmis.KindMalformedRequest, call.Operation, "repository id is required")
	}
	switch call.Operation {
	case binding.OpGetObject, binding.OpGetObjectOfLatestVersion:
		return h.getObject(ctx, call)
	case binding.OpGetContentStream:
		return h.getContentStream(ctx, call)
	case binding.OpCreateDocument, binding.OpCreateFolder, binding.OpSetContentStream,
		binding.OpDeleteContentStream, binding.OpDeleteObject:
		return h.post(ctx, call)
	default:
		return nil, cmis.Errorf(cmis.KindMalformedRequest, call.Operation, "operation not supported by the browser binding")
	}
}

func (h *Handle) rootURL(repositoryID string) string {
	return h.base + "/" + url.PathEscape(repositoryID) + "/root"
}

func (h *Handle) getObject(ctx context.Context, call *binding.Call) (*binding.Reply, error) {
	q := url.Values{}
	for _, k := range []string{binding.ParamFilter, binding.ParamIncludeAllowableActions, binding.ParamIncludePolicyIDs, binding.ParamIncludeACL} {
		if v := call.Param(k); v != "" {
			q.Set(k, v)
		}
	}
	q.Set(browserjson.ParamSelector, browserjson.SelectorObject)
	q.Set(browserjson.ParamObjectID, call.ObjectID)
	if call.Operation == binding.OpGetObjectOfLatestVersion {
		rv := cmis.ReturnLatest
		if call.Param(binding.ParamMajor) == "true" {
			rv = cmis.ReturnLatestMajor
		}
		q.Set(browserjson.ParamReturnVersion, string(rv))
	}

	res, err := h.send(ctx, call, http.MethodGet, h.rootURL(call.RepositoryID)+"?"+q.Encode(), "", nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	return objectReply(call.Operation, res)
}

func (h *Handle) getContentStream(ctx context.Context, call *binding.Call) (*binding.Reply, error) {
	q := url.Values{}
	q.Set(browserjson.ParamSelector, browserjson.SelectorContent)
	q.Set(browserjson.ParamObjectID, call.ObjectID)
	if v := call.Param(binding.ParamStreamID); v != "" {
		q.Set(browserjson.ParamStreamID, v)
	}
	if rng := call.Range; rng.Partial() {
		q.Set(browserjson.ParamOffset, fmt.Sprint(rng.Offset))
		if rng.Bounded() {
			q.Set(browserjson.ParamLength, fmt.Sprint(rng.Length))
		}
	}

	res, err := h.send(ctx, call, http.MethodGet, h.rootURL(call.RepositoryID)+"?"+q.Encode(), "", nil)
	if err != nil {
		return nil, err
	}
	cs := httpwire.ContentStream(res, call.Range)
	if call.Range.Partial() && res.StatusCode == http.StatusOK {
		// The server ignored the range; apply it here.
		stream, err := relay.NewRangeReader(res.Body, call.Range)
		if err != nil {
			res.Body.Close()
			return nil, cmis.Errorf(cmis.KindTransfer, call.Operation, "apply range: %w", err)
		}
		cs.Stream, cs.Range = stream, call.Range
	}
	return &binding.Reply{StatusCode: res.StatusCode, Header: res.Header, ObjectID: call.ObjectID, Content: cs}, nil
}

var actions = map[string]string{
	binding.OpCreateDocument:      browserjson.ActionCreateDocument,
	binding.OpCreateFolder:        browserjson.ActionCreateFolder,
	binding.OpSetContentStream:    browserjson.ActionSetContent,
	binding.OpDeleteContentStream: browserjson.ActionDeleteContent,
	binding.OpDeleteObject:        browserjson.ActionDelete,
}

func (h *Handle) post(ctx context.Context, call *binding.Call) (*binding.Reply, error) {
	form := url.Values{}
	form.Set(browserjson.ParamAction, actions[call.Operation])
	for _, k := range []string{binding.ParamFolderID, binding.ParamVersioningState, binding.ParamAllVersions, binding.ParamOverwrite, binding.ParamTransaction} {
		if v := call.Param(k); v != "" {
			form.Set(k, v)
		}
	}
	if call.ObjectID != "" {
		form.Set(browserjson.ParamObjectID, call.ObjectID)
	}
	browserjson.PutProperties(form, call.Properties)
	browserjson.PutPolicies(form, call.Policies)
	browserjson.PutACEs(form, "addACE", call.AddACEs)

	var (
		body  io.Reader
		ctype string
	)
	if call.Content != nil && call.Content.Stream != nil {
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		ctype = mw.FormDataContentType()
		body = pr
		go func() {
			pw.CloseWithError(writeMultipart(mw, form, call.Content, h.chunkSize))
		}()
	} else {
		ctype = "application/x-www-form-urlencoded"
		body = strings.NewReader(form.Encode())
	}

	res, err := h.send(ctx, call, http.MethodPost, h.rootURL(call.RepositoryID), ctype, body)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if call.Operation == binding.OpDeleteObject {
		_, _ = io.Copy(io.Discard, res.Body)
		return &binding.Reply{StatusCode: res.StatusCode, Header: res.Header, ObjectID: call.ObjectID}, nil
	}
	return objectReply(call.Operation, res)
}

// writeMultipart writes form fields in a stable order followed by the
// content part. The content stream is always closed.
func writeMultipart(mw *multipart.Writer, form url.Values, cs *cmis.ContentStream, chunkSize int) error {
	defer cs.Close()
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range form[k] {
			if err := mw.WriteField(k, v); err != nil {
				return err
			}
		}
	}
	hdr := textproto.MIMEHeader{}
	disp := fmt.Sprintf(`form-data; name=%q`, browserjson.FieldContent)
	if cs.Filename != "" {
		disp += fmt.Sprintf(`; filename=%q`, cs.Filename)
	}
	hdr.Set("Content-Disposition", disp)
	hdr.Set("Content-Type", cs.EffectiveMimeType())
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return err
	}
	if _, err := relay.Copy(part, cs.Stream, chunkSize); err != nil {
		return err
	}
	return mw.Close()
}

// send performs one request and turns failure statuses into
// *binding.StatusError. On success the caller owns res.Body.
func (h *Handle) send(ctx context.Context, call *binding.Call, method, target, ctype string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, cmis.Errorf(cmis.KindMalformedRequest, call.Operation, "build request: %w", err)
	}
	for k, vs := range call.Header {
		req.Header[k] = append([]string(nil), vs...)
	}
	if ctype != "" {
		req.Header.Set("Content-Type", ctype)
	}
	req.Header.Set("Accept", "application/json")

	h.log.DebugContext(ctx, "httpjson.request", slog.String("method", method), slog.String("url", target))
	res, err := h.client.Do(req)
	if err != nil {
		return nil, cmis.Errorf(cmis.KindConnection, call.Operation, "%s %s: %w", method, target, err)
	}
	if res.StatusCode >= http.StatusMultipleChoices {
		defer res.Body.Close()
		return nil, statusError(res)
	}
	return res, nil
}

func statusError(res *http.Response) *binding.StatusError {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	se := &binding.StatusError{StatusCode: res.StatusCode, Header: res.Header}
	if kind, msg, ok := browserjson.DecodeError(raw); ok {
		se.Kind, se.Message = kind, msg
		return se
	}
	se.Kind = binding.KindForStatus(res.StatusCode)
	se.Message = strings.TrimSpace(string(bytes.TrimSpace(raw)))
	if se.Message == "" {
		se.Message = http.StatusText(res.StatusCode)
	}
	return se
}

func objectReply(op string, res *http.Response) (*binding.Reply, error) {
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, cmis.Errorf(cmis.KindTransfer, op, "read response: %w", err)
	}
	reply := &binding.Reply{StatusCode: res.StatusCode, Header: res.Header}
	if len(bytes.TrimSpace(raw)) == 0 {
		return reply, nil
	}
	obj, err := browserjson.DecodeObject(raw)
	if err != nil {
		return nil, cmis.Errorf(cmis.KindConsistency, op, "decode response: %w", err)
	}
	reply.Object, reply.ObjectID = obj, obj.ID()
	return reply, nil
}
