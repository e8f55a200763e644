// Package restxml is the binding.Factory for a resource-style XML binding.
// Objects are Atom entries addressed by URL, content is a sub-resource, and
// HTTP verbs select the operation:
//
//	GET    <base>/<repo>/objects/<id>            getObject
//	GET    <base>/<repo>/objects/<id>/content    getContentStream (Range)
//	POST   <base>/<repo>/objects/<id>/children   createDocument, createFolder
//	POST   <base>/<repo>/unfiled                 unfiled createDocument
//	PUT    <base>/<repo>/objects/<id>/content    setContentStream
//	DELETE <base>/<repo>/objects/<id>/content    deleteContentStream
//	DELETE <base>/<repo>/objects/<id>            deleteObject
//
// Create requests carry their content inline, base64 encoded, so they are
// bounded in size; setContentStream streams the raw body.
package restxml

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ggoodman/cmis-bindings-go/binding"
	"github.com/ggoodman/cmis-bindings-go/cmis"
	"github.com/ggoodman/cmis-bindings-go/internal/httpwire"
	"github.com/ggoodman/cmis-bindings-go/relay"
)

// DefaultMaxInline bounds inline content in create requests.
const DefaultMaxInline = 16 << 20

const maxErrorBody = 64 << 10

// Option configures a Factory.
type Option func(*Factory)

// WithHTTPClient sets the client used by every handle.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Factory) { f.client = c }
}

// WithLogger sets the logger passed to handles.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.log = l }
}

// WithMaxInline overrides DefaultMaxInline.
func WithMaxInline(n int64) Option {
	return func(f *Factory) { f.maxInline = n }
}

// Factory builds XML binding handles.
type Factory struct {
	client    *http.Client
	log       *slog.Logger
	maxInline int64
}

var _ binding.Factory = (*Factory)(nil)

// New returns a Factory.
func New(opts ...Option) *Factory {
	f := &Factory{
		client:    &http.Client{},
		log:       slog.New(slog.DiscardHandler),
		maxInline: DefaultMaxInline,
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
		return nil, cmis.Errorf(cmis.KindConnection, "restxml.build", "parse endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, cmis.Errorf(cmis.KindConnection, "restxml.build", "endpoint %q is not an absolute http(s) url", endpoint)
	}
	u.RawQuery, u.Fragment = "", ""
	return &Handle{
		svc:       svc,
		base:      strings.TrimSuffix(u.String(), "/"),
		client:    f.client,
		log:       f.log,
		maxInline: f.maxInline,
	}, nil
}

// Handle performs XML binding calls for one logical service.
type Handle struct {
	svc       cmis.LogicalService
	base      string
	client    *http.Client
	log       *slog.Logger
	maxInline int64
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
	case binding.OpCreateDocument, binding.OpCreateFolder:
		return h.create(ctx, call)
	case binding.OpSetContentStream:
		return h.setContentStream(ctx, call)
	case binding.OpDeleteContentStream:
		return h.deleteContentStream(ctx, call)
	case binding.OpDeleteObject:
		return h.deleteObject(ctx, call)
	default:
		return nil, cmis.Errorf(cmis.KindMalformedRequest, call.Operation, "operation not supported by the xml binding")
	}
}

func (h *Handle) objectURL(call *binding.Call, id string, rest ...string) (string, error) {
	if id == "" {
		return "", cmis.Errorf(cmis.KindMalformedRequest, call.Operation, "object id is required")
	}
	u := h.base + "/" + url.PathEscape(call.RepositoryID) + "/objects/" + url.PathEscape(id)
	for _, r := range rest {
		u += "/" + r
	}
	return u, nil
}

func withQuery(target string, q url.Values) string {
	if len(q) == 0 {
		return target
	}
	return target + "?" + q.Encode()
}

func (h *Handle) getObject(ctx context.Context, call *binding.Call) (*binding.Reply, error) {
	target, err := h.objectURL(call, call.ObjectID)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	for _, k := range []string{binding.ParamFilter, binding.ParamIncludeAllowableActions, binding.ParamIncludePolicyIDs, binding.ParamIncludeACL} {
		if v := call.Param(k); v != "" {
			q.Set(k, v)
		}
	}
	if call.Operation == binding.OpGetObjectOfLatestVersion {
		rv := cmis.ReturnLatest
		if call.Param(binding.ParamMajor) == "true" {
			rv = cmis.ReturnLatestMajor
		}
		q.Set(ParamReturnVersion, string(rv))
	}
	res, err := h.send(ctx, call, http.MethodGet, withQuery(target, q), nil, nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	return entryReply(call.Operation, res)
}

func (h *Handle) getContentStream(ctx context.Context, call *binding.Call) (*binding.Reply, error) {
	target, err := h.objectURL(call, call.ObjectID, "content")
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	if v := call.Param(binding.ParamStreamID); v != "" {
		q.Set(binding.ParamStreamID, v)
	}
	hdr := http.Header{}
	if v := httpwire.RangeHeader(call.Range); v != "" {
		hdr.Set("Range", v)
	}
	res, err := h.send(ctx, call, http.MethodGet, withQuery(target, q), hdr, nil)
	if err != nil {
		return nil, err
	}
	cs := httpwire.ContentStream(res, call.Range)
	if call.Range.Partial() && res.StatusCode == http.StatusOK {
		stream, err := relay.NewRangeReader(res.Body, call.Range)
		if err != nil {
			res.Body.Close()
			return nil, cmis.Errorf(cmis.KindTransfer, call.Operation, "apply range: %w", err)
		}
		cs.Stream, cs.Range = stream, call.Range
	}
	return &binding.Reply{StatusCode: res.StatusCode, Header: res.Header, ObjectID: call.ObjectID, Content: cs}, nil
}

func (h *Handle) create(ctx context.Context, call *binding.Call) (*binding.Reply, error) {
	defer call.Content.Close()

	folderID := call.Param(binding.ParamFolderID)
	var target string
	switch {
	case folderID != "":
		var err error
		if target, err = h.objectURL(call, folderID, "children"); err != nil {
			return nil, err
		}
	case call.Operation == binding.OpCreateFolder:
		return nil, cmis.Errorf(cmis.KindMalformedRequest, call.Operation, "%s is required", binding.ParamFolderID)
	default:
		target = h.base + "/" + url.PathEscape(call.RepositoryID) + "/unfiled"
	}

	entry := newEntry(&cmis.ObjectData{
		Properties: call.Properties,
		PolicyIDs:  call.Policies,
		ACL:        call.AddACEs,
	})
	if call.Content != nil && call.Content.Stream != nil {
		var buf bytes.Buffer
		if _, err := relay.Copy(&buf, io.LimitReader(call.Content.Stream, h.maxInline+1), 0); err != nil {
			return nil, cmis.Wrap(cmis.KindTransfer, call.Operation, err)
		}
		if int64(buf.Len()) > h.maxInline {
			return nil, cmis.Errorf(cmis.KindConstraint, call.Operation, "content exceeds %d bytes", h.maxInline)
		}
		entry.Content = &contentElement{
			MimeType: call.Content.EffectiveMimeType(),
			Filename: call.Content.Filename,
			Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
		}
	}
	body, err := xml.Marshal(entry)
	if err != nil {
		return nil, cmis.Errorf(cmis.KindRuntime, call.Operation, "encode entry: %w", err)
	}

	q := url.Values{}
	for _, k := range []string{binding.ParamVersioningState, binding.ParamTransaction} {
		if v := call.Param(k); v != "" {
			q.Set(k, v)
		}
	}
	hdr := http.Header{"Content-Type": {MediaType}}
	res, err := h.send(ctx, call, http.MethodPost, withQuery(target, q), hdr, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	return entryReply(call.Operation, res)
}

func (h *Handle) setContentStream(ctx context.Context, call *binding.Call) (*binding.Reply, error) {
	if call.Content == nil || call.Content.Stream == nil {
		return nil, cmis.Errorf(cmis.KindMalformedRequest, call.Operation, "no content")
	}
	defer call.Content.Close()
	target, err := h.objectURL(call, call.ObjectID, "content")
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	if v := call.Param(binding.ParamOverwrite); v != "" {
		q.Set(binding.ParamOverwrite, v)
	}
	hdr := http.Header{}
	hdr.Set("Content-Type", call.Content.EffectiveMimeType())
	if call.Content.Filename != "" {
		hdr.Set("Content-Disposition", `attachment; filename="`+call.Content.Filename+`"`)
	}
	res, err := h.sendContent(ctx, call, withQuery(target, q), hdr)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	return entryReply(call.Operation, res)
}

// sendContent streams the call content as a PUT body. The declared length
// is used when known so the request is not chunked.
func (h *Handle) sendContent(ctx context.Context, call *binding.Call, target string, hdr http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, io.NopCloser(call.Content.Stream))
	if err != nil {
		return nil, cmis.Errorf(cmis.KindMalformedRequest, call.Operation, "build request: %w", err)
	}
	if call.Content.Length >= 0 {
		req.ContentLength = call.Content.Length
	}
	return h.do(call, req, hdr)
}

func (h *Handle) deleteContentStream(ctx context.Context, call *binding.Call) (*binding.Reply, error) {
	target, err := h.objectURL(call, call.ObjectID, "content")
	if err != nil {
		return nil, err
	}
	res, err := h.send(ctx, call, http.MethodDelete, target, nil, nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	return entryReply(call.Operation, res)
}

func (h *Handle) deleteObject(ctx context.Context, call *binding.Call) (*binding.Reply, error) {
	target, err := h.objectURL(call, call.ObjectID)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	if v := call.Param(binding.ParamAllVersions); v != "" {
		q.Set(binding.ParamAllVersions, v)
	}
	res, err := h.send(ctx, call, http.MethodDelete, withQuery(target, q), nil, nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	return &binding.Reply{StatusCode: res.StatusCode, Header: res.Header, ObjectID: call.ObjectID}, nil
}

func (h *Handle) send(ctx context.Context, call *binding.Call, method, target string, hdr http.Header, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, cmis.Errorf(cmis.KindMalformedRequest, call.Operation, "build request: %w", err)
	}
	return h.do(call, req, hdr)
}

// do sends req with the call's outbound headers and turns failure statuses
// into *binding.StatusError. On success the caller owns res.Body.
func (h *Handle) do(call *binding.Call, req *http.Request, hdr http.Header) (*http.Response, error) {
	for k, vs := range call.Header {
		req.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range hdr {
		req.Header[k] = vs
	}
	req.Header.Set("Accept", "application/atom+xml, */*")

	h.log.DebugContext(req.Context(), "restxml.request", slog.String("method", req.Method), slog.String("url", req.URL.String()))
	res, err := h.client.Do(req)
	if err != nil {
		return nil, cmis.Errorf(cmis.KindConnection, call.Operation, "%s %s: %w", req.Method, req.URL, err)
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
	var e errorElement
	if err := xml.Unmarshal(raw, &e); err == nil && e.Kind != "" {
		se.Kind, se.Message = cmis.ParseKind(e.Kind), strings.TrimSpace(e.Message)
		return se
	}
	se.Kind = binding.KindForStatus(res.StatusCode)
	se.Message = strings.TrimSpace(string(raw))
	if se.Message == "" {
		se.Message = http.StatusText(res.StatusCode)
	}
	return se
}

func entryReply(op string, res *http.Response) (*binding.Reply, error) {
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, cmis.Errorf(cmis.KindTransfer, op, "read response: %w", err)
	}
	reply := &binding.Reply{StatusCode: res.StatusCode, Header: res.Header}
	if len(bytes.TrimSpace(raw)) == 0 {
		return reply, nil
	}
	var e Entry
	if err := xml.Unmarshal(raw, &e); err != nil {
		return nil, cmis.Errorf(cmis.KindConsistency, op, "decode response: %w", err)
	}
	obj, err := e.objectData()
	if err != nil {
		return nil, cmis.Errorf(cmis.KindConsistency, op, "decode response: %w", err)
	}
	reply.Object, reply.ObjectID = obj, obj.ID()
	return reply, nil
}
