// Package rpcstub is an envelope-style binding: every call is one CBOR
// request envelope POSTed to the service endpoint, answered by one response
// envelope. Credentials travel in the envelope header, so handles built here
// receive a protocol header from the session's auth.Provider.
//
// Content streams travel inline. Uploads are buffered through relay.Copy
// before encoding; downloads carry only the requested range.
package rpcstub

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/ggoodman/cmis-bindings-go/binding"
	"github.com/ggoodman/cmis-bindings-go/cmis"
	"github.com/ggoodman/cmis-bindings-go/relay"
)

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

// WithMaxContent bounds the size of content uploaded or accepted inline.
func WithMaxContent(n int64) Option {
	return func(f *Factory) { f.maxContent = n }
}

// Factory builds envelope handles.
type Factory struct {
	client     *http.Client
	log        *slog.Logger
	maxContent int64
}

var _ binding.Factory = (*Factory)(nil)

// DefaultMaxContent is the inline content limit when none is configured.
const DefaultMaxContent = 32 << 20

// New returns a Factory.
func New(opts ...Option) *Factory {
	f := &Factory{
		client:     &http.Client{},
		log:        slog.New(slog.DiscardHandler),
		maxContent: DefaultMaxContent,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Factory) Build(ctx context.Context, svc cmis.LogicalService, endpoint string) (binding.Handle, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, cmis.Errorf(cmis.KindConnection, "rpcstub.build", "parse endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, cmis.Errorf(cmis.KindConnection, "rpcstub.build", "endpoint %q is not an absolute http(s) url", endpoint)
	}
	return &Handle{svc: svc, url: u.String(), client: f.client, log: f.log, maxContent: f.maxContent}, nil
}

// Handle posts envelopes for one logical service.
type Handle struct {
	svc        cmis.LogicalService
	url        string
	client     *http.Client
	log        *slog.Logger
	maxContent int64
}

var _ binding.EnvelopeCarrier = (*Handle)(nil)

func (h *Handle) Service() cmis.LogicalService { return h.svc }
func (h *Handle) URL() string                  { return h.url }
func (*Handle) CarriesEnvelope()               {}

func (h *Handle) Do(ctx context.Context, call *binding.Call) (*binding.Reply, error) {
	env := &Request{
		Header:       call.ProtocolHeader,
		Service:      h.svc.Key(),
		Operation:    call.Operation,
		RepositoryID: call.RepositoryID,
		ObjectID:     call.ObjectID,
		Params:       call.Params,
		Properties:   encodeProperties(call.Properties),
		Policies:     call.Policies,
		AddACEs:      encodeACEs(call.AddACEs),
	}
	if call.Range != nil {
		env.Range = &Range{Offset: call.Range.Offset, Length: call.Range.Length}
	}
	if call.Content != nil && call.Content.Stream != nil {
		c, err := h.inline(call.Operation, call.Content)
		if err != nil {
			return nil, err
		}
		env.Content = c
	}

	body, err := encMode.Marshal(env)
	if err != nil {
		return nil, cmis.Errorf(cmis.KindRuntime, call.Operation, "encode envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, cmis.Errorf(cmis.KindMalformedRequest, call.Operation, "build request: %w", err)
	}
	for k, vs := range call.Header {
		req.Header[k] = append([]string(nil), vs...)
	}
	req.Header.Set("Content-Type", MediaType)
	req.Header.Set("Accept", MediaType)

	h.log.DebugContext(ctx, "rpcstub.request", slog.String("op", call.Operation), slog.Int("bytes", len(body)))
	res, err := h.client.Do(req)
	if err != nil {
		return nil, cmis.Errorf(cmis.KindConnection, call.Operation, "post envelope: %w", err)
	}
	defer res.Body.Close()

	var out Response
	if err := decMode.NewDecoder(io.LimitReader(res.Body, h.maxContent+1<<20)).Decode(&out); err != nil {
		if res.StatusCode >= http.StatusMultipleChoices {
			return nil, &binding.StatusError{
				StatusCode: res.StatusCode,
				Header:     res.Header,
				Kind:       binding.KindForStatus(res.StatusCode),
				Message:    http.StatusText(res.StatusCode),
			}
		}
		return nil, cmis.Errorf(cmis.KindConsistency, call.Operation, "decode envelope: %w", err)
	}
	if out.Fault != nil || res.StatusCode >= http.StatusMultipleChoices {
		se := &binding.StatusError{StatusCode: res.StatusCode, Header: res.Header, Kind: binding.KindForStatus(res.StatusCode)}
		if out.Fault != nil {
			se.Kind, se.Message = cmis.ParseKind(out.Fault.Kind), out.Fault.Message
		}
		return nil, se
	}

	reply := &binding.Reply{StatusCode: res.StatusCode, Header: res.Header, ObjectID: out.ObjectID}
	if reply.Object, err = decodeObject(out.Object); err != nil {
		return nil, cmis.Errorf(cmis.KindConsistency, call.Operation, "decode object: %w", err)
	}
	if reply.ObjectID == "" {
		reply.ObjectID = reply.Object.ID()
	}
	if c := out.Content; c != nil {
		reply.Content = &cmis.ContentStream{
			Filename: c.Filename,
			MimeType: c.MimeType,
			Length:   c.Length,
			Stream:   io.NopCloser(bytes.NewReader(c.Data)),
			Range:    call.Range,
		}
	}
	return reply, nil
}

// inline drains cs into an envelope content block.
func (h *Handle) inline(op string, cs *cmis.ContentStream) (*Content, error) {
	var buf bytes.Buffer
	n, err := relay.Copy(&buf, io.LimitReader(cs.Stream, h.maxContent+1), 0)
	cs.Close()
	if err != nil {
		return nil, cmis.Wrap(cmis.KindTransfer, op, err)
	}
	if n > h.maxContent {
		return nil, cmis.Errorf(cmis.KindConstraint, op, "content exceeds the %d byte inline limit", h.maxContent)
	}
	return &Content{Filename: cs.Filename, MimeType: cs.EffectiveMimeType(), Length: n, Data: buf.Bytes()}, nil
}
