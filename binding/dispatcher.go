package binding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/cmis-bindings-go/auth"
	"github.com/ggoodman/cmis-bindings-go/cmis"
	"github.com/ggoodman/cmis-bindings-go/internal/logctx"
)

// Dispatcher routes calls through a session's handles and runs the session's
// auth.Provider around each one.
type Dispatcher struct {
	session *Session
}

// NewDispatcher returns a dispatcher for s.
func NewDispatcher(s *Session) *Dispatcher {
	return &Dispatcher{session: s}
}

// Session returns the dispatcher's session.
func (d *Dispatcher) Session() *Session { return d.session }

// Do performs call against the handle for svc.
//
// When the session has an auth.Provider, Do asks it for outbound metadata
// exactly once before the call, asks for a protocol header when the handle
// carries envelopes, and delivers the response status and headers exactly
// once afterwards, whether the call succeeded or not. A call that got no
// response reports auth.StatusNoResponse. Provider failures on the inbound
// path, including panics, are logged and never change the call's outcome.
func (d *Dispatcher) Do(ctx context.Context, svc cmis.LogicalService, call *Call) (*Reply, error) {
	if call == nil {
		return nil, cmis.Errorf(cmis.KindMalformedRequest, "dispatch", "nil call")
	}
	h, err := d.session.Handle(ctx, svc)
	if err != nil {
		return nil, err
	}

	s := d.session
	ctx = logctx.WithBindingData(ctx, &logctx.BindingData{Service: svc.Key(), Operation: call.Operation, URL: h.URL()})

	p := s.auth
	out := *call
	out.Header = call.Header.Clone()
	if p != nil {
		if hdr := p.OutboundMetadata(h.URL()); len(hdr) > 0 {
			if out.Header == nil {
				out.Header = make(http.Header, len(hdr))
			}
			for k, vs := range hdr {
				out.Header[k] = append([]string(nil), vs...)
			}
		}
		if _, ok := h.(EnvelopeCarrier); ok {
			out.ProtocolHeader = p.OutboundProtocolHeader(h)
		}
	}

	s.log.DebugContext(ctx, "dispatch.call.start")
	start := time.Now()
	reply, callErr := h.Do(ctx, &out)
	elapsed := time.Since(start)

	status, header := auth.StatusNoResponse, http.Header(nil)
	var se *StatusError
	switch {
	case reply != nil:
		status, header = reply.StatusCode, reply.Header
	case errors.As(callErr, &se):
		status, header = se.StatusCode, se.Header
	}

	if p != nil {
		d.deliverInbound(ctx, p, h.URL(), status, header)
	}
	s.metrics.ObserveCall(svc.Key(), call.Operation, status, elapsed)

	if callErr != nil {
		if reply != nil && reply.Content != nil {
			_ = reply.Content.Close()
		}
		s.log.InfoContext(ctx, "dispatch.call.fail", slog.Int("status", status), slog.String("err", callErr.Error()))
		return nil, cmis.Wrap(cmis.KindRuntime, call.Operation, callErr)
	}
	s.log.DebugContext(ctx, "dispatch.call.ok", slog.Int("status", status), slog.Duration("elapsed", elapsed))
	return reply, nil
}

func (d *Dispatcher) deliverInbound(ctx context.Context, p auth.Provider, url string, status int, header http.Header) {
	defer func() {
		if r := recover(); r != nil {
			d.session.log.ErrorContext(ctx, "dispatch.inbound.fail",
				slog.String("err", cmis.Errorf(cmis.KindAuthProvider, "inbound", "panic: %v", r).Error()))
		}
	}()
	if err := p.InboundMetadata(url, status, header); err != nil {
		d.session.log.WarnContext(ctx, "dispatch.inbound.fail",
			slog.String("err", fmt.Errorf("%w: %w", cmis.KindAuthProvider, err).Error()))
	}
}
