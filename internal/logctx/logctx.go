package logctx

import (
	"context"
	"log/slog"
)

// Handler adds request and CMIS call groups found in the context to every
// record before delegating.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("user_agent", rd.UserAgent),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}

	if cd, ok := ctx.Value(callDataKey{}).(*CallData); ok {
		attrs := []any{
			slog.String("repository", cd.RepositoryID),
			slog.String("action", cd.Action),
		}
		if cd.ObjectID != "" {
			attrs = append(attrs, slog.String("object", cd.ObjectID))
		}
		if cd.UserID != "" {
			attrs = append(attrs, slog.String("user_id", cd.UserID))
		}
		r.AddAttrs(slog.Group("cmis", attrs...))
	}

	if bd, ok := ctx.Value(bindingDataKey{}).(*BindingData); ok {
		r.AddAttrs(slog.Group("binding",
			slog.String("service", bd.Service),
			slog.String("operation", bd.Operation),
			slog.String("url", bd.URL),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{h.Handler.WithGroup(name)}
}

type requestDataKey struct{}

// RequestData describes the inbound HTTP request being served.
type RequestData struct {
	RequestID  string
	Method     string
	UserAgent  string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type callDataKey struct{}

// CallData describes the CMIS operation an endpoint is performing. Fields may
// be filled in as the request is decoded.
type CallData struct {
	RepositoryID string
	Action       string
	ObjectID     string
	UserID       string
}

func WithCallData(ctx context.Context, data *CallData) context.Context {
	return context.WithValue(ctx, callDataKey{}, data)
}

// CallDataFrom returns the CallData stored in ctx, if any.
func CallDataFrom(ctx context.Context) (*CallData, bool) {
	cd, ok := ctx.Value(callDataKey{}).(*CallData)
	return cd, ok
}

type bindingDataKey struct{}

// BindingData describes an outbound remote call.
type BindingData struct {
	Service   string
	Operation string
	URL       string
}

func WithBindingData(ctx context.Context, data *BindingData) context.Context {
	return context.WithValue(ctx, bindingDataKey{}, data)
}
