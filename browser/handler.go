package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ggoodman/cmis-bindings-go/auth"
	"github.com/ggoodman/cmis-bindings-go/binding"
	"github.com/ggoodman/cmis-bindings-go/cmis"
	"github.com/ggoodman/cmis-bindings-go/internal/browserjson"
	"github.com/ggoodman/cmis-bindings-go/internal/logctx"
	"github.com/ggoodman/cmis-bindings-go/internal/metrics"
	"github.com/ggoodman/cmis-bindings-go/relay"
	"github.com/google/uuid"
)

const (
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"

	// TransactionHeader echoes the correlation token when the client did not
	// supply one.
	TransactionHeader = "X-CMIS-Transaction"

	jsonContentType = "application/json"
)

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. Records are enriched with request and call
// attributes.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithMetrics records served requests and relayed bytes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithAuthenticator requires a bearer token on every request. The
// authenticated principal becomes the CallContext user.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(h *Handler) { h.authn = a }
}

// WithChunkSize sets the relay buffer used for content responses.
func WithChunkSize(n int) Option {
	return func(h *Handler) { h.chunkSize = n }
}

// WithRealm sets the realm advertised in bearer challenges.
func WithRealm(realm string) Option {
	return func(h *Handler) { h.realm = realm }
}

// Handler is the browser binding endpoint.
type Handler struct {
	svc       cmis.Service
	log       *slog.Logger
	metrics   *metrics.Metrics
	authn     auth.Authenticator
	chunkSize int
	realm     string
	mux       *http.ServeMux
}

// New returns an endpoint dispatching to svc.
func New(svc cmis.Service, opts ...Option) *Handler {
	h := &Handler{
		svc:       svc,
		log:       slog.New(slog.DiscardHandler),
		chunkSize: relay.DefaultChunkSize,
		realm:     "cmis",
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = slog.New(logctx.Handler{Handler: h.log.Handler()})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{repositoryId}/root", h.handleGet)
	mux.HandleFunc("POST /{repositoryId}/root", h.handlePost)
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := uuid.NewString()
	cd := &logctx.CallData{}
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  reqID,
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	ctx = logctx.WithCallData(ctx, cd)
	ctx = cmis.WithCallContext(ctx, &cmis.CallContext{RequestID: reqID})

	sw := &statusWriter{ResponseWriter: w}
	h.mux.ServeHTTP(sw, r.WithContext(ctx))

	action := cd.Action
	if action == "" {
		action = "unknown"
	}
	h.metrics.ObserveRequest(action, sw.Status())
	h.log.DebugContext(ctx, "http.request.done", slog.Int("status", sw.Status()), slog.Duration("dur", time.Since(start)))
}

// begin authenticates the request and fills in the call context. It returns
// false when a response has already been written.
func (h *Handler) begin(w http.ResponseWriter, r *http.Request, action string) (*http.Request, bool) {
	ctx := r.Context()
	repositoryID := r.PathValue("repositoryId")
	cd, _ := logctx.CallDataFrom(ctx)
	if cd != nil {
		cd.RepositoryID = repositoryID
		cd.Action = action
	}
	cc := cmis.CallContextFrom(ctx)
	if cc == nil {
		cc = &cmis.CallContext{}
		ctx = cmis.WithCallContext(ctx, cc)
	}
	cc.RepositoryID = repositoryID

	if h.authn != nil {
		ui := h.checkAuthentication(w, r.WithContext(ctx))
		if ui == nil {
			return nil, false
		}
		cc.User = ui.UserID()
		if cd != nil {
			cd.UserID = ui.UserID()
		}
		ctx = auth.WithUserInfo(ctx, ui)
	}
	return r.WithContext(ctx), true
}

func (h *Handler) checkAuthentication(w http.ResponseWriter, r *http.Request) auth.UserInfo {
	ctx := r.Context()
	authHeader := r.Header.Get(authorizationHeader)
	if authHeader == "" {
		h.log.InfoContext(ctx, "auth.check.missing")
		w.Header().Add(wwwAuthenticateHeader, h.challenge("", ""))
		w.WriteHeader(http.StatusUnauthorized)
		return nil
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) || strings.TrimSpace(authHeader[len(bearerPrefix):]) == "" {
		h.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "malformed bearer authorization header"))
		w.Header().Add(wwwAuthenticateHeader, h.challenge("invalid_request", "malformed bearer authorization header"))
		w.WriteHeader(http.StatusBadRequest)
		return nil
	}
	tok := strings.TrimSpace(authHeader[len(bearerPrefix):])

	ui, err := h.authn.CheckAuthentication(ctx, tok)
	switch {
	case err == nil:
		return ui
	case errors.Is(err, auth.ErrUnauthorized):
		h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
		w.Header().Add(wwwAuthenticateHeader, h.challenge("invalid_token", err.Error()))
		w.WriteHeader(http.StatusUnauthorized)
	case errors.Is(err, auth.ErrInsufficientScope):
		h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
		w.Header().Add(wwwAuthenticateHeader, h.challenge("insufficient_scope", err.Error()))
		w.WriteHeader(http.StatusForbidden)
	default:
		h.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	}
	return nil
}

func (h *Handler) challenge(code, description string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Bearer realm=%q", h.realm)
	if code != "" {
		fmt.Fprintf(&b, ", error=%q", code)
	}
	if description != "" {
		fmt.Fprintf(&b, ", error_description=%q", description)
	}
	return b.String()
}

// fail is the single place where error kinds become HTTP responses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	kind := cmis.KindOf(err)
	status := binding.StatusForKind(kind)
	event := "http.call.reject"
	if status >= http.StatusInternalServerError {
		event = "http.call.fail"
	}
	h.log.Log(ctx, levelFor(status), event,
		slog.String("kind", kind.String()),
		slog.Int("status", status),
		slog.String("err", err.Error()),
	)
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	_, _ = w.Write(browserjson.EncodeError(kind, err.Error()))
}

func levelFor(status int) slog.Level {
	if status >= http.StatusInternalServerError {
		return slog.LevelError
	}
	return slog.LevelInfo
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// statusWriter records the response status. It forwards Flush so content
// relays can push chunks to the client.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
