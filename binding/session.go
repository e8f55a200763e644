package binding

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/cmis-bindings-go/auth"
	"github.com/ggoodman/cmis-bindings-go/cmis"
	"github.com/ggoodman/cmis-bindings-go/config"
	"github.com/ggoodman/cmis-bindings-go/internal/metrics"
)

// ErrSessionClosed is returned by Handle after Close.
var ErrSessionClosed = errors.New("binding: session closed")

// EntryState is the lifecycle state of one cache entry.
type EntryState int

const (
	StateAbsent EntryState = iota
	StateConstructing
	StateReady
)

func (s EntryState) String() string {
	switch s {
	case StateConstructing:
		return "constructing"
	case StateReady:
		return "ready"
	default:
		return "absent"
	}
}

// Session scopes one logical connection to a repository.
type Session struct {
	config  config.Source
	factory Factory
	auth    auth.Provider
	log     *slog.Logger
	metrics *metrics.Metrics

	// mu guards creation of the handle map and construction of entries.
	// Readers that find a ready entry never take it.
	mu       sync.Mutex
	handles  atomic.Pointer[sync.Map] // cmis.LogicalService -> Handle
	building [cmis.NumLogicalServices]atomic.Bool
	closed   atomic.Bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithAuthProvider sets the provider consulted around every dispatched call.
// Without one, calls carry no credentials.
func WithAuthProvider(p auth.Provider) SessionOption {
	return func(s *Session) { s.auth = p }
}

// WithLogger sets the session logger. It is shared with dispatchers created
// for the session.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// WithMetrics records dispatched calls in m.
func WithMetrics(m *metrics.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// NewSession returns a session resolving endpoints from cfg and building
// handles with f. No handle is built until first use.
func NewSession(cfg config.Source, f Factory, opts ...SessionOption) *Session {
	s := &Session{
		config:  cfg,
		factory: f,
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Follow keeps the session in step with f until ctx is cancelled: every
// successful reload of the file resets the session, so handles built
// afterwards use the new endpoints.
func (s *Session) Follow(ctx context.Context, f *config.File) error {
	return f.Watch(ctx, func() {
		if err := s.Reset(); err != nil {
			s.log.WarnContext(ctx, "session.reset.fail", slog.String("err", err.Error()))
			return
		}
		s.log.InfoContext(ctx, "session.reset.ok")
	})
}

// AuthProvider returns the session's provider, or nil.
func (s *Session) AuthProvider() auth.Provider { return s.auth }

// Handle returns the handle for svc, building it on first use. Concurrent
// first requests for the same service result in a single Build; all callers
// observe the same handle. A failed Build leaves no entry behind and the
// next request tries again.
func (s *Session) Handle(ctx context.Context, svc cmis.LogicalService) (Handle, error) {
	if !svc.Valid() {
		return nil, cmis.Errorf(cmis.KindConnection, "binding.handle", "unknown logical service %d", int(svc))
	}
	if m := s.handles.Load(); m != nil {
		if h, ok := m.Load(svc); ok {
			return h.(Handle), nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, cmis.Errorf(cmis.KindConnection, "binding.handle", "%w", ErrSessionClosed)
	}
	m := s.handles.Load()
	if m == nil {
		m = new(sync.Map)
		s.handles.Store(m)
	}
	if h, ok := m.Load(svc); ok {
		return h.(Handle), nil
	}

	s.building[svc].Store(true)
	defer s.building[svc].Store(false)

	h, err := s.build(ctx, svc)
	if err != nil {
		s.log.WarnContext(ctx, "cache.build.fail", slog.String("service", svc.Key()), slog.String("err", err.Error()))
		return nil, err
	}
	m.Store(svc, h)
	s.log.DebugContext(ctx, "cache.build.ok", slog.String("service", svc.Key()), slog.String("url", h.URL()))
	return h, nil
}

func (s *Session) build(ctx context.Context, svc cmis.LogicalService) (Handle, error) {
	if s.config == nil || s.factory == nil {
		return nil, cmis.Errorf(cmis.KindConnection, "binding.handle", "session has no configuration or factory")
	}
	endpoint, err := s.config.Endpoint(svc)
	if err != nil {
		return nil, cmis.Errorf(cmis.KindConnection, "binding.handle", "resolve %s endpoint: %w", svc.Key(), err)
	}
	h, err := s.factory.Build(ctx, svc, endpoint)
	if err != nil {
		return nil, cmis.Errorf(cmis.KindConnection, "binding.handle", "build %s handle: %w", svc.Key(), err)
	}
	if h == nil {
		return nil, cmis.Errorf(cmis.KindConnection, "binding.handle", "factory returned no handle for %s", svc.Key())
	}
	return h, nil
}

// State reports the cache entry state for svc without blocking.
func (s *Session) State(svc cmis.LogicalService) EntryState {
	if !svc.Valid() {
		return StateAbsent
	}
	if m := s.handles.Load(); m != nil {
		if _, ok := m.Load(svc); ok {
			return StateReady
		}
	}
	if s.building[svc].Load() {
		return StateConstructing
	}
	return StateAbsent
}

// Reset discards every cached handle so the next request rebuilds from the
// current configuration. Handles implementing io.Closer are closed.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drain()
}

// Close releases every cached handle. Further Handle calls fail.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed.Store(true)
	return s.drain()
}

func (s *Session) drain() error {
	m := s.handles.Swap(nil)
	if m == nil {
		return nil
	}
	var errs []error
	m.Range(func(_, v any) bool {
		if c, ok := v.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		return true
	})
	return errors.Join(errs...)
}
