package auth

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenSource sends OAuth 2.0 bearer tokens obtained from an oauth2 token
// source. Tokens are cached until they expire; a 401 response discards the
// cached token so the next call fetches a fresh one.
type TokenSource struct {
	base oauth2.TokenSource
	log  *slog.Logger

	mu     sync.Mutex
	cached oauth2.TokenSource
}

var _ Provider = (*TokenSource)(nil)

// TokenSourceOption configures a TokenSource provider.
type TokenSourceOption func(*TokenSource)

// WithTokenLogger sets the logger used to report token fetch failures.
func WithTokenLogger(l *slog.Logger) TokenSourceOption {
	return func(t *TokenSource) { t.log = l }
}

// NewTokenSource wraps src.
func NewTokenSource(src oauth2.TokenSource, opts ...TokenSourceOption) *TokenSource {
	t := &TokenSource{
		base: src,
		log:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.cached = oauth2.ReuseTokenSource(nil, src)
	return t
}

// NewClientCredentials is a TokenSource backed by the OAuth 2.0 client
// credentials grant.
func NewClientCredentials(ctx context.Context, cfg *clientcredentials.Config, opts ...TokenSourceOption) *TokenSource {
	return NewTokenSource(cfg.TokenSource(ctx), opts...)
}

func (t *TokenSource) source() oauth2.TokenSource {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cached
}

func (t *TokenSource) OutboundMetadata(targetURL string) http.Header {
	tok, err := t.source().Token()
	if err != nil {
		t.log.Warn("auth.token.fetch_failed", slog.String("url", targetURL), slog.String("err", err.Error()))
		return nil
	}
	h := http.Header{}
	h.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	return h
}

func (t *TokenSource) OutboundProtocolHeader(ep Endpoint) ProtocolHeader {
	tok, err := t.source().Token()
	if err != nil {
		return nil
	}
	return ProtocolHeader{"bearer": tok.AccessToken}
}

func (t *TokenSource) InboundMetadata(targetURL string, statusCode int, header http.Header) error {
	if statusCode != http.StatusUnauthorized {
		return nil
	}
	t.mu.Lock()
	t.cached = oauth2.ReuseTokenSource(nil, t.base)
	t.mu.Unlock()
	t.log.Info("auth.token.invalidated", slog.String("url", targetURL))
	return nil
}
