// Package jwtauth verifies bearer tokens presented to the browser endpoint.
// Keys come from a JWKS document (fixed URI or OIDC discovery) or from a
// shared HMAC secret.
package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized indicates the token failed signature, issuer, audience or
// lifetime validation.
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

// ErrInsufficientScope indicates a valid token that lacks the required scopes.
var ErrInsufficientScope = errors.New("jwtauth: insufficient_scope")

// Config controls token validation.
type Config struct {
	Issuer string
	// Audiences lists accepted "aud" values; a token must name at least one.
	Audiences      []string
	RequiredScopes []string
	AllowedAlgs    []string
	Leeway         time.Duration
	// AccessTokenType requires the RFC 9068 "at+jwt" typ header.
	AccessTokenType bool
}

// DefaultConfig returns a Config accepting RS256 with a minute of clock skew.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
}

// UserInfo is the principal carried by a validated token.
type UserInfo interface {
	UserID() string
	Claims(ref any) error
}

type userInfo struct {
	sub    string
	claims map[string]any
}

func (u *userInfo) UserID() string { return u.sub }

func (u *userInfo) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Verifier validates tokens against a Config and a key source.
type Verifier struct {
	cfg     Config
	keyfunc jwt.Keyfunc
}

// NewStatic builds a Verifier that fetches signing keys from jwksURI. Keys are
// refreshed in the background until ctx is cancelled.
func NewStatic(ctx context.Context, cfg *Config, jwksURI string) (*Verifier, error) {
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}
	c, err := normalize(cfg)
	if err != nil {
		return nil, err
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return &Verifier{cfg: c, keyfunc: kf.Keyfunc}, nil
}

// NewFromDiscovery resolves the issuer's jwks_uri through OIDC discovery. The
// discovered issuer replaces cfg.Issuer.
func NewFromDiscovery(ctx context.Context, cfg *Config) (*Verifier, error) {
	if cfg == nil || cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer  string `json:"issuer"`
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}
	c := *cfg
	c.Issuer = meta.Issuer
	return NewStatic(ctx, &c, meta.JwksURI)
}

// NewShared builds a Verifier for HMAC-signed tokens. AllowedAlgs defaults to
// HS256.
func NewShared(cfg *Config, secret []byte) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("secret required")
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if len(c.AllowedAlgs) == 0 || slices.Equal(c.AllowedAlgs, []string{"RS256"}) {
		c.AllowedAlgs = []string{"HS256"}
	}
	c, err := normalize(&c)
	if err != nil {
		return nil, err
	}
	key := append([]byte(nil), secret...)
	return &Verifier{cfg: c, keyfunc: func(*jwt.Token) (any, error) { return key, nil }}, nil
}

func normalize(cfg *Config) (Config, error) {
	if cfg == nil {
		return Config{}, errors.New("config is required")
	}
	c := *cfg
	if c.Issuer == "" {
		return Config{}, errors.New("issuer is required")
	}
	if len(c.Audiences) == 0 {
		return Config{}, errors.New("at least one audience required")
	}
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	if slices.Contains(c.AllowedAlgs, "none") {
		return Config{}, errors.New(`alg "none" is not allowed`)
	}
	return c, nil
}

// CheckAuthentication validates tok and returns its subject.
func (v *Verifier) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithLeeway(v.cfg.Leeway),
	)
	parsed, err := parser.Parse(tok, v.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}
	if v.cfg.AccessTokenType {
		if typ, _ := parsed.Header["typ"].(string); typ != "at+jwt" && typ != "application/at+jwt" {
			return nil, fmt.Errorf("%w: invalid typ; want at+jwt", ErrUnauthorized)
		}
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	if !audIntersects(claims["aud"], v.cfg.Audiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	if len(v.cfg.RequiredScopes) > 0 {
		scope, _ := claims["scope"].(string)
		have := strings.Fields(scope)
		for _, want := range v.cfg.RequiredScopes {
			if !slices.Contains(have, want) {
				return nil, ErrInsufficientScope
			}
		}
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}
	return &userInfo{sub: sub, claims: claims}, nil
}

func audIntersects(aud any, wants []string) bool {
	switch v := aud.(type) {
	case string:
		return slices.Contains(wants, v)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && slices.Contains(wants, s) {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if slices.Contains(wants, s) {
				return true
			}
		}
	}
	return false
}
