package auth

import (
	"context"
	"errors"
	"time"

	"github.com/ggoodman/cmis-bindings-go/internal/jwtauth"
)

// AccessTokenAuthOption configures optional aspects of token validation.
type AccessTokenAuthOption func(*jwtauth.Config)

// WithRequiredScopes requires all of the provided scopes to be present in the
// space-delimited "scope" claim.
func WithRequiredScopes(scopes ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) {
		c.RequiredScopes = append([]string(nil), scopes...)
	}
}

// WithAllowedAlgs restricts allowed JWS algorithms. "none" is never allowed.
func WithAllowedAlgs(algs ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) {
		c.AllowedAlgs = append([]string(nil), algs...)
	}
}

// WithLeeway sets clock skew tolerance for time-based claims.
func WithLeeway(d time.Duration) AccessTokenAuthOption {
	return func(c *jwtauth.Config) { c.Leeway = d }
}

// WithAccessTokenType requires the RFC 9068 "at+jwt" typ header.
func WithAccessTokenType() AccessTokenAuthOption {
	return func(c *jwtauth.Config) { c.AccessTokenType = true }
}

// WithAdditionalAudiences accepts tokens issued for any of the given
// audiences besides the primary one.
func WithAdditionalAudiences(aud ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) { c.Audiences = append(c.Audiences, aud...) }
}

func buildConfig(issuer, audience string, opts []AccessTokenAuthOption) (*jwtauth.Config, error) {
	if audience == "" {
		return nil, errors.New("audience is required")
	}
	cfg := jwtauth.DefaultConfig()
	cfg.Issuer = issuer
	cfg.Audiences = []string{audience}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg, nil
}

// NewFromDiscovery returns an Authenticator for JWT access tokens whose keys
// are located through OpenID Connect discovery on issuer.
func NewFromDiscovery(ctx context.Context, issuer, audience string, opts ...AccessTokenAuthOption) (Authenticator, error) {
	cfg, err := buildConfig(issuer, audience, opts)
	if err != nil {
		return nil, err
	}
	v, err := jwtauth.NewFromDiscovery(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &adapter{v: v}, nil
}

// NewFromJWKS returns an Authenticator that fetches keys from a fixed JWKS URL.
func NewFromJWKS(ctx context.Context, issuer, audience, jwksURL string, opts ...AccessTokenAuthOption) (Authenticator, error) {
	cfg, err := buildConfig(issuer, audience, opts)
	if err != nil {
		return nil, err
	}
	v, err := jwtauth.NewStatic(ctx, cfg, jwksURL)
	if err != nil {
		return nil, err
	}
	return &adapter{v: v}, nil
}

// NewSharedSecret returns an Authenticator for HMAC-signed tokens, such as
// those minted by SignedAssertion with the same secret.
func NewSharedSecret(issuer, audience string, secret []byte, opts ...AccessTokenAuthOption) (Authenticator, error) {
	cfg, err := buildConfig(issuer, audience, opts)
	if err != nil {
		return nil, err
	}
	v, err := jwtauth.NewShared(cfg, secret)
	if err != nil {
		return nil, err
	}
	return &adapter{v: v}, nil
}

// adapter wraps the internal verifier to satisfy the public interface.
type adapter struct {
	v *jwtauth.Verifier
}

func (ad *adapter) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	ui, err := ad.v.CheckAuthentication(ctx, tok)
	if err != nil {
		if errors.Is(err, jwtauth.ErrInsufficientScope) {
			return nil, errors.Join(ErrInsufficientScope, err)
		}
		return nil, errors.Join(ErrUnauthorized, err)
	}
	return ui, nil
}
