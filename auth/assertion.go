package auth

import (
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SignedAssertion authenticates by minting an HMAC-signed JWT whose audience
// is the endpoint being called. Tokens are reused per endpoint until they are
// within a tenth of their lifetime of expiring.
type SignedAssertion struct {
	issuer   string
	subject  string
	secret   []byte
	ttl      time.Duration
	fixedAud string
	now      func() time.Time

	mu     sync.Mutex
	tokens map[string]mintedToken
}

type mintedToken struct {
	raw    string
	expiry time.Time
}

var _ Provider = (*SignedAssertion)(nil)

// AssertionOption configures a SignedAssertion provider.
type AssertionOption func(*SignedAssertion)

// WithAssertionTTL sets the lifetime of minted tokens. Defaults to five
// minutes.
func WithAssertionTTL(d time.Duration) AssertionOption {
	return func(a *SignedAssertion) {
		if d > 0 {
			a.ttl = d
		}
	}
}

// WithAudienceKey makes every token carry aud instead of the target URL.
// Useful when one verifier guards several endpoints.
func WithAudienceKey(aud string) AssertionOption {
	return func(a *SignedAssertion) { a.fixedAud = aud }
}

// NewSignedAssertion returns a provider minting tokens for subject.
func NewSignedAssertion(issuer, subject string, secret []byte, opts ...AssertionOption) *SignedAssertion {
	a := &SignedAssertion{
		issuer:  issuer,
		subject: subject,
		secret:  append([]byte(nil), secret...),
		ttl:     5 * time.Minute,
		now:     time.Now,
		tokens:  make(map[string]mintedToken),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *SignedAssertion) token(targetURL string) (string, error) {
	aud := targetURL
	if a.fixedAud != "" {
		aud = a.fixedAud
	}
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.tokens[aud]; ok && now.Before(t.expiry.Add(-a.ttl/10)) {
		return t.raw, nil
	}
	exp := now.Add(a.ttl)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    a.issuer,
		Subject:   a.subject,
		Audience:  jwt.ClaimStrings{aud},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}).SignedString(a.secret)
	if err != nil {
		return "", err
	}
	a.tokens[aud] = mintedToken{raw: raw, expiry: exp}
	return raw, nil
}

func (a *SignedAssertion) OutboundMetadata(targetURL string) http.Header {
	raw, err := a.token(targetURL)
	if err != nil {
		return nil
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+raw)
	return h
}

func (a *SignedAssertion) OutboundProtocolHeader(ep Endpoint) ProtocolHeader {
	raw, err := a.token(ep.URL())
	if err != nil {
		return nil
	}
	return ProtocolHeader{"bearer": raw}
}

// InboundMetadata drops the cached token for targetURL after a 401 so the
// next call mints a new one.
func (a *SignedAssertion) InboundMetadata(targetURL string, statusCode int, header http.Header) error {
	if statusCode != http.StatusUnauthorized {
		return nil
	}
	aud := targetURL
	if a.fixedAud != "" {
		aud = a.fixedAud
	}
	a.mu.Lock()
	delete(a.tokens, aud)
	a.mu.Unlock()
	return nil
}
