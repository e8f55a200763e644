package jwtauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

const testAudience = "https://cmis.example.com/browser"

type mockIssuer struct {
	srv    *httptest.Server
	issuer string
}

func newMockIssuer(t *testing.T, keysJSON []byte) *mockIssuer {
	t.Helper()
	m := &mockIssuer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                   m.issuer,
			"jwks_uri":                 m.issuer + "/keys",
			"authorization_endpoint":   m.issuer + "/oauth2/auth",
			"token_endpoint":           m.issuer + "/oauth2/token",
			"response_types_supported": []string{"code"},
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysJSON)
	})
	m.srv = httptest.NewServer(mux)
	m.issuer = m.srv.URL
	t.Cleanup(m.srv.Close)
	return m
}

func genRSA(t *testing.T) (*rsa.PrivateKey, string, []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	kid := "test-key"
	set := struct {
		Keys []jose.JSONWebKey `json:"keys"`
	}{Keys: []jose.JSONWebKey{{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}}}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return pk, kid, b
}

func signRS256(t *testing.T, pk *rsa.PrivateKey, kid, typ string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	if typ != "" {
		tok.Header["typ"] = typ
	}
	s, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func claimsFor(issuer string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   issuer,
		"sub":   "alice",
		"aud":   testAudience,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"scope": "cmis:read cmis:write",
	}
}

func newDiscovered(t *testing.T, mutate func(*Config)) (*Verifier, *mockIssuer, *rsa.PrivateKey, string) {
	t.Helper()
	pk, kid, jwks := genRSA(t)
	iss := newMockIssuer(t, jwks)
	cfg := DefaultConfig()
	cfg.Issuer = iss.issuer
	cfg.Audiences = []string{testAudience}
	cfg.Leeway = 0
	if mutate != nil {
		mutate(cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	v, err := NewFromDiscovery(ctx, cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return v, iss, pk, kid
}

func TestVerifier_Discovery(t *testing.T) {
	v, iss, pk, kid := newDiscovered(t, nil)

	ui, err := v.CheckAuthentication(context.Background(), signRS256(t, pk, kid, "", claimsFor(iss.issuer)))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ui.UserID() != "alice" {
		t.Fatalf("want sub alice, got %s", ui.UserID())
	}
	var out struct {
		Scope string `json:"scope"`
	}
	if err := ui.Claims(&out); err != nil {
		t.Fatalf("claims: %v", err)
	}
	if out.Scope != "cmis:read cmis:write" {
		t.Fatalf("scope roundtrip mismatch: %q", out.Scope)
	}
}

func TestVerifier_Static(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	iss := newMockIssuer(t, jwks)
	cfg := DefaultConfig()
	cfg.Issuer = iss.issuer
	cfg.Audiences = []string{testAudience}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := NewStatic(ctx, cfg, iss.issuer+"/keys")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := v.CheckAuthentication(ctx, signRS256(t, pk, kid, "", claimsFor(iss.issuer))); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestVerifier_Rejections(t *testing.T) {
	v, iss, pk, kid := newDiscovered(t, func(c *Config) {
		c.RequiredScopes = []string{"cmis:write", "cmis:admin"}
		c.AccessTokenType = true
	})
	ctx := context.Background()

	tests := []struct {
		name   string
		typ    string
		mutate func(jwt.MapClaims)
		want   error
	}{
		{"wrong typ", "JWT", nil, ErrUnauthorized},
		{"issuer mismatch", "at+jwt", func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }, ErrUnauthorized},
		{"unknown audience", "at+jwt", func(c jwt.MapClaims) { c["aud"] = "https://unknown" }, ErrUnauthorized},
		{"expired", "at+jwt", func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() }, ErrUnauthorized},
		{"missing scope", "at+jwt", nil, ErrInsufficientScope},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			claims := claimsFor(iss.issuer)
			if tc.mutate != nil {
				tc.mutate(claims)
			}
			_, err := v.CheckAuthentication(ctx, signRS256(t, pk, kid, tc.typ, claims))
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
}

func TestVerifier_AudienceArray(t *testing.T) {
	v, iss, pk, kid := newDiscovered(t, nil)
	claims := claimsFor(iss.issuer)
	claims["aud"] = []string{"https://other", testAudience}
	if _, err := v.CheckAuthentication(context.Background(), signRS256(t, pk, kid, "", claims)); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestVerifier_Shared(t *testing.T) {
	secret := []byte("correct horse battery staple")
	v, err := NewShared(&Config{Issuer: "cmisctl", Audiences: []string{testAudience}}, secret)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claimsFor("cmisctl")).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.CheckAuthentication(context.Background(), tok); err != nil {
		t.Fatalf("check: %v", err)
	}

	forged, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claimsFor("cmisctl")).SignedString([]byte("guess"))
	if _, err := v.CheckAuthentication(context.Background(), forged); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("forged token: want ErrUnauthorized, got %v", err)
	}
}

func TestNormalizeRejectsNone(t *testing.T) {
	_, err := NewShared(&Config{Issuer: "x", Audiences: []string{"y"}, AllowedAlgs: []string{"none"}}, []byte("k"))
	if err == nil {
		t.Fatal(`expected alg "none" to be rejected`)
	}
}
