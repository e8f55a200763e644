package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/cmis-bindings-go/cmis"
	"golang.org/x/oauth2"
)

const repoURL = "http://repo.example.com/cmis/browser"

type endpoint string

func (e endpoint) Service() cmis.LogicalService { return cmis.ObjectService }
func (e endpoint) URL() string                  { return string(e) }

func TestStandard_BasicAndCookies(t *testing.T) {
	p := NewStandard("alice", "s3cret")

	h := p.OutboundMetadata(repoURL)
	req := http.Request{Header: h}
	user, pass, ok := req.BasicAuth()
	if !ok || user != "alice" || pass != "s3cret" {
		t.Fatalf("basic auth = %q/%q/%v", user, pass, ok)
	}
	if h.Get("Cookie") != "" {
		t.Fatal("no cookie expected before any response")
	}

	resp := http.Header{}
	resp.Add("Set-Cookie", "JSESSIONID=abc123; Path=/")
	if err := p.InboundMetadata(repoURL, http.StatusOK, resp); err != nil {
		t.Fatalf("inbound: %v", err)
	}
	if got := p.OutboundMetadata(repoURL).Get("Cookie"); got != "JSESSIONID=abc123" {
		t.Fatalf("cookie = %q", got)
	}
}

func TestStandard_NoResponse(t *testing.T) {
	p := NewStandard("", "", WithoutCookies())
	if h := p.OutboundMetadata(repoURL); h != nil {
		t.Fatalf("anonymous provider without cookies should send nothing, got %v", h)
	}
	if err := p.InboundMetadata(repoURL, StatusNoResponse, nil); err != nil {
		t.Fatalf("inbound with no response: %v", err)
	}
	if p.OutboundProtocolHeader(endpoint(repoURL)) != nil {
		t.Fatal("anonymous provider should not produce a protocol header")
	}
}

func TestStandard_ProtocolHeader(t *testing.T) {
	p := NewStandard("alice", "s3cret")
	p.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	ph := p.OutboundProtocolHeader(endpoint(repoURL))
	sec, ok := ph["security"].(map[string]any)
	if !ok {
		t.Fatalf("missing security header: %#v", ph)
	}
	if sec["username"] != "alice" || sec["created"] != "2024-01-02T03:04:05Z" {
		t.Fatalf("unexpected security header: %#v", sec)
	}
}

type countingSource struct{ n atomic.Int32 }

func (c *countingSource) Token() (*oauth2.Token, error) {
	n := c.n.Add(1)
	return &oauth2.Token{
		AccessToken: "tok-" + string(rune('0'+n)),
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}, nil
}

func TestTokenSource_RefreshAfterUnauthorized(t *testing.T) {
	src := &countingSource{}
	p := NewTokenSource(src)

	for i := 0; i < 3; i++ {
		if got := p.OutboundMetadata(repoURL).Get("Authorization"); got != "Bearer tok-1" {
			t.Fatalf("call %d: Authorization = %q", i, got)
		}
	}
	if src.n.Load() != 1 {
		t.Fatalf("token fetched %d times, want 1", src.n.Load())
	}

	_ = p.InboundMetadata(repoURL, http.StatusOK, nil)
	if got := p.OutboundMetadata(repoURL).Get("Authorization"); got != "Bearer tok-1" {
		t.Fatalf("a 200 must not rotate the token, got %q", got)
	}

	_ = p.InboundMetadata(repoURL, http.StatusUnauthorized, nil)
	if got := p.OutboundMetadata(repoURL).Get("Authorization"); got != "Bearer tok-2" {
		t.Fatalf("after 401 Authorization = %q, want tok-2", got)
	}
}

type failingSource struct{}

func (failingSource) Token() (*oauth2.Token, error) { return nil, errors.New("idp down") }

func TestTokenSource_FetchFailure(t *testing.T) {
	p := NewTokenSource(failingSource{})
	if h := p.OutboundMetadata(repoURL); h != nil {
		t.Fatalf("expected no headers on fetch failure, got %v", h)
	}
}

func TestSignedAssertion_VerifiesAgainstSharedSecret(t *testing.T) {
	secret := []byte("shared-secret")
	p := NewSignedAssertion("cmisctl", "alice", secret)
	authn, err := NewSharedSecret("cmisctl", repoURL, secret)
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}

	first := p.OutboundMetadata(repoURL).Get("Authorization")
	if !strings.HasPrefix(first, "Bearer ") {
		t.Fatalf("Authorization = %q", first)
	}
	ui, err := authn.CheckAuthentication(context.Background(), strings.TrimPrefix(first, "Bearer "))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ui.UserID() != "alice" {
		t.Fatalf("subject = %q", ui.UserID())
	}

	if again := p.OutboundMetadata(repoURL).Get("Authorization"); again != first {
		t.Fatal("token should be reused while fresh")
	}
	_ = p.InboundMetadata(repoURL, http.StatusUnauthorized, nil)
	if rotated := p.OutboundMetadata(repoURL).Get("Authorization"); rotated == first {
		t.Fatal("token should be re-minted after 401")
	}

	other := p.OutboundMetadata("http://elsewhere.example.com/").Get("Authorization")
	if _, err := authn.CheckAuthentication(context.Background(), strings.TrimPrefix(other, "Bearer ")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("token for another audience: want ErrUnauthorized, got %v", err)
	}
}

func TestSharedSecret_InsufficientScope(t *testing.T) {
	secret := []byte("shared-secret")
	p := NewSignedAssertion("cmisctl", "alice", secret, WithAudienceKey("cmis"))
	authn, err := NewSharedSecret("cmisctl", "cmis", secret, WithRequiredScopes("cmis:write"))
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	tok := strings.TrimPrefix(p.OutboundMetadata(repoURL).Get("Authorization"), "Bearer ")
	if _, err := authn.CheckAuthentication(context.Background(), tok); !errors.Is(err, ErrInsufficientScope) {
		t.Fatalf("want ErrInsufficientScope, got %v", err)
	}
}

type principal string

func (p principal) UserID() string       { return string(p) }
func (p principal) Claims(ref any) error { return nil }

func TestUserInfoContext(t *testing.T) {
	if _, ok := UserInfoFrom(context.Background()); ok {
		t.Fatal("empty context should carry no principal")
	}
	ctx := WithUserInfo(context.Background(), principal("bob"))
	ui, ok := UserInfoFrom(ctx)
	if !ok || ui.UserID() != "bob" {
		t.Fatalf("UserInfoFrom = %v, %v", ui, ok)
	}
}
