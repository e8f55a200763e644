package auth

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// Standard authenticates with HTTP basic credentials and keeps server session
// cookies. Envelope-style bindings receive the credentials as a
// username-token protocol header instead of relying on transport headers.
type Standard struct {
	username string
	password string
	jar      *cookiejar.Jar
	now      func() time.Time
}

var _ Provider = (*Standard)(nil)

// StandardOption configures a Standard provider.
type StandardOption func(*Standard)

// WithoutCookies disables cookie harvesting.
func WithoutCookies() StandardOption {
	return func(s *Standard) { s.jar = nil }
}

// NewStandard returns a provider for the given credentials. An empty username
// sends no credentials but still round-trips cookies.
func NewStandard(username, password string, opts ...StandardOption) *Standard {
	jar, _ := cookiejar.New(nil) // only fails with a non-nil options value
	s := &Standard{username: username, password: password, jar: jar, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Standard) OutboundMetadata(targetURL string) http.Header {
	h := http.Header{}
	if s.username != "" {
		req := http.Request{Header: h}
		req.SetBasicAuth(s.username, s.password)
	}
	if s.jar != nil {
		if u, err := url.Parse(targetURL); err == nil {
			cookies := s.jar.Cookies(u)
			if len(cookies) > 0 {
				parts := make([]string, 0, len(cookies))
				for _, c := range cookies {
					parts = append(parts, c.Name+"="+c.Value)
				}
				h.Set("Cookie", strings.Join(parts, "; "))
			}
		}
	}
	if len(h) == 0 {
		return nil
	}
	return h
}

func (s *Standard) OutboundProtocolHeader(ep Endpoint) ProtocolHeader {
	if s.username == "" {
		return nil
	}
	created := s.now().UTC()
	return ProtocolHeader{
		"security": map[string]any{
			"username": s.username,
			"password": s.password,
			"created":  created.Format(time.RFC3339),
			"expires":  created.Add(time.Hour).Format(time.RFC3339),
		},
	}
}

func (s *Standard) InboundMetadata(targetURL string, statusCode int, header http.Header) error {
	if s.jar == nil || len(header) == 0 {
		return nil
	}
	cookies := (&http.Response{Header: header}).Cookies()
	if len(cookies) == 0 {
		return nil
	}
	u, err := url.Parse(targetURL)
	if err != nil {
		return fmt.Errorf("parse target url: %w", err)
	}
	s.jar.SetCookies(u, cookies)
	return nil
}
