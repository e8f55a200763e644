// Package authtest provides credential fakes for tests.
package authtest

import (
	"context"
	"net/http"
	"sync"

	"github.com/ggoodman/cmis-bindings-go/auth"
)

// Inbound records one InboundMetadata delivery.
type Inbound struct {
	URL    string
	Status int
	Header http.Header
}

// Recorder is an auth.Provider that counts every call made to it. Header is
// sent on every outbound call; InboundErr and InboundPanic let tests exercise
// a misbehaving provider.
type Recorder struct {
	Header       http.Header
	Protocol     auth.ProtocolHeader
	InboundErr   error
	InboundPanic any

	mu       sync.Mutex
	outbound []string
	protocol []string
	inbound  []Inbound
}

var _ auth.Provider = (*Recorder)(nil)

func (r *Recorder) OutboundMetadata(targetURL string) http.Header {
	r.mu.Lock()
	r.outbound = append(r.outbound, targetURL)
	r.mu.Unlock()
	if r.Header == nil {
		return nil
	}
	return r.Header.Clone()
}

func (r *Recorder) OutboundProtocolHeader(ep auth.Endpoint) auth.ProtocolHeader {
	r.mu.Lock()
	r.protocol = append(r.protocol, ep.URL())
	r.mu.Unlock()
	return r.Protocol
}

func (r *Recorder) InboundMetadata(targetURL string, status int, header http.Header) error {
	r.mu.Lock()
	r.inbound = append(r.inbound, Inbound{URL: targetURL, Status: status, Header: header})
	r.mu.Unlock()
	if r.InboundPanic != nil {
		panic(r.InboundPanic)
	}
	return r.InboundErr
}

// Outbound returns the URLs passed to OutboundMetadata.
func (r *Recorder) Outbound() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.outbound...)
}

// ProtocolCalls returns the endpoint URLs passed to OutboundProtocolHeader.
func (r *Recorder) ProtocolCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.protocol...)
}

// Inbound returns every InboundMetadata delivery in order.
func (r *Recorder) Inbound() []Inbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Inbound(nil), r.inbound...)
}

// NoAuth accepts any non-empty token as UserID.
type NoAuth struct {
	UserID string
}

// NewNoAuth creates a new NoAuth authenticator with the specified user ID.
// If userID is empty, it defaults to "test-user".
func NewNoAuth(userID string) *NoAuth {
	if userID == "" {
		userID = "test-user"
	}
	return &NoAuth{UserID: userID}
}

func (n *NoAuth) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	if tok == "" {
		return nil, auth.ErrUnauthorized
	}
	return userInfo(n.UserID), nil
}

type userInfo string

func (u userInfo) UserID() string       { return string(u) }
func (u userInfo) Claims(ref any) error { return nil }
