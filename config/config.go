// Package config resolves the endpoint URL of each logical CMIS service.
package config

import (
	"errors"
	"fmt"

	"github.com/ggoodman/cmis-bindings-go/cmis"
)

// ErrNotConfigured is returned when no endpoint is known for a service.
var ErrNotConfigured = errors.New("config: endpoint not configured")

// Source looks up endpoint configuration. Implementations must be safe for
// concurrent use.
type Source interface {
	Endpoint(svc cmis.LogicalService) (string, error)
}

// Static maps services to URLs. The zero LogicalService key is not special;
// use Default for a catch-all.
type Static struct {
	Default  string
	Services map[cmis.LogicalService]string
}

// Single returns a Static that resolves every service to url, as is usual for
// bindings that expose one endpoint for the whole repository.
func Single(url string) *Static {
	return &Static{Default: url}
}

func (s *Static) Endpoint(svc cmis.LogicalService) (string, error) {
	return lookup(svc, s.Services, s.Default)
}

func lookup(svc cmis.LogicalService, services map[cmis.LogicalService]string, fallback string) (string, error) {
	if !svc.Valid() {
		return "", fmt.Errorf("%w: invalid service %d", ErrNotConfigured, int(svc))
	}
	if u := services[svc]; u != "" {
		return u, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotConfigured, svc.Key())
}
