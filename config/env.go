package config

import (
	"errors"
	"fmt"

	"github.com/ggoodman/cmis-bindings-go/cmis"
	"github.com/joeshaw/envdecode"
)

type envEndpoints struct {
	URL          string `env:"CMIS_URL"`
	Repository   string `env:"CMIS_REPOSITORY_URL"`
	Navigation   string `env:"CMIS_NAVIGATION_URL"`
	Object       string `env:"CMIS_OBJECT_URL"`
	Versioning   string `env:"CMIS_VERSIONING_URL"`
	Discovery    string `env:"CMIS_DISCOVERY_URL"`
	MultiFiling  string `env:"CMIS_MULTIFILING_URL"`
	Relationship string `env:"CMIS_RELATIONSHIP_URL"`
	Policy       string `env:"CMIS_POLICY_URL"`
	ACL          string `env:"CMIS_ACL_URL"`
}

// FromEnv reads CMIS_<SERVICE>_URL for each service, falling back to
// CMIS_URL. It fails when none of them is set.
func FromEnv() (*Static, error) {
	var e envEndpoints
	if err := envdecode.Decode(&e); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil, fmt.Errorf("%w: no CMIS_*_URL variables set", ErrNotConfigured)
		}
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	s := &Static{Default: e.URL, Services: map[cmis.LogicalService]string{}}
	for svc, u := range map[cmis.LogicalService]string{
		cmis.RepositoryService:   e.Repository,
		cmis.NavigationService:   e.Navigation,
		cmis.ObjectService:       e.Object,
		cmis.VersioningService:   e.Versioning,
		cmis.DiscoveryService:    e.Discovery,
		cmis.MultiFilingService:  e.MultiFiling,
		cmis.RelationshipService: e.Relationship,
		cmis.PolicyService:       e.Policy,
		cmis.ACLService:          e.ACL,
	} {
		if u != "" {
			s.Services[svc] = u
		}
	}
	return s, nil
}
