package cmis

import (
	"fmt"
	"strings"
)

// LogicalService identifies one of the fixed CMIS operation groups. Each
// service has its own endpoint and its own cached connection handle.
type LogicalService int

const (
	RepositoryService LogicalService = iota
	NavigationService
	ObjectService
	VersioningService
	DiscoveryService
	MultiFilingService
	RelationshipService
	PolicyService
	ACLService
)

// NumLogicalServices is the number of defined logical services.
const NumLogicalServices = int(ACLService) + 1

var serviceKeys = [NumLogicalServices]string{
	RepositoryService:   "repository",
	NavigationService:   "navigation",
	ObjectService:       "object",
	VersioningService:   "versioning",
	DiscoveryService:    "discovery",
	MultiFilingService:  "multifiling",
	RelationshipService: "relationship",
	PolicyService:       "policy",
	ACLService:          "acl",
}

// LogicalServices returns every logical service in declaration order.
func LogicalServices() []LogicalService {
	out := make([]LogicalService, NumLogicalServices)
	for i := range out {
		out[i] = LogicalService(i)
	}
	return out
}

// Valid reports whether s is one of the defined services.
func (s LogicalService) Valid() bool {
	return s >= RepositoryService && s <= ACLService
}

// Key returns the configuration key of the service, e.g. "object".
func (s LogicalService) Key() string {
	if !s.Valid() {
		return fmt.Sprintf("unknown(%d)", int(s))
	}
	return serviceKeys[s]
}

func (s LogicalService) String() string { return s.Key() }

// ParseLogicalService resolves a configuration key (case-insensitive) to a
// LogicalService.
func ParseLogicalService(key string) (LogicalService, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	for i, candidate := range serviceKeys {
		if candidate == k {
			return LogicalService(i), nil
		}
	}
	return 0, fmt.Errorf("unknown logical service %q", key)
}

// MarshalText implements encoding.TextMarshaler so services can be used as
// map keys in YAML and JSON documents.
func (s LogicalService) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid logical service %d", int(s))
	}
	return []byte(s.Key()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *LogicalService) UnmarshalText(b []byte) error {
	v, err := ParseLogicalService(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
