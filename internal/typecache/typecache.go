// Package typecache memoizes type definitions for the lifetime of one
// request. A Cache is not safe for concurrent use.
package typecache

import (
	"context"

	"github.com/ggoodman/cmis-bindings-go/cmis"
)

type Cache struct {
	provider     cmis.TypeProvider
	repositoryID string
	types        map[string]*cmis.TypeDefinition
}

// New returns an empty cache resolving misses through p.
func New(p cmis.TypeProvider, repositoryID string) *Cache {
	return &Cache{provider: p, repositoryID: repositoryID, types: make(map[string]*cmis.TypeDefinition)}
}

// Get returns the definition of typeID, asking the provider on first use.
// A provider that returns neither a definition nor an error yields a
// consistency error.
func (c *Cache) Get(ctx context.Context, typeID string) (*cmis.TypeDefinition, error) {
	if td, ok := c.types[typeID]; ok {
		return td, nil
	}
	td, err := c.provider.GetTypeDefinition(ctx, c.repositoryID, typeID)
	if err != nil {
		return nil, err
	}
	if td == nil {
		return nil, cmis.Errorf(cmis.KindConsistency, "getTypeDefinition", "no definition for type %q", typeID)
	}
	c.types[typeID] = td
	return td, nil
}

// Len reports how many definitions are cached.
func (c *Cache) Len() int { return len(c.types) }
