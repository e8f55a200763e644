// Package memrepo is an in-memory CMIS repository implementing cmis.Service.
// Object metadata lives in process memory; content bytes go to a
// storage.Storage so they can be shared or bounded independently.
//
// The repository supports one folder tree rooted at RootFolderID, documents
// with linear version series, and any number of registered types derived
// from cmis:document or cmis:folder.
package memrepo

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/cmis-bindings-go/cmis"
	"github.com/ggoodman/cmis-bindings-go/storage"
	"github.com/google/uuid"
)

// RootFolderID is the object id of every repository's root folder.
const RootFolderID = "root"

const anonymous = "anonymous"

type object struct {
	props    cmis.Properties
	base     cmis.BaseType
	parentID string
	policies []string
	acl      []cmis.ACE
	// streamID is empty when the document has no content.
	streamID string
}

// Repository implements cmis.Service.
type Repository struct {
	id    string
	store storage.Storage
	log   *slog.Logger
	now   func() time.Time
	newID func() string

	// maxContent bounds one content stream; zero means unbounded.
	maxContent int64

	mu      sync.RWMutex
	types   map[string]*cmis.TypeDefinition
	objects map[string]*object
	series  map[string][]string // version series id -> document ids, oldest first
}

var _ cmis.Service = (*Repository)(nil)

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the repository logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.log = l }
}

// WithClock overrides the time source used for creation and modification
// dates.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithIDGenerator overrides object id generation.
func WithIDGenerator(fn func() string) Option {
	return func(r *Repository) { r.newID = fn }
}

// WithMaxContentSize rejects content streams longer than n bytes with a
// constraint error while they are being read.
func WithMaxContentSize(n int64) Option {
	return func(r *Repository) { r.maxContent = n }
}

// WithType registers an additional type definition.
func WithType(td *cmis.TypeDefinition) Option {
	return func(r *Repository) { r.types[td.ID] = td }
}

// New creates a repository named id storing content in store.
func New(id string, store storage.Storage, opts ...Option) *Repository {
	r := &Repository{
		id:      id,
		store:   store,
		log:     slog.New(slog.DiscardHandler),
		now:     time.Now,
		newID:   uuid.NewString,
		types:   baseTypes(),
		objects: make(map[string]*object),
		series:  make(map[string][]string),
	}
	for _, opt := range opts {
		opt(r)
	}

	now := r.now().UTC()
	root := cmis.Properties{}
	root.Set(cmis.PropObjectID, cmis.PropertyTypeID, RootFolderID)
	root.Set(cmis.PropObjectTypeID, cmis.PropertyTypeID, string(cmis.BaseTypeFolder))
	root.Set(cmis.PropBaseTypeID, cmis.PropertyTypeID, string(cmis.BaseTypeFolder))
	root.Set(cmis.PropName, cmis.PropertyTypeString, "")
	root.Set(cmis.PropCreatedBy, cmis.PropertyTypeString, "system")
	root.Set(cmis.PropCreationDate, cmis.PropertyTypeDateTime, now)
	root.Set(cmis.PropLastModificationDate, cmis.PropertyTypeDateTime, now)
	r.objects[RootFolderID] = &object{props: root, base: cmis.BaseTypeFolder}
	return r
}

// ID returns the repository id.
func (r *Repository) ID() string { return r.id }

// AddType registers td, replacing any type with the same id. The parent type
// must already be registered.
func (r *Repository) AddType(td *cmis.TypeDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if td.ParentID != "" {
		if _, ok := r.types[td.ParentID]; !ok {
			return cmis.Errorf(cmis.KindConstraint, "addType", "parent type %q is not registered", td.ParentID)
		}
	}
	r.types[td.ID] = td
	return nil
}

func (r *Repository) checkRepository(op, repositoryID string) error {
	if repositoryID != r.id {
		return cmis.Errorf(cmis.KindNotFound, op, "repository %q does not exist", repositoryID)
	}
	return nil
}

func (r *Repository) GetTypeDefinition(ctx context.Context, repositoryID, typeID string) (*cmis.TypeDefinition, error) {
	if err := r.checkRepository("getTypeDefinition", repositoryID); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	td, ok := r.types[typeID]
	if !ok {
		return nil, cmis.Errorf(cmis.KindNotFound, "getTypeDefinition", "type %q does not exist", typeID)
	}
	return td, nil
}

func caller(ctx context.Context) string {
	if cc := cmis.CallContextFrom(ctx); cc != nil && cc.User != "" {
		return cc.User
	}
	return anonymous
}
