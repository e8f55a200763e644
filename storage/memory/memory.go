// Package memory is a bounded in-process storage.Storage backed by
// github.com/hashicorp/golang-lru/v2. When full, the least recently read
// blob is evicted, unless the store is the primary copy of its content
// (WithoutEviction), in which case new keys are refused with
// storage.ErrFull.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/cmis-bindings-go/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Storage implements storage.Storage in memory.
type Storage struct {
	mu      sync.Mutex
	cache   *lru.Cache[string, *storage.Blob]
	maxItems int
	maxBlob  int
	noEvict  bool
	onEvict  func(repository, key string)
	// explicit is set while the store removes entries itself so that the
	// eviction callback can tell those apart from capacity evictions.
	explicit bool
}

// Option configures a Storage.
type Option func(*Storage)

// WithMaxBlobSize rejects blobs larger than n bytes with storage.ErrTooLarge.
func WithMaxBlobSize(n int) Option {
	return func(s *Storage) { s.maxBlob = n }
}

// WithoutEviction makes Put fail with storage.ErrFull instead of evicting
// when a new key would exceed the capacity. Replacing an existing key
// always succeeds.
func WithoutEviction() Option {
	return func(s *Storage) { s.noEvict = true }
}

// WithEvictionHook calls fn with the repository and key of every blob
// evicted to make room. Explicit deletes do not trigger it.
func WithEvictionHook(fn func(repository, key string)) Option {
	return func(s *Storage) { s.onEvict = fn }
}

// New creates a store holding at most maxItems blobs.
func New(maxItems int, opts ...Option) (*Storage, error) {
	s := &Storage{maxItems: maxItems}
	for _, opt := range opts {
		opt(s)
	}
	cache, err := lru.NewWithEvict[string, *storage.Blob](maxItems, s.evicted)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	s.cache = cache
	return s, nil
}

func (s *Storage) evicted(k string, _ *storage.Blob) {
	if s.onEvict == nil || s.explicit {
		return
	}
	repo, key, _ := strings.Cut(strings.TrimPrefix(k, "repo:"), ":key:")
	s.onEvict(repo, key)
}

func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Blob, error) {
	o := storage.Resolve(opts...)
	s.mu.Lock()
	b, ok := s.cache.Get(buildKey(o.Repository, key))
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return b, nil
}

// Put copies blob.Data; callers may reuse their buffer.
func (s *Storage) Put(ctx context.Context, key string, blob *storage.Blob, opts ...storage.Option) error {
	if s.maxBlob > 0 && len(blob.Data) > s.maxBlob {
		return fmt.Errorf("%w: %d bytes exceeds %d", storage.ErrTooLarge, len(blob.Data), s.maxBlob)
	}
	o := storage.Resolve(opts...)
	stored := &storage.Blob{
		Data:      append([]byte(nil), blob.Data...),
		MimeType:  blob.MimeType,
		Filename:  blob.Filename,
		CreatedAt: time.Now(),
	}
	k := buildKey(o.Repository, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.noEvict && !s.cache.Contains(k) && s.cache.Len() >= s.maxItems {
		return fmt.Errorf("%w: %d blobs", storage.ErrFull, s.maxItems)
	}
	s.explicit = true
	s.cache.Remove(k)
	s.explicit = false
	s.cache.Add(k, stored)
	return nil
}

func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	o := storage.Resolve(opts...)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.explicit = true
	defer func() { s.explicit = false }()

	if o.Key != nil {
		s.cache.Remove(buildKey(o.Repository, *o.Key))
		return nil
	}
	prefix := "repo:" + o.Repository + ":key:"
	for _, k := range s.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.cache.Remove(k)
		}
	}
	return nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	s.explicit = true
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

func buildKey(repository, key string) string {
	return "repo:" + repository + ":key:" + key
}

var _ storage.Storage = (*Storage)(nil)
