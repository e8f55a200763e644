// Package storage persists the bytes of content streams. Blobs are grouped
// per repository and addressed by a key chosen by the caller, typically the
// content stream id.
package storage

import (
	"bytes"
	"context"
	"errors"
	"time"
)

// Storage is a content blob store. Implementations must be safe for
// concurrent use.
type Storage interface {
	// Get returns the blob stored under key, or nil if there is none.
	// Errors are reserved for failures of the backend itself.
	Get(ctx context.Context, key string, opts ...Option) (*Blob, error)

	// Put stores blob under key, replacing any previous blob.
	Put(ctx context.Context, key string, blob *Blob, opts ...Option) error

	// Delete removes the blob named by WithKey, or every blob of the
	// repository when no key is given.
	Delete(ctx context.Context, opts ...Option) error

	// Close releases the backend.
	Close() error
}

// Blob is stored content plus the metadata needed to serve it again.
type Blob struct {
	Data      []byte
	MimeType  string
	Filename  string
	CreatedAt time.Time
}

// Reader returns a seekable reader over the blob's bytes.
func (b *Blob) Reader() *bytes.Reader { return bytes.NewReader(b.Data) }

// Option configures storage operations.
type Option func(*Options)

// Options contains configuration for storage operations.
type Options struct {
	Repository string  // empty selects the default repository
	Key        *string // Delete only
}

// Resolve applies opts.
func Resolve(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithRepository scopes an operation to one repository.
func WithRepository(id string) Option {
	return func(o *Options) { o.Repository = id }
}

// WithKey selects a single blob for Delete.
func WithKey(key string) Option {
	return func(o *Options) { o.Key = &key }
}

var (
	// ErrTooLarge is returned by backends that bound the size of one blob.
	ErrTooLarge = errors.New("storage: blob too large")

	// ErrFull is returned by bounded backends that refuse to make room by
	// dropping stored blobs.
	ErrFull = errors.New("storage: store is full")
)
