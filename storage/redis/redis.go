// Package redis stores content blobs in Redis hashes so that several
// server processes can share one repository's content.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/cmis-bindings-go/storage"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis storage.
type Config struct {
	// Client is the Redis client instance.
	Client *redis.Client

	// KeyPrefix is the prefix for all Redis keys.
	// Default: "cmis:content:"
	KeyPrefix string
}

// Storage implements storage.Storage using Redis.
type Storage struct {
	client    *redis.Client
	keyPrefix string
}

const (
	fieldData     = "data"
	fieldMimeType = "mime"
	fieldFilename = "filename"
	fieldCreated  = "created"
)

// New creates a new Redis-based storage instance.
func New(config Config) (*Storage, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "cmis:content:"
	}
	return &Storage{client: config.Client, keyPrefix: config.KeyPrefix}, nil
}

func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Blob, error) {
	o := storage.Resolve(opts...)
	redisKey := s.buildKey(o.Repository, key)

	fields, err := s.client.HGetAll(ctx, redisKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", redisKey, err)
	}
	data, ok := fields[fieldData]
	if !ok {
		return nil, nil
	}
	b := &storage.Blob{
		Data:     []byte(data),
		MimeType: fields[fieldMimeType],
		Filename: fields[fieldFilename],
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields[fieldCreated]); err == nil {
		b.CreatedAt = ts
	}
	return b, nil
}

func (s *Storage) Put(ctx context.Context, key string, blob *storage.Blob, opts ...storage.Option) error {
	o := storage.Resolve(opts...)
	redisKey := s.buildKey(o.Repository, key)

	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, redisKey)
		p.HSet(ctx, redisKey,
			fieldData, blob.Data,
			fieldMimeType, blob.MimeType,
			fieldFilename, blob.Filename,
			fieldCreated, time.Now().UTC().Format(time.RFC3339Nano),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", redisKey, err)
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	o := storage.Resolve(opts...)
	if o.Key != nil {
		redisKey := s.buildKey(o.Repository, *o.Key)
		if err := s.client.Del(ctx, redisKey).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", redisKey, err)
		}
		return nil
	}

	pattern := s.buildKey(o.Repository, "*")
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan keys for pattern %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) buildKey(repository, key string) string {
	return s.keyPrefix + repository + ":" + key
}

var _ storage.Storage = (*Storage)(nil)
