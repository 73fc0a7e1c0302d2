package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"market-insight-lab/internal/storage"
)

// DefaultPrefix namespaces every key written by ListingCache.
const DefaultPrefix = "insight:"

// ListingCache is a Redis implementation of storage.ListingCache.
type ListingCache struct {
	client *goredis.Client
	prefix string
}

// NewListingCache creates a listing cache on an existing client.
// An empty prefix uses DefaultPrefix.
func NewListingCache(client *goredis.Client, prefix string) *ListingCache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &ListingCache{client: client, prefix: prefix}
}

// Get returns the value stored under key. Returns ErrNotFound if absent or expired.
func (c *ListingCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// Set stores value under key for ttl.
func (c *ListingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return storage.ErrInvalidInput
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, c.prefix+key, string(value), ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (c *ListingCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

var _ storage.ListingCache = (*ListingCache)(nil)
