package memory

import (
	"context"
	"sync"
	"time"

	"market-insight-lab/internal/storage"
)

type cacheEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// ListingCache is an in-memory implementation of storage.ListingCache.
type ListingCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
	now  func() time.Time
}

// NewListingCache creates a new in-memory listing cache.
func NewListingCache() *ListingCache {
	return &ListingCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

// WithClock sets a custom clock function for deterministic expiry.
func (c *ListingCache) WithClock(now func() time.Time) *ListingCache {
	c.now = now
	return c
}

// Get returns the value stored under key. Returns ErrNotFound if absent or expired.
func (c *ListingCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()

	if !ok {
		return nil, storage.ErrNotFound
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the entry
		if cur, ok := c.data[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return nil, storage.ErrNotFound
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores value under key for ttl.
func (c *ListingCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	e := cacheEntry{value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	c.data[key] = e
	c.mu.Unlock()
	return nil
}

// Delete removes key.
func (c *ListingCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (c *ListingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

var _ storage.ListingCache = (*ListingCache)(nil)
