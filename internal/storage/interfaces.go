package storage

import (
	"context"
	"time"
)

// ListingCache holds raw listing responses for a limited time.
// Values are opaque bytes; callers own the encoding.
type ListingCache interface {
	// Get returns the value stored under key. Returns ErrNotFound if absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for ttl. A non-positive ttl stores without expiry.
	// Returns ErrInvalidInput for an empty key.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
