package ingestion

import (
	"context"
	"fmt"
	"strings"
)

// Query defaults.
const (
	DefaultStart = 1
	DefaultLimit = 50
)

// Query selects a page of the listing.
type Query struct {
	Start   int    // 1-based offset
	Limit   int    // number of records
	Convert string // quote currency
	APIKey  string // overrides the source's configured key when set
}

// WithDefaults returns a copy of q with zero fields filled in.
func (q Query) WithDefaults() Query {
	if q.Start <= 0 {
		q.Start = DefaultStart
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	q.Convert = strings.ToUpper(strings.TrimSpace(q.Convert))
	if q.Convert == "" {
		q.Convert = DefaultCurrency
	}
	return q
}

// CacheKey identifies the listing page independently of the API key.
func (q Query) CacheKey() string {
	q = q.WithDefaults()
	return fmt.Sprintf("listings:%s:%d:%d", q.Convert, q.Start, q.Limit)
}

// ListingSource provides raw listing bodies from an external provider.
type ListingSource interface {
	// FetchListings returns the raw response body for q.
	// Transport failures and non-2xx responses are returned as *IngestError.
	FetchListings(ctx context.Context, q Query) ([]byte, error)
}
