package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"market-insight-lab/internal/domain"
	"market-insight-lab/internal/observability"
	"market-insight-lab/internal/storage"
)

// DefaultCacheTTL is how long a fetched listing is served from cache.
const DefaultCacheTTL = 5 * time.Minute

// Loader turns listing fetches into snapshots, serving repeated requests
// from a cache until the TTL expires or a fresh load is requested.
type Loader struct {
	source  ListingSource
	cache   storage.ListingCache
	ttl     time.Duration
	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time // Injectable clock for deterministic capture times
}

// LoaderOptions contains configuration for creating a Loader.
type LoaderOptions struct {
	Source  ListingSource        // required
	Cache   storage.ListingCache // optional, no caching when nil
	TTL     time.Duration        // DefaultCacheTTL when zero
	Metrics *observability.Metrics
	Logger  *zerolog.Logger
}

// NewLoader creates a new listing loader.
func NewLoader(opts LoaderOptions) *Loader {
	l := &Loader{
		source:  opts.Source,
		cache:   opts.Cache,
		ttl:     opts.TTL,
		metrics: opts.Metrics,
		logger:  zerolog.Nop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	if l.ttl == 0 {
		l.ttl = DefaultCacheTTL
	}
	if opts.Logger != nil {
		l.logger = *opts.Logger
	}
	return l
}

// WithClock sets a custom clock function for deterministic output.
func (l *Loader) WithClock(now func() time.Time) *Loader {
	l.now = now
	return l
}

// Request describes one load.
type Request struct {
	Query Query
	Fresh bool // bypass the cache
}

// cachedListing is the cache envelope: the raw body plus its capture time,
// so a cached snapshot keeps the timestamp of the original fetch.
type cachedListing struct {
	CapturedAt time.Time       `json:"captured_at"`
	Body       json.RawMessage `json:"body"`
}

// Load returns a snapshot for req. Fetch and structural failures are
// returned as *IngestError; cache failures are logged and ignored.
func (l *Loader) Load(ctx context.Context, req Request) (*domain.Snapshot, error) {
	q := req.Query.WithDefaults()
	key := q.CacheKey()

	if !req.Fresh && l.cache != nil {
		if snapshot, ok := l.fromCache(ctx, key, q.Convert); ok {
			return snapshot, nil
		}
	}

	start := time.Now()
	body, err := l.source.FetchListings(ctx, q)
	if err != nil {
		l.metrics.ObserveFetch(observability.ResultError, time.Since(start))
		if !IsIngestError(err) {
			err = &IngestError{Reason: "fetch listings", Err: err}
		}
		return nil, err
	}

	capturedAt := l.now()
	snapshot, err := Ingest(body, Options{Currency: q.Convert, CapturedAt: capturedAt, Logger: &l.logger})
	if err != nil {
		l.metrics.ObserveFetch(observability.ResultMalformed, time.Since(start))
		return nil, err
	}
	l.metrics.ObserveFetch(observability.ResultOK, time.Since(start))
	l.observe(snapshot, false)

	if l.cache != nil {
		entry, err := json.Marshal(cachedListing{CapturedAt: capturedAt, Body: body})
		if err == nil {
			err = l.cache.Set(ctx, key, entry, l.ttl)
		}
		if err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("failed to cache listing")
		}
	}

	return snapshot, nil
}

// Invalidate drops the cached listing for q.
func (l *Loader) Invalidate(ctx context.Context, q Query) error {
	if l.cache == nil {
		return nil
	}
	return l.cache.Delete(ctx, q.CacheKey())
}

func (l *Loader) fromCache(ctx context.Context, key, currency string) (*domain.Snapshot, bool) {
	data, err := l.cache.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		l.metrics.ObserveCache(observability.ResultMiss)
		return nil, false
	}
	if err != nil {
		l.metrics.ObserveCache(observability.ResultError)
		l.logger.Warn().Err(err).Str("key", key).Msg("listing cache lookup failed")
		return nil, false
	}

	var entry cachedListing
	if err := json.Unmarshal(data, &entry); err == nil {
		snapshot, err := Ingest(entry.Body, Options{Currency: currency, CapturedAt: entry.CapturedAt, Logger: &l.logger})
		if err == nil {
			l.metrics.ObserveCache(observability.ResultHit)
			l.observe(snapshot, true)
			return snapshot, true
		}
	}

	// Unreadable entries are evicted and refetched
	l.metrics.ObserveCache(observability.ResultError)
	l.logger.Warn().Str("key", key).Msg("evicting unreadable cached listing")
	_ = l.cache.Delete(ctx, key)
	return nil, false
}

func (l *Loader) observe(s *domain.Snapshot, cached bool) {
	if !cached {
		l.metrics.ObserveIngest(s.Len(), s.Dropped)
	}
	evt := l.logger.Info()
	if s.Dropped > 0 {
		evt = l.logger.Warn()
	}
	evt.Str("snapshot_id", s.ID).
		Int("rows", s.Len()).
		Int("dropped", s.Dropped).
		Bool("cached", cached).
		Msg("listing snapshot loaded")
}
