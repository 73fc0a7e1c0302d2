package ingestion_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-insight-lab/internal/fixtures"
	"market-insight-lab/internal/ingestion"
	"market-insight-lab/internal/observability"
	"market-insight-lab/internal/storage/memory"
)

func newTestLoader(t *testing.T, src ingestion.ListingSource) (*ingestion.Loader, *memory.ListingCache, *observability.Metrics, *time.Time) {
	t.Helper()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := memory.NewListingCache().WithClock(func() time.Time { return now })
	metrics := observability.NewMetrics(prometheus.NewRegistry(), "test")
	loader := ingestion.NewLoader(ingestion.LoaderOptions{
		Source:  src,
		Cache:   cache,
		TTL:     time.Minute,
		Metrics: metrics,
	}).WithClock(func() time.Time { return now })
	return loader, cache, metrics, &now
}

func TestLoader_CachesListing(t *testing.T) {
	src := fixtures.NewStaticSource(fixtures.SampleListingJSON())
	loader, cache, metrics, _ := newTestLoader(t, src)
	ctx := context.Background()

	first, err := loader.Load(ctx, ingestion.Request{})
	require.NoError(t, err)
	second, err := loader.Load(ctx, ingestion.Request{})
	require.NoError(t, err)

	assert.Equal(t, 1, src.Calls(), "second load must be served from cache")
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.CapturedAt.Equal(second.CapturedAt))
	assert.Equal(t, 12, second.Len())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FetchesTotal.WithLabelValues(observability.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheRequests.WithLabelValues(observability.ResultMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheRequests.WithLabelValues(observability.ResultHit)))
	assert.Equal(t, 12.0, testutil.ToFloat64(metrics.RowsIngested), "cache hits are not re-counted")
}

func TestLoader_TTLExpiry(t *testing.T) {
	src := fixtures.NewStaticSource(fixtures.SampleListingJSON())
	loader, _, _, now := newTestLoader(t, src)
	ctx := context.Background()

	_, err := loader.Load(ctx, ingestion.Request{})
	require.NoError(t, err)

	*now = now.Add(2 * time.Minute)
	s, err := loader.Load(ctx, ingestion.Request{})
	require.NoError(t, err)

	assert.Equal(t, 2, src.Calls())
	assert.True(t, s.CapturedAt.Equal(*now))
}

func TestLoader_FreshBypassesCache(t *testing.T) {
	small := fixtures.ListingJSON(fixtures.SampleCoins()[:3])
	src := fixtures.NewStaticSource(fixtures.SampleListingJSON(), small)
	loader, _, _, _ := newTestLoader(t, src)
	ctx := context.Background()

	_, err := loader.Load(ctx, ingestion.Request{})
	require.NoError(t, err)

	s, err := loader.Load(ctx, ingestion.Request{Fresh: true})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())

	// The fresh result replaces the cached one
	s, err = loader.Load(ctx, ingestion.Request{})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 2, src.Calls())
}

func TestLoader_SeparateKeysPerQuery(t *testing.T) {
	src := fixtures.NewStaticSource(fixtures.SampleListingJSON())
	loader, cache, _, _ := newTestLoader(t, src)
	ctx := context.Background()

	_, err := loader.Load(ctx, ingestion.Request{Query: ingestion.Query{Limit: 10}})
	require.NoError(t, err)
	_, err = loader.Load(ctx, ingestion.Request{Query: ingestion.Query{Limit: 20}})
	require.NoError(t, err)

	assert.Equal(t, 2, src.Calls())
	assert.Equal(t, 2, cache.Len())
}

func TestLoader_FetchError(t *testing.T) {
	src := fixtures.NewStaticSource()
	src.SetErr(errors.New("dial tcp: connection refused"))
	loader, cache, metrics, _ := newTestLoader(t, src)

	s, err := loader.Load(context.Background(), ingestion.Request{})
	assert.Nil(t, s)
	require.Error(t, err)
	assert.True(t, ingestion.IsIngestError(err), "plain source errors are wrapped")
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FetchesTotal.WithLabelValues(observability.ResultError)))
}

func TestLoader_MalformedBodyNotCached(t *testing.T) {
	src := fixtures.NewStaticSource([]byte(`{"data": "not-a-list"}`))
	loader, cache, metrics, _ := newTestLoader(t, src)

	s, err := loader.Load(context.Background(), ingestion.Request{})
	assert.Nil(t, s)
	assert.True(t, ingestion.IsIngestError(err))
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FetchesTotal.WithLabelValues(observability.ResultMalformed)))
}

func TestLoader_EvictsUnreadableEntry(t *testing.T) {
	src := fixtures.NewStaticSource(fixtures.SampleListingJSON())
	loader, cache, metrics, _ := newTestLoader(t, src)
	ctx := context.Background()

	key := ingestion.Query{}.CacheKey()
	require.NoError(t, cache.Set(ctx, key, []byte("garbage"), time.Minute))

	s, err := loader.Load(ctx, ingestion.Request{})
	require.NoError(t, err)
	assert.Equal(t, 12, s.Len())
	assert.Equal(t, 1, src.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheRequests.WithLabelValues(observability.ResultError)))

	// The refetched listing replaced the garbage entry
	_, err = loader.Load(ctx, ingestion.Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, src.Calls())
}

func TestLoader_Invalidate(t *testing.T) {
	src := fixtures.NewStaticSource(fixtures.SampleListingJSON())
	loader, cache, _, _ := newTestLoader(t, src)
	ctx := context.Background()

	_, err := loader.Load(ctx, ingestion.Request{})
	require.NoError(t, err)
	require.NoError(t, loader.Invalidate(ctx, ingestion.Query{}))
	assert.Equal(t, 0, cache.Len())
}

func TestLoader_NoCache(t *testing.T) {
	src := fixtures.NewStaticSource(fixtures.SampleListingJSON())
	loader := ingestion.NewLoader(ingestion.LoaderOptions{Source: src})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := loader.Load(ctx, ingestion.Request{})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, src.Calls())
	assert.NoError(t, loader.Invalidate(ctx, ingestion.Query{}))
}

func TestQuery_Defaults(t *testing.T) {
	q := ingestion.Query{Convert: " usd "}.WithDefaults()
	assert.Equal(t, ingestion.Query{Start: 1, Limit: 50, Convert: "USD"}, q)
	assert.Equal(t, "listings:USD:1:50", ingestion.Query{}.CacheKey())
	assert.Equal(t, ingestion.Query{}.CacheKey(), ingestion.Query{APIKey: "other"}.CacheKey())
}
