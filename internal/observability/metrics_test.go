package observability

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	m.ObserveFetch(ResultOK, 10*time.Millisecond)
	m.ObserveFetch(ResultError, time.Millisecond)
	m.ObserveFetch(ResultError, time.Millisecond)
	m.ObserveCache(ResultHit)
	m.ObserveIngest(12, 3)
	m.ObserveStage("similarity", time.Millisecond, errors.New("boom"))
	m.ObserveStage("anomaly", time.Millisecond, nil)
	m.SetAnomalies(2)
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchesTotal.WithLabelValues(ResultOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchesTotal.WithLabelValues(ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues(ResultHit)))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.RowsIngested))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageErrors.WithLabelValues("similarity")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.StageErrors.WithLabelValues("anomaly")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AnomaliesDetected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveFetch(ResultOK, time.Second)
	m.ObserveCache(ResultMiss)
	m.ObserveIngest(1, 1)
	m.ObserveStage("x", time.Second, errors.New("x"))
	m.SetAnomalies(1)
	m.SessionOpened()
	m.SessionClosed()
	m.ClientConnected()
	m.ClientDisconnected()
	m.ObserveStockFetch(ResultOK)
}

func TestHandler_ServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "")
	m.ObserveIngest(5, 0)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "market_insight_ingestion_rows_ingested_total 5")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", FormatJSON)
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Str("snapshot_id", "abc").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.Contains(out, `"snapshot_id":"abc"`), out)
}

func TestNewLogger_Invalid(t *testing.T) {
	_, err := NewLogger(&bytes.Buffer{}, "loud", FormatJSON)
	assert.Error(t, err)

	_, err = NewLogger(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}
