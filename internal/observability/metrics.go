// Package observability provides Prometheus metrics and structured logging.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "market_insight"

// Fetch and cache result labels.
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultMalformed = "malformed"
	ResultHit       = "hit"
	ResultMiss      = "miss"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Ingestion metrics
	FetchesTotal  *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	CacheRequests *prometheus.CounterVec
	RowsIngested  prometheus.Counter
	RowsDropped   prometheus.Counter

	// Pipeline metrics
	StageDuration     *prometheus.HistogramVec
	StageErrors       *prometheus.CounterVec
	AnomaliesDetected prometheus.Gauge
	LastSnapshotRows  prometheus.Gauge

	// Serving metrics
	ActiveSessions    prometheus.Gauge
	WebSocketClients  prometheus.Gauge
	StockFetchesTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	f := promauto.With(reg)

	return &Metrics{
		FetchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "fetches_total",
			Help:      "Total number of listing fetches by result",
		}, []string{"result"}),
		FetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "fetch_duration_seconds",
			Help:      "Listing fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		CacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "cache_requests_total",
			Help:      "Listing cache lookups by result",
		}, []string{"result"}),
		RowsIngested: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "rows_ingested_total",
			Help:      "Total number of listing rows accepted into snapshots",
		}),
		RowsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "rows_dropped_total",
			Help:      "Total number of malformed listing rows dropped",
		}),

		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"stage"}),
		StageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_errors_total",
			Help:      "Total number of pipeline stage failures",
		}, []string{"stage"}),
		AnomaliesDetected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "anomalies",
			Help:      "Number of anomalies flagged by the last pipeline run",
		}),
		LastSnapshotRows: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "snapshot_rows",
			Help:      "Number of rows in the last analysed snapshot",
		}),

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "active_sessions",
			Help:      "Number of open analysis sessions",
		}),
		WebSocketClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "websocket_clients",
			Help:      "Number of connected websocket clients",
		}),
		StockFetchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stocks",
			Name:      "fetches_total",
			Help:      "Total number of stock chart fetches by result",
		}, []string{"result"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveFetch records a listing fetch.
func (m *Metrics) ObserveFetch(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(result).Inc()
	m.FetchDuration.Observe(d.Seconds())
}

// ObserveCache records a cache lookup.
func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

// ObserveIngest records accepted and dropped rows of one snapshot.
func (m *Metrics) ObserveIngest(rows, dropped int) {
	if m == nil {
		return
	}
	m.RowsIngested.Add(float64(rows))
	m.RowsDropped.Add(float64(dropped))
	m.LastSnapshotRows.Set(float64(rows))
}

// ObserveStage records a pipeline stage run.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.StageErrors.WithLabelValues(stage).Inc()
	}
}

// SetAnomalies updates the anomaly gauge.
func (m *Metrics) SetAnomalies(n int) {
	if m == nil {
		return
	}
	m.AnomaliesDetected.Set(float64(n))
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// ClientConnected increments the websocket client gauge.
func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.WebSocketClients.Inc()
}

// ClientDisconnected decrements the websocket client gauge.
func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.WebSocketClients.Dec()
}

// ObserveStockFetch records a stock chart fetch.
func (m *Metrics) ObserveStockFetch(result string) {
	if m == nil {
		return
	}
	m.StockFetchesTotal.WithLabelValues(result).Inc()
}
