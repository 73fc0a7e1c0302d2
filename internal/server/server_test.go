package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-insight-lab/internal/domain"
	"market-insight-lab/internal/fixtures"
	"market-insight-lab/internal/ingestion"
	"market-insight-lab/internal/observability"
	"market-insight-lab/internal/reporting"
	"market-insight-lab/internal/session"
	"market-insight-lab/internal/stocks"
)

var fixedNow = time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)

type fakeStocks struct {
	bars []domain.PriceBar
	err  error
	days int
}

func (f *fakeStocks) Recent(_ context.Context, _ string, days int) ([]domain.PriceBar, error) {
	f.days = days
	return f.bars, f.err
}

type testEnv struct {
	srv    *Server
	src    *fixtures.StaticSource
	stocks *fakeStocks
}

func newTestEnv(t *testing.T, bodies ...[]byte) *testEnv {
	t.Helper()
	if len(bodies) == 0 {
		bodies = [][]byte{fixtures.SampleListingJSON()}
	}
	src := fixtures.NewStaticSource(bodies...)
	loader := ingestion.NewLoader(ingestion.LoaderOptions{Source: src})
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg, "test")
	mgr := session.NewManager(session.ManagerOptions{Loader: loader, Metrics: metrics})
	fs := &fakeStocks{}

	srv := New(Options{Sessions: mgr, Stocks: fs, Gatherer: reg, Metrics: metrics}).WithClock(func() time.Time { return fixedNow })
	return &testEnv{srv: srv, src: src, stocks: fs}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func (e *testEnv) refresh(t *testing.T, id string) reporting.Dashboard {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/sessions/"+id+"/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeDashboard(t, rec)
}

func decodeDashboard(t *testing.T, rec *httptest.ResponseRecorder) reporting.Dashboard {
	t.Helper()
	var d reporting.Dashboard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	return d
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Len(t, rec.Header().Get("X-Request-ID"), 8)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.createSession(t)

	rec := env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_server_active_sessions 1")
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, kindNotFound, decodeError(t, rec).Kind)
}

func TestCreateSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/sessions", `{"limit": 20, "convert": "eur", "api_key": "k"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 20, resp.Limit)
	assert.Equal(t, "EUR", resp.Convert)
	assert.Equal(t, 1, resp.Start)
	assert.NotContains(t, rec.Body.String(), `"k"`, "api key is not echoed")
}

func TestCreateSession_BadRequest(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{`{"limit": 9000}`, `{"limit": -1}`, `{not json`, `{"unknown": 1}`} {
		rec := env.do(t, http.MethodPost, "/api/sessions", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, kindBadRequest, decodeError(t, rec).Kind, body)
	}
}

func TestDashboard_BeforeRefresh(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	rec := env.do(t, http.MethodGet, "/api/sessions/"+id+"/dashboard", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, kindNoSnapshot, decodeError(t, rec).Kind)
}

func TestRefreshAndDashboard(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	d := env.refresh(t, id)
	assert.Equal(t, 12, d.Rows)
	assert.Equal(t, "Bitcoin", d.Selected)
	assert.Equal(t, "market_cap", d.Target)
	assert.True(t, d.PredictionEnabled)
	assert.Len(t, d.Neighbors, 5)
	require.Len(t, d.Anomalies.Rows, 1)
	assert.Equal(t, "Dogecoin", d.Anomalies.Rows[0][0])
	assert.True(t, d.GeneratedAt.Equal(fixedNow))
	assert.Empty(t, d.Errors)

	rec := env.do(t, http.MethodGet, "/api/sessions/"+id+"/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, d.SnapshotID, decodeDashboard(t, rec).SnapshotID)
}

func TestRefresh_IngestErrorKeepsData(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	first := env.refresh(t, id)

	env.src.SetErr(&ingestion.IngestError{Reason: "listing source unreachable", StatusCode: 503})
	rec := env.do(t, http.MethodPost, "/api/sessions/"+id+"/refresh?force=true", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, kindIngest, body.Kind)
	assert.Contains(t, body.Error, "unreachable")

	rec = env.do(t, http.MethodGet, "/api/sessions/"+id+"/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first.SnapshotID, decodeDashboard(t, rec).SnapshotID)
}

func TestRefresh_Malformed(t *testing.T) {
	env := newTestEnv(t, []byte(`{"data": "not-a-list"}`))
	id := env.createSession(t)

	rec := env.do(t, http.MethodPost, "/api/sessions/"+id+"/refresh", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, kindIngest, decodeError(t, rec).Kind)
}

func TestSelection(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	env.refresh(t, id)

	rec := env.do(t, http.MethodPut, "/api/sessions/"+id+"/selection", `{"name": "Ethereum"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := decodeDashboard(t, rec)
	assert.Equal(t, "Ethereum", d.Selected)
	require.Len(t, d.Neighbors, 5)
	for _, n := range d.Neighbors {
		assert.NotEqual(t, "Ethereum", n.Name)
	}

	rec = env.do(t, http.MethodPut, "/api/sessions/"+id+"/selection", `{"name": "Nonexistent"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, kindNotFound, decodeError(t, rec).Kind)

	// other stages still render
	rec = env.do(t, http.MethodGet, "/api/sessions/"+id+"/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	d = decodeDashboard(t, rec)
	assert.Len(t, d.Anomalies.Rows, 1)
	assert.Contains(t, d.Errors, "similarity")

	rec = env.do(t, http.MethodPut, "/api/sessions/"+id+"/selection", `{"name": " "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTarget(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	rec := env.do(t, http.MethodPut, "/api/sessions/"+id+"/target", `{"target": "price"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var pending targetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	assert.True(t, pending.Pending)

	d := env.refresh(t, id)
	assert.Equal(t, "price", d.Target)

	rec = env.do(t, http.MethodPut, "/api/sessions/"+id+"/target", `{"target": "market_cap"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "market_cap", decodeDashboard(t, rec).Target)

	rec = env.do(t, http.MethodPut, "/api/sessions/"+id+"/target", `{"target": "sentiment"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredict(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	rec := env.do(t, http.MethodGet, "/api/sessions/"+id+"/predict?price=1&volume_24h=1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, kindNoSnapshot, decodeError(t, rec).Kind)

	env.refresh(t, id)

	rec = env.do(t, http.MethodGet, "/api/sessions/"+id+"/predict?price=100&volume_24h=1000000000", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp predictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "market_cap", resp.Target)
	assert.Len(t, resp.Inputs, 2)

	rec = env.do(t, http.MethodGet, "/api/sessions/"+id+"/predict?price=abc&volume_24h=1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/sessions/"+id+"/predict?price=1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing input")
}

func TestPredict_InsufficientData(t *testing.T) {
	env := newTestEnv(t, fixtures.ListingJSON(fixtures.SampleCoins()[:3]))
	id := env.createSession(t)
	d := env.refresh(t, id)
	assert.False(t, d.PredictionEnabled)
	assert.Contains(t, d.Errors, "prediction")

	rec := env.do(t, http.MethodGet, "/api/sessions/"+id+"/predict?price=1&volume_24h=1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, kindInsufficientData, decodeError(t, rec).Kind)
}

func TestCloseSession(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	rec := env.do(t, http.MethodDelete, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	for _, path := range []string{"/dashboard", "/predict"} {
		rec = env.do(t, http.MethodGet, "/api/sessions/"+id+path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, kindSessionNotFound, decodeError(t, rec).Kind)
	}

	rec = env.do(t, http.MethodDelete, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStock(t *testing.T) {
	env := newTestEnv(t)
	day := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	for i, c := range []float64{100, 102, 101, 105, 110} {
		env.stocks.bars = append(env.stocks.bars, domain.PriceBar{Date: day.AddDate(0, 0, i), Close: c})
	}

	rec := env.do(t, http.MethodGet, "/api/stocks/msft?days=60", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, stocks.MaxDays, env.stocks.days)

	var report reporting.StockReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "MSFT", report.Ticker)
	assert.InDelta(t, 10.0, report.Performance.Change, 1e-9)
	require.NotNil(t, report.Performance.PercentChange)
	assert.InDelta(t, 10.0, *report.Performance.PercentChange, 1e-9)
	assert.NotEmpty(t, report.Sentiment.Rows)
}

func TestStock_Errors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/stocks/AAPL?days=many", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.stocks.err = stocks.ErrNoData
	rec = env.do(t, http.MethodGet, "/api/stocks/AAPL", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, kindNoData, decodeError(t, rec).Kind)
	assert.Equal(t, stocks.DefaultDays, env.stocks.days)

	env.stocks.err = errors.New("stocks: chart request failed (HTTP 500)")
	rec = env.do(t, http.MethodGet, "/api/stocks/AAPL", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, kindUpstream, decodeError(t, rec).Kind)

	env.stocks.err = nil
	env.stocks.bars = nil
	rec = env.do(t, http.MethodGet, "/api/stocks/AAPL", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStock_NotConfigured(t *testing.T) {
	mgr := session.NewManager(session.ManagerOptions{Loader: ingestion.NewLoader(ingestion.LoaderOptions{Source: fixtures.NewStaticSource()})})
	srv := New(Options{Sessions: mgr})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stocks/AAPL", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "metrics route requires a gatherer")
}

func TestWebSocket_PushesDashboards(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	env.refresh(t, id)

	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/" + id
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	readDashboard := func() reporting.Dashboard {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var d reporting.Dashboard
		require.NoError(t, json.Unmarshal(msg, &d))
		return d
	}

	initial := readDashboard()
	assert.Equal(t, "Bitcoin", initial.Selected)
	require.Eventually(t, func() bool { return env.srv.Hub().Len(id) == 1 }, time.Second, 10*time.Millisecond)

	rec := env.do(t, http.MethodPut, "/api/sessions/"+id+"/selection", `{"name": "Solana"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Solana", readDashboard().Selected)

	rec = env.do(t, http.MethodDelete, "/api/sessions/"+id, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, env.srv.Hub().Len(id))

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWebSocket_UnknownSession(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{session.ErrNotFound, http.StatusNotFound, kindSessionNotFound},
		{session.ErrNoSnapshot, http.StatusConflict, kindNoSnapshot},
		{session.ErrPredictionDisabled, http.StatusConflict, kindPredictionDisabled},
		{&ingestion.IngestError{Reason: "x"}, http.StatusBadGateway, kindIngest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, kindTimeout},
		{errors.New("boom"), http.StatusInternalServerError, kindInternal},
	}
	for _, tt := range tests {
		status, kind := classify(tt.err)
		if status != tt.status || kind != tt.kind {
			t.Errorf("classify(%v) = %d %s, want %d %s", tt.err, status, kind, tt.status, tt.kind)
		}
	}
}

func TestEviction_SkipsWatchedSessions(t *testing.T) {
	var clock atomic.Int64
	clock.Store(fixedNow.UnixNano())
	loader := ingestion.NewLoader(ingestion.LoaderOptions{Source: fixtures.NewStaticSource(fixtures.SampleListingJSON())})
	mgr := session.NewManager(session.ManagerOptions{Loader: loader, IdleTTL: time.Minute}).
		WithClock(func() time.Time { return time.Unix(0, clock.Load()) })
	env := &testEnv{srv: New(Options{Sessions: mgr, Stocks: &fakeStocks{}})}
	id := env.createSession(t)
	env.refresh(t, id)

	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.srv.Hub().Len(id) == 1 }, time.Second, 10*time.Millisecond)

	clock.Add(int64(2 * time.Minute))
	assert.Equal(t, 0, mgr.EvictIdle(), "a session with attached clients stays")
	_, err = mgr.Get(id)
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return env.srv.Hub().Len(id) == 0 }, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, mgr.EvictIdle())
	rec := env.do(t, http.MethodGet, "/api/sessions/"+id+"/dashboard", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
