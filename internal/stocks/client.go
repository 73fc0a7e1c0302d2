// Package stocks fetches daily stock prices and summarises them.
package stocks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"market-insight-lab/internal/domain"
	"market-insight-lab/internal/observability"
)

// Default configuration values.
const (
	DefaultBaseURL = "https://query1.finance.yahoo.com"
	DefaultTimeout = 15 * time.Second
	DefaultTicker  = "AAPL"
	DefaultDays    = 7
	MinDays        = 5
	MaxDays        = 30
	userAgent      = "market-insight-lab/1.0"
)

// ErrNoData is returned when a chart has no usable bars.
var ErrNoData = errors.New("no price data")

// ClampDays limits a window to [MinDays, MaxDays]; zero means DefaultDays.
func ClampDays(days int) int {
	switch {
	case days == 0:
		return DefaultDays
	case days < MinDays:
		return MinDays
	case days > MaxDays:
		return MaxDays
	}
	return days
}

// Client reads daily charts from a Yahoo-Finance-compatible endpoint.
type Client struct {
	baseURL string
	client  *http.Client
	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithBaseURL overrides the chart API base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithMetrics records fetch results.
func WithMetrics(m *observability.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClock sets the clock used to compute recent windows.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a new chart client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: DefaultTimeout},
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Recent returns daily bars for the last days calendar days, days clamped by ClampDays.
func (c *Client) Recent(ctx context.Context, ticker string, days int) ([]domain.PriceBar, error) {
	end := c.now().UTC()
	start := end.AddDate(0, 0, -ClampDays(days))
	return c.DailyBars(ctx, ticker, start, end)
}

// DailyBars returns the daily bars of ticker between start and end, oldest first.
// Bars without a close are skipped.
func (c *Client) DailyBars(ctx context.Context, ticker string, start, end time.Time) ([]domain.PriceBar, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, errors.New("stocks: empty ticker")
	}

	bars, err := c.fetch(ctx, ticker, start, end)
	if err != nil {
		c.metrics.ObserveStockFetch(observability.ResultError)
		c.logger.Warn().Err(err).Str("ticker", ticker).Msg("stock chart fetch failed")
		return nil, err
	}
	c.metrics.ObserveStockFetch(observability.ResultOK)
	c.logger.Debug().Str("ticker", ticker).Int("bars", len(bars)).Msg("stock chart retrieved")
	return bars, nil
}

func (c *Client) fetch(ctx context.Context, ticker string, start, end time.Time) ([]domain.PriceBar, error) {
	params := url.Values{}
	params.Set("period1", strconv.FormatInt(start.Unix(), 10))
	params.Set("period2", strconv.FormatInt(end.Unix(), 10))
	params.Set("interval", "1d")

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(ticker), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("stocks: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stocks: request %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("stocks: read response: %w", err)
	}

	var parsed chartResponse
	decodeErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr == nil && parsed.Chart.Error != nil {
			return nil, fmt.Errorf("stocks: %s: HTTP %d: %s", ticker, resp.StatusCode, parsed.Chart.Error.Description)
		}
		return nil, fmt.Errorf("stocks: %s: HTTP %d", ticker, resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("stocks: decode chart: %w", decodeErr)
	}
	if parsed.Chart.Error != nil {
		return nil, fmt.Errorf("stocks: %s: %s", ticker, parsed.Chart.Error.Description)
	}
	if len(parsed.Chart.Result) == 0 || len(parsed.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("stocks: %s: %w", ticker, ErrNoData)
	}

	result := parsed.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	bars := make([]domain.PriceBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		closePrice := at(quote.Close, i)
		if closePrice == nil {
			continue
		}
		bars = append(bars, domain.PriceBar{
			Date:   time.Unix(ts, 0).UTC(),
			Open:   value(at(quote.Open, i)),
			High:   value(at(quote.High, i)),
			Low:    value(at(quote.Low, i)),
			Close:  *closePrice,
			Volume: value(at(quote.Volume, i)),
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("stocks: %s: %w", ticker, ErrNoData)
	}
	return bars, nil
}

func at(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}

func value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
