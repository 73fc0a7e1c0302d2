package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	DefaultBaseURL     = "https://pro-api.coinmarketcap.com"
	ListingsPath       = "/v1/cryptocurrency/listings/latest"
	DefaultTimeout     = 30 * time.Second
	DefaultRateLimit   = 0.5 // requests per second, the basic plan allows 30 per minute
	DefaultBurst       = 5
	maxResponseBytes   = 32 << 20
	maxErrorBodyInMsgs = 256
)

// CMCClient implements ListingSource against the CoinMarketCap listings API.
// It does not retry: a failed request fails the fetch.
type CMCClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// ClientOption configures CMCClient.
type ClientOption func(*CMCClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *CMCClient) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *CMCClient) {
		c.client = client
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *CMCClient) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithRateLimit sets the request rate in requests per second and the burst size.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *CMCClient) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithBreaker replaces the circuit breaker settings.
func WithBreaker(st gobreaker.Settings) ClientOption {
	return func(c *CMCClient) {
		c.breaker = gobreaker.NewCircuitBreaker(st)
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *CMCClient) {
		c.logger = logger
	}
}

// DefaultBreakerSettings trips after three consecutive failures, or when
// more than 5% of at least 20 requests in a 60s window fail. Only failures of
// the source itself count, see SourceFailure.
func DefaultBreakerSettings(name string) gobreaker.Settings {
	st := gobreaker.Settings{Name: name}
	st.IsSuccessful = func(err error) bool { return !SourceFailure(err) }
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
	}
	return st
}

// SourceFailure reports whether err means the listing source is unhealthy:
// a transport error or a 5xx status. Rejections caused by the caller (4xx,
// a bad API key, a canceled context) do not count, so one session's bad key
// cannot open the breaker for everyone else.
func SourceFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrMissingAPIKey) {
		return false
	}
	var ie *IngestError
	if errors.As(err, &ie) && ie.StatusCode >= 400 && ie.StatusCode < 500 {
		return false
	}
	return true
}

// NewCMCClient creates a new CoinMarketCap listings client.
func NewCMCClient(apiKey string, opts ...ClientOption) *CMCClient {
	c := &CMCClient{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: DefaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultBurst),
		breaker: gobreaker.NewCircuitBreaker(DefaultBreakerSettings("coinmarketcap")),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchListings performs GET listings/latest with start, limit and convert.
func (c *CMCClient) FetchListings(ctx context.Context, q Query) ([]byte, error) {
	q = q.WithDefaults()

	apiKey := c.apiKey
	if q.APIKey != "" {
		apiKey = q.APIKey
	}
	if apiKey == "" {
		return nil, &IngestError{Reason: "cannot fetch listings", Err: ErrMissingAPIKey}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &IngestError{Reason: "rate limiter", Err: err}
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, q, apiKey)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &IngestError{Reason: "listing source unavailable", Err: err}
		}
		c.logger.Error().Err(err).Int("limit", q.Limit).Str("convert", q.Convert).Msg("CoinMarketCap request failed")
		return nil, err
	}

	body := result.([]byte)
	c.logger.Debug().
		Int("bytes", len(body)).
		Str("convert", q.Convert).
		Dur("duration", time.Since(start)).
		Msg("CoinMarketCap listings retrieved")

	return body, nil
}

func (c *CMCClient) do(ctx context.Context, q Query, apiKey string) ([]byte, error) {
	params := url.Values{}
	params.Set("start", strconv.Itoa(q.Start))
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("convert", q.Convert)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+ListingsPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &IngestError{Reason: "create request", Err: err}
	}
	req.Header.Set("Accepts", "application/json")
	req.Header.Set("X-CMC_PRO_API_KEY", apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &IngestError{Reason: "listing source unreachable", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &IngestError{Reason: "read response", StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &IngestError{
			Reason:     "unexpected status",
			StatusCode: resp.StatusCode,
			Err:        errors.New(errorMessage(body)),
		}
	}

	return body, nil
}

// errorMessage extracts status.error_message from an error body, falling
// back to a truncated copy of the body.
func errorMessage(body []byte) string {
	var resp rawResponse
	if json.Unmarshal(body, &resp) == nil && resp.Status != nil &&
		resp.Status.ErrorMessage != nil && *resp.Status.ErrorMessage != "" {
		return *resp.Status.ErrorMessage
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBodyInMsgs {
		msg = msg[:maxErrorBodyInMsgs] + "..."
	}
	if msg == "" {
		msg = "empty body"
	}
	return msg
}

var _ ListingSource = (*CMCClient)(nil)
