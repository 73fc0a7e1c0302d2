// Package fixtures provides a deterministic listing for demos and tests.
package fixtures

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"market-insight-lab/internal/domain"
	"market-insight-lab/internal/ingestion"
)

// CapturedAt is the capture time of fixture snapshots.
var CapturedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Coin is one fixture record in USD.
type Coin struct {
	Name             string
	Symbol           string
	Price            float64
	Volume24h        float64
	MarketCap        float64
	PercentChange24h float64
}

// SampleCoins returns twelve coins with varied prices, volumes and caps.
// Dogecoin carries an outsized 24h move.
func SampleCoins() []Coin {
	return []Coin{
		{"Bitcoin", "BTC", 64250.12, 28.1e9, 1266.4e9, 1.21},
		{"Ethereum", "ETH", 3105.77, 14.2e9, 373.2e9, 2.48},
		{"Tether", "USDT", 1.0002, 45.6e9, 110.3e9, 0.01},
		{"BNB", "BNB", 575.31, 1.9e9, 84.9e9, -0.83},
		{"Solana", "SOL", 148.9, 2.7e9, 68.8e9, 5.12},
		{"XRP", "XRP", 0.5213, 1.1e9, 28.9e9, -1.94},
		{"USDC", "USDC", 0.9998, 6.3e9, 32.4e9, 0.0},
		{"Dogecoin", "DOGE", 0.1621, 2.2e9, 23.5e9, 14.75},
		{"Cardano", "ADA", 0.4452, 0.41e9, 15.8e9, -2.21},
		{"TRON", "TRX", 0.1187, 0.33e9, 10.4e9, 0.62},
		{"Avalanche", "AVAX", 35.41, 0.52e9, 13.9e9, 3.31},
		{"Chainlink", "LINK", 14.22, 0.38e9, 8.4e9, -0.44},
	}
}

// ListingJSON renders coins in the CoinMarketCap listings shape.
func ListingJSON(coins []Coin) []byte {
	type quote struct {
		Price            float64 `json:"price"`
		Volume24h        float64 `json:"volume_24h"`
		MarketCap        float64 `json:"market_cap"`
		PercentChange24h float64 `json:"percent_change_24h"`
		PercentChange7d  float64 `json:"percent_change_7d"`
		LastUpdated      string  `json:"last_updated"`
	}
	type record struct {
		ID      int              `json:"id"`
		Name    string           `json:"name"`
		Symbol  string           `json:"symbol"`
		CMCRank int              `json:"cmc_rank"`
		Quote   map[string]quote `json:"quote"`
	}
	type status struct {
		ErrorCode    int     `json:"error_code"`
		ErrorMessage *string `json:"error_message"`
	}
	body := struct {
		Status status   `json:"status"`
		Data   []record `json:"data"`
	}{Data: make([]record, 0, len(coins))}

	for i, c := range coins {
		body.Data = append(body.Data, record{
			ID:      i + 1,
			Name:    c.Name,
			Symbol:  c.Symbol,
			CMCRank: i + 1,
			Quote: map[string]quote{"USD": {
				Price:            c.Price,
				Volume24h:        c.Volume24h,
				MarketCap:        c.MarketCap,
				PercentChange24h: c.PercentChange24h,
				PercentChange7d:  c.PercentChange24h * 2,
				LastUpdated:      "2025-01-01T00:00:00.000Z",
			}},
		})
	}

	out, err := json.Marshal(body)
	if err != nil {
		panic(fmt.Sprintf("fixtures: marshal listing: %v", err))
	}
	return out
}

// SampleListingJSON returns ListingJSON(SampleCoins()).
func SampleListingJSON() []byte {
	return ListingJSON(SampleCoins())
}

// Snapshot builds a snapshot from coins without going through ingestion.
func Snapshot(coins []Coin) *domain.Snapshot {
	s := &domain.Snapshot{ID: "fixture", CapturedAt: CapturedAt, Currency: ingestion.DefaultCurrency}
	for i, c := range coins {
		vol, mcap, pct := c.Volume24h, c.MarketCap, c.PercentChange24h
		s.Rows = append(s.Rows, &domain.ListingRow{
			ID:               int64(i + 1),
			Name:             c.Name,
			Symbol:           c.Symbol,
			Rank:             i + 1,
			Price:            c.Price,
			Volume24h:        &vol,
			MarketCap:        &mcap,
			PercentChange24h: &pct,
			Timestamp:        CapturedAt,
		})
	}
	return s
}

// SampleSnapshot returns Snapshot(SampleCoins()).
func SampleSnapshot() *domain.Snapshot {
	return Snapshot(SampleCoins())
}

// StaticSource is a ListingSource serving canned bodies in order.
// After the last body it keeps returning the last one; a non-nil Err is
// returned instead of a body while set.
type StaticSource struct {
	mu     sync.Mutex
	bodies [][]byte
	calls  int
	Err    error
}

// NewStaticSource creates a source that serves bodies in order.
func NewStaticSource(bodies ...[]byte) *StaticSource {
	return &StaticSource{bodies: bodies}
}

// FetchListings returns the next canned body.
func (s *StaticSource) FetchListings(_ context.Context, _ ingestion.Query) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.bodies) == 0 {
		return nil, &ingestion.IngestError{Reason: "no canned listing"}
	}
	i := s.calls - 1
	if i >= len(s.bodies) {
		i = len(s.bodies) - 1
	}
	return s.bodies[i], nil
}

// SetErr makes subsequent fetches fail with err (nil restores bodies).
func (s *StaticSource) SetErr(err error) {
	s.mu.Lock()
	s.Err = err
	s.mu.Unlock()
}

// Calls returns how many fetches were made.
func (s *StaticSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var _ ingestion.ListingSource = (*StaticSource)(nil)
