package domain

import "time"

// PriceBar is one daily OHLCV bar of a stock.
type PriceBar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// PerformanceStats describes price movement over a window of daily bars.
type PerformanceStats struct {
	Ticker        string   `json:"ticker"`
	Days          int      `json:"days"`           // number of bars in the window
	StartPrice    float64  `json:"start_price"`    // first close
	EndPrice      float64  `json:"end_price"`      // last close
	Change        float64  `json:"change"`         // EndPrice - StartPrice
	PercentChange *float64 `json:"percent_change"` // Change / StartPrice * 100, NULL if StartPrice is zero
	Volatility    float64  `json:"volatility"`     // sample standard deviation of closes, 0 for a single bar
}

// SentimentSummary counts keyword matches across a set of posts.
type SentimentSummary struct {
	Posts    []string
	Positive []string
	Negative []string
}
