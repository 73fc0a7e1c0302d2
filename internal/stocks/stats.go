package stocks

import (
	"errors"
	"strings"

	"gonum.org/v1/gonum/stat"

	"market-insight-lab/internal/domain"
)

// Performance summarises the closes of bars, oldest first.
func Performance(ticker string, bars []domain.PriceBar) (domain.PerformanceStats, error) {
	if len(bars) == 0 {
		return domain.PerformanceStats{}, errors.New("stocks: no bars to summarise")
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	p := domain.PerformanceStats{
		Ticker:     ticker,
		Days:       len(bars),
		StartPrice: closes[0],
		EndPrice:   closes[len(closes)-1],
	}
	p.Change = p.EndPrice - p.StartPrice
	if p.StartPrice != 0 {
		pct := p.Change / p.StartPrice * 100
		p.PercentChange = &pct
	}
	if len(closes) > 1 {
		p.Volatility = stat.StdDev(closes, nil)
	}
	return p, nil
}

// Lexicon holds sentiment keywords, matched case-insensitively as substrings.
type Lexicon struct {
	Positive []string
	Negative []string
}

// DefaultLexicon is the keyword set of the simulated social feed.
var DefaultLexicon = Lexicon{
	Positive: []string{"bullish", "buying", "hold"},
	Negative: []string{"worried", "sell-off"},
}

// SamplePosts returns the simulated social posts for ticker.
func SamplePosts(ticker string) []string {
	return []string{
		"Just bought more " + ticker + ". Long-term hold!",
		"Worried about the dip, but holding steady.",
		ticker + " earnings were solid. Thinking bullish.",
		"Sell-off was an overreaction IMO.",
		"I'm buying every dip this month!",
	}
}

// TallySentiment splits posts into those with positive and negative
// keywords. A post may count in both.
func TallySentiment(posts []string, lex Lexicon) domain.SentimentSummary {
	s := domain.SentimentSummary{
		Posts:    posts,
		Positive: []string{},
		Negative: []string{},
	}
	for _, p := range posts {
		lower := strings.ToLower(p)
		if containsAny(lower, lex.Positive) {
			s.Positive = append(s.Positive, p)
		}
		if containsAny(lower, lex.Negative) {
			s.Negative = append(s.Negative, p)
		}
	}
	return s
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(s, strings.ToLower(w)) {
			return true
		}
	}
	return false
}
