// Package features derives numeric columns and scaled feature vectors from
// a listing snapshot.
package features

import (
	"fmt"
	"strings"

	"market-insight-lab/internal/domain"
)

// Column names a numeric listing field usable as a feature or target.
type Column string

const (
	ColumnPrice     Column = "price"
	ColumnVolume24h Column = "volume_24h"
	ColumnMarketCap Column = "market_cap"
)

// DefaultColumns is the feature set used for similarity and prediction.
var DefaultColumns = []Column{ColumnPrice, ColumnVolume24h, ColumnMarketCap}

// Value returns the column value of r, or nil if it is missing.
func (c Column) Value(r *domain.ListingRow) *float64 {
	switch c {
	case ColumnPrice:
		v := r.Price
		return &v
	case ColumnVolume24h:
		return r.Volume24h
	case ColumnMarketCap:
		return r.MarketCap
	default:
		return nil
	}
}

// Valid reports whether c is a known column.
func (c Column) Valid() bool {
	switch c {
	case ColumnPrice, ColumnVolume24h, ColumnMarketCap:
		return true
	}
	return false
}

// ParseColumn parses a column name, case-insensitively.
func ParseColumn(s string) (Column, error) {
	c := Column(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown column %q (want price, volume_24h or market_cap)", s)
	}
	return c, nil
}
