// Package anomaly flags listing rows with an unusual 24h price change.
package anomaly

import (
	"math"

	"market-insight-lab/internal/domain"
)

// Threshold is the absolute z-score above which a row is anomalous.
const Threshold = 2.0

// IsAnomaly reports whether r has a defined z-score beyond Threshold.
func IsAnomaly(r domain.FeatureRow) bool {
	return r.ZScore != nil && math.Abs(*r.ZScore) > Threshold
}

// Filter returns the anomalous rows in their original order.
func Filter(rows []domain.FeatureRow) []domain.FeatureRow {
	out := make([]domain.FeatureRow, 0)
	for _, r := range rows {
		if IsAnomaly(r) {
			out = append(out, r)
		}
	}
	return out
}
