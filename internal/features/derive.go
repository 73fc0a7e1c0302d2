package features

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"market-insight-lab/internal/domain"
)

// Derive adds price_change and z_score to every row of s, in snapshot order.
//
// The z-score uses the mean and sample standard deviation of the defined
// price changes. It is nil for rows without a price change, and for every row
// when fewer than two values are defined or the deviation is zero.
func Derive(s *domain.Snapshot) []domain.FeatureRow {
	if s == nil {
		return nil
	}
	out := make([]domain.FeatureRow, len(s.Rows))
	changes := make([]*float64, len(s.Rows))
	for i, r := range s.Rows {
		out[i] = domain.FeatureRow{Row: r, Index: i}
		if r.PercentChange24h != nil {
			v := *r.PercentChange24h
			out[i].PriceChange = &v
			changes[i] = &v
		}
	}

	for i, z := range ZScores(changes) {
		out[i].ZScore = z
	}
	return out
}

// ZScores standardises values, skipping nil entries.
func ZScores(values []*float64) []*float64 {
	defined := make([]float64, 0, len(values))
	for _, v := range values {
		if v != nil {
			defined = append(defined, *v)
		}
	}

	out := make([]*float64, len(values))
	// Identical values have zero deviation even if rounding says otherwise
	if len(defined) < 2 || floats.Min(defined) == floats.Max(defined) {
		return out
	}
	mean, std := stat.MeanStdDev(defined, nil)
	if std == 0 {
		return out
	}
	for i, v := range values {
		if v == nil {
			continue
		}
		z := (*v - mean) / std
		out[i] = &z
	}
	return out
}
