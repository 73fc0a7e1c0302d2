package features

import (
	"fmt"
	"math"
)

// MinMaxScaler maps each column linearly onto [0, 1] using the min and max
// observed when it was fitted. The fitted bounds are never updated.
type MinMaxScaler struct {
	Columns []Column
	Min     []float64
	Max     []float64
}

// FitMinMax fits a scaler on rows of raw values, one value per column.
func FitMinMax(cols []Column, rows [][]float64) *MinMaxScaler {
	s := &MinMaxScaler{
		Columns: append([]Column(nil), cols...),
		Min:     make([]float64, len(cols)),
		Max:     make([]float64, len(cols)),
	}
	for j := range cols {
		s.Min[j] = math.Inf(1)
		s.Max[j] = math.Inf(-1)
	}
	for _, row := range rows {
		for j, v := range row {
			s.Min[j] = math.Min(s.Min[j], v)
			s.Max[j] = math.Max(s.Max[j], v)
		}
	}
	if len(rows) == 0 {
		for j := range cols {
			s.Min[j], s.Max[j] = 0, 0
		}
	}
	return s
}

// Transform scales raw values. A constant column maps to 0.
func (s *MinMaxScaler) Transform(raw []float64) ([]float64, error) {
	if len(raw) != len(s.Columns) {
		return nil, fmt.Errorf("scaler: got %d values, want %d", len(raw), len(s.Columns))
	}
	out := make([]float64, len(raw))
	for j, v := range raw {
		span := s.Max[j] - s.Min[j]
		if span == 0 {
			continue
		}
		out[j] = (v - s.Min[j]) / span
	}
	return out, nil
}

// Clamp limits raw values to the fitted min and max of each column.
func (s *MinMaxScaler) Clamp(raw []float64) []float64 {
	out := make([]float64, len(raw))
	for j, v := range raw {
		if j >= len(s.Min) {
			out[j] = v
			continue
		}
		out[j] = math.Max(s.Min[j], math.Min(s.Max[j], v))
	}
	return out
}

// Index returns the position of c in the scaler, or -1.
func (s *MinMaxScaler) Index(c Column) int {
	for j, col := range s.Columns {
		if col == c {
			return j
		}
	}
	return -1
}
