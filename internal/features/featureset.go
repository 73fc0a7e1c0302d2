package features

import (
	"errors"
	"fmt"

	"market-insight-lab/internal/domain"
)

// FeatureSet holds the rows of a snapshot that have every chosen column,
// with their raw and min-max scaled values. Rows keep snapshot order.
type FeatureSet struct {
	Snapshot *domain.Snapshot
	Columns  []Column
	Rows     []*domain.ListingRow
	Indices  []int       // position of each row in the snapshot
	Raw      [][]float64 // raw values, one slice per row in Columns order
	Scaled   [][]float64 // Raw transformed by Scaler
	Scaler   *MinMaxScaler
}

// NewFeatureSet filters s to rows with no missing value in cols and scales
// each column to [0, 1] over the filtered rows. Nil cols means DefaultColumns.
func NewFeatureSet(s *domain.Snapshot, cols []Column) (*FeatureSet, error) {
	if s == nil {
		return nil, errors.New("features: nil snapshot")
	}
	if len(cols) == 0 {
		cols = DefaultColumns
	}
	seen := make(map[Column]bool, len(cols))
	for _, c := range cols {
		if !c.Valid() {
			return nil, fmt.Errorf("features: unknown column %q", c)
		}
		if seen[c] {
			return nil, fmt.Errorf("features: duplicate column %q", c)
		}
		seen[c] = true
	}

	fs := &FeatureSet{Snapshot: s, Columns: append([]Column(nil), cols...)}
	for i, row := range s.Rows {
		values := make([]float64, len(cols))
		complete := true
		for j, c := range cols {
			v := c.Value(row)
			if v == nil {
				complete = false
				break
			}
			values[j] = *v
		}
		if !complete {
			continue
		}
		fs.Rows = append(fs.Rows, row)
		fs.Indices = append(fs.Indices, i)
		fs.Raw = append(fs.Raw, values)
	}

	fs.Scaler = FitMinMax(cols, fs.Raw)
	fs.Scaled = make([][]float64, len(fs.Raw))
	for i, raw := range fs.Raw {
		scaled, err := fs.Scaler.Transform(raw)
		if err != nil {
			return nil, err
		}
		fs.Scaled[i] = scaled
	}
	return fs, nil
}

// Len returns the number of rows in the set.
func (fs *FeatureSet) Len() int {
	return len(fs.Rows)
}

// Position returns the position of the named row within the set, or -1.
func (fs *FeatureSet) Position(name string) int {
	for i, r := range fs.Rows {
		if r.Name == name {
			return i
		}
	}
	return -1
}

// Column returns the raw values of c across the set, or nil if c is not in it.
func (fs *FeatureSet) Column(c Column) []float64 {
	j := fs.Scaler.Index(c)
	if j < 0 {
		return nil
	}
	out := make([]float64, len(fs.Raw))
	for i, raw := range fs.Raw {
		out[i] = raw[j]
	}
	return out
}
