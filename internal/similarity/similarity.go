// Package similarity ranks listing rows by cosine similarity of their scaled
// feature vectors.
package similarity

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"market-insight-lab/internal/domain"
	"market-insight-lab/internal/features"
)

// DefaultK is the number of neighbors returned when k is not positive.
const DefaultK = 5

// NotFoundError is returned when the selected row is not in the feature set.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("similarity: %q not found among rows with complete features", e.Name)
}

// Result is the pairwise similarity of one feature set.
type Result struct {
	set    *features.FeatureSet
	matrix *mat.SymDense
}

// Compute builds the cosine-similarity matrix of fs.Scaled.
// A zero vector scores 0 against every other row; the diagonal is always 1.
func Compute(fs *features.FeatureSet) *Result {
	n := fs.Len()
	norms := make([]float64, n)
	for i, v := range fs.Scaled {
		norms[i] = floats.Norm(v, 2)
	}

	var m *mat.SymDense
	if n > 0 {
		m = mat.NewSymDense(n, nil)
	}
	for i := 0; i < n; i++ {
		m.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			var score float64
			if norms[i] > 0 && norms[j] > 0 {
				score = floats.Dot(fs.Scaled[i], fs.Scaled[j]) / (norms[i] * norms[j])
				// Rounding can push parallel vectors just past 1
				score = clamp(score, -1, 1)
			}
			m.SetSym(i, j, score)
		}
	}
	return &Result{set: fs, matrix: m}
}

// Len returns the dimension of the matrix.
func (r *Result) Len() int {
	return r.set.Len()
}

// At returns the similarity between rows i and j of the feature set.
func (r *Result) At(i, j int) float64 {
	return r.matrix.At(i, j)
}

// Matrix returns a copy of the similarity matrix as rows.
func (r *Result) Matrix() [][]float64 {
	n := r.Len()
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		for j := range out[i] {
			out[i][j] = r.matrix.At(i, j)
		}
	}
	return out
}

// TopK returns the k rows most similar to name, excluding name itself, by
// descending score. Ties keep snapshot order. Non-positive k means DefaultK.
func (r *Result) TopK(name string, k int) ([]domain.Neighbor, error) {
	if k <= 0 {
		k = DefaultK
	}
	sel := r.set.Position(name)
	if sel < 0 {
		return nil, &NotFoundError{Name: name}
	}

	candidates := make([]domain.Neighbor, 0, r.Len()-1)
	for i, row := range r.set.Rows {
		if i == sel {
			continue
		}
		candidates = append(candidates, domain.Neighbor{
			Name:   row.Name,
			Symbol: row.Symbol,
			Index:  r.set.Indices[i],
			Score:  r.matrix.At(sel, i),
		})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].Score > candidates[b].Score
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
