// Package prediction fits a regression from scaled listing features to a
// raw target column and predicts from user-supplied values.
package prediction

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"market-insight-lab/internal/domain"
	"market-insight-lab/internal/features"
)

// Defaults for Options.
const (
	DefaultMinRows      = 10
	DefaultTestFraction = 0.2
	DefaultSeed         = 42
)

// DefaultTarget is predicted when no target is chosen.
const DefaultTarget = features.ColumnMarketCap

// InsufficientDataError is returned when a feature set is too small to split.
type InsufficientDataError struct {
	Rows    int
	MinRows int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("prediction: %d rows with complete features, need at least %d", e.Rows, e.MinRows)
}

// Options configures Fit. Zero fields take their defaults.
type Options struct {
	MinRows      int
	TestFraction float64
	Seed         int64
	Regressor    Regressor // NewLinearRegressor() when nil
}

func (o Options) withDefaults() Options {
	if o.MinRows <= 0 {
		o.MinRows = DefaultMinRows
	}
	if o.TestFraction <= 0 || o.TestFraction >= 1 {
		o.TestFraction = DefaultTestFraction
	}
	if o.Seed == 0 {
		o.Seed = DefaultSeed
	}
	if o.Regressor == nil {
		o.Regressor = NewLinearRegressor()
	}
	return o
}

// Model is a regression fitted on one feature set. It keeps that set's
// scaler, so every prediction is scaled with the snapshot it was trained on.
type Model struct {
	target    features.Column
	inputs    []features.Column
	inputIdx  []int // position of each input in scaler columns
	targetIdx int
	scaler    *features.MinMaxScaler
	reg       Regressor
	eval      domain.ModelEvaluation
}

// Fit trains a regressor on a seeded 80/20 split of fs. Inputs are the scaled
// columns of fs other than target; the target is predicted in raw units.
func Fit(fs *features.FeatureSet, target features.Column, opts Options) (*Model, error) {
	opts = opts.withDefaults()
	if target == "" {
		target = DefaultTarget
	}

	m := &Model{target: target, scaler: fs.Scaler, reg: opts.Regressor, targetIdx: -1}
	for j, c := range fs.Columns {
		if c == target {
			m.targetIdx = j
			continue
		}
		m.inputs = append(m.inputs, c)
		m.inputIdx = append(m.inputIdx, j)
	}
	if m.targetIdx < 0 {
		return nil, fmt.Errorf("prediction: target %q is not a feature column", target)
	}
	if len(m.inputs) == 0 {
		return nil, errors.New("prediction: no input columns besides the target")
	}

	n := fs.Len()
	if n < opts.MinRows || n < 2 {
		return nil, &InsufficientDataError{Rows: n, MinRows: opts.MinRows}
	}

	train, holdout := split(n, opts.TestFraction, opts.Seed)

	x := make([][]float64, len(train))
	y := make([]float64, len(train))
	for k, i := range train {
		x[k] = m.project(fs.Scaled[i])
		y[k] = fs.Raw[i][m.targetIdx]
	}
	if err := m.reg.Fit(x, y); err != nil {
		return nil, fmt.Errorf("prediction: fit %s: %w", target, err)
	}

	m.eval = domain.ModelEvaluation{
		Target:      string(target),
		TrainRows:   len(train),
		HoldoutRows: len(holdout),
		Holdout:     make([]domain.PredictionPoint, len(holdout)),
	}
	for _, c := range m.inputs {
		m.eval.Features = append(m.eval.Features, string(c))
	}

	actual := make([]float64, len(holdout))
	predicted := make([]float64, len(holdout))
	var absErr float64
	for k, i := range holdout {
		actual[k] = fs.Raw[i][m.targetIdx]
		predicted[k] = m.reg.Predict(m.project(fs.Scaled[i]))
		absErr += math.Abs(actual[k] - predicted[k])
		m.eval.Holdout[k] = domain.PredictionPoint{
			Name:      fs.Rows[i].Name,
			Actual:    actual[k],
			Predicted: predicted[k],
		}
	}
	m.eval.R2 = stat.RSquaredFrom(predicted, actual, nil)
	m.eval.MAE = absErr / float64(len(holdout))

	return m, nil
}

// split returns a seeded permutation of 0..n-1 cut into train and holdout.
// Both partitions get at least one row.
func split(n int, fraction float64, seed int64) (train, holdout []int) {
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	h := int(math.Ceil(float64(n) * fraction))
	if h < 1 {
		h = 1
	}
	if h > n-1 {
		h = n - 1
	}
	return perm[h:], perm[:h]
}

func (m *Model) project(scaled []float64) []float64 {
	out := make([]float64, len(m.inputIdx))
	for k, j := range m.inputIdx {
		out[k] = scaled[j]
	}
	return out
}

// Target returns the predicted column.
func (m *Model) Target() features.Column {
	return m.target
}

// Inputs returns the input columns in model order.
func (m *Model) Inputs() []features.Column {
	return append([]features.Column(nil), m.inputs...)
}

// Evaluation returns holdout metrics.
func (m *Model) Evaluation() domain.ModelEvaluation {
	e := m.eval
	e.Features = append([]string(nil), m.eval.Features...)
	e.Holdout = append([]domain.PredictionPoint(nil), m.eval.Holdout...)
	return e
}

// Bounds returns the observed raw min and max of an input column.
func (m *Model) Bounds(c features.Column) (lo, hi float64, ok bool) {
	j := m.scaler.Index(c)
	if j < 0 || j == m.targetIdx {
		return 0, 0, false
	}
	return m.scaler.Min[j], m.scaler.Max[j], true
}

// ScaleInput clamps raw input values to the observed range and scales them
// with the training scaler. Every input column is required.
func (m *Model) ScaleInput(inputs map[features.Column]float64) ([]float64, error) {
	raw := make([]float64, len(m.scaler.Columns))
	raw[m.targetIdx] = m.scaler.Min[m.targetIdx]
	for k, c := range m.inputs {
		v, ok := inputs[c]
		if !ok {
			return nil, fmt.Errorf("prediction: missing input %q", c)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("prediction: input %q is not finite", c)
		}
		raw[m.inputIdx[k]] = v
	}

	scaled, err := m.scaler.Transform(m.scaler.Clamp(raw))
	if err != nil {
		return nil, err
	}
	return m.project(scaled), nil
}

// Predict returns the model output for raw input values.
func (m *Model) Predict(inputs map[features.Column]float64) (float64, error) {
	x, err := m.ScaleInput(inputs)
	if err != nil {
		return 0, err
	}
	y := m.reg.Predict(x)
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, fmt.Errorf("prediction: model returned %v", y)
	}
	return y, nil
}
