package prediction

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultRidge is the L2 penalty on feature weights. It only keeps the
// normal equations solvable when a feature is constant in the training rows.
const DefaultRidge = 1e-6

// Regressor is a regression model over fixed-width feature vectors.
type Regressor interface {
	Fit(x [][]float64, y []float64) error
	Predict(x []float64) float64
}

// LinearRegressor is least squares with an intercept and a ridge penalty on
// the feature weights.
type LinearRegressor struct {
	Ridge     float64
	Intercept float64
	Coef      []float64
}

// NewLinearRegressor creates a regressor with DefaultRidge.
func NewLinearRegressor() *LinearRegressor {
	return &LinearRegressor{Ridge: DefaultRidge}
}

// Fit solves (XᵀX + λI)β = Xᵀy by Cholesky factorisation, where X has a
// leading column of ones and λ is not applied to the intercept.
func (r *LinearRegressor) Fit(x [][]float64, y []float64) error {
	n := len(x)
	if n == 0 || n != len(y) {
		return fmt.Errorf("linear regressor: %d rows, %d targets", n, len(y))
	}
	p := len(x[0])

	design := mat.NewDense(n, p+1, nil)
	for i, row := range x {
		if len(row) != p {
			return fmt.Errorf("linear regressor: row %d has %d features, want %d", i, len(row), p)
		}
		design.Set(i, 0, 1)
		for j, v := range row {
			design.Set(i, j+1, v)
		}
	}

	var gram mat.SymDense
	gram.SymOuterK(1, design.T())
	for j := 1; j <= p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+r.Ridge)
	}

	rhs := mat.NewVecDense(p+1, nil)
	rhs.MulVec(design.T(), mat.NewVecDense(n, append([]float64(nil), y...)))

	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return errors.New("linear regressor: normal equations are not positive definite")
	}
	beta := mat.NewVecDense(p+1, nil)
	if err := chol.SolveVecTo(beta, rhs); err != nil {
		return fmt.Errorf("linear regressor: solve: %w", err)
	}

	r.Intercept = beta.AtVec(0)
	r.Coef = make([]float64, p)
	for j := range r.Coef {
		r.Coef[j] = beta.AtVec(j + 1)
	}
	return nil
}

// Predict returns the fitted value for x.
func (r *LinearRegressor) Predict(x []float64) float64 {
	return r.Intercept + floats.Dot(r.Coef, x)
}

var _ Regressor = (*LinearRegressor)(nil)
