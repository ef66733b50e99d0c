package ml

import (
	"context"
	"fmt"
	"math"

	"fraud-pipeline/internal/common"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const logRegTolerance = 1e-4

// LogisticRegression is an L2-regularised binary logistic model fit by
// Newton's method. It minimises 0.5*||w||^2 + C * sum(log-loss); the
// intercept is not penalised.
type LogisticRegression struct {
	C       float64 `json:"c"`
	MaxIter int     `json:"max_iter"`

	Coef      []float64 `json:"coef,omitempty"`
	Intercept float64   `json:"intercept"`
	NIter     int       `json:"n_iter"`
	Converged bool      `json:"converged"`
}

func NewLogisticRegression(c float64, maxIter int) *LogisticRegression {
	return &LogisticRegression{C: c, MaxIter: maxIter}
}

func (m *LogisticRegression) fitted() bool {
	return m != nil && len(m.Coef) > 0
}

func (m *LogisticRegression) Fit(ctx context.Context, X [][]float64, y []int) error {
	d, err := checkTrainingSet(X, y, true)
	if err != nil {
		return fmt.Errorf("logistic regression: %w", err)
	}
	if m.C <= 0 {
		return fmt.Errorf("logistic regression: C must be positive, got %f", m.C)
	}
	if m.MaxIter <= 0 {
		return fmt.Errorf("logistic regression: max_iter must be positive, got %d", m.MaxIter)
	}

	// w[d] is the intercept.
	w := make([]float64, d+1)
	target := make([]float64, len(y))
	for i, l := range y {
		if l == common.LabelFraud {
			target[i] = 1
		}
	}

	grad := make([]float64, d+1)
	step := mat.NewVecDense(d+1, nil)
	hess := mat.NewSymDense(d+1, nil)
	var chol mat.Cholesky

	obj := m.objective(X, target, w)
	converged := false
	iter := 0
	for ; iter < m.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		m.gradientAndHessian(X, target, w, grad, hess)
		if floats.Norm(grad, math.Inf(1)) < logRegTolerance {
			converged = true
			break
		}

		if ok := chol.Factorize(hess); !ok {
			// near-singular: damp the diagonal and retry
			for i := 0; i <= d; i++ {
				hess.SetSym(i, i, hess.At(i, i)+1e-6)
			}
			if ok := chol.Factorize(hess); !ok {
				return fmt.Errorf("logistic regression: hessian is not positive definite")
			}
		}
		if err := chol.SolveVecTo(step, mat.NewVecDense(d+1, grad)); err != nil {
			return fmt.Errorf("logistic regression: newton step: %w", err)
		}

		// Armijo backtracking along -step
		slope := -floats.Dot(grad, step.RawVector().Data)
		t := 1.0
		next := make([]float64, d+1)
		var nextObj float64
		for {
			for i := range w {
				next[i] = w[i] - t*step.AtVec(i)
			}
			nextObj = m.objective(X, target, next)
			if nextObj <= obj+1e-4*t*slope || t < 1e-10 {
				break
			}
			t /= 2
		}
		if nextObj >= obj {
			// no further progress in floating point
			break
		}
		copy(w, next)
		obj = nextObj
	}
	if !converged && iter >= m.MaxIter {
		log.Warn().
			Int("max_iter", m.MaxIter).
			Float64("objective", obj).
			Msg("Logistic regression did not converge; increase max_iter")
	}

	m.Coef = w[:d]
	m.Intercept = w[d]
	m.NIter = iter
	m.Converged = converged
	return nil
}

func (m *LogisticRegression) objective(X [][]float64, target, w []float64) float64 {
	d := len(w) - 1
	reg := 0.5 * floats.Dot(w[:d], w[:d])
	var loss float64
	for i, x := range X {
		z := floats.Dot(x, w[:d]) + w[d]
		if target[i] == 1 {
			loss += softplus(-z)
		} else {
			loss += softplus(z)
		}
	}
	return reg + m.C*loss
}

func (m *LogisticRegression) gradientAndHessian(X [][]float64, target, w, grad []float64, hess *mat.SymDense) {
	d := len(w) - 1
	for i := range grad {
		grad[i] = 0
	}
	for i := 0; i <= d; i++ {
		for j := i; j <= d; j++ {
			hess.SetSym(i, j, 0)
		}
	}

	for r, x := range X {
		z := floats.Dot(x, w[:d]) + w[d]
		p := sigmoid(z)
		g := m.C * (p - target[r])
		h := m.C * p * (1 - p)
		for i := 0; i < d; i++ {
			grad[i] += g * x[i]
			for j := i; j < d; j++ {
				hess.SetSym(i, j, hess.At(i, j)+h*x[i]*x[j])
			}
			hess.SetSym(i, d, hess.At(i, d)+h*x[i])
		}
		grad[d] += g
		hess.SetSym(d, d, hess.At(d, d)+h)
	}

	for i := 0; i < d; i++ {
		grad[i] += w[i]
		hess.SetSym(i, i, hess.At(i, i)+1)
	}
	// keeps the intercept row well-conditioned when p(1-p) underflows
	hess.SetSym(d, d, hess.At(d, d)+1e-10)
}

func (m *LogisticRegression) decision(x []float64) float64 {
	return floats.Dot(x, m.Coef) + m.Intercept
}

func (m *LogisticRegression) PredictProba(X [][]float64) ([][2]float64, error) {
	if !m.fitted() {
		return nil, ErrNotFitted
	}
	if err := checkInput(X, len(m.Coef)); err != nil {
		return nil, fmt.Errorf("logistic regression: %w", err)
	}
	out := make([][2]float64, len(X))
	for i, x := range X {
		p := sigmoid(m.decision(x))
		out[i] = [2]float64{1 - p, p}
	}
	return out, nil
}

func (m *LogisticRegression) Predict(X [][]float64) ([]int, error) {
	if !m.fitted() {
		return nil, ErrNotFitted
	}
	if err := checkInput(X, len(m.Coef)); err != nil {
		return nil, fmt.Errorf("logistic regression: %w", err)
	}
	out := make([]int, len(X))
	for i, x := range X {
		if m.decision(x) > 0 {
			out[i] = common.LabelFraud
		}
	}
	return out, nil
}
