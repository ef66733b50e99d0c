package ml

import (
	"context"
	"fmt"
	"math"

	"fraud-pipeline/internal/common"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
)

const (
	svcTolerance   = 1e-3
	svcTau         = 1e-12
	svcCacheFloats = 32 << 20 // kernel row cache budget, in float64s
)

// SVC is a C-support vector classifier with an RBF kernel. The dual is
// solved by SMO with maximal-violating-pair working set selection.
// Probabilities come from a Platt sigmoid fit on the training decision values.
type SVC struct {
	C     float64 `json:"c"`
	Gamma float64 `json:"gamma"` // 0 means 1/n_features at fit time

	SupportVectors [][]float64 `json:"support_vectors,omitempty"`
	DualCoef       []float64   `json:"dual_coef,omitempty"` // alpha_i * y_i
	Rho            float64     `json:"rho"`
	PlattA         float64     `json:"platt_a"`
	PlattB         float64     `json:"platt_b"`
	NFeatures      int         `json:"n_features"`
	Iterations     int         `json:"iterations"`
}

func NewSVC(c, gamma float64) *SVC {
	return &SVC{C: c, Gamma: gamma}
}

func (s *SVC) fitted() bool {
	return s != nil && s.NFeatures > 0
}

// Fit solves the dual problem on X, y.
func (s *SVC) Fit(ctx context.Context, X [][]float64, y []int) error {
	d, err := checkTrainingSet(X, y, true)
	if err != nil {
		return fmt.Errorf("svc: %w", err)
	}
	if s.C <= 0 {
		return fmt.Errorf("svc: C must be positive, got %f", s.C)
	}
	gamma := s.Gamma
	if gamma <= 0 {
		gamma = 1 / float64(d)
	}

	n := len(X)
	ys := make([]float64, n)
	for i, l := range y {
		if l == common.LabelFraud {
			ys[i] = 1
		} else {
			ys[i] = -1
		}
	}

	k := newKernelCache(X, gamma)
	alpha := make([]float64, n)
	grad := make([]float64, n)
	for i := range grad {
		grad[i] = -1
	}

	C := s.C
	maxIter := 100 * n
	if maxIter < 100000 {
		maxIter = 100000
	}

	iter := 0
	for ; iter < maxIter; iter++ {
		if iter%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		i, j, gap := selectWorkingSet(alpha, grad, ys, C)
		if gap < svcTolerance {
			break
		}

		Ki := k.row(i)
		Kj := k.row(j)
		oldAi, oldAj := alpha[i], alpha[j]

		quad := Ki[i] + Kj[j] - 2*Ki[j]
		if quad <= 0 {
			quad = svcTau
		}

		if ys[i] != ys[j] {
			delta := (-grad[i] - grad[j]) / quad
			diff := alpha[i] - alpha[j]
			alpha[i] += delta
			alpha[j] += delta
			if diff > 0 {
				if alpha[j] < 0 {
					alpha[j] = 0
					alpha[i] = diff
				}
			} else if alpha[i] < 0 {
				alpha[i] = 0
				alpha[j] = -diff
			}
			if diff > 0 {
				if alpha[i] > C {
					alpha[i] = C
					alpha[j] = C - diff
				}
			} else if alpha[j] > C {
				alpha[j] = C
				alpha[i] = C + diff
			}
		} else {
			delta := (grad[i] - grad[j]) / quad
			sum := alpha[i] + alpha[j]
			alpha[i] -= delta
			alpha[j] += delta
			if sum > C {
				if alpha[i] > C {
					alpha[i] = C
					alpha[j] = sum - C
				}
			} else if alpha[j] < 0 {
				alpha[j] = 0
				alpha[i] = sum
			}
			if sum > C {
				if alpha[j] > C {
					alpha[j] = C
					alpha[i] = sum - C
				}
			} else if alpha[i] < 0 {
				alpha[i] = 0
				alpha[j] = sum
			}
		}

		dAi := (alpha[i] - oldAi) * ys[i]
		dAj := (alpha[j] - oldAj) * ys[j]
		for t := range grad {
			grad[t] += ys[t] * (Ki[t]*dAi + Kj[t]*dAj)
		}
	}
	if iter == maxIter {
		log.Warn().Int("iterations", iter).Msg("SVC solver reached the iteration limit before converging")
	}

	s.Rho = computeRho(alpha, grad, ys, C)
	s.SupportVectors = s.SupportVectors[:0]
	s.DualCoef = s.DualCoef[:0]
	for i, a := range alpha {
		if a > 0 {
			s.SupportVectors = append(s.SupportVectors, append([]float64(nil), X[i]...))
			s.DualCoef = append(s.DualCoef, a*ys[i])
		}
	}
	s.Gamma = gamma
	s.NFeatures = d
	s.Iterations = iter

	dec := make([]float64, n)
	for i, x := range X {
		dec[i] = s.decision(x)
	}
	s.PlattA, s.PlattB = fitPlatt(dec, y)

	log.Debug().
		Int("rows", n).
		Int("support_vectors", len(s.SupportVectors)).
		Int("iterations", iter).
		Float64("gamma", gamma).
		Msg("SVC fitted")
	return nil
}

// selectWorkingSet returns the maximal violating pair and its KKT gap.
func selectWorkingSet(alpha, grad, ys []float64, C float64) (int, int, float64) {
	gmax, gmax2 := math.Inf(-1), math.Inf(-1)
	i, j := -1, -1
	for t := range alpha {
		yg := ys[t] * grad[t]
		// I_up
		if (ys[t] > 0 && alpha[t] < C) || (ys[t] < 0 && alpha[t] > 0) {
			if -yg > gmax {
				gmax, i = -yg, t
			}
		}
		// I_low
		if (ys[t] > 0 && alpha[t] > 0) || (ys[t] < 0 && alpha[t] < C) {
			if yg > gmax2 {
				gmax2, j = yg, t
			}
		}
	}
	if i < 0 || j < 0 {
		return 0, 0, 0
	}
	return i, j, gmax + gmax2
}

func computeRho(alpha, grad, ys []float64, C float64) float64 {
	ub, lb := math.Inf(1), math.Inf(-1)
	var sumFree float64
	var nFree int
	for t := range alpha {
		yg := ys[t] * grad[t]
		switch {
		case alpha[t] >= C:
			if ys[t] < 0 {
				ub = math.Min(ub, yg)
			} else {
				lb = math.Max(lb, yg)
			}
		case alpha[t] <= 0:
			if ys[t] > 0 {
				ub = math.Min(ub, yg)
			} else {
				lb = math.Max(lb, yg)
			}
		default:
			nFree++
			sumFree += yg
		}
	}
	if nFree > 0 {
		return sumFree / float64(nFree)
	}
	return (ub + lb) / 2
}

func (s *SVC) decision(x []float64) float64 {
	var sum float64
	for i, sv := range s.SupportVectors {
		sum += s.DualCoef[i] * rbf(sv, x, s.Gamma)
	}
	return sum - s.Rho
}

// DecisionFunction returns signed distances; positive means fraud.
func (s *SVC) DecisionFunction(X [][]float64) ([]float64, error) {
	if !s.fitted() {
		return nil, ErrNotFitted
	}
	if err := checkInput(X, s.NFeatures); err != nil {
		return nil, fmt.Errorf("svc: %w", err)
	}
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = s.decision(x)
	}
	return out, nil
}

func (s *SVC) Predict(X [][]float64) ([]int, error) {
	dec, err := s.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(dec))
	for i, v := range dec {
		if v > 0 {
			out[i] = common.LabelFraud
		}
	}
	return out, nil
}

func (s *SVC) PredictProba(X [][]float64) ([][2]float64, error) {
	dec, err := s.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	out := make([][2]float64, len(dec))
	for i, v := range dec {
		p := plattProb(v, s.PlattA, s.PlattB)
		out[i] = [2]float64{1 - p, p}
	}
	return out, nil
}

func rbf(a, b []float64, gamma float64) float64 {
	d := floats.Distance(a, b, 2)
	return math.Exp(-gamma * d * d)
}

// kernelCache computes kernel rows lazily and keeps as many as fit the budget.
type kernelCache struct {
	X     [][]float64
	gamma float64
	rows  map[int][]float64
	limit int
}

func newKernelCache(X [][]float64, gamma float64) *kernelCache {
	limit := svcCacheFloats / len(X)
	if limit < 2 {
		limit = 2
	}
	return &kernelCache{X: X, gamma: gamma, rows: make(map[int][]float64), limit: limit}
}

func (k *kernelCache) row(i int) []float64 {
	if r, ok := k.rows[i]; ok {
		return r
	}
	if len(k.rows) >= k.limit {
		for key := range k.rows {
			delete(k.rows, key)
			if len(k.rows) < k.limit {
				break
			}
		}
	}
	r := make([]float64, len(k.X))
	for t, x := range k.X {
		r[t] = rbf(k.X[i], x, k.gamma)
	}
	k.rows[i] = r
	return r
}

// fitPlatt fits P(fraud|f) = 1/(1+exp(A*f+B)) by Newton's method with
// backtracking, using smoothed targets.
func fitPlatt(dec []float64, y []int) (float64, float64) {
	var prior1, prior0 float64
	for _, l := range y {
		if l == common.LabelFraud {
			prior1++
		} else {
			prior0++
		}
	}

	const (
		maxIter = 100
		minStep = 1e-10
		sigma   = 1e-12
		eps     = 1e-5
	)
	hiTarget := (prior1 + 1) / (prior1 + 2)
	loTarget := 1 / (prior0 + 2)
	t := make([]float64, len(y))
	for i, l := range y {
		if l == common.LabelFraud {
			t[i] = hiTarget
		} else {
			t[i] = loTarget
		}
	}

	objective := func(A, B float64) float64 {
		var f float64
		for i, d := range dec {
			fApB := d*A + B
			if fApB >= 0 {
				f += t[i]*fApB + math.Log1p(math.Exp(-fApB))
			} else {
				f += (t[i]-1)*fApB + math.Log1p(math.Exp(fApB))
			}
		}
		return f
	}

	A, B := 0.0, math.Log((prior0+1)/(prior1+1))
	fval := objective(A, B)
	for iter := 0; iter < maxIter; iter++ {
		h11, h22, h21, g1, g2 := sigma, sigma, 0.0, 0.0, 0.0
		for i, d := range dec {
			fApB := d*A + B
			var p, q float64
			if fApB >= 0 {
				e := math.Exp(-fApB)
				p, q = e/(1+e), 1/(1+e)
			} else {
				e := math.Exp(fApB)
				p, q = 1/(1+e), e/(1+e)
			}
			d2 := p * q
			h11 += d * d * d2
			h22 += d2
			h21 += d * d2
			d1 := t[i] - p
			g1 += d * d1
			g2 += d1
		}
		if math.Abs(g1) < eps && math.Abs(g2) < eps {
			break
		}

		det := h11*h22 - h21*h21
		dA := -(h22*g1 - h21*g2) / det
		dB := -(-h21*g1 + h11*g2) / det
		gd := g1*dA + g2*dB

		step := 1.0
		for step >= minStep {
			newA, newB := A+step*dA, B+step*dB
			if newf := objective(newA, newB); newf < fval+0.0001*step*gd {
				A, B, fval = newA, newB, newf
				break
			}
			step /= 2
		}
		if step < minStep {
			log.Debug().Int("iteration", iter).Msg("Platt line search failed")
			break
		}
	}
	return A, B
}

func plattProb(dec, A, B float64) float64 {
	fApB := dec*A + B
	if fApB >= 0 {
		e := math.Exp(-fApB)
		return e / (1 + e)
	}
	return 1 / (1 + math.Exp(fApB))
}
