package ml

import (
	"context"
	"fmt"

	"fraud-pipeline/internal/common"

	"gonum.org/v1/gonum/floats"
)

// KNN is a k-nearest-neighbours classifier with Minkowski distance and
// uniform weights. Distance ties keep the lower training index.
type KNN struct {
	K int     `json:"k"`
	P float64 `json:"p"`

	X         [][]float64 `json:"x,omitempty"`
	Y         []int       `json:"y,omitempty"`
	NFeatures int         `json:"n_features"`
}

func NewKNN(k int, p float64) *KNN {
	return &KNN{K: k, P: p}
}

func (m *KNN) fitted() bool {
	return m != nil && m.NFeatures > 0 && len(m.X) > 0
}

// Fit memorises the training set.
func (m *KNN) Fit(ctx context.Context, X [][]float64, y []int) error {
	d, err := checkTrainingSet(X, y, false)
	if err != nil {
		return fmt.Errorf("knn: %w", err)
	}
	if m.K <= 0 {
		return fmt.Errorf("knn: k must be positive, got %d", m.K)
	}
	if m.K > len(X) {
		return fmt.Errorf("knn: k=%d exceeds %d training rows", m.K, len(X))
	}
	if m.P < 1 {
		return fmt.Errorf("knn: p must be at least 1, got %f", m.P)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.X = make([][]float64, len(X))
	for i, row := range X {
		m.X[i] = append([]float64(nil), row...)
	}
	m.Y = append([]int(nil), y...)
	m.NFeatures = d
	return nil
}

type neighbour struct {
	idx  int
	dist float64
}

// neighbours returns the K closest training rows ordered by distance.
func (m *KNN) neighbours(x []float64) []neighbour {
	best := make([]neighbour, 0, m.K+1)
	for i, row := range m.X {
		d := floats.Distance(x, row, m.P)
		if len(best) == m.K && d >= best[len(best)-1].dist {
			continue
		}
		pos := len(best)
		for pos > 0 && best[pos-1].dist > d {
			pos--
		}
		best = append(best, neighbour{})
		copy(best[pos+1:], best[pos:])
		best[pos] = neighbour{idx: i, dist: d}
		if len(best) > m.K {
			best = best[:m.K]
		}
	}
	return best
}

func (m *KNN) PredictProba(X [][]float64) ([][2]float64, error) {
	if !m.fitted() {
		return nil, ErrNotFitted
	}
	if err := checkInput(X, m.NFeatures); err != nil {
		return nil, fmt.Errorf("knn: %w", err)
	}
	out := make([][2]float64, len(X))
	for i, x := range X {
		var fraud int
		nb := m.neighbours(x)
		for _, n := range nb {
			if m.Y[n.idx] == common.LabelFraud {
				fraud++
			}
		}
		p := float64(fraud) / float64(len(nb))
		out[i] = [2]float64{1 - p, p}
	}
	return out, nil
}

func (m *KNN) Predict(X [][]float64) ([]int, error) {
	P, err := m.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return labelsFromProba(P), nil
}
