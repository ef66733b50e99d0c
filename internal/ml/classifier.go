// Package ml provides the fraud classifiers and everything around them: the
// RBF SVC, KNN, bagged logistic regression and the voting ensemble that
// combines them, the persisted model artifact, the predictor used for
// inference, model versioning and the HTTP scoring server.
package ml

import (
	"context"
	"errors"
	"fmt"
	"math"

	"fraud-pipeline/internal/common"
)

// ErrNotFitted is returned when predicting with a model that has not been fit.
var ErrNotFitted = errors.New("model not fitted")

// Classifier is a binary classifier over dense float rows. Labels are 0
// (legit) and 1 (fraud); PredictProba rows are [P(legit), P(fraud)].
type Classifier interface {
	Fit(ctx context.Context, X [][]float64, y []int) error
	Predict(X [][]float64) ([]int, error)
	PredictProba(X [][]float64) ([][2]float64, error)
}

// checkTrainingSet validates shapes and labels. It returns the feature width.
func checkTrainingSet(X [][]float64, y []int, needBothClasses bool) (int, error) {
	if len(X) == 0 {
		return 0, fmt.Errorf("empty training set")
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("X has %d rows but y has %d labels", len(X), len(y))
	}
	d := len(X[0])
	if d == 0 {
		return 0, fmt.Errorf("training rows have no features")
	}
	var pos, neg int
	for i, row := range X {
		if len(row) != d {
			return 0, fmt.Errorf("row %d has %d features, expected %d", i, len(row), d)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, fmt.Errorf("row %d feature %d is not finite", i, j)
			}
		}
		switch y[i] {
		case common.LabelFraud:
			pos++
		case common.LabelLegit:
			neg++
		default:
			return 0, fmt.Errorf("row %d: invalid label %d", i, y[i])
		}
	}
	if needBothClasses && (pos == 0 || neg == 0) {
		return 0, fmt.Errorf("training set needs both classes, got %d legit and %d fraud", neg, pos)
	}
	return d, nil
}

// checkInput validates a prediction batch against the fitted width.
func checkInput(X [][]float64, d int) error {
	for i, row := range X {
		if len(row) != d {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(row), d)
		}
	}
	return nil
}

// labelsFromProba takes the argmax of each row; ties go to legit.
func labelsFromProba(P [][2]float64) []int {
	out := make([]int, len(P))
	for i, p := range P {
		if p[1] > p[0] {
			out[i] = common.LabelFraud
		}
	}
	return out
}

// sigmoid is the numerically stable logistic function.
func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// softplus returns log(1 + exp(z)) without overflow.
func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}
