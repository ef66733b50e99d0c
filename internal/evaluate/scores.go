// Package evaluate scores a fitted model artifact on the held-out test
// partition, measures train/test drift and writes evaluation reports.
package evaluate

import (
	"errors"
	"fmt"

	"fraud-pipeline/internal/common"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// ErrSingleClass is returned when a rank statistic needs both classes.
var ErrSingleClass = errors.New("both classes are required")

// Confusion counts outcomes with fraud as the positive class.
type Confusion struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	TN int `json:"tn"`
	FN int `json:"fn"`
}

// Scores are the binary classification scores of one evaluation.
type Scores struct {
	Confusion   Confusion `json:"confusion"`
	Support     int       `json:"support"`
	Accuracy    float64   `json:"accuracy"`
	Precision   float64   `json:"precision"`
	Recall      float64   `json:"recall"`
	Specificity float64   `json:"specificity"`
	F1          float64   `json:"f1"`
	ROCAUC      float64   `json:"roc_auc"`
}

// Map flattens the scores for metric export.
func (s *Scores) Map() map[string]float64 {
	return map[string]float64{
		"accuracy":    s.Accuracy,
		"precision":   s.Precision,
		"recall":      s.Recall,
		"specificity": s.Specificity,
		"f1":          s.F1,
		"roc_auc":     s.ROCAUC,
	}
}

// NewConfusion tallies predictions against ground truth.
func NewConfusion(yTrue, yPred []int) (Confusion, error) {
	var c Confusion
	if len(yTrue) != len(yPred) {
		return c, fmt.Errorf("label length mismatch: %d true, %d predicted", len(yTrue), len(yPred))
	}
	for i := range yTrue {
		fraud := yTrue[i] == common.LabelFraud
		flagged := yPred[i] == common.LabelFraud
		switch {
		case fraud && flagged:
			c.TP++
		case fraud:
			c.FN++
		case flagged:
			c.FP++
		default:
			c.TN++
		}
	}
	return c, nil
}

// Score computes every score. fraudProb holds the positive-class
// probability of each row and drives ROC-AUC.
func Score(yTrue, yPred []int, fraudProb []float64) (*Scores, error) {
	if len(yTrue) == 0 {
		return nil, errors.New("nothing to score")
	}
	c, err := NewConfusion(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	auc, err := ROCAUC(yTrue, fraudProb)
	if err != nil {
		return nil, err
	}

	s := &Scores{
		Confusion:   c,
		Support:     len(yTrue),
		Accuracy:    ratio(c.TP+c.TN, len(yTrue)),
		Precision:   ratio(c.TP, c.TP+c.FP),
		Recall:      ratio(c.TP, c.TP+c.FN),
		Specificity: ratio(c.TN, c.TN+c.FP),
		ROCAUC:      auc,
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	return s, nil
}

// ROCAUC is the area under the ROC curve of scores against yTrue. Tied
// scores contribute half, as in the Mann-Whitney rank statistic.
func ROCAUC(yTrue []int, scores []float64) (float64, error) {
	if len(yTrue) != len(scores) {
		return 0, fmt.Errorf("label length mismatch: %d labels, %d scores", len(yTrue), len(scores))
	}

	y := make([]float64, len(scores))
	copy(y, scores)
	classes := make([]bool, len(yTrue))
	var pos int
	for i, l := range yTrue {
		classes[i] = l == common.LabelFraud
		if classes[i] {
			pos++
		}
	}
	if pos == 0 || pos == len(yTrue) {
		return 0, fmt.Errorf("roc auc: %w", ErrSingleClass)
	}

	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), nil
}

// ratio returns 0 for an empty denominator.
func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
