package evaluate

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sort"

	"fraud-pipeline/internal/common"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// Scorer is the part of a classifier permutation importance needs.
type Scorer interface {
	PredictProba(X [][]float64) ([][2]float64, error)
}

// FeatureImportance is the mean ROC-AUC drop when one feature is shuffled.
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
	Std        float64 `json:"std"`
}

// ImportanceOptions bound the permutation importance work.
type ImportanceOptions struct {
	Repeats    int
	MaxSamples int
	Seed       int64
}

// PermutationImportance shuffles each feature column Repeats times and
// records the ROC-AUC lost. Rows beyond MaxSamples are subsampled keeping up
// to half of the sample for fraud rows. Results are sorted by importance,
// largest first.
func PermutationImportance(ctx context.Context, model Scorer, X [][]float64, y []int, features []string, opts ImportanceOptions) ([]FeatureImportance, error) {
	if opts.Repeats < 1 {
		return nil, fmt.Errorf("repeats must be positive, got %d", opts.Repeats)
	}
	if len(X) == 0 || len(X) != len(y) {
		return nil, fmt.Errorf("need matching rows and labels, got %d and %d", len(X), len(y))
	}
	if len(X[0]) != len(features) {
		return nil, fmt.Errorf("rows have %d values but %d features are named", len(X[0]), len(features))
	}

	X, y = subsample(X, y, opts.MaxSamples, opts.Seed)
	baseline, err := aucOf(model, X, y)
	if err != nil {
		return nil, err
	}

	out := make([]FeatureImportance, len(features))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for j, name := range features {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(opts.Seed + int64(j)))
			drops := make([]float64, opts.Repeats)
			shuffled := make([][]float64, len(X))
			column := make([]float64, len(X))
			for r := range drops {
				if err := ctx.Err(); err != nil {
					return err
				}
				for i, x := range X {
					column[i] = x[j]
				}
				rng.Shuffle(len(column), func(a, b int) { column[a], column[b] = column[b], column[a] })
				for i, x := range X {
					row := append([]float64(nil), x...)
					row[j] = column[i]
					shuffled[i] = row
				}
				auc, err := aucOf(model, shuffled, y)
				if err != nil {
					return fmt.Errorf("feature %s: %w", name, err)
				}
				drops[r] = baseline - auc
			}
			mean, std := stat.MeanStdDev(drops, nil)
			if opts.Repeats == 1 {
				std = 0
			}
			out[j] = FeatureImportance{Feature: name, Importance: mean, Std: std}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].Importance > out[b].Importance })
	return out, nil
}

func aucOf(model Scorer, X [][]float64, y []int) (float64, error) {
	proba, err := model.PredictProba(X)
	if err != nil {
		return 0, err
	}
	scores := make([]float64, len(proba))
	for i, p := range proba {
		scores[i] = p[1]
	}
	return ROCAUC(y, scores)
}

// subsample keeps at most limit rows, fraud rows first up to half of limit.
// Row order is preserved.
func subsample(X [][]float64, y []int, limit int, seed int64) ([][]float64, []int) {
	if limit <= 0 || len(X) <= limit {
		return X, y
	}
	var pos, neg []int
	for i, l := range y {
		if l == common.LabelFraud {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(pos), func(a, b int) { pos[a], pos[b] = pos[b], pos[a] })
	rng.Shuffle(len(neg), func(a, b int) { neg[a], neg[b] = neg[b], neg[a] })

	nPos := min(len(pos), limit/2)
	nNeg := min(len(neg), limit-nPos)
	idx := append(pos[:nPos:nPos], neg[:nNeg]...)
	sort.Ints(idx)

	subX := make([][]float64, len(idx))
	subY := make([]int, len(idx))
	for i, k := range idx {
		subX[i] = X[k]
		subY[i] = y[k]
	}
	return subX, subY
}
