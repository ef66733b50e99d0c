package ml

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sort"

	"fraud-pipeline/internal/common"

	"golang.org/x/sync/errgroup"
)

// maxBootstrapDraws bounds redraws of a sample that holds a single class.
const maxBootstrapDraws = 100

// BaggedEstimator is one logistic model with the feature subset it was fit on.
type BaggedEstimator struct {
	Features []int               `json:"features"`
	Model    *LogisticRegression `json:"model"`
}

// Bagging fits logistic regressions on bootstrap samples of rows and random
// subsets of features, and averages their probabilities.
type Bagging struct {
	NEstimators int     `json:"n_estimators"`
	MaxSamples  float64 `json:"max_samples"`
	MaxFeatures float64 `json:"max_features"`
	C           float64 `json:"c"`
	MaxIter     int     `json:"max_iter"`
	Seed        int64   `json:"seed"`

	Estimators []BaggedEstimator `json:"estimators,omitempty"`
	NFeatures  int               `json:"n_features"`
}

func NewBagging(nEstimators int, maxSamples, maxFeatures, c float64, maxIter int, seed int64) *Bagging {
	return &Bagging{
		NEstimators: nEstimators,
		MaxSamples:  maxSamples,
		MaxFeatures: maxFeatures,
		C:           c,
		MaxIter:     maxIter,
		Seed:        seed,
	}
}

func (b *Bagging) fitted() bool {
	return b != nil && b.NFeatures > 0 && len(b.Estimators) > 0
}

// Fit trains the estimators concurrently. Per-estimator seeds are drawn from
// Seed before any goroutine starts, so results do not depend on scheduling.
func (b *Bagging) Fit(ctx context.Context, X [][]float64, y []int) error {
	d, err := checkTrainingSet(X, y, true)
	if err != nil {
		return fmt.Errorf("bagging: %w", err)
	}
	if b.NEstimators <= 0 {
		return fmt.Errorf("bagging: n_estimators must be positive, got %d", b.NEstimators)
	}
	if b.MaxSamples <= 0 || b.MaxSamples > 1 || b.MaxFeatures <= 0 || b.MaxFeatures > 1 {
		return fmt.Errorf("bagging: max_samples and max_features must be in (0, 1]")
	}

	nSamples := int(b.MaxSamples * float64(len(X)))
	if nSamples < 2 {
		nSamples = 2
	}
	nFeatures := int(b.MaxFeatures * float64(d))
	if nFeatures < 1 {
		nFeatures = 1
	}

	rng := rand.New(rand.NewSource(b.Seed))
	seeds := make([]int64, b.NEstimators)
	for i := range seeds {
		seeds[i] = rng.Int63()
	}

	estimators := make([]BaggedEstimator, b.NEstimators)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range estimators {
		g.Go(func() error {
			est, err := b.fitOne(gctx, X, y, d, nSamples, nFeatures, seeds[i])
			if err != nil {
				return fmt.Errorf("bagging estimator %d: %w", i, err)
			}
			estimators[i] = est
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	b.Estimators = estimators
	b.NFeatures = d
	return nil
}

func (b *Bagging) fitOne(ctx context.Context, X [][]float64, y []int, d, nSamples, nFeatures int, seed int64) (BaggedEstimator, error) {
	rng := rand.New(rand.NewSource(seed))

	features := rng.Perm(d)[:nFeatures]
	sort.Ints(features)

	var rows []int
	for draw := 0; ; draw++ {
		if draw == maxBootstrapDraws {
			return BaggedEstimator{}, fmt.Errorf("no two-class bootstrap sample after %d draws", maxBootstrapDraws)
		}
		rows = make([]int, nSamples)
		var fraud int
		for i := range rows {
			rows[i] = rng.Intn(len(X))
			if y[rows[i]] == common.LabelFraud {
				fraud++
			}
		}
		if fraud > 0 && fraud < nSamples {
			break
		}
	}

	subX := make([][]float64, nSamples)
	subY := make([]int, nSamples)
	for i, r := range rows {
		subX[i] = project(X[r], features)
		subY[i] = y[r]
	}

	model := NewLogisticRegression(b.C, b.MaxIter)
	if err := model.Fit(ctx, subX, subY); err != nil {
		return BaggedEstimator{}, err
	}
	return BaggedEstimator{Features: features, Model: model}, nil
}

func project(x []float64, features []int) []float64 {
	out := make([]float64, len(features))
	for i, f := range features {
		out[i] = x[f]
	}
	return out
}

func (b *Bagging) PredictProba(X [][]float64) ([][2]float64, error) {
	if !b.fitted() {
		return nil, ErrNotFitted
	}
	if err := checkInput(X, b.NFeatures); err != nil {
		return nil, fmt.Errorf("bagging: %w", err)
	}

	out := make([][2]float64, len(X))
	sub := make([][]float64, len(X))
	for _, est := range b.Estimators {
		for i, x := range X {
			sub[i] = project(x, est.Features)
		}
		P, err := est.Model.PredictProba(sub)
		if err != nil {
			return nil, err
		}
		for i, p := range P {
			out[i][0] += p[0]
			out[i][1] += p[1]
		}
	}
	n := float64(len(b.Estimators))
	for i := range out {
		out[i][0] /= n
		out[i][1] /= n
	}
	return out, nil
}

func (b *Bagging) Predict(X [][]float64) ([]int, error) {
	P, err := b.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return labelsFromProba(P), nil
}
