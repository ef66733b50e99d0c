package ml

import (
	"context"
	"fmt"
	"time"

	"fraud-pipeline/internal/cfg"
	"fraud-pipeline/internal/common"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// VotingClassifier combines an RBF SVC, a KNN and a bagged logistic
// regression. Hard voting takes the majority label of the three; soft voting
// takes the argmax of their averaged probabilities.
type VotingClassifier struct {
	Voting  string   `json:"voting"`
	SVC     *SVC     `json:"svc"`
	KNN     *KNN     `json:"knn"`
	Bagging *Bagging `json:"bagging"`
}

// NewVotingClassifier builds an unfitted ensemble from model settings.
func NewVotingClassifier(m cfg.ModelSettings, seed int64) *VotingClassifier {
	return &VotingClassifier{
		Voting:  m.Voting,
		SVC:     NewSVC(m.SVMC, m.SVMGamma),
		KNN:     NewKNN(m.KNNNeighbors, m.KNNP),
		Bagging: NewBagging(m.BaggingEstimators, m.BaggingMaxSamples, m.BaggingMaxFeatures, m.LogRegC, m.LogRegMaxIter, seed),
	}
}

type namedClassifier struct {
	name string
	clf  Classifier
}

func (v *VotingClassifier) estimators() []namedClassifier {
	return []namedClassifier{
		{"svc", v.SVC},
		{"knn", v.KNN},
		{"bagging", v.Bagging},
	}
}

// Fitted reports whether every member has been fit.
func (v *VotingClassifier) Fitted() bool {
	return v != nil && v.SVC.fitted() && v.KNN.fitted() && v.Bagging.fitted()
}

// Fit trains the three members concurrently; the first failure cancels the rest.
func (v *VotingClassifier) Fit(ctx context.Context, X [][]float64, y []int) error {
	if v.Voting != common.VotingHard && v.Voting != common.VotingSoft {
		return fmt.Errorf("voting: unknown mode %q", v.Voting)
	}
	if v.SVC == nil || v.KNN == nil || v.Bagging == nil {
		return fmt.Errorf("voting: ensemble members are not configured")
	}
	if _, err := checkTrainingSet(X, y, true); err != nil {
		return fmt.Errorf("voting: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, est := range v.estimators() {
		g.Go(func() error {
			start := time.Now()
			if err := est.clf.Fit(gctx, X, y); err != nil {
				return fmt.Errorf("%s: %w", est.name, err)
			}
			log.Info().
				Str("estimator", est.name).
				Int("rows", len(X)).
				Dur("elapsed", time.Since(start)).
				Msg("Estimator fitted")
			return nil
		})
	}
	return g.Wait()
}

// PredictProba averages member probabilities regardless of voting mode.
func (v *VotingClassifier) PredictProba(X [][]float64) ([][2]float64, error) {
	if !v.Fitted() {
		return nil, ErrNotFitted
	}
	out := make([][2]float64, len(X))
	ests := v.estimators()
	for _, est := range ests {
		P, err := est.clf.PredictProba(X)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", est.name, err)
		}
		for i, p := range P {
			out[i][0] += p[0]
			out[i][1] += p[1]
		}
	}
	n := float64(len(ests))
	for i := range out {
		out[i][0] /= n
		out[i][1] /= n
	}
	return out, nil
}

func (v *VotingClassifier) Predict(X [][]float64) ([]int, error) {
	if !v.Fitted() {
		return nil, ErrNotFitted
	}
	if v.Voting == common.VotingSoft {
		P, err := v.PredictProba(X)
		if err != nil {
			return nil, err
		}
		return labelsFromProba(P), nil
	}

	ests := v.estimators()
	votes := make([]int, len(X))
	for _, est := range ests {
		labels, err := est.clf.Predict(X)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", est.name, err)
		}
		for i, l := range labels {
			votes[i] += l
		}
	}
	out := make([]int, len(X))
	for i, fraudVotes := range votes {
		// ties go to legit
		if 2*fraudVotes > len(ests) {
			out[i] = common.LabelFraud
		}
	}
	return out, nil
}
