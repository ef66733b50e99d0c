package evaluate

import (
	"context"
	"fmt"
	"time"

	"fraud-pipeline/internal/dataset"
	"fraud-pipeline/internal/ml"
	"fraud-pipeline/internal/storage"

	"github.com/rs/zerolog/log"
)

// MetricsSink receives evaluation results for export.
type MetricsSink interface {
	SetEvaluation(metric string, v float64)
	SetDrift(feature string, ks, psi float64)
	SetDriftLevel(level int)
}

// Options configure an evaluation. A nil Baseline skips drift, zero
// Importance.Repeats skips permutation importance.
type Options struct {
	Baseline   *dataset.Frame
	Importance ImportanceOptions
	TestFile   string
}

// Evaluation is the outcome of scoring an artifact on a test partition.
type Evaluation struct {
	ModelVersion string              `json:"model_version"`
	RunID        string              `json:"run_id,omitempty"`
	TestFile     string              `json:"test_file,omitempty"`
	GeneratedAt  time.Time           `json:"generated_at"`
	Scores       *Scores             `json:"scores"`
	Drift        *DriftReport        `json:"drift,omitempty"`
	Importance   []FeatureImportance `json:"importance,omitempty"`

	Labels    []int     `json:"-"`
	Predicted []int     `json:"-"`
	FraudProb []float64 `json:"-"`
}

// Evaluate scores a on test, which must carry the artifact's target.
func Evaluate(ctx context.Context, a *ml.Artifact, test *dataset.Frame, opts Options) (*Evaluation, error) {
	if a == nil || a.Model == nil {
		return nil, fmt.Errorf("evaluate: %w", ml.ErrNotFitted)
	}
	if !test.Has(a.Target) {
		return nil, fmt.Errorf("test partition: %s: %w", a.Target, dataset.ErrColumnNotFound)
	}

	X, y, err := a.PrepareFrame(test)
	if err != nil {
		return nil, err
	}
	pred, err := a.Model.Predict(X)
	if err != nil {
		return nil, fmt.Errorf("predict test partition: %w", err)
	}
	proba, err := a.Model.PredictProba(X)
	if err != nil {
		return nil, fmt.Errorf("predict test partition: %w", err)
	}
	fraudProb := make([]float64, len(proba))
	for i, p := range proba {
		fraudProb[i] = p[1]
	}

	scores, err := Score(y, pred, fraudProb)
	if err != nil {
		return nil, err
	}

	ev := &Evaluation{
		ModelVersion: a.Version,
		RunID:        a.RunID,
		TestFile:     opts.TestFile,
		GeneratedAt:  time.Now(),
		Scores:       scores,
		Labels:       y,
		Predicted:    pred,
		FraudProb:    fraudProb,
	}

	if opts.Baseline != nil {
		if ev.Drift, err = CompareFrames(opts.Baseline, test, a.Features); err != nil {
			return nil, fmt.Errorf("drift: %w", err)
		}
	}

	if opts.Importance.Repeats > 0 {
		ev.Importance, err = PermutationImportance(ctx, a.Model, X, y, a.Features, opts.Importance)
		if err != nil {
			return nil, fmt.Errorf("permutation importance: %w", err)
		}
	}

	log.Info().
		Str("version", a.Version).
		Int("rows", scores.Support).
		Float64("recall", scores.Recall).
		Float64("precision", scores.Precision).
		Float64("roc_auc", scores.ROCAUC).
		Msg("Model evaluated")
	return ev, nil
}

// Publish pushes the scores and drift figures to sink.
func (e *Evaluation) Publish(sink MetricsSink) {
	if sink == nil {
		return
	}
	for name, v := range e.Scores.Map() {
		sink.SetEvaluation(name, v)
	}
	if e.Drift != nil {
		for _, f := range e.Drift.Features {
			sink.SetDrift(f.Feature, f.KS, f.PSI)
		}
		sink.SetDriftLevel(int(e.Drift.Level))
	}
}

// ModelMetrics converts the scores into the registry's record.
func (e *Evaluation) ModelMetrics(trainingSamples int) storage.ModelMetrics {
	return storage.ModelMetrics{
		AUCScore:        e.Scores.ROCAUC,
		F1Score:         e.Scores.F1,
		Precision:       e.Scores.Precision,
		Recall:          e.Scores.Recall,
		Accuracy:        e.Scores.Accuracy,
		TrainingSamples: trainingSamples,
		TestSamples:     e.Scores.Support,
	}
}
