package ml

import (
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MetricsInterface defines metrics methods needed by the predictor
type MetricsInterface interface {
	MLPredictionsInc()
	MLFailuresInc()
	MLLatencyObserve(float64)
	MLModelAgeSet(float64)
	MLPredictionScoresObserve(float64)
	MLFlaggedInc()
}

// Prediction is the scored outcome for one transaction.
type Prediction struct {
	Label            int     `json:"label"`
	FraudProbability float64 `json:"fraud_probability"`
	Flagged          bool    `json:"flagged"`
}

// Predictor scores raw transactions with a loaded artifact. The artifact can
// be swapped at runtime with Reload.
type Predictor struct {
	mu        sync.RWMutex
	artifact  *Artifact
	modelPath string
	threshold float64
	loadedAt  time.Time
	metrics   MetricsInterface
}

func NewPredictor(path string, threshold float64) (*Predictor, error) {
	return NewPredictorWithMetrics(path, threshold, nil)
}

func NewPredictorWithMetrics(path string, threshold float64, metrics MetricsInterface) (*Predictor, error) {
	if threshold <= 0 || threshold >= 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1), got %f", threshold)
	}
	p := &Predictor{threshold: threshold, metrics: metrics}
	if err := p.Reload(path); err != nil {
		return nil, err
	}
	return p, nil
}

// NewPredictorFromArtifact wraps an in-memory artifact.
func NewPredictorFromArtifact(a *Artifact, threshold float64, metrics MetricsInterface) *Predictor {
	return &Predictor{artifact: a, threshold: threshold, metrics: metrics, loadedAt: time.Now()}
}

// Reload loads the artifact at path and swaps it in.
func (p *Predictor) Reload(path string) error {
	a, err := LoadArtifact(path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.artifact = a
	p.modelPath = path
	p.loadedAt = time.Now()
	p.mu.Unlock()

	var modelCreated time.Time
	if info, err := os.Stat(path); err == nil {
		modelCreated = info.ModTime()
	}
	if p.metrics != nil && !modelCreated.IsZero() {
		p.metrics.MLModelAgeSet(time.Since(modelCreated).Seconds())
	}

	log.Info().
		Str("model_path", path).
		Str("version", a.Version).
		Msg("Model artifact loaded")
	return nil
}

// Artifact returns the artifact currently in use.
func (p *Predictor) Artifact() *Artifact {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.artifact
}

func (p *Predictor) Threshold() float64 {
	return p.threshold
}

// PredictBatch scores raw rows laid out in the artifact's feature order.
func (p *Predictor) PredictBatch(X [][]float64) ([]Prediction, error) {
	if p == nil {
		return nil, fmt.Errorf("predictor is nil")
	}

	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.MLLatencyObserve(time.Since(start).Seconds())
		}
	}()

	a := p.Artifact()
	if a == nil {
		return nil, ErrNotFitted
	}

	scaled := make([][]float64, len(X))
	for i, x := range X {
		for j, v := range x {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				p.fail()
				return nil, fmt.Errorf("row %d feature %d is not finite", i, j)
			}
		}
		s, err := a.PrepareVector(x)
		if err != nil {
			p.fail()
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		scaled[i] = s
	}

	labels, err := a.Model.Predict(scaled)
	if err != nil {
		p.fail()
		return nil, err
	}
	proba, err := a.Model.PredictProba(scaled)
	if err != nil {
		p.fail()
		return nil, err
	}

	out := make([]Prediction, len(X))
	for i := range out {
		out[i] = Prediction{
			Label:            labels[i],
			FraudProbability: proba[i][1],
			Flagged:          proba[i][1] >= p.threshold,
		}
		if p.metrics != nil {
			p.metrics.MLPredictionsInc()
			p.metrics.MLPredictionScoresObserve(proba[i][1])
			if out[i].Flagged {
				p.metrics.MLFlaggedInc()
			}
		}
	}

	log.Debug().
		Int("rows", len(X)).
		Dur("elapsed", time.Since(start)).
		Msg("Prediction successful")
	return out, nil
}

// Predict scores a single raw row.
func (p *Predictor) Predict(features []float64) (Prediction, error) {
	out, err := p.PredictBatch([][]float64{features})
	if err != nil {
		return Prediction{}, err
	}
	return out[0], nil
}

func (p *Predictor) fail() {
	if p.metrics != nil {
		p.metrics.MLFailuresInc()
	}
}
