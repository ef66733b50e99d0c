package ml

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"fraud-pipeline/internal/common"
	"fraud-pipeline/internal/dataset"
	"fraud-pipeline/internal/features"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// Artifact is the persisted, immutable result of a fit: the ensemble plus
// everything needed to score raw rows the same way training rows were scored.
type Artifact struct {
	Kind        string                 `json:"kind"`
	Version     string                 `json:"version"`
	RunID       string                 `json:"run_id,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	Features    []string               `json:"features"`
	Target      string                 `json:"target"`
	Scaler      *features.RobustScaler `json:"scaler,omitempty"`
	Model       *VotingClassifier      `json:"model"`
	TrainRows   int                    `json:"train_rows"`
	ClassCounts map[int]int            `json:"class_counts"`
}

// SaveArtifact writes a zstd-compressed JSON artifact atomically.
func SaveArtifact(path string, a *Artifact) error {
	if a == nil || !a.Model.Fitted() {
		return fmt.Errorf("cannot save artifact: %w", ErrNotFitted)
	}
	if a.Kind == "" {
		a.Kind = common.ArtifactKind
	}

	err := common.WriteFileAtomic(path, func(w io.Writer) error {
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		if err := json.NewEncoder(enc).Encode(a); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	})
	if err != nil {
		return fmt.Errorf("failed to save model artifact %s: %w", path, err)
	}

	log.Info().
		Str("path", path).
		Str("version", a.Version).
		Int("features", len(a.Features)).
		Msg("Model artifact saved")
	return nil
}

// LoadArtifact reads an artifact written by SaveArtifact.
func LoadArtifact(path string) (*Artifact, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model artifact: %w", err)
	}
	defer file.Close()

	dec, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open zstd stream: %w", err)
	}
	defer dec.Close()

	var a Artifact
	if err := json.NewDecoder(dec).Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact %s: %w", path, err)
	}
	if a.Kind != common.ArtifactKind {
		return nil, fmt.Errorf("model artifact %s has kind %q, expected %q", path, a.Kind, common.ArtifactKind)
	}
	if !a.Model.Fitted() {
		return nil, fmt.Errorf("model artifact %s: %w", path, ErrNotFitted)
	}
	if len(a.Features) == 0 {
		return nil, fmt.Errorf("model artifact %s lists no features", path)
	}
	return &a, nil
}

// PrepareFrame applies the training scaler to fr and projects it onto the
// artifact's feature order. It also returns labels when fr has the target.
func (a *Artifact) PrepareFrame(fr *dataset.Frame) ([][]float64, []int, error) {
	scaled := fr
	if a.Scaler != nil {
		var err error
		if scaled, err = a.Scaler.Transform(fr); err != nil {
			return nil, nil, fmt.Errorf("failed to scale input: %w", err)
		}
	}
	X, err := scaled.Select(a.Features)
	if err != nil {
		return nil, nil, err
	}
	if !fr.Has(a.Target) {
		return X, nil, nil
	}
	y, err := fr.Labels(a.Target)
	if err != nil {
		return nil, nil, err
	}
	return X, y, nil
}

// PrepareVector scales one raw row laid out in artifact feature order.
func (a *Artifact) PrepareVector(x []float64) ([]float64, error) {
	if len(x) != len(a.Features) {
		return nil, fmt.Errorf("expected %d features, got %d", len(a.Features), len(x))
	}
	if a.Scaler == nil {
		return append([]float64(nil), x...), nil
	}
	return a.Scaler.TransformVector(a.Features, x)
}
