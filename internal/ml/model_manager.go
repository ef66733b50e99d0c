package ml

import (
	"fmt"
	"time"

	"fraud-pipeline/internal/common"
	"fraud-pipeline/internal/storage"

	"github.com/rs/zerolog/log"
)

// ModelManager handles model versioning and rollback on top of the store.
type ModelManager struct {
	store *storage.Store
}

// NewModelManager creates a new model manager
func NewModelManager(store *storage.Store) *ModelManager {
	return &ModelManager{store: store}
}

// NewVersion derives a sortable version string from a timestamp and run ID.
func NewVersion(at time.Time, runID string) string {
	v := at.UTC().Format(common.VersionTimeFmt)
	if len(runID) >= 8 {
		return v + "-" + runID[:8]
	}
	if runID != "" {
		return v + "-" + runID
	}
	return v
}

// AddVersion records a new, inactive model version.
func (mm *ModelManager) AddVersion(version, modelPath, runID string, metrics storage.ModelMetrics) (*storage.ModelVersion, error) {
	v := storage.ModelVersion{
		Version:   version,
		Path:      modelPath,
		RunID:     runID,
		CreatedAt: time.Now(),
		Metrics:   metrics,
		IsActive:  false,
	}
	if err := mm.store.PutModelVersion(v); err != nil {
		return nil, fmt.Errorf("failed to add model version: %w", err)
	}

	log.Info().
		Str("version", version).
		Str("path", modelPath).
		Msg("Model version registered")
	return &v, nil
}

// UpdateMetrics attaches evaluation metrics to an existing version.
func (mm *ModelManager) UpdateMetrics(version string, metrics storage.ModelMetrics) error {
	v, err := mm.store.GetModelVersion(version)
	if err != nil {
		return err
	}
	v.Metrics = metrics
	return mm.store.PutModelVersion(*v)
}

// ActivateVersion activates a specific model version
func (mm *ModelManager) ActivateVersion(version string) error {
	if err := mm.store.SetActiveModel(version); err != nil {
		return err
	}
	log.Info().Str("version", version).Msg("Model version activated")
	return nil
}

// Rollback activates the version registered just before the active one.
func (mm *ModelManager) Rollback() (*storage.ModelVersion, error) {
	versions, err := mm.store.ListModelVersions()
	if err != nil {
		return nil, err
	}
	if len(versions) < 2 {
		return nil, fmt.Errorf("no previous version available for rollback")
	}

	// Find current version
	currentIdx := -1
	for i, v := range versions {
		if v.IsActive {
			currentIdx = i
			break
		}
	}

	if currentIdx == -1 {
		return nil, fmt.Errorf("no active version found")
	}

	// Activate previous version
	if currentIdx+1 < len(versions) {
		prev := versions[currentIdx+1]
		if err := mm.ActivateVersion(prev.Version); err != nil {
			return nil, err
		}
		prev.IsActive = true
		return &prev, nil
	}

	return nil, fmt.Errorf("no previous version available")
}

// GetCurrentVersion returns the active version, or nil when none is active.
func (mm *ModelManager) GetCurrentVersion() (*storage.ModelVersion, error) {
	versions, err := mm.store.ListModelVersions()
	if err != nil {
		return nil, err
	}
	for i := range versions {
		if versions[i].IsActive {
			return &versions[i], nil
		}
	}
	return nil, nil
}

// ListVersions returns all model versions, newest first.
func (mm *ModelManager) ListVersions() ([]storage.ModelVersion, error) {
	return mm.store.ListModelVersions()
}
