package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

// ModelVersion represents a versioned model artifact
type ModelVersion struct {
	Version   string       `json:"version"`
	Path      string       `json:"path"`
	RunID     string       `json:"run_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	Metrics   ModelMetrics `json:"metrics"`
	IsActive  bool         `json:"is_active"`
}

// ModelMetrics contains evaluation metrics for a model version
type ModelMetrics struct {
	AUCScore        float64 `json:"auc_score"`
	F1Score         float64 `json:"f1_score"`
	Precision       float64 `json:"precision"`
	Recall          float64 `json:"recall"`
	Accuracy        float64 `json:"accuracy"`
	TrainingSamples int     `json:"training_samples"`
	TestSamples     int     `json:"test_samples"`
}

// PutModelVersion inserts or replaces a model version.
func (s *Store) PutModelVersion(v ModelVersion) error {
	if v.Version == "" {
		return fmt.Errorf("model version cannot be empty")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal model version: %w", err)
		}
		return tx.Bucket([]byte(modelsBucket)).Put([]byte(v.Version), data)
	})
}

// GetModelVersion returns one model version.
func (s *Store) GetModelVersion(version string) (*ModelVersion, error) {
	var v ModelVersion
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(modelsBucket)).Get([]byte(version))
		if data == nil {
			return fmt.Errorf("model version %s: %w", version, ErrNotFound)
		}
		return json.Unmarshal(data, &v)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListModelVersions returns every version, newest first.
func (s *Store) ListModelVersions() ([]ModelVersion, error) {
	var versions []ModelVersion
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(modelsBucket)).ForEach(func(k, v []byte) error {
			var mv ModelVersion
			if err := json.Unmarshal(v, &mv); err != nil {
				return nil // Skip malformed records
			}
			versions = append(versions, mv)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(versions, func(i, j int) bool {
		if versions[i].CreatedAt.Equal(versions[j].CreatedAt) {
			return versions[i].Version > versions[j].Version
		}
		return versions[i].CreatedAt.After(versions[j].CreatedAt)
	})
	return versions, nil
}

// SetActiveModel flags exactly one version as active, in a single transaction.
func (s *Store) SetActiveModel(version string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(modelsBucket))
		if b.Get([]byte(version)) == nil {
			return fmt.Errorf("model version %s: %w", version, ErrNotFound)
		}

		updates := map[string][]byte{}
		err := b.ForEach(func(k, v []byte) error {
			var mv ModelVersion
			if err := json.Unmarshal(v, &mv); err != nil {
				return fmt.Errorf("unmarshal model version %s: %w", k, err)
			}
			active := mv.Version == version
			if mv.IsActive == active {
				return nil
			}
			mv.IsActive = active
			data, err := json.Marshal(mv)
			if err != nil {
				return err
			}
			updates[string(k)] = data
			return nil
		})
		if err != nil {
			return err
		}
		for k, data := range updates {
			if err := b.Put([]byte(k), data); err != nil {
				return err
			}
		}
		return nil
	})
}
