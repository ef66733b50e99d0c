// Package storage provides persistent run history and model-version records
// for the fraud pipeline. It uses BoltDB as the underlying storage engine.
//
// Records are stored as JSON values; bbolt serialises writers, so the store is
// safe for concurrent use.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fraud-pipeline/internal/common"

	"go.etcd.io/bbolt"
)

const (
	runsBucket   = "runs"   // Bucket name for pipeline run records
	modelsBucket = "models" // Bucket name for model version records
)

// ErrNotFound is returned when a run or model version does not exist.
var ErrNotFound = errors.New("record not found")

// Store provides persistent storage for pipeline metadata using BoltDB.
type Store struct {
	db *bbolt.DB // BoltDB database instance
}

// New opens (or creates) the database under dataPath and ensures every bucket
// exists.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, common.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataPath, common.DatabaseFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(runsBucket)); err != nil {
			return fmt.Errorf("create runs bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(modelsBucket)); err != nil {
			return fmt.Errorf("create models bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database. Closing twice is a no-op.
func (s *Store) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	if s.db == nil {
		return ""
	}
	return s.db.Path()
}
