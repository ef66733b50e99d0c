package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

// Run statuses
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// StageRecord is one stage event as persisted in a run.
type StageRecord struct {
	Stage       string        `json:"stage"`
	Phase       string        `json:"phase"`
	RowsIn      int           `json:"rows_in"`
	RowsOut     int           `json:"rows_out"`
	ClassCounts map[int]int   `json:"class_counts,omitempty"`
	Output      string        `json:"output,omitempty"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// RunRecord is the history of one pipeline invocation.
type RunRecord struct {
	ID         string        `json:"id"`
	Command    string        `json:"command"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	Stages     []StageRecord `json:"stages"`
}

// StartRun stores a new run in the running state.
func (s *Store) StartRun(id, command string, startedAt time.Time) error {
	return s.updateRun(id, func(run *RunRecord) {
		run.Command = command
		run.StartedAt = startedAt
		run.Status = RunRunning
	})
}

// AppendStage adds a stage event to a run, creating the run if needed.
func (s *Store) AppendStage(id string, rec StageRecord) error {
	return s.updateRun(id, func(run *RunRecord) {
		if run.StartedAt.IsZero() {
			run.StartedAt = rec.Timestamp
			run.Status = RunRunning
		}
		run.Stages = append(run.Stages, rec)
	})
}

// FinishRun marks a run succeeded, or failed when runErr is non-nil.
func (s *Store) FinishRun(id string, finishedAt time.Time, runErr error) error {
	return s.updateRun(id, func(run *RunRecord) {
		run.FinishedAt = finishedAt
		run.Status = RunSucceeded
		if runErr != nil {
			run.Status = RunFailed
			run.Error = runErr.Error()
		}
	})
}

func (s *Store) updateRun(id string, mutate func(run *RunRecord)) error {
	if id == "" {
		return fmt.Errorf("run id cannot be empty")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))

		run := RunRecord{ID: id}
		if data := b.Get([]byte(id)); data != nil {
			if err := json.Unmarshal(data, &run); err != nil {
				return fmt.Errorf("unmarshal run %s: %w", id, err)
			}
		}
		mutate(&run)

		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}
		return b.Put([]byte(id), data)
	})
}

// GetRun returns one run by ID.
func (s *Store) GetRun(id string) (*RunRecord, error) {
	var run RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(runsBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns runs newest first. A limit of 0 returns all of them.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	var runs []RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(runsBucket)).ForEach(func(k, v []byte) error {
			var run RunRecord
			if err := json.Unmarshal(v, &run); err != nil {
				return nil // Skip malformed records
			}
			runs = append(runs, run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
