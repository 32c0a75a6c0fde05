// Package store persists workflow run outcomes to a bbolt-backed index so
// `agentcore workflow status <runId>` (spec.md §6) can answer after the
// process that ran the workflow has exited. Grounded on
// services/orchestrator/persistence.go's WorkflowStore: one bbolt file,
// one bucket per concern, a time-ordered index bucket for listing.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/agentcore/agentcore/workflow"
)

var (
	bucketRuns  = []byte("runs")
	bucketIndex = []byte("runs_by_time")
)

// StepRecord is one step's persisted outcome, derived from
// workflow.StepOutcome (which carries an error value the store can't
// round-trip through JSON, so it is flattened to a string).
type StepRecord struct {
	StepID     string `json:"stepId"`
	Status     string `json:"status"`
	Iterations int    `json:"iterations"`
	Err        string `json:"err,omitempty"`
}

// Record is one workflow run as persisted for later status lookup.
type Record struct {
	RunID        string                `json:"runId"`
	WorkflowName string                `json:"workflowName"`
	Status       string                `json:"status"`
	StartedAtMs  int64                 `json:"startedAtMs"`
	FinishedAtMs int64                 `json:"finishedAtMs"`
	Steps        map[string]StepRecord `json:"steps"`
}

// RecordOf builds a Record from an executor RunResult plus the metadata
// the executor itself doesn't track.
func RecordOf(workflowName string, startedAtMs, finishedAtMs int64, result workflow.RunResult) Record {
	steps := make(map[string]StepRecord, len(result.Steps))
	for id, o := range result.Steps {
		sr := StepRecord{StepID: o.StepID, Status: string(o.Status), Iterations: o.Iterations}
		if o.Err != nil {
			sr.Err = o.Err.Error()
		}
		steps[id] = sr
	}
	return Record{
		RunID:        result.RunID,
		WorkflowName: workflowName,
		Status:       result.Status,
		StartedAtMs:  startedAtMs,
		FinishedAtMs: finishedAtMs,
		Steps:        steps,
	}
}

// Store is a bbolt-backed run index. Safe for concurrent use: bbolt
// serializes writers internally and readers see a consistent snapshot.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout:      1 * time.Second,
		FreelistType: bbolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketIndex} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put persists rec, overwriting any prior record for the same RunID.
func (s *Store) Put(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal run %s: %w", rec.RunID, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		if err := runs.Put([]byte(rec.RunID), data); err != nil {
			return err
		}
		index := tx.Bucket(bucketIndex)
		indexKey := fmt.Sprintf("%020d:%s", rec.StartedAtMs, rec.RunID)
		return index.Put([]byte(indexKey), []byte(rec.RunID))
	})
}

// Get retrieves a run by ID. The bool is false with a nil error when no
// such run is indexed.
func (s *Store) Get(runID string) (Record, bool, error) {
	var rec Record
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get([]byte(runID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("store: get run %s: %w", runID, err)
	}
	return rec, found, nil
}

// List returns every indexed run, newest first, up to limit (0 means
// unbounded).
func (s *Store) List(limit int) ([]Record, error) {
	var runIDs []string

	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketIndex).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			runIDs = append(runIDs, string(v))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}

	// Index is time-ascending; reverse for newest-first.
	for i, j := 0, len(runIDs)-1; i < j; i, j = i+1, j-1 {
		runIDs[i], runIDs[j] = runIDs[j], runIDs[i]
	}
	if limit > 0 && len(runIDs) > limit {
		runIDs = runIDs[:limit]
	}

	records := make([]Record, 0, len(runIDs))
	err = s.db.View(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		for _, id := range runIDs {
			data := runs.Get([]byte(id))
			if data == nil {
				continue
			}
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("unmarshal run %s: %w", id, err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}
