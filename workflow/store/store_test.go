package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/agentcore/workflow"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutThenGetRoundTrips(t *testing.T) {
	s := openTestStore(t)

	rec := RecordOf("nightly-scan", 1000, 2000, workflow.RunResult{
		RunID:  "run-1",
		Status: "SUCCEEDED",
		Steps: map[string]workflow.StepOutcome{
			"a": {StepID: "a", Status: workflow.StepSucceeded, Iterations: 1},
			"b": {StepID: "b", Status: workflow.StepFailed, Iterations: 3, Err: errors.New("boom")},
		},
	})
	require.NoError(t, s.Put(rec))

	got, found, err := s.Get("run-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "nightly-scan", got.WorkflowName)
	assert.Equal(t, "SUCCEEDED", got.Status)
	assert.Equal(t, "boom", got.Steps["b"].Err)
	assert.Equal(t, 3, got.Steps["b"].Iterations)
}

func TestGetMissingRunReturnsNotFoundWithoutError(t *testing.T) {
	s := openTestStore(t)

	_, found, err := s.Get("does-not-exist")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListReturnsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	for i, startedAt := range []int64{100, 300, 200} {
		rec := RecordOf("w", startedAt, startedAt+10, workflow.RunResult{
			RunID:  []string{"first", "second", "third"}[i],
			Status: "SUCCEEDED",
			Steps:  map[string]workflow.StepOutcome{},
		})
		require.NoError(t, s.Put(rec))
	}

	runs, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "second", runs[0].RunID) // startedAt 300
	assert.Equal(t, "third", runs[1].RunID)  // startedAt 200
	assert.Equal(t, "first", runs[2].RunID)  // startedAt 100
}

func TestListRespectsLimit(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		rec := RecordOf("w", int64(i), int64(i)+1, workflow.RunResult{
			RunID:  string(rune('a' + i)),
			Status: "SUCCEEDED",
			Steps:  map[string]workflow.StepOutcome{},
		})
		require.NoError(t, s.Put(rec))
	}

	runs, err := s.List(2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestPutOverwritesExistingRecord(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(RecordOf("w", 1, 2, workflow.RunResult{RunID: "r", Status: "TIMED_OUT", Steps: map[string]workflow.StepOutcome{}})))
	require.NoError(t, s.Put(RecordOf("w", 1, 3, workflow.RunResult{RunID: "r", Status: "SUCCEEDED", Steps: map[string]workflow.StepOutcome{}})))

	got, found, err := s.Get("r")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "SUCCEEDED", got.Status)
}
