package workeradapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/agentcore/procmanager"
	"github.com/agentcore/agentcore/types"
)

func TestCLIAdapterSucceedsAndParsesPatchArtifact(t *testing.T) {
	procs := procmanager.New(procmanager.Config{})
	adapter := NewCLIAdapter(types.WorkerMock, procs, func(task types.WorkerTask) []string {
		return []string{"/bin/sh", "-c", `echo '{"type":"patch","filePath":"x.go","diff":"+1"}'; echo plain`}
	})

	task := types.WorkerTask{
		WorkerTaskID: "wtask-1",
		Budget:       types.WorkerBudget{DeadlineAt: time.Now().Add(5 * time.Second).UnixMilli()},
	}
	h, err := adapter.StartTask(task)
	require.NoError(t, err)

	result := adapter.AwaitResult(h)
	assert.Equal(t, types.WorkerSucceeded, result.Status)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "x.go", result.Artifacts[0].FilePath)
}

func TestCLIAdapterNonZeroExitClassifiesViaHeuristic(t *testing.T) {
	procs := procmanager.New(procmanager.Config{})
	adapter := NewCLIAdapter(types.WorkerMock, procs, func(task types.WorkerTask) []string {
		return []string{"/bin/sh", "-c", `echo "rate limit exceeded (429)"; exit 1`}
	})

	task := types.WorkerTask{
		WorkerTaskID: "wtask-2",
		Budget:       types.WorkerBudget{DeadlineAt: time.Now().Add(5 * time.Second).UnixMilli()},
	}
	h, err := adapter.StartTask(task)
	require.NoError(t, err)

	result := adapter.AwaitResult(h)
	assert.Equal(t, types.WorkerFailed, result.Status)
	assert.Equal(t, "RETRYABLE_RATE_LIMIT", result.ErrorClass)
}

func TestCLIAdapterCancelMarksResultCancelled(t *testing.T) {
	procs := procmanager.New(procmanager.Config{})
	adapter := NewCLIAdapter(types.WorkerMock, procs, func(task types.WorkerTask) []string {
		return []string{"/bin/sh", "-c", "sleep 30"}
	})

	task := types.WorkerTask{
		WorkerTaskID: "wtask-3",
		Budget:       types.WorkerBudget{DeadlineAt: time.Now().Add(30 * time.Second).UnixMilli()},
	}
	h, err := adapter.StartTask(task)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		adapter.Cancel(h)
	}()

	result := adapter.AwaitResult(h)
	assert.Equal(t, types.WorkerCancelled, result.Status)
}

func TestCLIAdapterStreamsStdoutEvents(t *testing.T) {
	procs := procmanager.New(procmanager.Config{})
	adapter := NewCLIAdapter(types.WorkerMock, procs, func(task types.WorkerTask) []string {
		return []string{"/bin/sh", "-c", `echo hello; echo '{"type":"progress","step":1}'`}
	})

	task := types.WorkerTask{
		WorkerTaskID: "wtask-4",
		Budget:       types.WorkerBudget{DeadlineAt: time.Now().Add(5 * time.Second).UnixMilli()},
	}
	h, err := adapter.StartTask(task)
	require.NoError(t, err)

	var kinds []EventKind
	for e := range adapter.StreamEvents(h) {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, EventStdout)
	assert.Contains(t, kinds, EventProgress)

	adapter.AwaitResult(h)
}
