package workflow

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/agentcore/cancel"
	"github.com/agentcore/agentcore/ferrors"
	"github.com/agentcore/agentcore/probe"
	"github.com/agentcore/agentcore/types"
)

// fakeProbeRunner scripts a sequence of probe.Result/error pairs per
// call, repeating the last entry once exhausted.
type fakeProbeRunner struct {
	mu      sync.Mutex
	results []probe.Result
	errs    []error
	calls   int
}

func (f *fakeProbeRunner) Run(probe.Options) (probe.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	return f.results[i], f.errs[i]
}

func succeedingStepRunner(types.WorkerTask, *cancel.Token) types.WorkerResult {
	return types.WorkerResult{Status: types.WorkerSucceeded}
}

func TestRunExecutesLinearChainToSuccess(t *testing.T) {
	contextDir := t.TempDir()

	def := WorkflowDefinition{
		RunID:      "run-1",
		ContextDir: contextDir,
		Steps: []StepDefinition{
			{StepID: "a", Task: types.WorkerTask{WorkerKind: types.WorkerMock}},
			{StepID: "b", DependsOn: []string{"a"}, Task: types.WorkerTask{WorkerKind: types.WorkerMock}},
		},
	}

	exec, err := New(Config{Def: def, RunStep: succeedingStepRunner})
	require.NoError(t, err)

	result := exec.Run(nil)
	assert.Equal(t, "SUCCEEDED", result.Status)
	require.Contains(t, result.Steps, "a")
	require.Contains(t, result.Steps, "b")
	assert.Equal(t, StepSucceeded, result.Steps["a"].Status)
	assert.Equal(t, StepSucceeded, result.Steps["b"].Status)
}

func TestRunRetriesRetryableFailureThenSucceeds(t *testing.T) {
	contextDir := t.TempDir()
	var attempts int32

	def := WorkflowDefinition{
		RunID:      "run-2",
		ContextDir: contextDir,
		Steps: []StepDefinition{
			{StepID: "a", MaxRetries: 3},
		},
	}

	runner := func(types.WorkerTask, *cancel.Token) types.WorkerResult {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			return types.WorkerResult{Status: types.WorkerFailed, ErrorClass: string(ferrors.ClassRetryableTransient)}
		}
		return types.WorkerResult{Status: types.WorkerSucceeded}
	}

	exec, err := New(Config{Def: def, RunStep: runner})
	require.NoError(t, err)

	result := exec.Run(nil)
	assert.Equal(t, StepSucceeded, result.Steps["a"].Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestRunFatalErrorClassNeverRetries(t *testing.T) {
	contextDir := t.TempDir()
	var attempts int32

	def := WorkflowDefinition{
		RunID:      "run-3",
		ContextDir: contextDir,
		Steps: []StepDefinition{
			{StepID: "a", MaxRetries: 5},
		},
	}

	runner := func(types.WorkerTask, *cancel.Token) types.WorkerResult {
		atomic.AddInt32(&attempts, 1)
		return types.WorkerResult{Status: types.WorkerFailed, ErrorClass: string(ferrors.ClassFatal)}
	}

	exec, err := New(Config{Def: def, RunStep: runner})
	require.NoError(t, err)

	result := exec.Run(nil)
	assert.Equal(t, StepFailed, result.Steps["a"].Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestRunOnFailureContinueAllowsDependentToRun(t *testing.T) {
	contextDir := t.TempDir()

	def := WorkflowDefinition{
		RunID:      "run-4",
		ContextDir: contextDir,
		Steps: []StepDefinition{
			{StepID: "a", OnFailure: OnFailureContinue},
			{StepID: "b", DependsOn: []string{"a"}},
		},
	}

	def.Steps[0].Task.Instructions = "a"
	def.Steps[1].Task.Instructions = "b"
	runner := func(task types.WorkerTask, abort *cancel.Token) types.WorkerResult {
		if task.Instructions == "a" {
			return types.WorkerResult{Status: types.WorkerFailed, ErrorClass: string(ferrors.ClassNonRetryable)}
		}
		return types.WorkerResult{Status: types.WorkerSucceeded}
	}

	exec, err := New(Config{Def: def, RunStep: runner})
	require.NoError(t, err)

	result := exec.Run(nil)
	assert.Equal(t, StepFailed, result.Steps["a"].Status)
	assert.Equal(t, StepSucceeded, result.Steps["b"].Status)
}

func TestRunOnFailureAbortSkipsDependents(t *testing.T) {
	contextDir := t.TempDir()

	def := WorkflowDefinition{
		RunID:      "run-5",
		ContextDir: contextDir,
		Steps: []StepDefinition{
			{StepID: "a", OnFailure: OnFailureAbort},
			{StepID: "b", DependsOn: []string{"a"}},
		},
	}

	runner := func(task types.WorkerTask, abort *cancel.Token) types.WorkerResult {
		return types.WorkerResult{Status: types.WorkerFailed, ErrorClass: string(ferrors.ClassNonRetryable)}
	}

	exec, err := New(Config{Def: def, RunStep: runner})
	require.NoError(t, err)

	result := exec.Run(nil)
	assert.Equal(t, StepFailed, result.Steps["a"].Status)
	assert.Equal(t, StepSkipped, result.Steps["b"].Status)
}

func TestRunCompletionCheckLoopsUntilProbeReportsTerminal(t *testing.T) {
	contextDir := t.TempDir()
	probes := &fakeProbeRunner{
		results: []probe.Result{{Class: probe.ClassStalled}, {Class: probe.ClassTerminal}},
		errs:    []error{nil, nil},
	}

	var iterations int32
	def := WorkflowDefinition{
		RunID:      "run-6",
		ContextDir: contextDir,
		Steps: []StepDefinition{
			{
				StepID: "a",
				CompletionCheck: &CompletionCheck{
					Command:       []string{"check"},
					MaxIterations: 5,
				},
			},
		},
	}

	runner := func(types.WorkerTask, *cancel.Token) types.WorkerResult {
		atomic.AddInt32(&iterations, 1)
		return types.WorkerResult{Status: types.WorkerSucceeded}
	}

	exec, err := New(Config{Def: def, RunStep: runner, Probes: probes})
	require.NoError(t, err)

	result := exec.Run(nil)
	assert.Equal(t, StepSucceeded, result.Steps["a"].Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&iterations))
	assert.Equal(t, 2, result.Steps["a"].Iterations)
}

func TestRunCompletionCheckExhaustionAbortsByDefault(t *testing.T) {
	contextDir := t.TempDir()
	probes := &fakeProbeRunner{
		results: []probe.Result{{Class: probe.ClassStalled}},
		errs:    []error{nil},
	}

	def := WorkflowDefinition{
		RunID:      "run-7",
		ContextDir: contextDir,
		Steps: []StepDefinition{
			{
				StepID: "a",
				CompletionCheck: &CompletionCheck{
					Command:               []string{"check"},
					MaxIterations:         3,
					OnIterationsExhausted: IterationsAbort,
				},
			},
		},
	}

	exec, err := New(Config{Def: def, RunStep: succeedingStepRunner, Probes: probes})
	require.NoError(t, err)

	result := exec.Run(nil)
	assert.Equal(t, StepFailed, result.Steps["a"].Status)
}

func TestRunCompletionCheckExhaustionMarksIncompleteWhenConfigured(t *testing.T) {
	contextDir := t.TempDir()
	probes := &fakeProbeRunner{
		results: []probe.Result{{Class: probe.ClassStalled}},
		errs:    []error{nil},
	}

	def := WorkflowDefinition{
		RunID:      "run-8",
		ContextDir: contextDir,
		Steps: []StepDefinition{
			{
				StepID: "a",
				CompletionCheck: &CompletionCheck{
					Command:               []string{"check"},
					MaxIterations:         2,
					OnIterationsExhausted: IterationsContinue,
				},
			},
		},
	}

	exec, err := New(Config{Def: def, RunStep: succeedingStepRunner, Probes: probes})
	require.NoError(t, err)

	result := exec.Run(nil)
	assert.Equal(t, StepIncomplete, result.Steps["a"].Status)
}

func TestRunWorkflowTimeoutSkipsPendingSteps(t *testing.T) {
	contextDir := t.TempDir()

	def := WorkflowDefinition{
		RunID:       "run-9",
		ContextDir:  contextDir,
		TimeoutMs:   20,
		Concurrency: 1,
		Steps: []StepDefinition{
			{StepID: "a"},
			{StepID: "b", DependsOn: []string{"a"}},
		},
	}

	runner := func(task types.WorkerTask, abort *cancel.Token) types.WorkerResult {
		select {
		case <-abort.Done():
			return types.WorkerResult{Status: types.WorkerCancelled}
		case <-time.After(2 * time.Second):
			return types.WorkerResult{Status: types.WorkerSucceeded}
		}
	}

	exec, err := New(Config{Def: def, RunStep: runner})
	require.NoError(t, err)

	result := exec.Run(nil)
	assert.Equal(t, "TIMED_OUT", result.Status)
	assert.Equal(t, StepCancelled, result.Steps["a"].Status)
}

func TestNewRejectsInvalidDependencyGraph(t *testing.T) {
	def := WorkflowDefinition{
		Steps: []StepDefinition{
			{StepID: "a", DependsOn: []string{"missing"}},
		},
	}
	_, err := New(Config{Def: def, RunStep: succeedingStepRunner})
	assert.Error(t, err)
}
