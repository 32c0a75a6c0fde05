package workflow

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/agentcore/agentcore/activity"
	"github.com/agentcore/agentcore/cancel"
	"github.com/agentcore/agentcore/ferrors"
	"github.com/agentcore/agentcore/ids"
	"github.com/agentcore/agentcore/logging"
	"github.com/agentcore/agentcore/probe"
	"github.com/agentcore/agentcore/sentinel"
	"github.com/agentcore/agentcore/types"
)

// StepRunnerFunc executes one worker-task attempt and returns its
// terminal result. Production callers wire this to
// workergateway.Gateway.DelegateTask; tests substitute a scripted fake.
type StepRunnerFunc func(task types.WorkerTask, abort *cancel.Token) types.WorkerResult

// StepOutcome is one step's final disposition within a run.
type StepOutcome struct {
	StepID     string
	Status     StepStatus
	Result     types.WorkerResult
	Iterations int
	Err        error
}

// RunResult is a completed (or timed-out) workflow run.
type RunResult struct {
	RunID  string
	Status string // "SUCCEEDED" | "TIMED_OUT"
	Steps  map[string]StepOutcome
}

// Config configures an Executor.
type Config struct {
	Def     WorkflowDefinition
	RunStep StepRunnerFunc
	Tracker *activity.Tracker
	Probes  sentinel.ProbeRunner // nil disables every step's NoProgress watcher
	Clock   func() time.Time
	Logger  logging.Logger
	Hook    ManagementHook // nil installs NewAlwaysProceedHook
}

// Executor runs one WorkflowDefinition to completion (spec.md §4.11).
// Not safe to Run concurrently on the same instance twice.
type Executor struct {
	cfg Config
	dag *dag

	mu                sync.Mutex
	outcomes          map[string]StepOutcome
	continuedFailures map[string]bool
}

// New constructs an Executor from cfg. Returns an error if the
// dependency graph is invalid (cycle or dangling reference).
func New(cfg Config) (*Executor, error) {
	if cfg.Tracker == nil {
		cfg.Tracker = activity.New(cfg.Clock)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	if cfg.Hook == nil {
		cfg.Hook = NewAlwaysProceedHook()
	}

	g := newDAG()
	for _, s := range cfg.Def.Steps {
		g.addNode(s.StepID, s.DependsOn)
	}
	if err := g.validate(); err != nil {
		return nil, err
	}

	return &Executor{
		cfg:               cfg,
		dag:               g,
		outcomes:          make(map[string]StepOutcome),
		continuedFailures: make(map[string]bool),
	}, nil
}

// Run executes every step to a terminal status and returns the run's
// outcome. parentAbort may be nil.
func (e *Executor) Run(parentAbort *cancel.Token) RunResult {
	if parentAbort == nil {
		parentAbort = cancel.NewToken()
	}
	workflowAbort := parentAbort.Child()

	startedAt := e.cfg.Clock().UnixMilli()
	_ = writeWorkflowMeta(e.cfg.Def.ContextDir, WorkflowMeta{RunID: e.cfg.Def.RunID, Status: "RUNNING", StartedAtMs: startedAt})

	if e.cfg.Def.TimeoutMs > 0 {
		timer := time.AfterFunc(time.Duration(e.cfg.Def.TimeoutMs)*time.Millisecond, func() {
			workflowAbort.Fire("workflow timeout")
		})
		defer timer.Stop()
	}

	concurrency := e.cfg.Def.Concurrency
	if concurrency <= 0 {
		concurrency = len(e.cfg.Def.Steps)
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	done := make(chan struct{}, len(e.cfg.Def.Steps))
	inFlight := 0
	skippedRemaining := false

	for !e.dag.allTerminal() {
		if workflowAbort.Fired() {
			if !skippedRemaining {
				skippedRemaining = true
				e.skipRemaining()
			}
			if e.dag.allTerminal() {
				break
			}
			// Every remaining non-terminal step is already RUNNING with an
			// aborted stepAbort token; just wait for it to unwind.
			<-done
			inFlight--
			continue
		}

		if e.launchReady(sem, done, workflowAbort, &inFlight) {
			continue
		}
		if inFlight == 0 {
			// Nothing ready and nothing running: every remaining step is
			// blocked by a non-continuing failure; skip what's left.
			e.skipRemaining()
			continue
		}

		select {
		case <-done:
			inFlight--
		case <-workflowAbort.Done():
		}
	}

	for inFlight > 0 {
		<-done
		inFlight--
	}

	status := "SUCCEEDED"
	if workflowAbort.Fired() {
		status = "TIMED_OUT"
	}
	_ = writeWorkflowMeta(e.cfg.Def.ContextDir, WorkflowMeta{
		RunID: e.cfg.Def.RunID, Status: status, StartedAtMs: startedAt, EndedAtMs: e.cfg.Clock().UnixMilli(),
	})

	e.mu.Lock()
	steps := make(map[string]StepOutcome, len(e.outcomes))
	for k, v := range e.outcomes {
		steps[k] = v
	}
	e.mu.Unlock()

	return RunResult{RunID: e.cfg.Def.RunID, Status: status, Steps: steps}
}

// launchReady starts every currently-ready step it can admit under the
// concurrency cap, returning whether it launched at least one.
func (e *Executor) launchReady(sem chan struct{}, done chan struct{}, workflowAbort *cancel.Token, inFlight *int) bool {
	e.mu.Lock()
	continued := make(map[string]bool, len(e.continuedFailures))
	for k, v := range e.continuedFailures {
		continued[k] = v
	}
	e.mu.Unlock()

	ready := e.dag.readyNodes(continued)
	launched := false
	for _, stepID := range ready {
		select {
		case sem <- struct{}{}:
		default:
			return launched
		}
		e.dag.setStatus(stepID, StepRunning)
		*inFlight++
		launched = true
		go func(id string) {
			defer func() { <-sem; done <- struct{}{} }()
			e.runStep(id, workflowAbort)
		}(stepID)
	}
	return launched
}

// skipRemaining transitions every still-pending/ready step to SKIPPED.
func (e *Executor) skipRemaining() {
	for _, id := range e.dag.pendingStepIDs() {
		e.dag.setStatus(id, StepSkipped)
		e.recordOutcome(StepOutcome{StepID: id, Status: StepSkipped})
	}
}

func (e *Executor) recordOutcome(o StepOutcome) {
	e.mu.Lock()
	e.outcomes[o.StepID] = o
	e.mu.Unlock()
}

func (e *Executor) markContinuedFailure(stepID string) {
	e.mu.Lock()
	e.continuedFailures[stepID] = true
	e.mu.Unlock()
}

// runStep executes one step definition through its full retry and
// completion-check lifecycle (spec.md §4.11 steps 1-6).
func (e *Executor) runStep(stepID string, workflowAbort *cancel.Token) {
	def, _ := e.cfg.Def.StepByID(stepID)
	stepAbort := workflowAbort.Child()

	workspace := def.Task.WorkspaceRef
	if workspace == "" {
		workspace = filepath.Join(e.cfg.Def.ContextDir, "_workspaces", stepID)
	}

	if e.cfg.Hook.BeforeStep(stepID, def) == HookAbort {
		e.finishStep(def, workspace, StepFailed, types.WorkerResult{ErrorClass: string(ferrors.ClassFatal)}, 0, ferrors.ErrManagementHookAborted, workflowAbort)
		return
	}

	if err := materializeInputs(e.cfg.Def.ContextDir, workspace, def.Inputs); err != nil {
		e.finishStep(def, workspace, StepFailed, types.WorkerResult{ErrorClass: string(ferrors.ClassNonRetryable)}, 0, err, workflowAbort)
		return
	}

	maxRetries := def.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	iteration := 0
	maxIterations := 1
	if def.CompletionCheck != nil && def.CompletionCheck.MaxIterations > 0 {
		maxIterations = def.CompletionCheck.MaxIterations
	}

	hookRetriesLeft := 1
	var lastResult types.WorkerResult
	for iteration < maxIterations {
		result, retryErr := e.executeWithRetries(def, workspace, stepID, iteration, stepAbort, maxRetries)
		lastResult = result
		if retryErr != nil {
			if hookRetriesLeft > 0 && e.cfg.Hook.OnError(stepID, retryErr) == HookRetry {
				hookRetriesLeft--
				continue
			}
			e.finishStep(def, workspace, StepFailed, result, iteration+1, retryErr, workflowAbort)
			return
		}
		if result.Status == types.WorkerCancelled || stepAbort.Fired() {
			e.finishStep(def, workspace, StepCancelled, result, iteration+1, fmt.Errorf("cancelled: %s", stepAbort.Reason()), workflowAbort)
			return
		}

		if def.CompletionCheck == nil {
			e.finishStep(def, workspace, StepSucceeded, result, iteration+1, nil, workflowAbort)
			return
		}

		complete, checkErr := e.runCompletionCheck(def, workspace, stepID, iteration, stepAbort)
		iteration++
		if checkErr != nil {
			if hookRetriesLeft > 0 && e.cfg.Hook.OnError(stepID, checkErr) == HookRetry {
				hookRetriesLeft--
				iteration--
				continue
			}
			e.finishStep(def, workspace, StepFailed, result, iteration, checkErr, workflowAbort)
			return
		}
		if complete {
			e.finishStep(def, workspace, StepSucceeded, result, iteration, nil, workflowAbort)
			return
		}
	}

	// Exhausted max_iterations without completing.
	if def.CompletionCheck.OnIterationsExhausted == IterationsContinue {
		e.finishStep(def, workspace, StepIncomplete, lastResult, iteration, nil, workflowAbort)
	} else {
		e.finishStep(def, workspace, StepFailed, lastResult, iteration, fmt.Errorf("completion check never converged"), workflowAbort)
	}
}

// executeWithRetries runs the worker task up to maxRetries times,
// retrying only RETRYABLE_* classes. A FATAL classification overrides
// retry/continue and terminates the attempt loop immediately (spec.md
// §4.11 step 5). The returned error is nil only when the task actually
// succeeded or was cancelled; on_failure disposition is decided by the
// caller, not here.
func (e *Executor) executeWithRetries(def StepDefinition, workspace, stepID string, iteration int, stepAbort *cancel.Token, maxRetries int) (types.WorkerResult, error) {
	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 200 * time.Millisecond
	backOff.MaxInterval = 10 * time.Second

	var result types.WorkerResult
	for attempt := 0; attempt < maxRetries; attempt++ {
		guard := e.newGuard(def, stepID, "executing", iteration, stepAbort)
		guard.Start()

		task := def.Task
		task.WorkspaceRef = workspace
		if task.WorkerTaskID == "" {
			task.WorkerTaskID = ids.NewWorkerTaskID()
		}
		e.cfg.Tracker.TouchStepPhase(stepID, "executing", iteration)
		result = e.cfg.RunStep(task, stepAbort)
		guard.Stop()
		e.cfg.Tracker.Forget(stepID, "executing", iteration)

		if result.Status == types.WorkerSucceeded || result.Status == types.WorkerCancelled {
			return result, nil
		}

		class := ferrors.ErrorClass(result.ErrorClass)
		if class == ferrors.ClassFatal {
			return result, fmt.Errorf("fatal worker error")
		}
		if !class.Retryable() {
			return result, fmt.Errorf("non-retryable worker error: %s", result.ErrorClass)
		}
		if attempt == maxRetries-1 {
			return result, fmt.Errorf("max retries exceeded")
		}

		select {
		case <-time.After(backOff.NextBackOff()):
		case <-stepAbort.Done():
			return result, fmt.Errorf("max retries exceeded")
		}
	}
	return result, fmt.Errorf("max retries exceeded")
}

// runCompletionCheck runs the step's completion-check command and
// reports whether the step is now complete. It reuses the probe
// contract: a "terminal" classification means the check converged and
// no further iterations are needed; "progressing"/"stalled" mean loop
// back for another iteration.
func (e *Executor) runCompletionCheck(def StepDefinition, workspace, stepID string, iteration int, stepAbort *cancel.Token) (bool, error) {
	if e.cfg.Probes == nil || len(def.CompletionCheck.Command) == 0 {
		return true, nil
	}
	guard := e.newGuard(def, stepID, "checking", iteration, stepAbort)
	guard.Start()
	defer guard.Stop()
	e.cfg.Tracker.TouchStepPhase(stepID, "checking", iteration)
	defer e.cfg.Tracker.Forget(stepID, "checking", iteration)

	result, err := e.cfg.Probes.Run(probe.Options{Command: def.CompletionCheck.Command, Cwd: workspace})
	if err != nil {
		return false, err
	}
	return result.Class == probe.ClassTerminal, nil
}

func (e *Executor) newGuard(def StepDefinition, stepID, phase string, iteration int, stepAbort *cancel.Token) *sentinel.Guard {
	return sentinel.NewGuard(sentinel.GuardConfig{
		StepID: stepID, Phase: phase, Iteration: iteration,
		NoOutput:   def.NoOutput,
		NoProgress: def.NoProgress,
	}, e.cfg.Tracker, e.cfg.Probes, e.cfg.Clock, sentinel.Callbacks{
		Interrupt: func(reason string, fingerprints []string) {
			stepAbort.Fire(fmt.Sprintf("sentinel: %s [%v]", reason, fingerprints))
		},
		Fail: func(reason string, class ferrors.ErrorClass, fingerprints []string) {
			stepAbort.Fire(fmt.Sprintf("sentinel-fail: %s [%v]", reason, fingerprints))
		},
		Warn: func(reason string, fingerprints []string) {
			e.cfg.Logger.Warn("sentinel watcher ignored stall", map[string]interface{}{
				"stepId": stepID, "phase": phase, "reason": reason, "fingerprints": fingerprints,
			})
		},
	})
}

func (e *Executor) finishStep(def StepDefinition, workspace string, status StepStatus, result types.WorkerResult, iterations int, err error, workflowAbort *cancel.Token) {
	artifacts, collectErr := collectOutputs(workspace, e.cfg.Def.ContextDir, def.StepID, def.OutputPaths)
	if collectErr == nil {
		result.Artifacts = append(result.Artifacts, artifacts...)
	}

	_ = writeStepMeta(e.cfg.Def.ContextDir, StepMeta{
		StepID: def.StepID, Status: status, WorkerKind: def.Task.WorkerKind,
		Iterations: iterations, ErrorClass: result.ErrorClass, Artifacts: result.Artifacts,
	})

	if status == StepFailed && def.OnFailure == OnFailureContinue {
		e.markContinuedFailure(def.StepID)
	}

	e.dag.setStatus(def.StepID, status)
	outcome := StepOutcome{StepID: def.StepID, Status: status, Result: result, Iterations: iterations, Err: err}
	e.recordOutcome(outcome)

	if e.cfg.Hook.AfterStep(def.StepID, outcome) == HookAbort {
		workflowAbort.Fire(fmt.Sprintf("management hook aborted after step %s", def.StepID))
	}
}
