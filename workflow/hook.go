package workflow

// HookDecision is what a ManagementHook tells the Executor to do next
// around a step boundary.
type HookDecision string

const (
	// HookProceed lets the Executor continue exactly as if no hook were
	// installed.
	HookProceed HookDecision = "proceed"
	// HookRetry asks the Executor to re-attempt the step's current
	// iteration once more, even though its own retry budget is spent.
	HookRetry HookDecision = "retry"
	// HookAbort asks the Executor to stop admitting further work.
	HookAbort HookDecision = "abort"
)

// ManagementHook is the HITL extension point named in spec.md §1's
// "management agent": a step-lifecycle observer/gate the Executor
// consults before a step starts, after it reaches a terminal status,
// and whenever it fails. Decision logic is out of scope for agentcore
// (spec.md §1); NewAlwaysProceedHook is the shipped default.
type ManagementHook interface {
	// BeforeStep is consulted once a step's dependencies are satisfied,
	// before its workspace is materialized. Returning HookAbort fails
	// the step without running it.
	BeforeStep(stepID string, def StepDefinition) HookDecision
	// AfterStep is consulted once a step reaches any terminal status.
	// Returning HookAbort fires the workflow-level abort so remaining
	// steps are skipped.
	AfterStep(stepID string, outcome StepOutcome) HookDecision
	// OnError is consulted when a step's attempt/retry budget is
	// exhausted with a non-nil error (or its completion check errors),
	// before the step is marked failed. Returning HookRetry re-runs the
	// step's current iteration once more with a fresh MaxRetries attempt
	// budget; this is honoured at most once per step, and OnError is not
	// consulted again after it.
	OnError(stepID string, err error) HookDecision
}

type alwaysProceedHook struct{}

func (alwaysProceedHook) BeforeStep(string, StepDefinition) HookDecision { return HookProceed }
func (alwaysProceedHook) AfterStep(string, StepOutcome) HookDecision    { return HookProceed }
func (alwaysProceedHook) OnError(string, error) HookDecision            { return HookProceed }

// NewAlwaysProceedHook returns the default ManagementHook: every call
// returns HookProceed, so the Executor behaves as if unhooked.
func NewAlwaysProceedHook() ManagementHook { return alwaysProceedHook{} }
