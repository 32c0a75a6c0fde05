package workflow

import (
	"github.com/agentcore/agentcore/sentinel"
	"github.com/agentcore/agentcore/types"
)

// OnFailure controls what happens when a step exhausts its retries
// (spec.md §4.11).
type OnFailure string

const (
	OnFailureRetry    OnFailure = "retry"
	OnFailureContinue OnFailure = "continue"
	OnFailureAbort    OnFailure = "abort"
)

// OnIterationsExhausted controls the terminal decision when a
// completion-check loop runs out of iterations.
type OnIterationsExhausted string

const (
	IterationsAbort    OnIterationsExhausted = "abort"
	IterationsContinue OnIterationsExhausted = "continue"
)

// InputRef names one producer artifact a step materializes into its own
// workspace before running (spec.md §4.11 step 1).
type InputRef struct {
	From     string // producer stepId
	Artifact string
	As       string // optional rename; defaults to Artifact
}

// DirName returns the workspace-relative directory name this input is
// materialized under.
func (r InputRef) DirName() string {
	if r.As != "" {
		return r.As
	}
	return r.Artifact
}

// CompletionCheck configures a step's check-and-loop-back behavior.
type CompletionCheck struct {
	Command               []string
	MaxIterations         int
	OnIterationsExhausted OnIterationsExhausted
}

// StepDefinition is one node of a WorkflowDefinition.
type StepDefinition struct {
	StepID      string
	DependsOn   []string
	Inputs      []InputRef
	OutputPaths map[string]string // artifactName -> path within the worker workspace

	Task types.WorkerTask // WorkspaceRef is resolved/overridden per run

	MaxRetries      int
	OnFailure       OnFailure
	CompletionCheck *CompletionCheck

	NoOutput   sentinel.NoOutputConfig
	NoProgress sentinel.NoProgressConfig
}

// WorkflowDefinition is the executable form of a parsed workflow file.
type WorkflowDefinition struct {
	RunID       string
	Steps       []StepDefinition
	Concurrency int   // 0 = unbounded
	TimeoutMs   int64 // 0 disables the workflow-level timeout
	ContextDir  string
}

// StepByID returns the step with the given id by scanning Steps in order.
func (w WorkflowDefinition) StepByID(id string) (StepDefinition, bool) {
	for _, s := range w.Steps {
		if s.StepID == id {
			return s, true
		}
	}
	return StepDefinition{}, false
}
