// Package types holds the data model shared across agentcore's
// subsystems (spec.md §3): Job, Permit, WorkerTask, WorkerResult, and
// their supporting enums. Types here are immutable after construction
// except where the owning subsystem documents otherwise.
package types

import "github.com/agentcore/agentcore/ferrors"

// JobType identifies what kind of work a Job represents.
type JobType string

const (
	JobLLM        JobType = "LLM"
	JobWorkerTask JobType = "WORKER_TASK"
	JobShell      JobType = "SHELL"
	JobOther      JobType = "OTHER"
)

// PriorityClass groups jobs for scheduling fairness.
type PriorityClass string

const (
	PriorityInteractive PriorityClass = "INTERACTIVE"
	PriorityBatch       PriorityClass = "BATCH"
	PriorityBackground  PriorityClass = "BACKGROUND"
)

// Priority is a job's scheduling priority.
type Priority struct {
	Value int           `json:"value"`
	Class PriorityClass `json:"class"`
}

// Limits bounds a job's execution.
type Limits struct {
	TimeoutMs   int64    `json:"timeoutMs"`
	MaxAttempts int      `json:"maxAttempts"`
	CostHint    *float64 `json:"costHint,omitempty"`
}

// JobContext carries tracing correlation identifiers.
type JobContext struct {
	TraceID       string `json:"traceId"`
	CorrelationID string `json:"correlationId"`
}

// Job is immutable after submission (spec.md §3).
type Job struct {
	JobID    string         `json:"jobId"`
	Type     JobType        `json:"type"`
	Priority Priority       `json:"priority"`
	Payload  map[string]any `json:"payload,omitempty"`
	Limits   Limits         `json:"limits"`
	Context  JobContext     `json:"context"`
}

// Validate enforces the minimal invariants a Job must satisfy before it
// can be admitted to the Permit Gate.
func (j Job) Validate() error {
	if j.JobID == "" {
		return ferrors.New("job.Validate", "validation", ferrors.ErrInvalidConfiguration)
	}
	switch j.Type {
	case JobLLM, JobWorkerTask, JobShell, JobOther:
	default:
		return ferrors.New("job.Validate", "validation", ferrors.ErrInvalidConfiguration)
	}
	if j.Limits.MaxAttempts <= 0 {
		return ferrors.New("job.Validate", "validation", ferrors.ErrInvalidConfiguration)
	}
	if j.Limits.TimeoutMs <= 0 {
		return ferrors.New("job.Validate", "validation", ferrors.ErrInvalidConfiguration)
	}
	return nil
}

// InferProvider derives the circuit-breaker provider identity for a job
// (spec.md §4.2): workerKind for WORKER_TASK jobs, an explicit "provider"
// or "model" payload field for LLM jobs, and the job type itself
// otherwise.
func (j Job) InferProvider() string {
	if j.Type == JobWorkerTask {
		if v, ok := j.Payload["workerKind"].(string); ok && v != "" {
			return v
		}
		return "unknown-worker"
	}
	if j.Type == JobLLM {
		if v, ok := j.Payload["provider"].(string); ok && v != "" {
			return v
		}
		if v, ok := j.Payload["model"].(string); ok && v != "" {
			return v
		}
		return "unknown-llm"
	}
	return string(j.Type)
}
