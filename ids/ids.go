// Package ids generates the identifiers used throughout agentcore (job,
// permit, worker-task, worker-handle, workflow-run ids), following the
// prefixed-uuid convention the teacher uses for agent and task ids.
package ids

import "github.com/google/uuid"

// New returns a prefixed, globally unique identifier, e.g. New("job") ->
// "job_3f1c1e9e-...".
func New(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

func NewJobID() string         { return New("job") }
func NewPermitID() string      { return New("permit") }
func NewWorkerTaskID() string  { return New("wtask") }
func NewHandleID() string      { return New("handle") }
func NewWorkflowRunID() string { return New("run") }
func NewLockID() string        { return New("lock") }
func NewRequestID() string     { return New("req") }
