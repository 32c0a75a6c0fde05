package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validJob() Job {
	return Job{
		JobID:    "j1",
		Type:     JobWorkerTask,
		Priority: Priority{Value: 1, Class: PriorityInteractive},
		Limits:   Limits{TimeoutMs: 5000, MaxAttempts: 3},
	}
}

func TestJobValidate(t *testing.T) {
	j := validJob()
	assert.NoError(t, j.Validate())

	missingID := j
	missingID.JobID = ""
	assert.Error(t, missingID.Validate())

	badType := j
	badType.Type = "BOGUS"
	assert.Error(t, badType.Validate())

	noAttempts := j
	noAttempts.Limits.MaxAttempts = 0
	assert.Error(t, noAttempts.Validate())

	noTimeout := j
	noTimeout.Limits.TimeoutMs = 0
	assert.Error(t, noTimeout.Validate())
}

func TestInferProviderWorkerTask(t *testing.T) {
	j := validJob()
	j.Payload = map[string]any{"workerKind": "CLAUDE_CODE"}
	assert.Equal(t, "CLAUDE_CODE", j.InferProvider())

	j.Payload = nil
	assert.Equal(t, "unknown-worker", j.InferProvider())
}

func TestInferProviderLLM(t *testing.T) {
	j := validJob()
	j.Type = JobLLM
	j.Payload = map[string]any{"model": "claude-opus"}
	assert.Equal(t, "claude-opus", j.InferProvider())

	j.Payload = map[string]any{"provider": "anthropic"}
	assert.Equal(t, "anthropic", j.InferProvider())

	j.Payload = nil
	assert.Equal(t, "unknown-llm", j.InferProvider())
}

func TestInferProviderOther(t *testing.T) {
	j := validJob()
	j.Type = JobShell
	assert.Equal(t, "SHELL", j.InferProvider())
}
