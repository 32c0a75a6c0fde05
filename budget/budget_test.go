package budget

import (
	"testing"
	"time"

	"github.com/agentcore/agentcore/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func job(id string, maxAttempts int) types.Job {
	return types.Job{
		JobID:  id,
		Type:   types.JobWorkerTask,
		Limits: types.Limits{TimeoutMs: 1000, MaxAttempts: maxAttempts},
	}
}

func TestConcurrencyLimitBoundary(t *testing.T) {
	b := New(Config{MaxConcurrency: 2, MaxRPS: 1000})

	r1 := b.Consume(job("a", 5), 0)
	require.False(t, r1.Rejected)
	r2 := b.Consume(job("b", 5), 0)
	require.False(t, r2.Rejected)

	r3 := b.Consume(job("c", 5), 0)
	require.True(t, r3.Rejected)
	assert.Equal(t, types.ReasonConcurrencyLimit, r3.Reason)

	b.Release(r1.Tokens)
	r4 := b.Consume(job("d", 5), 0)
	assert.False(t, r4.Rejected)
	assert.Equal(t, 2, b.GetActiveSlots())
}

func TestRateLimitBoundary(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := New(Config{MaxConcurrency: 1000, MaxRPS: 3, Clock: clock})

	for i := 0; i < 3; i++ {
		r := b.Consume(job("j", 10), 0)
		require.False(t, r.Rejected, "grant %d should succeed", i)
		b.Release(r.Tokens)
	}

	r := b.Consume(job("j2", 10), 0)
	assert.True(t, r.Rejected)
	assert.Equal(t, types.ReasonRateLimit, r.Reason)

	now = now.Add(1100 * time.Millisecond)
	r2 := b.Consume(job("j3", 10), 0)
	assert.False(t, r2.Rejected)
}

func TestAttemptBudgetExhausted(t *testing.T) {
	b := New(Config{MaxConcurrency: 10, MaxRPS: 100})
	j := job("attempt-job", 2)

	r := b.Consume(j, 1) // attemptIndex == maxAttempts-1 is still allowed
	require.False(t, r.Rejected)

	r2 := b.Consume(j, 2) // attemptIndex == maxAttempts -> rejected
	assert.True(t, r2.Rejected)
	assert.Equal(t, types.ReasonBudgetExhausted, r2.Reason)
}

func TestCostBudgetExhausted(t *testing.T) {
	max := 10.0
	b := New(Config{MaxConcurrency: 10, MaxRPS: 100, MaxCostBudget: &max})

	hint := 7.0
	j := job("cost-job", 5)
	j.Limits.CostHint = &hint

	r1 := b.Consume(j, 0)
	require.False(t, r1.Rejected)

	hint2 := 5.0
	j2 := job("cost-job-2", 5)
	j2.Limits.CostHint = &hint2
	r2 := b.Consume(j2, 0)
	assert.True(t, r2.Rejected)
	assert.Equal(t, types.ReasonBudgetExhausted, r2.Reason)

	b.Release(r1.Tokens)
	r3 := b.Consume(j2, 0)
	assert.False(t, r3.Rejected)
}

func TestReleaseIsSafeAfterPartialFailure(t *testing.T) {
	b := New(Config{MaxConcurrency: 1, MaxRPS: 100})
	r1 := b.Consume(job("only", 5), 0)
	require.False(t, r1.Rejected)

	r2 := b.Consume(job("blocked", 5), 0)
	require.True(t, r2.Rejected)
	assert.Equal(t, 1, b.GetActiveSlots(), "failed consume must not leak a concurrency slot")
}
