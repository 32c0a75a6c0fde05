package permit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/agentcore/backpressure"
	"github.com/agentcore/agentcore/breaker"
	"github.com/agentcore/agentcore/budget"
	"github.com/agentcore/agentcore/types"
)

type manualTimer struct {
	fn      func()
	stopped bool
}

func (m *manualTimer) Stop() bool {
	was := m.stopped
	m.stopped = true
	return !was
}

func testGate(t *testing.T) (*Gate, func()) {
	t.Helper()
	b := budget.New(budget.Config{MaxConcurrency: 10, MaxRPS: 100})
	reg := breaker.NewRegistry(func(provider string) *breaker.CircuitBreaker {
		return breaker.New(breaker.Config{Name: provider, FailureThreshold: 3, ResetTimeoutMs: 10000})
	})
	bp := backpressure.New(backpressure.Thresholds{})

	var pending []*manualTimer
	cfg := Config{
		Budget:       b,
		Breakers:     reg,
		Backpressure: bp,
		AfterFunc: func(d time.Duration, f func()) Timer {
			mt := &manualTimer{fn: f}
			pending = append(pending, mt)
			return mt
		},
	}
	g := New(cfg)
	fire := func() {
		for _, mt := range pending {
			if !mt.stopped {
				mt.stopped = true
				mt.fn()
			}
		}
		pending = nil
	}
	return g, fire
}

func validJob(id string) types.Job {
	return types.Job{
		JobID:    id,
		Type:     types.JobWorkerTask,
		Priority: types.Priority{Value: 1, Class: types.PriorityInteractive},
		Payload:  map[string]any{"workerKind": "claude_code"},
		Limits:   types.Limits{TimeoutMs: 60000, MaxAttempts: 3},
	}
}

func TestRequestPermitGrantsAndComposesFields(t *testing.T) {
	g, _ := testGate(t)
	job := validJob("job-1")

	p, rej := g.RequestPermit(job, 0)
	require.Nil(t, rej)
	require.NotNil(t, p)
	assert.Equal(t, "job-1", p.JobID)
	assert.Equal(t, 1, p.TokensGranted.Concurrency)
	assert.NotNil(t, p.Abort())
	assert.False(t, p.Abort().Fired())
}

func TestRequestPermitRejectsOnGlobalShed(t *testing.T) {
	g, _ := testGate(t)
	g.cfg.Backpressure.UpdateMetrics(backpressure.Metrics{ActivePermits: 1000})

	_, rej := g.RequestPermit(validJob("job-1"), 0)
	require.NotNil(t, rej)
	assert.Equal(t, types.ReasonGlobalShed, rej.Reason)
}

func TestRequestPermitRejectsOnCircuitOpen(t *testing.T) {
	g, _ := testGate(t)
	g.cfg.Breakers.Get("claude_code").RecordFailure()
	g.cfg.Breakers.Get("claude_code").RecordFailure()
	g.cfg.Breakers.Get("claude_code").RecordFailure()

	_, rej := g.RequestPermit(validJob("job-1"), 0)
	require.NotNil(t, rej)
	assert.Equal(t, types.ReasonCircuitOpen, rej.Reason)
	assert.Equal(t, "claude_code", rej.Detail)
}

func TestRequestPermitRejectsOnAttemptsExhausted(t *testing.T) {
	g, _ := testGate(t)
	job := validJob("job-1")

	_, rej := g.RequestPermit(job, 3) // maxAttempts=3, so index 3 is exhausted
	require.NotNil(t, rej)
	assert.Equal(t, types.ReasonBudgetExhausted, rej.Reason)
}

func TestRequestPermitRejectsOnConcurrencyLimit(t *testing.T) {
	b := budget.New(budget.Config{MaxConcurrency: 1, MaxRPS: 100})
	reg := breaker.NewRegistry(func(provider string) *breaker.CircuitBreaker {
		return breaker.New(breaker.Config{Name: provider, FailureThreshold: 3, ResetTimeoutMs: 10000})
	})
	bp := backpressure.New(backpressure.Thresholds{})
	g := New(Config{Budget: b, Breakers: reg, Backpressure: bp, AfterFunc: func(d time.Duration, f func()) Timer {
		return &manualTimer{fn: f}
	}})

	_, rej1 := g.RequestPermit(validJob("job-1"), 0)
	require.Nil(t, rej1)

	_, rej2 := g.RequestPermit(validJob("job-2"), 0)
	require.NotNil(t, rej2)
	assert.Equal(t, types.ReasonConcurrencyLimit, rej2.Reason)
}

func TestCompletePermitReleasesTokensAndCancelsTimer(t *testing.T) {
	g, _ := testGate(t)
	job := validJob("job-1")

	p, rej := g.RequestPermit(job, 0)
	require.Nil(t, rej)
	assert.Equal(t, 1, g.ActiveCount())

	g.CompletePermit(p.PermitID)
	assert.Equal(t, 0, g.ActiveCount())
	assert.False(t, p.Abort().Fired())
	assert.Equal(t, 0, g.cfg.Budget.GetActiveSlots())
}

func TestRevokePermitFiresAbortAndReleases(t *testing.T) {
	g, _ := testGate(t)
	p, rej := g.RequestPermit(validJob("job-1"), 0)
	require.Nil(t, rej)

	g.RevokePermit(p.PermitID, "cancelled by caller")
	assert.True(t, p.Abort().Fired())
	assert.Equal(t, "cancelled by caller", p.Abort().Reason())
	assert.Equal(t, 0, g.ActiveCount())
}

func TestDeadlineTimerAutoRevokes(t *testing.T) {
	g, fire := testGate(t)
	p, rej := g.RequestPermit(validJob("job-1"), 0)
	require.Nil(t, rej)

	fire()
	assert.True(t, p.Abort().Fired())
	assert.Equal(t, "deadline expired", p.Abort().Reason())
	assert.Equal(t, 0, g.ActiveCount())
}

func TestDisposeAbortsAndReleasesAllActivePermits(t *testing.T) {
	g, _ := testGate(t)
	p1, _ := g.RequestPermit(validJob("job-1"), 0)
	p2, _ := g.RequestPermit(validJob("job-2"), 0)

	g.Dispose()
	assert.True(t, p1.Abort().Fired())
	assert.True(t, p2.Abort().Fired())
	assert.Equal(t, 0, g.ActiveCount())
}

func TestDoubleCompleteIsSafe(t *testing.T) {
	g, _ := testGate(t)
	p, _ := g.RequestPermit(validJob("job-1"), 0)

	g.CompletePermit(p.PermitID)
	assert.NotPanics(t, func() {
		g.CompletePermit(p.PermitID)
	})
}
