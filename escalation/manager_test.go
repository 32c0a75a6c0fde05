package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestCrashRateExceedingThresholdIsolatesKind(t *testing.T) {
	clock, _ := fakeClock(time.Unix(1000, 0))
	m := New(Config{CrashThreshold: 2, Clock: clock})

	m.RecordWorkerCrash("claude_code")
	m.RecordWorkerCrash("claude_code")
	m.RecordWorkerCrash("claude_code")

	events := m.Evaluate()
	require.Len(t, events, 1)
	assert.Equal(t, ScopeWorkerKind, events[0].Scope)
	assert.Equal(t, ActionIsolate, events[0].Action)
	assert.Equal(t, SeverityError, events[0].Severity)
	assert.Equal(t, "claude_code", events[0].Target)
}

func TestCrashRateAtButNotOverThresholdDoesNotEscalate(t *testing.T) {
	clock, _ := fakeClock(time.Unix(1000, 0))
	m := New(Config{CrashThreshold: 3, Clock: clock})

	m.RecordWorkerCrash("claude_code")
	m.RecordWorkerCrash("claude_code")
	m.RecordWorkerCrash("claude_code")

	events := m.Evaluate()
	assert.Empty(t, events)
}

func TestCrashTimestampsOutsideWindowAreTrimmed(t *testing.T) {
	clock, advance := fakeClock(time.Unix(1000, 0))
	m := New(Config{CrashThreshold: 1, WindowMs: 60000, Clock: clock})

	m.RecordWorkerCrash("claude_code")
	m.RecordWorkerCrash("claude_code")
	advance(90 * time.Second)

	events := m.Evaluate()
	assert.Empty(t, events, "stale crashes outside the 60s window must not count")
}

func TestCancelTimeoutAlwaysEmitsGhostWarning(t *testing.T) {
	clock, _ := fakeClock(time.Unix(1000, 0))
	m := New(Config{Clock: clock})

	m.RecordCancelTimeout("codex_cli")
	events := m.Evaluate()

	require.Len(t, events, 1)
	assert.Equal(t, ScopeWorkerKind, events[0].Scope)
	assert.Equal(t, SeverityWarning, events[0].Severity)
	assert.Contains(t, events[0].Reason, "ghost")
}

func TestCancelTimeoutSetClearsAfterEvaluate(t *testing.T) {
	clock, _ := fakeClock(time.Unix(1000, 0))
	m := New(Config{Clock: clock})

	m.RecordCancelTimeout("codex_cli")
	m.Evaluate()
	events := m.Evaluate() // second call: the transient set was cleared
	assert.Empty(t, events)
}

func TestLatestWinsAtThresholdStopsWorkspace(t *testing.T) {
	clock, _ := fakeClock(time.Unix(1000, 0))
	m := New(Config{LatestWinsThreshold: 3, Clock: clock})

	m.RecordLatestWins("/ws/a")
	m.RecordLatestWins("/ws/a")
	m.RecordLatestWins("/ws/a")

	events := m.Evaluate()
	require.Len(t, events, 1)
	assert.Equal(t, ScopeWorkspace, events[0].Scope)
	assert.Equal(t, ActionStop, events[0].Action)
	assert.Equal(t, "/ws/a", events[0].Target)
}

func TestTwoKindsWithIssuesAlsoEmitsGlobalFatal(t *testing.T) {
	clock, _ := fakeClock(time.Unix(1000, 0))
	m := New(Config{CrashThreshold: 0, Clock: clock})

	m.RecordWorkerCrash("claude_code")
	m.RecordCancelTimeout("codex_cli")

	events := m.Evaluate()
	var scopes []Scope
	for _, e := range events {
		scopes = append(scopes, e.Scope)
	}
	assert.Contains(t, scopes, ScopeGlobal)

	for _, e := range events {
		if e.Scope == ScopeGlobal {
			assert.Equal(t, SeverityFatal, e.Severity)
			assert.Equal(t, ActionStop, e.Action)
		}
	}
}

func TestSingleKindIssueDoesNotEmitGlobal(t *testing.T) {
	clock, _ := fakeClock(time.Unix(1000, 0))
	m := New(Config{CrashThreshold: 0, Clock: clock})

	m.RecordWorkerCrash("claude_code")
	events := m.Evaluate()

	for _, e := range events {
		assert.NotEqual(t, ScopeGlobal, e.Scope)
	}
}

func TestOnEscalationListenerReceivesEvents(t *testing.T) {
	clock, _ := fakeClock(time.Unix(1000, 0))
	m := New(Config{CrashThreshold: 0, Clock: clock})

	var received []Event
	m.OnEscalation(func(e Event) { received = append(received, e) })

	m.RecordWorkerCrash("claude_code")
	m.Evaluate()

	require.Len(t, received, 1)
	assert.Equal(t, "claude_code", received[0].Target)
}

func TestGetHistoryReturnsDefensiveCopy(t *testing.T) {
	clock, _ := fakeClock(time.Unix(1000, 0))
	m := New(Config{CrashThreshold: 0, Clock: clock})
	m.RecordWorkerCrash("claude_code")
	m.Evaluate()

	hist := m.GetHistory()
	hist[0].Target = "tampered"

	hist2 := m.GetHistory()
	assert.Equal(t, "claude_code", hist2[0].Target)
}

func TestResetClearsAllState(t *testing.T) {
	clock, _ := fakeClock(time.Unix(1000, 0))
	m := New(Config{CrashThreshold: 0, Clock: clock})
	m.RecordWorkerCrash("claude_code")
	m.Evaluate()
	require.NotEmpty(t, m.GetHistory())

	m.Reset()
	assert.Empty(t, m.GetHistory())

	m.RecordWorkerCrash("claude_code")
	events := m.Evaluate()
	assert.Len(t, events, 1, "reset state should allow a fresh crash to escalate again")
}
