// Package escalation implements the EscalationManager of spec.md §4.10:
// records fatal-class events and evaluates them into EscalationEvents
// that drive worker-kind isolation or full shutdown.
package escalation

import (
	"sync"
	"time"
)

// Scope is where an EscalationEvent applies.
type Scope string

const (
	ScopeWorkerKind Scope = "WORKER_KIND"
	ScopeWorkspace  Scope = "WORKSPACE"
	ScopeGlobal     Scope = "GLOBAL"
)

// Action is what the caller should do in response to an EscalationEvent.
type Action string

const (
	ActionIsolate Action = "ISOLATE"
	ActionStop    Action = "STOP"
)

// Severity ranks an EscalationEvent.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// Event is one escalation decision (spec.md §4.10).
type Event struct {
	Scope     Scope
	Action    Action
	Target    string
	Reason    string
	Timestamp int64
	Severity  Severity
}

// Config configures a Manager.
type Config struct {
	CrashThreshold      int
	LatestWinsThreshold int
	WindowMs            int64 // default 60000
	Clock               func() time.Time
}

// Manager is safe for concurrent use.
type Manager struct {
	mu sync.Mutex
	cfg Config

	crashTimestamps  map[string][]int64
	cancelTimeouts   map[string]bool
	latestWinsCounts map[string]int

	history   []Event
	listeners []func(Event)
}

// New constructs a Manager from cfg.
func New(cfg Config) *Manager {
	if cfg.WindowMs <= 0 {
		cfg.WindowMs = 60000
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Manager{
		cfg:              cfg,
		crashTimestamps:  make(map[string][]int64),
		cancelTimeouts:   make(map[string]bool),
		latestWinsCounts: make(map[string]int),
	}
}

// RecordWorkerCrash appends a crash timestamp for kind.
func (m *Manager) RecordWorkerCrash(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.crashTimestamps[kind] = append(m.crashTimestamps[kind], m.cfg.Clock().UnixMilli())
}

// RecordCancelTimeout marks kind as having produced a ghost process: a
// cancel that never produced an exit.
func (m *Manager) RecordCancelTimeout(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimeouts[kind] = true
}

// RecordLatestWins increments the overwrite-loss counter for
// workspacePath.
func (m *Manager) RecordLatestWins(workspacePath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestWinsCounts[workspacePath]++
}

// Evaluate runs spec.md §4.10's rules, trims the crash window, clears
// the transient cancelTimeout set, and notifies listeners of any new
// events.
func (m *Manager) Evaluate() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.cfg.Clock().UnixMilli()
	cutoff := now - m.cfg.WindowMs

	var events []Event
	kindsWithIssues := make(map[string]bool)

	for kind, timestamps := range m.crashTimestamps {
		kept := timestamps[:0]
		for _, ts := range timestamps {
			if ts >= cutoff {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(m.crashTimestamps, kind)
			continue
		}
		m.crashTimestamps[kind] = kept
		if len(kept) > m.cfg.CrashThreshold {
			events = append(events, Event{
				Scope: ScopeWorkerKind, Action: ActionIsolate, Target: kind,
				Reason: "crash rate exceeded threshold", Timestamp: now, Severity: SeverityError,
			})
			kindsWithIssues[kind] = true
		}
	}

	for kind := range m.cancelTimeouts {
		events = append(events, Event{
			Scope: ScopeWorkerKind, Action: ActionIsolate, Target: kind,
			Reason: "ghost process: cancel did not produce an exit", Timestamp: now, Severity: SeverityWarning,
		})
		kindsWithIssues[kind] = true
	}
	m.cancelTimeouts = make(map[string]bool)

	for workspace, count := range m.latestWinsCounts {
		if count >= m.cfg.LatestWinsThreshold {
			events = append(events, Event{
				Scope: ScopeWorkspace, Action: ActionStop, Target: workspace,
				Reason: "workspace repeatedly lost to concurrent overwrites", Timestamp: now, Severity: SeverityError,
			})
		}
	}

	if len(kindsWithIssues) >= 2 {
		events = append(events, Event{
			Scope: ScopeGlobal, Action: ActionStop, Target: "",
			Reason: "issues span multiple worker kinds", Timestamp: now, Severity: SeverityFatal,
		})
	}

	m.history = append(m.history, events...)
	for _, e := range events {
		for _, l := range m.listeners {
			l(e)
		}
	}

	return events
}

// OnEscalation registers a listener invoked for every new Event
// produced by Evaluate.
func (m *Manager) OnEscalation(cb func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, cb)
}

// GetHistory returns a defensive copy of every Event ever evaluated.
func (m *Manager) GetHistory() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.history))
	copy(out, m.history)
	return out
}

// Reset clears all recorded and historical state.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.crashTimestamps = make(map[string][]int64)
	m.cancelTimeouts = make(map[string]bool)
	m.latestWinsCounts = make(map[string]int)
	m.history = nil
}
