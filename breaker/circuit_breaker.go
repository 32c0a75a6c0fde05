// Package breaker implements the per-provider CircuitBreaker state
// machine and its Registry (spec.md §4.2). The state enum and the
// Logger/metrics collector shape are grounded on
// resilience/circuit_breaker.go; the transition table itself is
// simplified from that file's sliding error-rate design down to the
// spec's exact failureThreshold / resetTimeoutMs / halfOpenMaxAttempts
// rules, because the spec calls for a provider-keyed registry with a
// single concurrent half-open probe, which is a different (simpler,
// more precisely specified) contract than gomind's.
package breaker

import (
	"sync"
	"time"

	"github.com/agentcore/agentcore/logging"
)

// State is the three-state circuit breaker state (spec.md §3).
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MetricsCollector receives circuit breaker telemetry, mirroring
// resilience.MetricsCollector's shape.
type MetricsCollector interface {
	RecordStateChange(name string, from, to State)
	RecordRejection(name string)
}

type noopMetrics struct{}

func (noopMetrics) RecordStateChange(string, State, State) {}
func (noopMetrics) RecordRejection(string)                 {}

// Config configures a single CircuitBreaker.
type Config struct {
	Name               string
	FailureThreshold   int
	ResetTimeoutMs     int64
	HalfOpenMaxAttempts int
	Metrics            MetricsCollector
	Logger             logging.Logger
	Clock              func() time.Time
	AfterFunc          func(d time.Duration, f func()) Timer
}

// Timer abstracts a cancellable timer so CB reset timers obey the timer
// hygiene rule of spec.md §9 (every timer is cancellable and cancelled on
// dispose).
type Timer interface {
	Stop() bool
}

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool { return r.t.Stop() }

func defaultAfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

// CircuitBreaker is safe for concurrent use. Transitions are linearized
// by a single mutex (spec.md §5).
type CircuitBreaker struct {
	mu sync.Mutex

	name                string
	failureThreshold    int
	resetTimeoutMs      int64
	halfOpenMaxAttempts int
	metrics             MetricsCollector
	logger              logging.Logger
	clock               func() time.Time
	afterFunc           func(d time.Duration, f func()) Timer

	state            State
	failureCount     int
	halfOpenAttempts int
	probeInFlight    bool
	resetTimer       Timer
}

// New creates a CLOSED CircuitBreaker.
func New(cfg Config) *CircuitBreaker {
	if cfg.HalfOpenMaxAttempts <= 0 {
		cfg.HalfOpenMaxAttempts = 1
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = defaultAfterFunc
	}
	return &CircuitBreaker{
		name:                cfg.Name,
		failureThreshold:    cfg.FailureThreshold,
		resetTimeoutMs:      cfg.ResetTimeoutMs,
		halfOpenMaxAttempts: cfg.HalfOpenMaxAttempts,
		metrics:             cfg.Metrics,
		logger:              cfg.Logger,
		clock:               cfg.Clock,
		afterFunc:           cfg.AfterFunc,
		state:               Closed,
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ShouldReject implements spec.md §4.2's admission rule: true when OPEN,
// and in HALF_OPEN true while a probe is in flight. The first HALF_OPEN
// call is admitted as the probe; a probe that fails while below the
// half-open attempt limit lets the next call through as a new probe.
func (cb *CircuitBreaker) ShouldReject() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Open:
		cb.metrics.RecordRejection(cb.name)
		return true
	case HalfOpen:
		if cb.probeInFlight {
			cb.metrics.RecordRejection(cb.name)
			return true
		}
		cb.probeInFlight = true
		return false
	default:
		return false
	}
}

// RecordSuccess transitions CLOSED->CLOSED(reset) or HALF_OPEN->CLOSED.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		cb.failureCount = 0
	case HalfOpen:
		cb.transitionLocked(Closed)
		cb.failureCount = 0
		cb.halfOpenAttempts = 0
		cb.probeInFlight = false
	case Open:
		// A success arriving after the breaker reopened (race with the
		// reset timer) is ignored; the breaker's own timer governs the
		// next probe opportunity.
	}
}

// RecordFailure transitions CLOSED->OPEN at failureThreshold, and in
// HALF_OPEN either re-arms OPEN (at halfOpenMaxAttempts) or stays
// HALF_OPEN for another probe.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.transitionLocked(Open)
			cb.armResetTimerLocked()
		}
	case HalfOpen:
		cb.halfOpenAttempts++
		cb.probeInFlight = false
		if cb.halfOpenAttempts >= cb.halfOpenMaxAttempts {
			cb.transitionLocked(Open)
			cb.armResetTimerLocked()
		}
	case Open:
		// already open; nothing to do
	}
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to != HalfOpen {
		cb.probeInFlight = false
	}
	if to == Closed {
		cb.failureCount = 0
		cb.halfOpenAttempts = 0
	}
	cb.metrics.RecordStateChange(cb.name, from, to)
	cb.logger.Info("circuit breaker state change", map[string]interface{}{
		"provider": cb.name,
		"from":     from.String(),
		"to":       to.String(),
	})
}

func (cb *CircuitBreaker) armResetTimerLocked() {
	if cb.resetTimer != nil {
		cb.resetTimer.Stop()
	}
	cb.resetTimer = cb.afterFunc(time.Duration(cb.resetTimeoutMs)*time.Millisecond, func() {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		if cb.state == Open {
			cb.transitionLocked(HalfOpen)
			cb.halfOpenAttempts = 0
			cb.probeInFlight = false
		}
	})
}

// Dispose cancels the pending reset timer, per spec.md §4.2's dispose
// contract and §9's timer hygiene rule.
func (cb *CircuitBreaker) Dispose() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.resetTimer != nil {
		cb.resetTimer.Stop()
		cb.resetTimer = nil
	}
}
