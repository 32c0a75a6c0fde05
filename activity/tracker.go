// Package activity implements the Sentinel activity records of
// spec.md §3: per-(stepId, phase, iteration) timestamps consulted by
// stall watchers (spec.md §4.11's NoOutputWatcher).
package activity

import (
	"fmt"
	"sync"
	"time"
)

// Clock is injectable so tests can control elapsed time deterministically.
type Clock func() time.Time

// Record holds the timestamps (Unix ms) of one (stepId, phase, iteration)
// triple. Each Touch* call stores the clock's current time, so the
// timestamps only move forward as far as the injected clock does; a clock
// that steps backward moves them backward too.
type Record struct {
	LastWorkerOutputTs    int64
	LastStepPhaseTs       int64
	LastStepStateTs       int64
	HasReceivedWorkerEvent bool
}

func key(stepID, phase string, iteration int) string {
	return fmt.Sprintf("%s\x00%s\x00%d", stepID, phase, iteration)
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*Record
	clock   Clock
}

// New creates a Tracker. A nil clock defaults to time.Now.
func New(clock Clock) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{records: make(map[string]*Record), clock: clock}
}

func (t *Tracker) getLocked(stepID, phase string, iteration int) *Record {
	k := key(stepID, phase, iteration)
	r, ok := t.records[k]
	if !ok {
		r = &Record{}
		t.records[k] = r
	}
	return r
}

func (t *Tracker) nowMs() int64 {
	return t.clock().UnixMilli()
}

// TouchWorkerOutput records that worker output was observed for the
// given step/phase/iteration, and marks it as having received at least
// one worker event.
func (t *Tracker) TouchWorkerOutput(stepID, phase string, iteration int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.getLocked(stepID, phase, iteration)
	r.LastWorkerOutputTs = t.nowMs()
	r.HasReceivedWorkerEvent = true
}

// TouchStepPhase records a step-phase transition timestamp.
func (t *Tracker) TouchStepPhase(stepID, phase string, iteration int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.getLocked(stepID, phase, iteration).LastStepPhaseTs = t.nowMs()
}

// TouchStepState records a step-state transition timestamp.
func (t *Tracker) TouchStepState(stepID, phase string, iteration int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.getLocked(stepID, phase, iteration).LastStepStateTs = t.nowMs()
}

// Get returns a copy of the current record for the given triple, and
// whether one exists.
func (t *Tracker) Get(stepID, phase string, iteration int) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[key(stepID, phase, iteration)]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// SinceLastWorkerOutput returns the elapsed time since the last worker
// output for the triple, or ok=false if no worker output has been
// recorded for it yet.
func (t *Tracker) SinceLastWorkerOutput(stepID, phase string, iteration int) (d time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, exists := t.records[key(stepID, phase, iteration)]
	if !exists || r.LastWorkerOutputTs == 0 {
		return 0, false
	}
	elapsed := t.nowMs() - r.LastWorkerOutputTs
	return time.Duration(elapsed) * time.Millisecond, true
}

// Forget removes the record for the given triple, e.g. once a step
// reaches a terminal state and no watcher needs it anymore.
func (t *Tracker) Forget(stepID, phase string, iteration int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, key(stepID, phase, iteration))
}
