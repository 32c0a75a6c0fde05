// Package budget implements ExecutionBudget (spec.md §4.1): the three
// independent token pools (concurrency, rate, cost) plus the per-job
// attempt counter that the PermitGate composes into a single admission
// decision. Mutations are guarded by a single mutex per spec.md §5.
package budget

import (
	"sync"
	"time"

	"github.com/agentcore/agentcore/types"
)

// Clock abstracts time.Now for deterministic tests, following the
// teacher's pattern of injecting a monotonic clock rather than calling
// time.Now directly inside business logic.
type Clock func() time.Time

// Config configures an ExecutionBudget.
type Config struct {
	MaxConcurrency int
	MaxRPS         int
	MaxCostBudget  *float64 // nil disables cost accounting
	Clock          Clock    // defaults to time.Now
}

// ExecutionBudget is safe for concurrent use.
type ExecutionBudget struct {
	mu sync.Mutex

	maxConcurrency int
	activeSlots    int

	maxRPS      int
	rateWindow  []time.Time

	maxCost    *float64
	usedCost   float64

	attempts map[string]int // jobID -> attempts already consumed

	clock Clock
}

// New creates an ExecutionBudget from cfg.
func New(cfg Config) *ExecutionBudget {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ExecutionBudget{
		maxConcurrency: cfg.MaxConcurrency,
		maxRPS:         cfg.MaxRPS,
		maxCost:        cfg.MaxCostBudget,
		attempts:       make(map[string]int),
		clock:          clock,
	}
}

// GetActiveSlots returns the number of concurrency slots currently held.
// Used by tests to assert quiescence (spec.md §8 invariant 1).
func (b *ExecutionBudget) GetActiveSlots() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeSlots
}

// CheckAttempts reports whether attemptIndex is still within
// job.Limits.MaxAttempts (spec.md §4.1).
func (b *ExecutionBudget) CheckAttempts(job types.Job, attemptIndex int) bool {
	return attemptIndex < job.Limits.MaxAttempts
}

// tryAcquireConcurrency attempts to take one concurrency slot.
func (b *ExecutionBudget) tryAcquireConcurrency() bool {
	if b.maxConcurrency > 0 && b.activeSlots >= b.maxConcurrency {
		return false
	}
	b.activeSlots++
	return true
}

func (b *ExecutionBudget) releaseConcurrency() {
	if b.activeSlots > 0 {
		b.activeSlots--
	}
}

// tryAcquireRate appends now() iff the sliding 1-second window holds
// fewer than maxRPS entries (spec.md §4.1).
func (b *ExecutionBudget) tryAcquireRate() bool {
	if b.maxRPS <= 0 {
		return true
	}
	now := b.clock()
	cutoff := now.Add(-1 * time.Second)
	kept := b.rateWindow[:0]
	for _, t := range b.rateWindow {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.rateWindow = kept
	if len(b.rateWindow) >= b.maxRPS {
		return false
	}
	b.rateWindow = append(b.rateWindow, now)
	return true
}

// tryAcquireCost tentatively reserves cost c against the budget.
func (b *ExecutionBudget) tryAcquireCost(c float64) bool {
	if b.maxCost == nil || c <= 0 {
		return true
	}
	if b.usedCost+c > *b.maxCost {
		return false
	}
	b.usedCost += c
	return true
}

func (b *ExecutionBudget) releaseCost(c float64) {
	if b.maxCost == nil || c <= 0 {
		return
	}
	b.usedCost -= c
	if b.usedCost < 0 {
		b.usedCost = 0
	}
}

// CanIssue is the composite non-mutating check of spec.md §4.1.
func (b *ExecutionBudget) CanIssue(job types.Job, attempt int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.CheckAttempts(job, attempt) {
		return false
	}
	if b.maxConcurrency > 0 && b.activeSlots >= b.maxConcurrency {
		return false
	}
	if b.maxRPS > 0 && b.rateHeadroom() <= 0 {
		return false
	}
	if b.maxCost != nil && job.Limits.CostHint != nil {
		if b.usedCost+*job.Limits.CostHint > *b.maxCost {
			return false
		}
	}
	return true
}

func (b *ExecutionBudget) rateHeadroom() int {
	now := b.clock()
	cutoff := now.Add(-1 * time.Second)
	count := 0
	for _, t := range b.rateWindow {
		if t.After(cutoff) {
			count++
		}
	}
	return b.maxRPS - count
}

// ConsumeResult reports which sub-check rejected consumption, if any.
type ConsumeResult struct {
	Tokens   types.Tokens
	Rejected bool
	Reason   types.RejectionReason
}

// Consume performs all acquisitions atomically: on any failure, every
// partial acquisition already taken is released before returning
// (spec.md §4.1 and §4.4 step 4's concurrency->rate->cost rejection
// mapping).
func (b *ExecutionBudget) Consume(job types.Job, attemptIndex int) ConsumeResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.CheckAttempts(job, attemptIndex) {
		return ConsumeResult{Rejected: true, Reason: types.ReasonBudgetExhausted}
	}

	if !b.tryAcquireConcurrency() {
		return ConsumeResult{Rejected: true, Reason: types.ReasonConcurrencyLimit}
	}

	if !b.tryAcquireRate() {
		b.releaseConcurrency()
		return ConsumeResult{Rejected: true, Reason: types.ReasonRateLimit}
	}

	var cost float64
	var hasCost bool
	if job.Limits.CostHint != nil {
		cost = *job.Limits.CostHint
		hasCost = true
		if !b.tryAcquireCost(cost) {
			b.releaseConcurrency()
			// Drop the rate entry this call appended, so a rejected
			// Consume leaves the sliding window as it found it.
			if b.maxRPS > 0 {
				b.rateWindow = b.rateWindow[:len(b.rateWindow)-1]
			}
			return ConsumeResult{Rejected: true, Reason: types.ReasonBudgetExhausted}
		}
	}

	b.attempts[job.JobID] = attemptIndex + 1

	return ConsumeResult{
		Tokens: types.Tokens{
			Concurrency: true,
			Rate:        true,
			Cost:        cost,
			HasCost:     hasCost,
		},
	}
}

// Release reverses a prior successful Consume.
func (b *ExecutionBudget) Release(tokens types.Tokens) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tokens.Concurrency {
		b.releaseConcurrency()
	}
	if tokens.HasCost {
		b.releaseCost(tokens.Cost)
	}
	// Rate tokens are never released: the sliding window must reflect
	// that the slot was actually used, per spec.md §4.1.
}
