// Package permit implements the PermitGate of spec.md §4.4: the single
// admission-decision composition point over BackpressureController,
// CircuitBreakerRegistry, and ExecutionBudget.
package permit

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentcore/agentcore/backpressure"
	"github.com/agentcore/agentcore/breaker"
	"github.com/agentcore/agentcore/budget"
	"github.com/agentcore/agentcore/cancel"
	"github.com/agentcore/agentcore/ids"
	"github.com/agentcore/agentcore/logging"
	"github.com/agentcore/agentcore/types"
)

// Clock abstracts time.Now; AfterFunc abstracts time.AfterFunc so the
// auto-revoke deadline timer can be driven deterministically in tests.
type Clock func() time.Time

// Timer is the minimal surface of *time.Timer the gate needs.
type Timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) Timer

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool { return r.t.Stop() }

func defaultAfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

// Config wires the three admission checks plus timing dependencies.
type Config struct {
	Budget        *budget.ExecutionBudget
	Breakers      *breaker.Registry
	Backpressure  *backpressure.Controller
	Logger        logging.Logger
	Clock         Clock
	AfterFunc     afterFunc
}

type activePermit struct {
	permit     *types.Permit
	tokens     types.Tokens
	abort      *cancel.Token
	deadline   Timer
}

// Gate is safe for concurrent use.
type Gate struct {
	mu      sync.Mutex
	active  map[string]*activePermit
	cfg     Config
}

// New constructs a Gate from cfg. Budget, Breakers, and Backpressure
// must be non-nil.
func New(cfg Config) *Gate {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = defaultAfterFunc
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	return &Gate{active: make(map[string]*activePermit), cfg: cfg}
}

// RequestPermit implements spec.md §4.4 steps 1-6. It never panics on a
// rejection: rejections are returned as data via PermitRejection.
func (g *Gate) RequestPermit(job types.Job, attemptIndex int) (*types.Permit, *types.PermitRejection) {
	if g.cfg.Backpressure.Check() == backpressure.Reject {
		d := g.cfg.Backpressure.Detail()
		return nil, &types.PermitRejection{
			Reason: types.ReasonGlobalShed,
			Detail: fmt.Sprintf("activePermits=%d queueDepth=%d avgLatencyMs=%.1f", d.ActivePermits, d.QueueDepth, d.AvgLatencyMs),
		}
	}

	provider := job.InferProvider()
	if g.cfg.Breakers.IsProviderOpen(provider) {
		return nil, &types.PermitRejection{Reason: types.ReasonCircuitOpen, Detail: provider}
	}

	if !g.cfg.Budget.CheckAttempts(job, attemptIndex) {
		return nil, &types.PermitRejection{Reason: types.ReasonBudgetExhausted, Detail: "attempts"}
	}

	result := g.cfg.Budget.Consume(job, attemptIndex)
	if result.Rejected {
		detail := ""
		if result.Reason == types.ReasonBudgetExhausted {
			detail = "cost"
		}
		return nil, &types.PermitRejection{Reason: result.Reason, Detail: detail}
	}

	permitID := ids.NewPermitID()
	abort := cancel.NewToken()
	snapshot := g.cfg.Breakers.GetSnapshot()
	deadlineAt := g.cfg.Clock().UnixMilli() + job.Limits.TimeoutMs

	gt := types.GrantedTokens{}
	if result.Tokens.Concurrency {
		gt.Concurrency = 1
	}
	if result.Tokens.Rate {
		gt.RPS = 1
	}
	if result.Tokens.HasCost {
		cost := result.Tokens.Cost
		gt.Cost = &cost
	}

	p := types.NewPermit(permitID, job.JobID, deadlineAt, attemptIndex, gt, snapshot, abort)

	ap := &activePermit{permit: p, tokens: result.Tokens, abort: abort}

	g.mu.Lock()
	g.active[permitID] = ap
	g.mu.Unlock()

	now := g.cfg.Clock()
	delay := time.Duration(deadlineAt-now.UnixMilli()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	ap.deadline = g.cfg.AfterFunc(delay, func() {
		g.RevokePermit(permitID, "deadline expired")
	})

	return p, nil
}

// CompletePermit releases tokens, cancels the deadline timer, and drops
// the entry. Never aborts.
func (g *Gate) CompletePermit(permitID string) {
	g.mu.Lock()
	ap, ok := g.active[permitID]
	if ok {
		delete(g.active, permitID)
	}
	g.mu.Unlock()

	if !ok {
		return
	}
	if ap.deadline != nil {
		ap.deadline.Stop()
	}
	g.cfg.Budget.Release(ap.tokens)
}

// RevokePermit does the same as CompletePermit, additionally firing the
// abort handle with reason.
func (g *Gate) RevokePermit(permitID string, reason string) {
	g.mu.Lock()
	ap, ok := g.active[permitID]
	if ok {
		delete(g.active, permitID)
	}
	g.mu.Unlock()

	if !ok {
		return
	}
	if ap.deadline != nil {
		ap.deadline.Stop()
	}
	ap.abort.Fire(reason)
	g.cfg.Budget.Release(ap.tokens)
}

// Dispose aborts and releases every active permit.
func (g *Gate) Dispose() {
	g.mu.Lock()
	all := make([]string, 0, len(g.active))
	for id := range g.active {
		all = append(all, id)
	}
	g.mu.Unlock()

	for _, id := range all {
		g.RevokePermit(id, "gate disposed")
	}
}

// ActiveCount reports how many permits are currently active, used by
// BackpressureController feedback loops (spec.md §4.3/§4.9).
func (g *Gate) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
