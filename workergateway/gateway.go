// Package workergateway implements the WorkerDelegationGateway of
// spec.md §4.8: the single entry point that resolves an adapter,
// serializes access to a workspace, wires permit-driven cancellation,
// and tears everything down exactly once regardless of outcome.
package workergateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentcore/agentcore/ferrors"
	"github.com/agentcore/agentcore/types"
	"github.com/agentcore/agentcore/workeradapter"
	"github.com/agentcore/agentcore/workspacelock"
)

// Clock/Timer/AfterFunc mirror the injectable-timer seam used
// throughout the runtime (budget, breaker, procmanager).
type Clock func() time.Time

type Timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) Timer

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool { return r.t.Stop() }

func defaultAfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

// Options configures one delegateTask/delegateTaskWithEvents call.
type Options struct {
	AcquireTimeoutMs int64 // default 30000
}

// EventSink receives forwarded worker events for delegateTaskWithEvents.
type EventSink func(e workeradapter.Event)

// Gateway is safe for concurrent use.
type Gateway struct {
	mu        sync.Mutex
	registry  *workeradapter.Registry
	lock      *workspacelock.Lock
	active    map[string]*workeradapter.Handle
	clock     Clock
	afterFunc afterFunc
}

// Config wires the Gateway's dependencies.
type Config struct {
	Registry  *workeradapter.Registry
	Lock      *workspacelock.Lock // nil disables workspace locking
	Clock     Clock
	AfterFunc afterFunc
}

// New constructs a Gateway.
func New(cfg Config) *Gateway {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = defaultAfterFunc
	}
	return &Gateway{
		registry:  cfg.Registry,
		lock:      cfg.Lock,
		active:    make(map[string]*workeradapter.Handle),
		clock:     cfg.Clock,
		afterFunc: cfg.AfterFunc,
	}
}

// DelegateTask runs spec.md §4.8 steps 1-7.
func (g *Gateway) DelegateTask(task types.WorkerTask, permitID string, deadlineAt int64, abort AbortSignal, opts Options) (types.WorkerResult, error) {
	adapter, ok := g.registry.Resolve(task.WorkerKind)
	if !ok {
		return types.WorkerResult{}, ferrors.New("workergateway.DelegateTask", "worker", fmt.Errorf("no adapter registered for kind %s", task.WorkerKind))
	}

	acquireTimeout := opts.AcquireTimeoutMs
	if acquireTimeout <= 0 {
		acquireTimeout = 30000
	}

	if g.lock != nil {
		if !g.lock.WaitForLock(task.WorkspaceRef, permitID, acquireTimeout) {
			return types.WorkerResult{}, ferrors.New("workergateway.DelegateTask", "worker", ferrors.ErrLockTimeout)
		}
	}
	releaseLock := func() {
		if g.lock != nil {
			g.lock.Release(task.WorkspaceRef, permitID)
		}
	}

	handle, err := adapter.StartTask(task)
	if err != nil {
		releaseLock()
		return types.WorkerResult{}, err
	}

	g.mu.Lock()
	g.active[handle.HandleID] = handle
	g.mu.Unlock()

	var unsubscribe func()
	if abort != nil {
		if abort.Fired() {
			adapter.Cancel(handle)
		} else {
			unsubscribe = abort.OnFire(func(reason string) {
				adapter.Cancel(handle)
			})
		}
	}

	var deadlineTimer Timer
	now := g.clock().UnixMilli()
	if deadlineAt <= now {
		if abort == nil || !abort.Fired() {
			adapter.Cancel(handle)
		}
	} else {
		deadlineTimer = g.afterFunc(time.Duration(deadlineAt-now)*time.Millisecond, func() {
			adapter.Cancel(handle)
		})
	}

	defer func() {
		if deadlineTimer != nil {
			deadlineTimer.Stop()
		}
		g.mu.Lock()
		delete(g.active, handle.HandleID)
		g.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		releaseLock()
	}()

	result := adapter.AwaitResult(handle)
	return result, nil
}

// DelegateTaskWithEvents additionally consumes StreamEvents concurrently
// with AwaitResult, forwarding each event to onEvent, and waits at most
// 1 second after the result for the stream to drain.
func (g *Gateway) DelegateTaskWithEvents(task types.WorkerTask, permitID string, deadlineAt int64, abort AbortSignal, opts Options, onEvent EventSink) (types.WorkerResult, error) {
	adapter, ok := g.registry.Resolve(task.WorkerKind)
	if !ok {
		return types.WorkerResult{}, ferrors.New("workergateway.DelegateTaskWithEvents", "worker", fmt.Errorf("no adapter registered for kind %s", task.WorkerKind))
	}

	acquireTimeout := opts.AcquireTimeoutMs
	if acquireTimeout <= 0 {
		acquireTimeout = 30000
	}

	if g.lock != nil {
		if !g.lock.WaitForLock(task.WorkspaceRef, permitID, acquireTimeout) {
			return types.WorkerResult{}, ferrors.New("workergateway.DelegateTaskWithEvents", "worker", ferrors.ErrLockTimeout)
		}
	}
	releaseLock := func() {
		if g.lock != nil {
			g.lock.Release(task.WorkspaceRef, permitID)
		}
	}

	handle, err := adapter.StartTask(task)
	if err != nil {
		releaseLock()
		return types.WorkerResult{}, err
	}

	g.mu.Lock()
	g.active[handle.HandleID] = handle
	g.mu.Unlock()

	var unsubscribe func()
	if abort != nil {
		if abort.Fired() {
			adapter.Cancel(handle)
		} else {
			unsubscribe = abort.OnFire(func(reason string) {
				adapter.Cancel(handle)
			})
		}
	}

	var deadlineTimer Timer
	now := g.clock().UnixMilli()
	if deadlineAt > now {
		deadlineTimer = g.afterFunc(time.Duration(deadlineAt-now)*time.Millisecond, func() {
			adapter.Cancel(handle)
		})
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for e := range adapter.StreamEvents(handle) {
			if onEvent != nil {
				onEvent(e)
			}
		}
	}()

	defer func() {
		if deadlineTimer != nil {
			deadlineTimer.Stop()
		}
		g.mu.Lock()
		delete(g.active, handle.HandleID)
		g.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		releaseLock()
	}()

	result := adapter.AwaitResult(handle)

	select {
	case <-drained:
	case <-time.After(1 * time.Second):
	}

	return result, nil
}

// AbortSignal is the minimal surface the gateway needs from a permit's
// abort handle.
type AbortSignal interface {
	OnFire(listener func(reason string)) (unsubscribe func())
	Fired() bool
}

// GetActiveWorkerCount exposes the live worker-handle count.
func (g *Gateway) GetActiveWorkerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}

// CancelAll concurrently cancels every active handle via its adapter
// and awaits all outcomes (spec.md §4.8).
func (g *Gateway) CancelAll() {
	g.mu.Lock()
	handles := make([]*workeradapter.Handle, 0, len(g.active))
	for _, h := range g.active {
		handles = append(handles, h)
	}
	g.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		adapter, ok := g.registry.Resolve(h.WorkerKind)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(adapter workeradapter.Adapter, h *workeradapter.Handle) {
			defer wg.Done()
			adapter.Cancel(h)
		}(adapter, h)
	}
	wg.Wait()
}
