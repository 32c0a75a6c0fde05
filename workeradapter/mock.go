package workeradapter

import (
	"sync"
	"time"

	"github.com/agentcore/agentcore/cancel"
	"github.com/agentcore/agentcore/types"
)

// MockResult lets tests script the outcome MockAdapter returns for a
// given WorkerTaskID.
type MockResult struct {
	Result types.WorkerResult
	Events []Event
	Delay  time.Duration
}

// MockAdapter is a WorkerKind=MOCK adapter with no process spawning,
// used by workflow/gateway tests that need deterministic worker
// behavior (spec.md §4.6's MOCK kind).
type MockAdapter struct {
	mu       sync.Mutex
	scripted map[string]MockResult
	handles  map[string]*Handle
	nowFn    func() time.Time
}

// NewMockAdapter constructs an empty MockAdapter.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		scripted: make(map[string]MockResult),
		handles:  make(map[string]*Handle),
		nowFn:    time.Now,
	}
}

// Script registers the canned outcome for a future StartTask call with
// the given WorkerTaskID.
func (m *MockAdapter) Script(workerTaskID string, result MockResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted[workerTaskID] = result
}

func (m *MockAdapter) Kind() types.WorkerKind { return types.WorkerMock }

func (m *MockAdapter) StartTask(task types.WorkerTask) (*Handle, error) {
	abort := cancel.NewToken()
	h := &Handle{HandleID: task.WorkerTaskID, WorkerKind: types.WorkerMock, Abort: abort}
	m.mu.Lock()
	m.handles[h.HandleID] = h
	m.mu.Unlock()
	return h, nil
}

func (m *MockAdapter) StreamEvents(handle *Handle) <-chan Event {
	m.mu.Lock()
	scripted, ok := m.scripted[handle.HandleID]
	m.mu.Unlock()

	ch := make(chan Event, len(scripted.Events)+1)
	if ok {
		for _, e := range scripted.Events {
			ch <- e
		}
	}
	close(ch)
	return ch
}

func (m *MockAdapter) Cancel(handle *Handle) {
	handle.Abort.Fire("cancelled")
}

func (m *MockAdapter) AwaitResult(handle *Handle) types.WorkerResult {
	m.mu.Lock()
	scripted, ok := m.scripted[handle.HandleID]
	m.mu.Unlock()

	if handle.Abort.Fired() {
		return types.WorkerResult{Status: types.WorkerCancelled}
	}
	if scripted.Delay > 0 {
		time.Sleep(scripted.Delay)
	}
	if !ok {
		return types.WorkerResult{Status: types.WorkerSucceeded}
	}
	return scripted.Result
}
