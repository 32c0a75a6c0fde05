package ipc

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentcore/agentcore/ferrors"
	"github.com/agentcore/agentcore/logging"
)

// HandlerFunc processes one inbound frame that was not claimed by a
// pending WaitForResponse call.
type HandlerFunc func(frame Frame)

// Protocol is a duplex dispatcher over a Transport (spec.md §4.12): it
// reads frames in a background goroutine, routes requestId-carrying
// frames to whichever WaitForResponse call is waiting on that id, and
// routes everything else to a type-keyed handler.
type Protocol struct {
	mu             sync.Mutex
	transport      *Transport
	handlers       map[string]HandlerFunc
	pending        map[string]chan Frame
	defaultTimeout time.Duration
	logger         logging.Logger

	started bool
	stopped bool
	stopCh  chan struct{}
	readerWG sync.WaitGroup
}

// NewProtocol wraps transport. defaultTimeout is used by WaitForResponse
// when called with timeoutMs<=0; it defaults to 30s if zero.
func NewProtocol(transport *Transport, defaultTimeout time.Duration, logger logging.Logger) *Protocol {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Protocol{
		transport:      transport,
		handlers:       make(map[string]HandlerFunc),
		pending:        make(map[string]chan Frame),
		defaultTimeout: defaultTimeout,
		logger:         logger,
		stopCh:         make(chan struct{}),
	}
}

// OnType registers handler for every inbound frame of the given type
// that is not consumed by a pending WaitForResponse.
func (p *Protocol) OnType(typ string, handler HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[typ] = handler
}

// Start begins reading frames in the background. Idempotent.
func (p *Protocol) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.readerWG.Add(1)
	go p.readLoop()
}

func (p *Protocol) readLoop() {
	defer p.readerWG.Done()
	for {
		frame, ok := p.transport.ReadFrame()
		if !ok {
			p.rejectAllPending()
			return
		}
		select {
		case <-p.stopCh:
			return
		default:
		}
		p.dispatch(frame)
	}
}

func (p *Protocol) dispatch(frame Frame) {
	requestID := frame.RequestID()
	if requestID != "" {
		p.mu.Lock()
		ch, ok := p.pending[requestID]
		if ok {
			delete(p.pending, requestID)
		}
		p.mu.Unlock()
		if ok {
			ch <- frame
			close(ch)
			return
		}
	}

	p.mu.Lock()
	handler, ok := p.handlers[frame.Type()]
	p.mu.Unlock()
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("ipc handler panicked", map[string]interface{}{
				"type": frame.Type(), "panic": fmt.Sprint(r),
			})
		}
	}()
	handler(frame)
}

// Stop signals the reader goroutine to exit once its current read
// returns (it does not wait for that read) and rejects every pending
// WaitForResponse with ErrIpcTimeout. Idempotent.
func (p *Protocol) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.stopCh)
	p.rejectAllPending()
}

func (p *Protocol) rejectAllPending() {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[string]chan Frame)
	p.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

// WaitForResponse blocks until a frame with the given requestId is
// dispatched, the protocol is stopped, or timeoutMs elapses (defaulting
// to the protocol's defaultTimeout when <= 0). On timeout or stop it
// returns ferrors.ErrIpcTimeout.
func (p *Protocol) WaitForResponse(requestID string, timeoutMs int64) (Frame, error) {
	timeout := p.defaultTimeout
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}

	ch := make(chan Frame, 1)
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, ferrors.ErrIpcTimeout
	}
	p.pending[requestID] = ch
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame, ok := <-ch:
		if !ok {
			return nil, ferrors.ErrIpcTimeout
		}
		return frame, nil
	case <-timer.C:
		p.mu.Lock()
		delete(p.pending, requestID)
		p.mu.Unlock()
		return nil, ferrors.ErrIpcTimeout
	case <-p.stopCh:
		return nil, ferrors.ErrIpcTimeout
	}
}

// Send writes frame to the transport.
func (p *Protocol) Send(frame Frame) error {
	return p.transport.WriteFrame(frame)
}
