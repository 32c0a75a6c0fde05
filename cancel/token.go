// Package cancel implements the cancellation token design note of
// spec.md §9: ambient "abort signal" semantics re-architected as an
// explicit token with subscribe-once listeners, shared by Permits,
// worker handles, and workflow step contexts. It is grounded on the
// register-in-a-map / idempotent-cleanup idiom of
// services/orchestrator/cancellation.go, generalized from a per-workflow
// map into a single reusable primitive.
package cancel

import "sync"

// Token is a one-shot cancellation signal. Firing is idempotent: only the
// first Fire call has effect, and every listener registered before or
// after that call is invoked at most once with the firing reason.
type Token struct {
	mu        sync.Mutex
	fired     bool
	reason    string
	listeners []func(reason string)
	done      chan struct{}
}

// NewToken creates an unfired token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Fire triggers the token. Safe to call multiple times and from multiple
// goroutines; only the first call takes effect.
func (t *Token) Fire(reason string) {
	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.reason = reason
	listeners := t.listeners
	t.listeners = nil
	close(t.done)
	t.mu.Unlock()

	for _, l := range listeners {
		if l != nil {
			l(reason)
		}
	}
}

// Fired reports whether the token has already fired.
func (t *Token) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// Reason returns the reason passed to Fire, or "" if not yet fired.
func (t *Token) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Done returns a channel that is closed when the token fires, mirroring
// context.Context's cancellation idiom so Token composes with select
// statements alongside context-based suspension points.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// OnFire registers a listener invoked once when the token fires. If the
// token has already fired, the listener runs synchronously before OnFire
// returns. The returned unsubscribe func removes the listener if it has
// not yet run; it is a no-op afterward.
func (t *Token) OnFire(listener func(reason string)) (unsubscribe func()) {
	t.mu.Lock()
	if t.fired {
		reason := t.reason
		t.mu.Unlock()
		listener(reason)
		return func() {}
	}

	idx := len(t.listeners)
	t.listeners = append(t.listeners, listener)
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if idx < len(t.listeners) {
			t.listeners[idx] = nil
		}
	}
}

// Child creates a new token that fires automatically when the parent
// fires (parent -> child wiring of spec.md §5), carrying the parent's
// reason unless the child is fired independently first.
func (t *Token) Child() *Token {
	c := NewToken()
	t.OnFire(func(reason string) {
		c.Fire(reason)
	})
	return c
}
