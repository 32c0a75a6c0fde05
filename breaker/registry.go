package breaker

import "sync"

// Registry holds breakers keyed by provider identity (spec.md §4.2).
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	newCB    func(provider string) *CircuitBreaker
}

// NewRegistry creates a Registry that lazily constructs a breaker for
// each newly seen provider using newCB.
func NewRegistry(newCB func(provider string) *CircuitBreaker) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		newCB:    newCB,
	}
}

// Get returns the breaker for provider, creating it if necessary.
func (r *Registry) Get(provider string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[provider]; ok {
		return cb
	}
	cb := r.newCB(provider)
	r.breakers[provider] = cb
	return cb
}

// IsProviderOpen implements the spec-mandated rule: reject iff the job's
// target provider is OPEN (spec.md §4.2's "Design choice" and the
// resolved Open Question #1 in DESIGN.md) — not a global isAnyOpen
// fallback.
func (r *Registry) IsProviderOpen(provider string) bool {
	return r.Get(provider).ShouldReject()
}

// IsAnyOpen reports whether any registered breaker is strictly OPEN (not
// HALF_OPEN). Exposed for callers that want the global view, but the
// PermitGate does not use it for admission per spec.md §4.4.
func (r *Registry) IsAnyOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cb := range r.breakers {
		if cb.State() == Open {
			return true
		}
	}
	return false
}

// GetSnapshot returns a map of provider -> current state string.
func (r *Registry) GetSnapshot() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := make(map[string]string, len(r.breakers))
	for name, cb := range r.breakers {
		snap[name] = cb.State().String()
	}
	return snap
}

// Dispose cancels all pending timers across every registered breaker.
func (r *Registry) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cb := range r.breakers {
		cb.Dispose()
	}
}
