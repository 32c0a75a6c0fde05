package workeradapter

import "github.com/agentcore/agentcore/types"

// Registry resolves an Adapter for a WorkerKind (spec.md §4.8 step 1).
type Registry struct {
	adapters map[types.WorkerKind]Adapter
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[types.WorkerKind]Adapter)}
}

// Register installs adapter for its own Kind().
func (r *Registry) Register(adapter Adapter) {
	r.adapters[adapter.Kind()] = adapter
}

// Resolve returns the adapter for kind, or false if none is registered.
func (r *Registry) Resolve(kind types.WorkerKind) (Adapter, bool) {
	a, ok := r.adapters[kind]
	return a, ok
}
