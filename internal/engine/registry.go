// Package engine runs workflow graphs: a registry of named action handlers
// and an executor that walks the node graph honoring conditional edges and
// per-node retry policies.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler is an action implementation. params carries the node's templated
// parameters; ec is the mutable execution context shared across the run.
type Handler func(ctx context.Context, params map[string]any, ec map[string]any) error

// ErrFrozen is returned when registering on a frozen registry.
var ErrFrozen = fmt.Errorf("action registry is frozen")

// Registry maps action names to handlers. It is populated at startup and
// frozen before the first execution runs; registration after Freeze fails.
type Registry struct {
	mu       sync.RWMutex
	frozen   bool
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to an action name, replacing any previous binding.
func (r *Registry) Register(name string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	r.handlers[name] = h
	return nil
}

// Freeze marks the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Resolve looks up the handler for an action name.
func (r *Registry) Resolve(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
