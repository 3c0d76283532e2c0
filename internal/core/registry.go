package core

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

var (
	ErrNotFound = errors.New("instance not found")
	ErrExists   = errors.New("instance already registered")
)

// Registry maps instance names to engines. It is the explicit, caller-owned
// replacement for process-wide machine lookup: send actions resolve their
// target here.
//
// The registry itself is safe for concurrent use; the engines it holds are
// not.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]*Engine
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{engines: map[string]*Engine{}}
}

// Register adds e under its name.
func (r *Registry) Register(e *Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[e.name]; ok {
		return fmt.Errorf("%w: %q", ErrExists, e.name)
	}
	r.engines[e.name] = e
	return nil
}

// Lookup returns the engine registered under name.
func (r *Registry) Lookup(name string) (*Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return e, nil
}

// Remove drops name from the registry.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	delete(r.engines, name)
	return nil
}

// Names lists registered instance names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.engines))
}
