package platform

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type registration struct {
	handle Handle
	active bool
}

// Registry resolves platform references to handles. Activation can be
// toggled at runtime; every Resolve sees the current state.
type Registry struct {
	mu    sync.RWMutex
	items map[string]*registration
}

// NewRegistry creates an empty platform registry
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*registration)}
}

// Register adds a platform under its handle's name
func (r *Registry) Register(h Handle, active bool) error {
	if h == nil {
		return fmt.Errorf("register platform: nil handle")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[h.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrExists, h.Name())
	}
	r.items[h.Name()] = &registration{handle: h, active: active}
	return nil
}

// SetActive enables or disables a registered platform
func (r *Registry) SetActive(name string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.items[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	reg.active = active
	return nil
}

// Resolve returns the handle for ref, or ErrNotFound / ErrNotActive
func (r *Registry) Resolve(ctx context.Context, ref string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.items[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, ref)
	}
	if !reg.active {
		return nil, fmt.Errorf("%w: %q", ErrNotActive, ref)
	}
	return reg.handle, nil
}

// Status describes a registered platform
type Status struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// List returns registered platforms ordered by name
func (r *Registry) List() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.items))
	for name, reg := range r.items {
		out = append(out, Status{Name: name, Active: reg.active})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
