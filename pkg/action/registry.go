package action

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrActionAlreadyRegistered is returned when an ID is registered twice
	ErrActionAlreadyRegistered = errors.New("action already registered")

	// ErrRegistrySealed is returned when registering after the registry was sealed
	ErrRegistrySealed = errors.New("action registry sealed")

	// ErrActionNil is returned when registering a nil action
	ErrActionNil = errors.New("action is nil")
)

// Registry maps action IDs to actions. It is filled at startup, then sealed
// and shared read-only by every engine.
type Registry struct {
	mu     sync.RWMutex
	items  map[string]Action
	order  []string
	sealed bool
}

// NewRegistry creates an empty action registry
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Action)}
}

// Register adds an action under id. A duplicate id leaves the first
// registration in place.
func (r *Registry) Register(id string, a Action) error {
	if a == nil {
		return ErrActionNil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("register action: empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, id)
	}
	if _, ok := r.items[id]; ok {
		return fmt.Errorf("%w: %s", ErrActionAlreadyRegistered, id)
	}
	r.items[id] = a
	r.order = append(r.order, id)
	return nil
}

// Resolve returns the action registered under id
func (r *Registry) Resolve(id string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[id]
	return a, ok
}

// IDs returns action IDs in registration order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Seal stops further registrations
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Len returns the number of registered actions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
