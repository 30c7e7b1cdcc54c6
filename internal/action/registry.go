package action

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps action type names to handlers. It is populated at startup
// and frozen before the engine starts dispatching.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	frozen   bool
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for actionType.
func (r *Registry) Register(actionType string, h Handler) error {
	if actionType == "" {
		return fmt.Errorf("action type cannot be empty")
	}
	if h == nil {
		return fmt.Errorf("handler for %s cannot be nil", actionType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %s: %w", actionType, ErrRegistryFrozen)
	}
	if _, exists := r.handlers[actionType]; exists {
		return fmt.Errorf("register %s: %w", actionType, ErrDuplicateHandler)
	}
	r.handlers[actionType] = h
	return nil
}

// MustRegister is Register for startup code, panicking on error.
func (r *Registry) MustRegister(actionType string, h Handler) {
	if err := r.Register(actionType, h); err != nil {
		panic(err)
	}
}

// Resolve returns the handler for actionType or a *HandlerNotFoundError.
func (r *Registry) Resolve(actionType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[actionType]
	if !ok {
		return nil, &HandlerNotFoundError{ActionType: actionType}
	}
	return h, nil
}

// Has implements rule.ActionTypes
func (r *Registry) Has(actionType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[actionType]
	return ok
}

// Types returns the registered action types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}
