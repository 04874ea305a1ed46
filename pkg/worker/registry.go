package worker

import (
	"context"
	"fmt"
	"sync"
)

// ActivityFunc is a user-defined side-effecting operation executed on behalf
// of an exec task. Input is the decoded "input" field of the task's code
// payload. Handlers may be retried; they should be idempotent.
type ActivityFunc func(ctx context.Context, input any) (any, error)

// ActivityRegistry maps activity action names to handlers. It is an
// engine-scoped dependency: construct one per worker fleet and pass it in,
// rather than sharing module-level state.
type ActivityRegistry struct {
	mu       sync.RWMutex
	byAction map[string]ActivityFunc
}

// NewActivityRegistry creates an empty ActivityRegistry.
func NewActivityRegistry() *ActivityRegistry {
	return &ActivityRegistry{byAction: make(map[string]ActivityFunc)}
}

// Register adds a handler for an action name.
func (r *ActivityRegistry) Register(action string, fn ActivityFunc) error {
	if action == "" {
		return fmt.Errorf("activity action is required")
	}
	if fn == nil {
		return fmt.Errorf("activity %q handler is nil", action)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byAction[action]; exists {
		return fmt.Errorf("activity already registered: %s", action)
	}
	r.byAction[action] = fn
	return nil
}

// MustRegister is Register, panicking on error.
func (r *ActivityRegistry) MustRegister(action string, fn ActivityFunc) {
	if err := r.Register(action, fn); err != nil {
		panic(err)
	}
}

// Get resolves a handler by action name.
func (r *ActivityRegistry) Get(action string) (ActivityFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.byAction[action]
	return fn, ok
}
