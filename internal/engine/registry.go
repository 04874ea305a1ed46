package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/okarvi/tideflow/pkg/api"
)

// Registry maps decider names to decider functions. Workflow state stores
// only the name; the registry resolves it on every tick.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]api.Decider
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]api.Decider)}
}

// Register adds a decider under the given name.
func (r *Registry) Register(name string, d api.Decider) error {
	if name == "" {
		return fmt.Errorf("decider name is required")
	}
	if d == nil {
		return fmt.Errorf("decider %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("decider already registered: %s", name)
	}
	r.byName[name] = d
	return nil
}

// Get resolves a decider by name.
func (r *Registry) Get(name string) (api.Decider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("decider %q not found", name)
	}
	return d, nil
}

// Names returns the registered decider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
