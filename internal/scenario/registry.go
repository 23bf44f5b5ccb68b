package scenario

import (
	"fmt"
	"sort"
	"sync"

	"pgharness/internal/fixerr"
)

// Registry maps logical fixture names to their handles. Each name holds at
// most one handle.
type Registry struct {
	mu      sync.Mutex
	handles map[string]any
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]any)}
}

// GetOrCreate returns the handle stored under name, calling factory to build
// it on first use. A failing factory leaves name unset. Asking for a name
// that holds a handle of another type is a usage error.
//
// The registry lock is held while factory runs, so concurrent callers never
// build the same name twice.
func GetOrCreate[T any](r *Registry, name string, factory func() (T, error)) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if existing, ok := r.handles[name]; ok {
		h, ok := existing.(T)
		if !ok {
			return zero, fixerr.Usage("%q is a %T, not a %T", name, existing, zero)
		}
		return h, nil
	}

	h, err := factory()
	if err != nil {
		return zero, err
	}
	r.handles[name] = h
	return h, nil
}

// Lookup returns the handle stored under name without creating one.
func Lookup[T any](r *Registry, name string) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	existing, ok := r.handles[name]
	if !ok {
		return zero, fixerr.NotFound("no fixture named %q", name)
	}
	h, ok := existing.(T)
	if !ok {
		return zero, fixerr.Usage("%q is a %T, not a %T", name, existing, zero)
	}
	return h, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

func (r *Registry) String() string {
	return fmt.Sprintf("registry%v", r.Names())
}
