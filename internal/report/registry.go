package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/smileynet/vizcache/internal/loop"
)

// BackendConfig is passed to backend factories.
type BackendConfig struct {
	Server  ServerDescriptor
	Fixture string // backend-specific source, e.g. a simulator fixture path
}

// Factory creates a Manager bound to sched.
type Factory func(cfg BackendConfig, sched loop.Scheduler) (Manager, error)

// Registry maps backend names to factory functions.
// It is not safe for concurrent use; registration should happen at startup.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a named backend factory. Overwrites if name already exists.
// Panics if name is empty or f is nil (programmer error).
func (r *Registry) Register(name string, f Factory) {
	if name == "" {
		panic("report: Register called with empty name")
	}
	if f == nil {
		panic("report: Register called with nil factory")
	}
	r.factories[name] = f
}

// NewManager instantiates a backend by name.
func (r *Registry) NewManager(name string, cfg BackendConfig, sched loop.Scheduler) (Manager, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, &UnknownBackendError{
			Name:      name,
			Available: r.Backends(),
		}
	}
	m, err := f(cfg, sched)
	if err != nil {
		return nil, fmt.Errorf("report: backend %q: %w", name, err)
	}
	return m, nil
}

// Backends returns registered backend names in sorted order.
func (r *Registry) Backends() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownBackendError indicates a backend name is not registered.
type UnknownBackendError struct {
	Name      string
	Available []string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("report: unknown backend %q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}
