// Package tasks holds the named task registry: stable, human-readable names
// mapped to job targets. The HTTP API and the schedule layer submit work by
// name; the scheduler itself never sees names, only targets.
package tasks

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNotFound  = errors.New("task not found")
	ErrDuplicate = errors.New("task already registered")
	ErrEmptyName = errors.New("task name required")
	ErrNilTarget = errors.New("task target is nil")
)

// Registry maps task names to scheduler targets. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]any
}

func NewRegistry() *Registry {
	return &Registry{tasks: map[string]any{}}
}

// Register adds a named target. Registering the same name twice is an error;
// use Replace for deliberate upserts.
func (r *Registry) Register(name string, target any) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if target == nil {
		return ErrNilTarget
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	r.tasks[name] = target
	return nil
}

// Replace upserts a named target.
func (r *Registry) Replace(name string, target any) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if target == nil {
		return ErrNilTarget
	}
	r.mu.Lock()
	r.tasks[name] = target
	r.mu.Unlock()
	return nil
}

// Get returns the target registered under name.
func (r *Registry) Get(name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return t, nil
}

// List returns all registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for n := range r.tasks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Remove deletes a registration. Unknown names are a no-op.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	delete(r.tasks, strings.TrimSpace(name))
	r.mu.Unlock()
}

// Clear drops all registrations. Useful in tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.tasks = map[string]any{}
	r.mu.Unlock()
}
