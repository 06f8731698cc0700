package provider

import (
	"sort"
	"sync"

	apperrors "fundsync/internal/errors"
)

// Registry maps provider names to adapters. It is constructed once at
// startup and passed by reference; there is no package-level mutable map.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Registering the same name twice is a conflict.
func (r *Registry) Register(adapter Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := adapter.Name()
	if _, exists := r.adapters[name]; exists {
		return apperrors.Newf(apperrors.ErrCodeConflict, "provider already registered: %s", name)
	}
	r.adapters[name] = adapter
	return nil
}

// Get returns the adapter for a provider name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[name]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeNotFound, "provider not registered: %s", name)
	}
	return adapter, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
