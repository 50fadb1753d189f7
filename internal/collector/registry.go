package collector

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	// ErrDuplicateType is returned when a type is registered twice.
	ErrDuplicateType = errors.New("resource type already registered")
	// ErrInvalidDescriptor is returned for descriptors without a type.
	ErrInvalidDescriptor = errors.New("invalid descriptor")
)

// Registration binds a descriptor to its collector.
type Registration struct {
	Descriptor Descriptor
	Collector  Collector
}

// Enrichable reports whether the collector supports Phase 2 describe calls.
func (r Registration) Enrichable() bool {
	_, ok := r.Collector.(Describer)
	return ok
}

// Registry is the lookup table of collectors keyed by resource type.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Register adds a collector for a resource type. Descriptors for services in
// the global catalogue are marked global.
func (r *Registry) Register(d Descriptor, c Collector) error {
	if d.Type == "" || c == nil {
		return fmt.Errorf("%w: type %q", ErrInvalidDescriptor, d.Type)
	}
	if IsGlobalService(d.Service) {
		d.Global = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[d.Type]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateType, d.Type)
	}
	r.entries[d.Type] = Registration{Descriptor: d, Collector: c}
	return nil
}

// MustRegister is Register that panics on error. Intended for static wiring.
func (r *Registry) MustRegister(d Descriptor, c Collector) {
	if err := r.Register(d, c); err != nil {
		panic(err)
	}
}

// Get returns the registration for a type.
func (r *Registry) Get(resourceType string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[resourceType]
	return reg, ok
}

// All returns all registrations sorted by type.
func (r *Registry) All() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]Registration, 0, len(r.entries))
	for _, reg := range r.entries {
		all = append(all, reg)
	}
	slices.SortFunc(all, func(a, b Registration) int {
		switch {
		case a.Descriptor.Type < b.Descriptor.Type:
			return -1
		case a.Descriptor.Type > b.Descriptor.Type:
			return 1
		}
		return 0
	})
	return all
}

// Types returns all registered type names, sorted.
func (r *Registry) Types() []string {
	all := r.All()
	types := make([]string, len(all))
	for i, reg := range all {
		types[i] = reg.Descriptor.Type
	}
	return types
}

// IsGlobal reports whether the type is account-scoped rather than regional.
func (r *Registry) IsGlobal(resourceType string) bool {
	reg, ok := r.Get(resourceType)
	return ok && reg.Descriptor.Global
}

// Enrichable reports whether the type supports Phase 2 describe calls.
func (r *Registry) Enrichable(resourceType string) bool {
	reg, ok := r.Get(resourceType)
	return ok && reg.Enrichable()
}

// Unknown returns the types not present in the registry.
func (r *Registry) Unknown(types []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var unknown []string
	for _, t := range types {
		if _, ok := r.entries[t]; !ok {
			unknown = append(unknown, t)
		}
	}
	return unknown
}
