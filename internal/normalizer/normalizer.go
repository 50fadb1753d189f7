// Package normalizer turns raw collector records into resource entries.
package normalizer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fibanez/aws-dash-architect-sub001/internal/collector"
	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

// ErrNoIdentifier is returned when no resource id can be derived.
var ErrNoIdentifier = errors.New("record has no resource identifier")

// Context carries what a record alone does not say about itself.
type Context struct {
	Descriptor collector.Descriptor
	AccountID  string
	// Region is the key region, resource.GlobalRegion for global types.
	Region    string
	QueriedAt time.Time
}

// Normalizer converts one raw record.
type Normalizer interface {
	Normalize(rec collector.RawRecord, c Context) (resource.Entry, error)
}

// Func adapts a function to Normalizer.
type Func func(rec collector.RawRecord, c Context) (resource.Entry, error)

// Normalize implements Normalizer.
func (f Func) Normalize(rec collector.RawRecord, c Context) (resource.Entry, error) {
	return f(rec, c)
}

// Registry maps resource types to normalizers. Types without a dedicated
// normalizer use the default heuristics.
type Registry struct {
	mu       sync.RWMutex
	byType   map[string]Normalizer
	fallback Normalizer
}

// NewRegistry creates a registry that falls back to Default.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[string]Normalizer), fallback: Default{}}
}

// Register sets the normalizer for a type.
func (r *Registry) Register(resourceType string, n Normalizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[resourceType] = n
}

// For returns the normalizer used for a type.
func (r *Registry) For(resourceType string) Normalizer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n, ok := r.byType[resourceType]; ok {
		return n
	}
	return r.fallback
}

// NormalizeAll converts every record of one listing. Records that cannot be
// normalized are skipped and reported in the returned error slice.
func (r *Registry) NormalizeAll(recs []collector.RawRecord, c Context) ([]resource.Entry, []error) {
	n := r.For(c.Descriptor.Type)
	entries := make([]resource.Entry, 0, len(recs))
	var errs []error
	for i, rec := range recs {
		e, err := n.Normalize(rec, c)
		if err != nil {
			errs = append(errs, fmt.Errorf("normalize record %d of %s: %w", i, c.Descriptor.Type, err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, errs
}
