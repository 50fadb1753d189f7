// Package emitter publishes store changes to outputs.
package emitter

import (
	"errors"

	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

// Emitter receives store change batches. It satisfies store.Listener.
// OnChanges may be called while the orchestrator holds its lock, so an
// emitter must never call back into the orchestrator.
type Emitter interface {
	OnChanges(changes []resource.Change)

	// Close cleans up resources.
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// OnChanges forwards the batch to every emitter in order.
func (m *MultiEmitter) OnChanges(changes []resource.Change) {
	for _, e := range m.emitters {
		e.OnChanges(changes)
	}
}

// Close closes all emitters and joins their errors.
func (m *MultiEmitter) Close() error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
