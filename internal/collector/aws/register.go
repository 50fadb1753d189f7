package aws

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/fibanez/aws-dash-architect-sub001/internal/collector"
)

type (
	listFunc     func(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error)
	describeFunc func(ctx context.Context, c *clients, wait waitFunc, id string) (collector.RawRecord, error)
)

// definition binds a resource type to its list and optional describe call.
type definition struct {
	descriptor collector.Descriptor
	list       listFunc
	describe   describeFunc
}

func definitions() []definition {
	defs := slices.Concat(computeDefinitions(), dataDefinitions(), globalDefinitions())
	slices.SortFunc(defs, func(a, b definition) int {
		return strings.Compare(a.descriptor.Type, b.descriptor.Type)
	})
	return defs
}

type lister struct {
	factory *Factory
	def     definition
}

// List implements collector.Collector.
func (l *lister) List(ctx context.Context, t collector.Target) ([]collector.RawRecord, error) {
	return l.def.list(ctx, l.factory.clients(t), l.factory.waiter(t, l.def.descriptor.Service))
}

type describer struct {
	lister
}

// Describe implements collector.Describer.
func (d *describer) Describe(ctx context.Context, t collector.Target, resourceID string) (collector.RawRecord, error) {
	return d.def.describe(ctx, d.factory.clients(t), d.factory.waiter(t, d.def.descriptor.Service), resourceID)
}

// Register adds every AWS collector to the registry.
func Register(reg *collector.Registry, f *Factory) error {
	for _, def := range definitions() {
		var c collector.Collector = &lister{factory: f, def: def}
		if def.describe != nil {
			c = &describer{lister{factory: f, def: def}}
		}
		if err := reg.Register(def.descriptor, c); err != nil {
			return fmt.Errorf("register %s: %w", def.descriptor.Type, err)
		}
	}
	return nil
}

// Types lists the resource types this package can collect.
func Types() []collector.Descriptor {
	defs := definitions()
	out := make([]collector.Descriptor, len(defs))
	for i, d := range defs {
		out[i] = d.descriptor
	}
	return out
}
