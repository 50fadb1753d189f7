// Package collector defines the pluggable per-resource-type collector contract.
package collector

import (
	"context"

	"github.com/fibanez/aws-dash-architect-sub001/internal/credentials"
)

// RawRecord is a provider response record before normalization.
type RawRecord map[string]any

// Target is what a collector call is pointed at.
type Target struct {
	AccountID string
	// Region is the region the API call is sent to. Global resource types
	// are queried in the global query region.
	Region      string
	Credentials credentials.Set
}

// Collector lists resources of one type. List must only use cheap, broad
// list calls; per-resource detail belongs in Describe.
type Collector interface {
	List(ctx context.Context, t Target) ([]RawRecord, error)
}

// Describer is implemented by collectors whose type supports enrichment.
type Describer interface {
	Describe(ctx context.Context, t Target, resourceID string) (RawRecord, error)
}

// Descriptor describes a resource type.
type Descriptor struct {
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
	Service     string `json:"service"`
	Global      bool   `json:"global"`
	// IDField and NameField name the record fields holding the resource id
	// and display name. Empty means the normalizer's heuristics apply.
	IDField   string `json:"-"`
	NameField string `json:"-"`
}

// Func adapts a plain function to Collector.
type Func func(ctx context.Context, t Target) ([]RawRecord, error)

// List implements Collector.
func (f Func) List(ctx context.Context, t Target) ([]RawRecord, error) {
	return f(ctx, t)
}

// DescribeFunc pairs a list function with a describe function.
type DescribeFunc struct {
	ListFn     Func
	DescribeFn func(ctx context.Context, t Target, resourceID string) (RawRecord, error)
}

// List implements Collector.
func (d DescribeFunc) List(ctx context.Context, t Target) ([]RawRecord, error) {
	return d.ListFn(ctx, t)
}

// Describe implements Describer.
func (d DescribeFunc) Describe(ctx context.Context, t Target, resourceID string) (RawRecord, error) {
	return d.DescribeFn(ctx, t, resourceID)
}
