package emitter

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

// PrometheusEmitter turns store changes into metrics. Exposition goes
// through whichever OTEL reader the meter provider carries, usually the
// Prometheus exporter.
type PrometheusEmitter struct {
	meter metric.Meter

	resourceInfo         metric.Int64ObservableGauge
	resourcesByType      metric.Int64ObservableGauge
	resourceChangesTotal metric.Int64Counter
	registration         metric.Registration

	mu        sync.RWMutex
	resources map[resource.Identity]info
}

// info is the label set of one resource in the resource_info gauge.
type info struct {
	name   string
	status string
	tags   []resource.Tag
}

// NewPrometheusEmitter creates a Prometheus emitter. A nil meter uses the
// global meter provider.
func NewPrometheusEmitter(meter metric.Meter) (*PrometheusEmitter, error) {
	if meter == nil {
		meter = otel.Meter("github.com/fibanez/aws-dash-architect-sub001/internal/emitter")
	}

	e := &PrometheusEmitter{
		meter:     meter,
		resources: make(map[resource.Identity]info),
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return e, nil
}

func (e *PrometheusEmitter) initMetrics() error {
	var err error

	e.resourceInfo, err = e.meter.Int64ObservableGauge(
		"discovery_resource_info",
		metric.WithDescription("Discovered cloud resource information"),
	)
	if err != nil {
		return fmt.Errorf("create resource_info gauge: %w", err)
	}

	e.resourcesByType, err = e.meter.Int64ObservableGauge(
		"discovery_resources",
		metric.WithDescription("Resources held in the store by account, region and type"),
	)
	if err != nil {
		return fmt.Errorf("create resources gauge: %w", err)
	}

	e.resourceChangesTotal, err = e.meter.Int64Counter(
		"discovery_resource_changes_total",
		metric.WithDescription("Total resource changes detected"),
	)
	if err != nil {
		return fmt.Errorf("create resource_changes counter: %w", err)
	}

	e.registration, err = e.meter.RegisterCallback(e.observe, e.resourceInfo, e.resourcesByType)
	if err != nil {
		return fmt.Errorf("register gauge callback: %w", err)
	}

	return nil
}

// OnChanges implements Emitter.
func (e *PrometheusEmitter) OnChanges(changes []resource.Change) {
	ctx := context.Background()

	e.mu.Lock()
	for _, c := range changes {
		switch c.Type {
		case resource.ChangeRemoved:
			delete(e.resources, c.Identity)
		default:
			if c.Entry != nil {
				e.resources[c.Identity] = info{
					name:   c.Entry.DisplayName,
					status: c.Entry.Status,
					tags:   append([]resource.Tag(nil), c.Entry.Tags...),
				}
			}
		}
	}
	e.mu.Unlock()

	for _, c := range changes {
		e.resourceChangesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("account_id", c.Identity.AccountID),
			attribute.String("region", c.Identity.Region),
			attribute.String("resource_type", c.Identity.ResourceType),
			attribute.String("change_type", string(c.Type)),
		))
	}
}

func (e *PrometheusEmitter) observe(_ context.Context, o metric.Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	counts := make(map[resource.QueryKey]int64)
	for id, r := range e.resources {
		counts[id.Key()]++

		attrs := []attribute.KeyValue{
			attribute.String("id", id.ResourceID),
			attribute.String("resource_type", id.ResourceType),
			attribute.String("account_id", id.AccountID),
			attribute.String("region", id.Region),
			attribute.String("status", r.status),
		}
		if r.name != "" {
			attrs = append(attrs, attribute.String("name", r.name))
		}
		for _, t := range r.tags {
			if t.Value != "" {
				attrs = append(attrs, attribute.String("tag_"+t.Key, t.Value))
			}
		}
		o.ObserveInt64(e.resourceInfo, 1, metric.WithAttributes(attrs...))
	}

	for k, n := range counts {
		o.ObserveInt64(e.resourcesByType, n, metric.WithAttributes(
			attribute.String("account_id", k.AccountID),
			attribute.String("region", k.Region),
			attribute.String("resource_type", k.ResourceType),
		))
	}
	return nil
}

// Close unregisters the gauge callback.
func (e *PrometheusEmitter) Close() error {
	return e.registration.Unregister()
}
