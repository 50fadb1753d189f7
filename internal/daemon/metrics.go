package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds daemon cycle metrics using OTEL semantic conventions
type Metrics struct {
	cycles        metric.Int64Counter
	cycleDuration metric.Float64Histogram
	cycleEntries  metric.Int64Gauge
	cycleFailures metric.Int64Gauge
	scopeChanges  metric.Int64Counter
}

// NewMetrics creates daemon metrics on meter. A nil meter uses the global
// meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter("discover.daemon")
	}

	cycles, err := meter.Int64Counter(
		"discover.daemon.cycles",
		metric.WithDescription("Number of discovery cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	cycleDuration, err := meter.Float64Histogram(
		"discover.daemon.cycle.duration",
		metric.WithDescription("Duration of discovery cycles"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	cycleEntries, err := meter.Int64Gauge(
		"discover.daemon.cycle.entries",
		metric.WithDescription("Entries listed by the last discovery cycle"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	cycleFailures, err := meter.Int64Gauge(
		"discover.daemon.cycle.failures",
		metric.WithDescription("Units that failed in the last discovery cycle"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, err
	}

	scopeChanges, err := meter.Int64Counter(
		"discover.daemon.scope.changes",
		metric.WithDescription("Query keys added to or removed from the scope"),
		metric.WithUnit("{key}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		cycles:        cycles,
		cycleDuration: cycleDuration,
		cycleEntries:  cycleEntries,
		cycleFailures: cycleFailures,
		scopeChanges:  scopeChanges,
	}, nil
}

// RecordCycle records a finished cycle.
func (m *Metrics) RecordCycle(ctx context.Context, rep CycleReport) {
	status := "success"
	switch {
	case rep.Err != "":
		status = "error"
	case rep.Failures > 0:
		status = "partial"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))

	m.cycles.Add(ctx, 1, attrs)
	m.cycleDuration.Record(ctx, rep.Duration.Seconds(), attrs)
	m.cycleEntries.Record(ctx, int64(rep.Entries))
	m.cycleFailures.Record(ctx, int64(rep.Failures))
}

// RecordScopeChange records keys entering and leaving the scope.
func (m *Metrics) RecordScopeChange(ctx context.Context, added, removed int) {
	if added > 0 {
		m.scopeChanges.Add(ctx, int64(added), metric.WithAttributes(attribute.String("change.type", "added")))
	}
	if removed > 0 {
		m.scopeChanges.Add(ctx, int64(removed), metric.WithAttributes(attribute.String("change.type", "removed")))
	}
}
