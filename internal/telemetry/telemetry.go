// Package telemetry provides OpenTelemetry instrumentation for discovery.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/fibanez/aws-dash-architect-sub001/internal/classifier"
	"github.com/fibanez/aws-dash-architect-sub001/internal/config"
)

const instrumentationName = "github.com/fibanez/aws-dash-architect-sub001"

// Provider wraps OTEL tracer and meter providers and records the discovery
// metrics.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	queryDuration metric.Float64Histogram
	resources     metric.Int64Counter
	retries       metric.Int64Counter
	failures      metric.Int64Counter
}

// Option configures a Provider.
type Option func(*options)

type options struct {
	readers []sdkmetric.Reader
	global  bool
}

// WithMetricReader adds a metric reader, such as the Prometheus exporter.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *options) { o.readers = append(o.readers, r) }
}

// WithoutGlobal keeps the providers out of the otel globals.
func WithoutGlobal() Option {
	return func(o *options) { o.global = false }
}

// NewProvider creates a new telemetry provider.
func NewProvider(ctx context.Context, cfg config.OTELConfig, opts ...Option) (*Provider, error) {
	o := options{global: true}
	for _, opt := range opts {
		opt(&o)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}

	if err := p.setupTracing(ctx, cfg, res, o); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res, o); err != nil {
		if p.tracerProvider != nil {
			_ = p.tracerProvider.Shutdown(ctx)
		}
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *resource.Resource, o options) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate))
		opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	if o.global {
		otel.SetTracerProvider(p.tracerProvider)
	}
	p.tracer = p.tracerProvider.Tracer(instrumentationName)

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *resource.Resource, o options) error {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}
	for _, r := range o.readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	if o.global {
		otel.SetMeterProvider(p.meterProvider)
	}
	p.meter = p.meterProvider.Meter(instrumentationName)

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	p.queryDuration, err = p.meter.Float64Histogram(
		"discovery_query_duration_seconds",
		metric.WithDescription("Duration of list and describe units including retries"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create query_duration: %w", err)
	}

	p.resources, err = p.meter.Int64Counter(
		"discovery_resources_total",
		metric.WithDescription("Resources returned by successful list units"),
	)
	if err != nil {
		return fmt.Errorf("create resources: %w", err)
	}

	p.retries, err = p.meter.Int64Counter(
		"discovery_retries_total",
		metric.WithDescription("Retried attempts by error category"),
	)
	if err != nil {
		return fmt.Errorf("create retries: %w", err)
	}

	p.failures, err = p.meter.Int64Counter(
		"discovery_failures_total",
		metric.WithDescription("Units that failed terminally, by error category"),
	)
	if err != nil {
		return fmt.Errorf("create failures: %w", err)
	}

	return nil
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// StartSpan starts a new span.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name)
}

// RecordUnit records one finished list or describe unit.
func (p *Provider) RecordUnit(ctx context.Context, resourceType, phase string, d time.Duration, err *classifier.Error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	p.queryDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("resource_type", resourceType),
		attribute.String("phase", phase),
		attribute.String("outcome", outcome),
	))
	if err != nil {
		p.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("resource_type", resourceType),
			attribute.String("phase", phase),
			attribute.String("category", err.Category.String()),
		))
	}
}

// RecordResources records the resources returned by a list unit.
func (p *Provider) RecordResources(ctx context.Context, resourceType string, count int) {
	p.resources.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("resource_type", resourceType),
	))
}

// RecordRetry records a retried attempt.
func (p *Provider) RecordRetry(ctx context.Context, resourceType string, category classifier.Category) {
	p.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource_type", resourceType),
		attribute.String("category", category.String()),
	))
}

// Shutdown flushes and shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter: %w", err)
		}
	}
	return nil
}
