package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fibanez/aws-dash-architect-sub001/internal/classifier"
	"github.com/fibanez/aws-dash-architect-sub001/internal/config"
)

func disabledConfig() config.OTELConfig {
	return config.OTELConfig{
		ServiceName: "test-discovery",
		Traces:      config.TracesConfig{Enabled: false},
		Metrics:     config.MetricsConfig{Enabled: false},
	}
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), disabledConfig(), WithoutGlobal())
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_WithEndpoint(t *testing.T) {
	cfg := config.OTELConfig{
		Endpoint:    "localhost:4317",
		Insecure:    true,
		ServiceName: "test-discovery",
		Traces:      config.TracesConfig{Enabled: true, SampleRate: 1.0},
		Metrics:     config.MetricsConfig{Enabled: true},
	}

	// exporters connect lazily, so setup succeeds without a collector
	p, err := NewProvider(context.Background(), cfg, WithoutGlobal())
	require.NoError(t, err)
	require.NotNil(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Shutdown(ctx)
}

func TestProvider_StartSpan(t *testing.T) {
	p, err := NewProvider(context.Background(), disabledConfig(), WithoutGlobal())
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "test-operation")
	require.NotNil(t, ctx)
	require.NotNil(t, span)

	span.End()
	_ = p.Shutdown(context.Background())
}

func TestProvider_RecordsDiscoveryMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	p, err := NewProvider(context.Background(), disabledConfig(), WithMetricReader(reader), WithoutGlobal())
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	ctx := context.Background()
	p.RecordUnit(ctx, "AWS::EC2::Instance", "list", 200*time.Millisecond, nil)
	p.RecordUnit(ctx, "AWS::EC2::Instance", "list", time.Second, classifier.New(classifier.PermissionDenied, "AccessDenied", "no"))
	p.RecordResources(ctx, "AWS::EC2::Instance", 7)
	p.RecordRetry(ctx, "AWS::EC2::Instance", classifier.Throttled)
	p.RecordRetry(ctx, "AWS::EC2::Instance", classifier.Throttled)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	var histogramCount uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					histogramCount += dp.Count
				}
			}
		}
	}

	assert.Equal(t, int64(7), sums["discovery_resources_total"])
	assert.Equal(t, int64(2), sums["discovery_retries_total"])
	assert.Equal(t, int64(1), sums["discovery_failures_total"])
	assert.Equal(t, uint64(2), histogramCount)
}

func TestLogger_StampsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(LoggerOptions{Service: "discover", Level: "debug", Out: &buf})
	require.NoError(t, err)

	p, err := NewProvider(context.Background(), disabledConfig(), WithoutGlobal())
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	ctx, span := p.StartSpan(context.Background(), "unit")
	l.WithContext(ctx).Info().Msg("inside span")
	span.End()

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "discover", line["service"])
	assert.Equal(t, span.SpanContext().TraceID().String(), line["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), line["span_id"])

	buf.Reset()
	l.Info().Msg("no span")
	var fresh map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fresh))
	assert.NotContains(t, fresh, "trace_id")
}

func TestNewLogger_RejectsBadLevel(t *testing.T) {
	_, err := NewLogger(LoggerOptions{Level: "loud", Out: &bytes.Buffer{}})
	assert.Error(t, err)
}
