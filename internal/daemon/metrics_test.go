package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMetrics_RecordCycle(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewMetrics(provider.Meter("discover.daemon"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordCycle(ctx, CycleReport{Duration: time.Second, Units: 4, Entries: 12})
	m.RecordCycle(ctx, CycleReport{Duration: 2 * time.Second, Units: 4, Failures: 1, Entries: 9})

	got := collect(t, reader)

	cycles := got["discover.daemon.cycles"].Data.(metricdata.Sum[int64])
	byStatus := map[string]int64{}
	for _, dp := range cycles.DataPoints {
		status, _ := dp.Attributes.Value("status")
		byStatus[status.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"success": 1, "partial": 1}, byStatus)

	entries := got["discover.daemon.cycle.entries"].Data.(metricdata.Gauge[int64])
	require.Len(t, entries.DataPoints, 1)
	assert.Equal(t, int64(9), entries.DataPoints[0].Value)

	duration := got["discover.daemon.cycle.duration"].Data.(metricdata.Histogram[float64])
	var count uint64
	for _, dp := range duration.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
}

func TestMetrics_RecordScopeChange(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewMetrics(provider.Meter("discover.daemon"))
	require.NoError(t, err)

	m.RecordScopeChange(context.Background(), 6, 0)
	m.RecordScopeChange(context.Background(), 0, 2)

	changes := collect(t, reader)["discover.daemon.scope.changes"].Data.(metricdata.Sum[int64])
	byType := map[string]int64{}
	for _, dp := range changes.DataPoints {
		ct, _ := dp.Attributes.Value("change.type")
		byType[ct.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"added": 6, "removed": 2}, byType)
}
