package telemetry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/govcon/shredder/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

// newTestMeter returns a meter backed by a manual reader so recorded values can be collected.
func newTestMeter(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return reader, mp
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumFor(t *testing.T, m metricdata.Metrics, attr attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attr.Key); ok && v == attr.Value {
			total += dp.Value
		}
	}
	return total
}

func TestCounterAndHistogram(t *testing.T) {
	reader, mp := newTestMeter(t)
	meter := mp.Meter("test")
	ctx := context.Background()

	counter, err := telemetry.NewCounter(meter, "test_counter", "Test counter", "1")
	require.NoError(t, err)
	counter.Add(ctx, 5, attribute.String("method", "GET"))
	counter.Inc(ctx, attribute.String("method", "GET"))

	hist, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:       "test_duration_seconds",
		Unit:       "s",
		Boundaries: telemetry.ClassifierDurationBuckets,
	})
	require.NoError(t, err)
	hist.RecordDuration(ctx, 1500*time.Millisecond)

	got := collect(t, reader)
	assert.Equal(t, int64(6), sumFor(t, got["test_counter"], attribute.String("method", "GET")))

	h, ok := got["test_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, h.DataPoints, 1)
	assert.Equal(t, uint64(1), h.DataPoints[0].Count)
	assert.InDelta(t, 1.5, h.DataPoints[0].Sum, 1e-9)
	assert.Equal(t, telemetry.ClassifierDurationBuckets, h.DataPoints[0].Bounds)
}

func TestNewShredMetrics_NilMeter(t *testing.T) {
	sm, err := telemetry.NewShredMetrics(telemetry.ShredMetricsConfig{Logger: zap.NewNop()})
	require.Error(t, err)
	assert.Nil(t, sm)
	assert.True(t, errors.Is(err, telemetry.ErrMeterNil))
	assert.Equal(t, "NewShredMetrics: meter cannot be nil", err.Error())
}

func TestShredMetrics_Records(t *testing.T) {
	reader, mp := newTestMeter(t)
	sm, err := telemetry.NewShredMetrics(telemetry.ShredMetricsConfig{Meter: mp.Meter("shred")})
	require.NoError(t, err)

	ctx := context.Background()
	sm.RecordRun(ctx, "completed", 3*time.Second)
	sm.RecordRun(ctx, "failed", time.Second)
	sm.RecordClassifierCall(ctx, "ollama", 200*time.Millisecond, nil)
	sm.RecordClassifierCall(ctx, "ollama", time.Second, errors.New("boom"))
	sm.RecordFallbacks(ctx, "ollama", 3)
	sm.RecordFallbacks(ctx, "ollama", 0)
	sm.RecordIngest(ctx, 4, 1, 2)
	sm.RecordAnomalies(ctx, 2)
	sm.RecordRunOutput(ctx, 10, 3)

	got := collect(t, reader)
	assert.Equal(t, int64(1), sumFor(t, got["shred_runs_total"], telemetry.AttrRunState.String("completed")))
	assert.Equal(t, int64(1), sumFor(t, got["shred_runs_total"], telemetry.AttrRunState.String("failed")))
	assert.Equal(t, int64(1), sumFor(t, got["shred_classifier_calls_total"], telemetry.AttrOutcome.String("error")))
	assert.Equal(t, int64(3), sumFor(t, got["shred_classifier_fallbacks_total"], telemetry.AttrClassifier.String("ollama")))
	assert.Equal(t, int64(4), sumFor(t, got["shred_requirements_ingested_total"], telemetry.AttrOutcome.String("inserted")))
	assert.Equal(t, int64(2), sumFor(t, got["shred_requirements_ingested_total"], telemetry.AttrOutcome.String("unchanged")))

	ratio, ok := got["shred_last_run_fallback_ratio"].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, ratio.DataPoints, 1)
	assert.InDelta(t, 0.3, ratio.DataPoints[0].Value, 1e-9)
}

func TestShredMetrics_NilReceiver(t *testing.T) {
	var sm *telemetry.ShredMetrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		sm.RecordRun(ctx, "completed", time.Second)
		sm.RecordClassifierCall(ctx, "rules", time.Millisecond, nil)
		sm.RecordFallbacks(ctx, "rules", 1)
		sm.RecordIngest(ctx, 1, 0, 0)
		sm.RecordAnomalies(ctx, 1)
		sm.RecordRunOutput(ctx, 0, 0)
	})
}
