package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/localrivet/synk/internal/registry"
)

func newTestMeter() (*metric.ManualReader, *metric.MeterProvider) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *metric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, scope := range rm.ScopeMetrics {
		for i := range scope.Metrics {
			if scope.Metrics[i].Name == name {
				return &scope.Metrics[i]
			}
		}
	}
	return nil
}

func TestToolObserverRecordsMetrics(t *testing.T) {
	reader, mp := newTestMeter()
	observer, err := NewToolObserver(mp.Meter("test"), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)

	start := time.Now()
	observer.ObserveInvoke(context.Background(), registry.Observation{
		Tool: "read_sync_state", Outcome: registry.OutcomeOK, Start: start, Duration: 20 * time.Millisecond,
	})
	observer.ObserveInvoke(context.Background(), registry.Observation{
		Tool: "read_sync_state", Outcome: registry.OutcomeHandlerError, Start: start, Duration: 5 * time.Millisecond,
	})

	rm := collectMetrics(t, reader)

	invocations := findMetric(rm, MetricToolInvocations)
	require.NotNil(t, invocations)
	sum, ok := invocations.Data.(metricdata.Sum[int64])
	require.True(t, ok, "invocations type = %T", invocations.Data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)
	assert.Len(t, sum.DataPoints, 2)

	latency := findMetric(rm, MetricToolLatency)
	require.NotNil(t, latency)
	_, ok = latency.Data.(metricdata.Histogram[float64])
	assert.True(t, ok, "latency type = %T", latency.Data)
}

func TestToolObserverRecordsSpans(t *testing.T) {
	_, mp := newTestMeter()
	exporter := tracetest.NewInMemoryExporter()
	tp := NewTracerProvider(resource.Empty(), sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	observer, err := NewToolObserver(mp.Meter("test"), tp.Tracer("test"))
	require.NoError(t, err)

	start := time.Now()
	observer.ObserveInvoke(context.Background(), registry.Observation{
		Tool: "trigger_broadcast", Outcome: registry.OutcomeInvalidInput, Start: start, Duration: time.Millisecond,
	})

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "tool.invoke", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "invalid_input", spans[0].Status.Description)
	assert.Equal(t, time.Millisecond, spans[0].EndTime.Sub(spans[0].StartTime))
}

func TestNilObserverIsSafe(t *testing.T) {
	var observer *ToolObserver
	assert.NotPanics(t, func() {
		observer.ObserveInvoke(context.Background(), registry.Observation{Tool: "x"})
	})
}

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	observer, err := NewObserver()
	require.NoError(t, err)
	assert.NotNil(t, observer)
}

func TestSetupInstallsMeterProvider(t *testing.T) {
	reader := metric.NewManualReader()
	shutdown, err := Setup(context.Background(), Config{MetricReader: reader}, nil)
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	observer, err := NewObserver()
	require.NoError(t, err)
	observer.ObserveInvoke(context.Background(), registry.Observation{
		Tool: "trigger_broadcast", Outcome: registry.OutcomeOK, Start: time.Now(), Duration: time.Millisecond,
	})

	rm := collectMetrics(t, reader)
	assert.NotNil(t, findMetric(rm, MetricToolInvocations))
	assert.NotNil(t, findMetric(rm, MetricToolLatency))
}
