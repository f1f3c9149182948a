// Package telemetry records tool invocations as OpenTelemetry metrics and
// spans, and wires the process-wide tracer provider.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/localrivet/synk/internal/registry"
)

// Metric names
const (
	MetricToolInvocations = "synk.tool.invocations"
	MetricToolLatency     = "synk.tool.latency"
)

// ToolObserver records registry invocations into OpenTelemetry.
type ToolObserver struct {
	tracer trace.Tracer

	invocations metric.Int64Counter
	latency     metric.Float64Histogram
}

// NewToolObserver creates a tool observer bound to the provided meter/tracer.
// tracer may be nil, in which case no spans are recorded.
func NewToolObserver(meter metric.Meter, tracer trace.Tracer) (*ToolObserver, error) {
	invocations, err := meter.Int64Counter(
		MetricToolInvocations,
		metric.WithDescription("Number of tool invocations"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		MetricToolLatency,
		metric.WithDescription("Tool latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &ToolObserver{
		tracer:      tracer,
		invocations: invocations,
		latency:     latency,
	}, nil
}

// ObserveInvoke records one invocation result.
func (o *ToolObserver) ObserveInvoke(ctx context.Context, obs registry.Observation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool_name", obs.Tool),
		attribute.String("outcome", string(obs.Outcome)),
		attribute.Bool("success", obs.Outcome == registry.OutcomeOK),
	}

	options := metric.WithAttributes(attrs...)
	o.invocations.Add(ctx, 1, options)
	o.latency.Record(ctx, obs.Duration.Seconds(), options)

	if o.tracer == nil {
		return
	}
	_, span := o.tracer.Start(ctx, "tool.invoke",
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(obs.Start),
	)
	if obs.Outcome != registry.OutcomeOK {
		span.SetStatus(codes.Error, string(obs.Outcome))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(obs.Start.Add(obs.Duration)))
}

var _ registry.Observer = (*ToolObserver)(nil)
