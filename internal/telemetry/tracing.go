package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ShutdownFunc flushes and stops what Setup started.
type ShutdownFunc func(context.Context) error

// Config selects where traces and tool metrics go.
type Config struct {
	// OTLPEndpoint is the full OTLP/HTTP traces URL, e.g.
	// http://localhost:4318/v1/traces. Empty disables trace export.
	OTLPEndpoint string
	ServiceName  string

	// MetricReader, when set, collects tool metrics through an SDK meter
	// provider installed as the global one. A periodic reader wrapping an
	// exporter ships them; a manual reader keeps them in process.
	MetricReader sdkmetric.Reader
}

// Setup installs the global tracer and meter providers Config asks for.
// Providers it does not install stay as they are, so an embedding
// application may set its own.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (ShutdownFunc, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OTLPEndpoint == "" && cfg.MetricReader == nil {
		logger.Debug("Telemetry export disabled")
		return func(context.Context) error { return nil }, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "synk"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("building telemetry resource: %w", err)
	}

	var shutdowns []ShutdownFunc
	shutdown := func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdowns {
			errs = append(errs, fn(ctx))
		}
		return errors.Join(errs...)
	}

	if cfg.MetricReader != nil {
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(cfg.MetricReader),
		)
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)
		logger.Info("Tool metrics enabled", "service", serviceName)
	}

	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
		if err != nil {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("creating otlp trace exporter: %w", err)
		}
		tp := NewTracerProvider(res, sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tp)
		shutdowns = append(shutdowns, tp.Shutdown)
		logger.Info("Trace export enabled", "endpoint", cfg.OTLPEndpoint, "service", serviceName)
	}

	return shutdown, nil
}

// NewTracerProvider builds an SDK tracer provider for res with extra options.
func NewTracerProvider(res *resource.Resource, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	opts = append([]sdktrace.TracerProviderOption{sdktrace.WithResource(res)}, opts...)
	return sdktrace.NewTracerProvider(opts...)
}

// NewObserver builds a ToolObserver from the global meter and tracer
// providers. Until Setup or the embedding application installs a meter
// provider, the metrics go to the global no-op one.
func NewObserver() (*ToolObserver, error) {
	return NewToolObserver(
		otel.GetMeterProvider().Meter("synk/tool"),
		otel.GetTracerProvider().Tracer("synk/tool"),
	)
}
