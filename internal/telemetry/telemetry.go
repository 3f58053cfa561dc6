// Package telemetry wires structured logging (used by the serve command)
// and OpenTelemetry tracing and metrics for the pipeline: a New/Shutdown/Tracer
// provider shape with an optional-exporter pattern, narrowed to what
// arbiter's pipeline actually instruments (no RED metric histogram — the
// audit chain is the record of truth, a single reason-code counter is
// enough to spot breaker trips without grepping it).
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the telemetry Provider.
type Config struct {
	ServiceName  string
	OTLPEndpoint string // empty means "no exporter, local no-op tracing only"
}

// Provider bundles the logger, tracer, and authz reason-code counter; the
// pipeline feeds the counter with each authorization outcome. The zero
// value is not usable; build one with New.
type Provider struct {
	Logger *slog.Logger

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	authzReasons   metric.Int64Counter
}

// New builds a Provider. When cfg.OTLPEndpoint is empty, tracing runs
// against an in-process no-op-exporting provider rather than failing
// startup — arbiter must run without an observability backend present.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", cfg.ServiceName)

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(resource.Default().SchemaURL(),
			attribute.String("service.name", cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	var tp *sdktrace.TracerProvider
	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("telemetry: build trace exporter: %w", err)
		}
		tp = sdktrace.NewTracerProvider(sdktrace.WithResource(res), sdktrace.WithBatcher(exporter))
	} else {
		tp = sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	}
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	tracer := otel.Tracer("arbiter")
	meter := otel.Meter("arbiter")

	authzReasons, err := meter.Int64Counter("arbiter.authz.reason_code",
		metric.WithDescription("Count of authorization outcomes by reason code"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build authz reason counter: %w", err)
	}

	return &Provider{
		Logger:         logger,
		tracerProvider: tp,
		meterProvider:  mp,
		tracer:         tracer,
		authzReasons:   authzReasons,
	}, nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// RecordAuthzReason increments the reason-code counter so circuit
// breaker trips and fail-mode conversions are visible without grepping
// the audit log.
func (p *Provider) RecordAuthzReason(ctx context.Context, reasonCode string) {
	if p == nil || p.authzReasons == nil {
		return
	}
	p.authzReasons.Add(ctx, 1, metric.WithAttributes(attribute.String("reason_code", reasonCode)))
}

// Shutdown flushes and releases the tracer/meter providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("telemetry: shutdown tracer provider: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("telemetry: shutdown meter provider: %w", err)
		}
	}
	return nil
}
