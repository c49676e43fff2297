// Package telemetry wires the otel SDK's stdout exporters as the tracer
// and meter providers for local/sidecar operation — ThoughtGate runs
// beside the workload it governs, so a collector dependency would defeat
// the point of being a sidecar; the stdout exporters are a legitimate
// no-collector tracing story for that deployment shape.
package telemetry

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Providers bundles the tracer and meter providers together with a single
// Shutdown that flushes and closes both.
type Providers struct {
	Tracer  trace.Tracer
	Meter   metric.Meter
	tracerP *sdktrace.TracerProvider
	meterP  *sdkmetric.MeterProvider
}

// Setup installs stdout-backed tracer and meter providers as the global
// otel providers and returns a Providers handle scoped to serviceName.
// out is typically os.Stdout; tests and quiet-CLI modes pass io.Discard.
func Setup(ctx context.Context, serviceName string, out io.Writer) (*Providers, error) {
	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, err
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter, sdktrace.WithBatchTimeout(time.Second)),
	)
	otel.SetTracerProvider(tracerProvider)

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(out))
	if err != nil {
		return nil, err
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(30*time.Second))),
	)
	otel.SetMeterProvider(meterProvider)

	return &Providers{
		Tracer:  tracerProvider.Tracer(serviceName),
		Meter:   meterProvider.Meter(serviceName),
		tracerP: tracerProvider,
		meterP:  meterProvider,
	}, nil
}

// Shutdown flushes and closes both providers. Safe to call with a nil
// receiver so callers can defer it unconditionally after a failed Setup.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if err := p.tracerP.Shutdown(ctx); err != nil {
		return err
	}
	return p.meterP.Shutdown(ctx)
}

// StartRequestSpan opens the span wrapping one orchestrator dispatch,
// tagged with the correlation id for cross-referencing with logs.
func (p *Providers) StartRequestSpan(ctx context.Context, method, correlationID string) (context.Context, trace.Span) {
	return p.Tracer.Start(ctx, method, trace.WithAttributes(
		attribute.String("correlation_id", correlationID),
	))
}
