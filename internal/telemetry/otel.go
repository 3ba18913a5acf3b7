package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// tracer is the process-wide tracer used to wrap container invocations,
// queue dispatch and scheduler ticks with spans when otel is enabled.
var tracer trace.Tracer = otel.Tracer("nanoclaw")

// InitOTel wires a stdout span exporter as the global tracer provider:
// spans are batched and printed to stdout. It returns the provider's
// Shutdown, which flushes pending spans.
func InitOTel(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("otel exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	tracer = tp.Tracer("nanoclaw")
	return tp.Shutdown, nil
}

// StartSpan starts a span on the process tracer. When otel is disabled this
// is effectively free: the default global tracer is a no-op implementation.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}
