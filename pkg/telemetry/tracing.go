package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/helpmetest/cli"

// Span attribute keys shared by the coordinator and the API client.
var (
	AttrSessionToken = attribute.Key("helpmetest.session.token")
	AttrRoom         = attribute.Key("helpmetest.session.room")
	AttrMessageID    = attribute.Key("helpmetest.message.id")
	AttrCommand      = attribute.Key("helpmetest.command")
	AttrSuccess      = attribute.Key("helpmetest.command.success")
	AttrEventCount   = attribute.Key("helpmetest.command.events")
	AttrRoute        = attribute.Key("helpmetest.api.route")
	AttrStatus       = attribute.Key("helpmetest.api.status")
	AttrToolName     = attribute.Key("helpmetest.tool.name")
)

// ShutdownFunc flushes and stops a tracer provider.
type ShutdownFunc func(context.Context) error

// SetupTracing installs a global tracer provider that writes spans as JSON to
// w. A nil writer leaves the no-op provider in place.
func SetupTracing(serviceName, version string, w io.Writer) (ShutdownFunc, error) {
	if w == nil {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

// Tracer returns the helpmetest tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span with the given name
func StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, spanName, opts...)
}
