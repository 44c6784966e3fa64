// Package tracing installs an optional OpenTelemetry exporter.
package tracing

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// EndpointEnv enables export when set.
const EndpointEnv = "OTEL_EXPORTER_OTLP_ENDPOINT"

const instrumentationName = "github.com/nibzard/ralph-go"

// ShutdownFunc flushes and stops the exporter.
type ShutdownFunc func(context.Context) error

// Enabled reports whether an OTLP endpoint is configured.
func Enabled() bool {
	return os.Getenv(EndpointEnv) != ""
}

// Setup installs a global OTLP/HTTP tracer provider when
// OTEL_EXPORTER_OTLP_ENDPOINT is set. Otherwise the global no-op provider
// stays in place. The returned ShutdownFunc is never nil.
func Setup(ctx context.Context, version string) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }
	if !Enabled() {
		return noop, nil
	}

	// Endpoint, headers and TLS come from the standard OTEL_* variables.
	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return noop, fmt.Errorf("create otlp exporter: %w", err)
	}

	serviceName := os.Getenv("OTEL_SERVICE_NAME")
	if serviceName == "" {
		serviceName = "ralph"
	}
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(version),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// Tracer returns the ralph tracer from the global provider.
func Tracer() oteltrace.Tracer {
	return otel.Tracer(instrumentationName)
}
