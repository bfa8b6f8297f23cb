// Package exporters builds the OpenTelemetry exporters the Observer wires in.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Sentinel errors for exporter construction.
var (
	// ErrUnknownTracingExporter indicates an unrecognized tracing exporter name.
	ErrUnknownTracingExporter = errors.New("exporters: unknown tracing exporter")

	// ErrUnknownMetricsExporter indicates an unrecognized metrics exporter name.
	ErrUnknownMetricsExporter = errors.New("exporters: unknown metrics exporter")

	// ErrMissingOTLPEndpoint indicates no OTLP endpoint is configured in the
	// environment.
	ErrMissingOTLPEndpoint = errors.New("exporters: otlp endpoint is not configured")
)

// otlpEndpoint resolves the OTLP endpoint from the generic environment
// variable or the signal-scoped one.
func otlpEndpoint(scoped string) (string, error) {
	if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
		return ep, nil
	}
	if ep := os.Getenv(scoped); ep != "" {
		return ep, nil
	}
	return "", fmt.Errorf("%w: set OTEL_EXPORTER_OTLP_ENDPOINT or %s", ErrMissingOTLPEndpoint, scoped)
}

// NewTracingExporter builds the span exporter selected by name.
// Supported names: stdout, otlp, none (and "" as an alias for none).
func NewTracingExporter(ctx context.Context, name string) (sdktrace.SpanExporter, error) {
	switch name {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(os.Stdout))

	case "otlp":
		if _, err := otlpEndpoint("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"); err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx)

	case "none", "":
		// Spans are still created and sampled, just never emitted.
		return stdouttrace.New(stdouttrace.WithWriter(io.Discard))

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTracingExporter, name)
	}
}

// NewMetricsReader builds the metrics reader selected by name.
// Supported names: stdout, otlp, prometheus, none (and "" as an alias for none).
func NewMetricsReader(ctx context.Context, name string) (sdkmetric.Reader, error) {
	switch name {
	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stdout))
		if err != nil {
			return nil, fmt.Errorf("exporters: stdout metrics: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	case "otlp":
		if _, err := otlpEndpoint("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); err != nil {
			return nil, err
		}
		exp, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("exporters: otlp metrics: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	case "prometheus":
		exp, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("exporters: prometheus: %w", err)
		}
		return exp, nil

	case "none", "":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(io.Discard))
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetricsExporter, name)
	}
}
