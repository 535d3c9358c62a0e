// Package otelexport ships the spans famista records (channel reads,
// region captures, inference runs) to an OTLP collector.
package otelexport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/Ebycow/famista/internal/config"
)

// Shipper batches famista's spans to the configured collector.
type Shipper struct {
	provider *sdktrace.TracerProvider
}

// Start builds a shipper for t and makes it the global tracer provider,
// so the channel, sampler and inference tracers begin exporting.
func Start(ctx context.Context, t config.TelemetryConfig, version string) (*Shipper, error) {
	if t.Endpoint == "" {
		return nil, errors.New("telemetry.endpoint is required")
	}
	client, err := spanClient(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("otlp %s client: %w", t.Protocol, err)
	}
	name := t.ServiceName
	if name == "" {
		name = "famista"
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(client),
		sdktrace.WithResource(resource.NewSchemaless(
			semconv.ServiceName(name),
			semconv.ServiceVersion(version),
		)),
	)
	otel.SetTracerProvider(tp)
	return &Shipper{provider: tp}, nil
}

// spanClient builds the OTLP client for t.Protocol, gRPC unless "http".
func spanClient(ctx context.Context, t config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	if t.Protocol == "http" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(t.Endpoint), otlptracehttp.WithHeaders(t.Headers)}
		if t.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(t.Endpoint), otlptracegrpc.WithHeaders(t.Headers)}
	if t.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Stop flushes queued spans. A nil shipper has nothing to flush.
func (s *Shipper) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	slog.Debug("flushing spans")
	return s.provider.Shutdown(ctx)
}
