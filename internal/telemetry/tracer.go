// Package telemetry wraps OpenTelemetry tracing setup for background,
// non-HTTP spans: one pipeline run, one stage, one subprocess call, one
// inference round trip. Grounded on the teacher's internal/telemetry
// package, trimmed to the exporter/sampler/provider shape it shares with
// its own non-HTTP span sites (internal/jobs/refresh.go's
// "job.refresh" span, internal/proxy/transcoder.go's "transcode.ffmpeg"
// span) — this module has no HTTP layer of its own, so the
// otelhttp middleware instrumentation the teacher also carries has no
// component here to attach to.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config configures the tracer provider backing every span this module
// emits. Disabled by default — runs on a noop provider until an operator
// points ExporterType/Endpoint at a collector.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	ExporterType   string // "grpc", "http", or "" (noop)
	Endpoint       string
	SamplingRate   float64
}

// Provider owns the process-global tracer provider's lifecycle.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider installs cfg as the global tracer provider. A disabled
// config installs a noop provider so every Tracer() call downstream
// stays free regardless of whether telemetry is configured.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return &Provider{}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.ExporterType {
	case "grpc":
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
	case "http":
		exporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
	default:
		return nil, fmt.Errorf("telemetry: unsupported exporter type %q", cfg.ExporterType)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: build %s exporter: %w", cfg.ExporterType, err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SamplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return &Provider{tp: tp}, nil
}

// Shutdown flushes and stops the tracer provider. Safe to call on a
// disabled (noop) Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.tp.Shutdown(shutdownCtx)
}

// Tracer returns a named tracer off the current global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
