package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig configures the tracer provider.
type TracingConfig struct {
	ServiceName string
	Environment string
	Endpoint    string // OTLP gRPC collector endpoint, empty disables export
	SampleRate  float64
}

// TracerProvider wraps the SDK provider with a pre-bound tracer, following
// the teacher's InitTracing shape but trimmed to what this core needs.
// No code in this module calls Tracer() to start spans; tier, transport
// and queue calls are not wrapped in spans.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing builds the provider and installs it as the global tracer
// provider, returning a handle the caller must Shutdown on exit.
func InitTracing(ctx context.Context, cfg TracingConfig) (*TracerProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "memcore"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 1.0
	}

	var opts []sdktrace.TracerProviderOption
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("deployment.environment", cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("observability: building resource: %w", err)
	}
	opts = append(opts, sdktrace.WithResource(res), sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)))

	if cfg.Endpoint != "" {
		exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()))
		if err != nil {
			return nil, fmt.Errorf("observability: building exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer("memcore"),
	}, nil
}

// Tracer returns the bound tracer for starting spans at suspension points.
func (t *TracerProvider) Tracer() trace.Tracer { return t.tracer }

// Shutdown flushes and stops the provider within the caller's deadline.
func (t *TracerProvider) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

