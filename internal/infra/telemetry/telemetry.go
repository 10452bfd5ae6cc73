// Package telemetry wires the OpenTelemetry tracer used for per-stage spans.
package telemetry

import (
	"context"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config controls telemetry setup.
type Config struct {
	Enabled  bool
	Endpoint string
	Service  string
	Version  string
}

// Provider owns the tracer provider. When disabled everything is a no-op.
type Provider struct {
	Enabled  bool
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// NewProvider configures an OTLP/HTTP exporter, or a no-op tracer when disabled.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{
			tracer:   noop.NewTracerProvider().Tracer(""),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}
	if cfg.Service == "" {
		cfg.Service = "docguard"
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.Service),
			attribute.String("service.version", cfg.Version),
		),
	)
	if err != nil {
		return nil, eris.Wrap(err, "build telemetry resource")
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "create otlp trace exporter")
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{Enabled: true, tracer: tp.Tracer(cfg.Service), shutdown: tp.Shutdown}, nil
}

// Tracer returns the tracer handed to the orchestrator.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}
