// Package telemetry builds agentcore's OpenTelemetry tracer the way
// gomind's telemetry/otel.go builds its OTelProvider: a resource, a
// batching exporter, and a TracerProvider installed as the process
// global. agentcore's go.mod carries the tracing SDK
// (go.opentelemetry.io/otel/sdk, otlptracegrpc, stdouttrace) but no
// separate metrics-SDK module, so Provider.Meter returns the otel/metric
// API's default global Meter — real instrumentation calls against
// whatever MeterProvider a deployment installs, a no-op by default
// (see metrics.go).
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentcore/agentcore/logging"
)

const instrumentationName = "agentcore"

// Config configures a Provider.
type Config struct {
	ServiceName string
	// Exporter selects the trace exporter: "otlp" (OTLP/gRPC, Endpoint
	// required), "stdout" (pretty-printed spans, for local development),
	// or "none" (tracer is a no-op, no SDK is constructed).
	Exporter string
	Endpoint string // OTLP/gRPC target, e.g. "localhost:4317"
}

// Provider owns the process-global TracerProvider's lifecycle.
type Provider struct {
	tracer trace.Tracer
	meter  metric.Meter
	tp     *sdktrace.TracerProvider
	logger logging.Logger
}

// NewProvider builds a Provider from cfg, installing it as the global
// TracerProvider. Exporter=="none" (or an empty ServiceName) returns a
// Provider backed by the ambient global providers without constructing
// an SDK pipeline.
func NewProvider(cfg Config, logger logging.Logger) (*Provider, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if cfg.ServiceName == "" || cfg.Exporter == "none" || cfg.Exporter == "" {
		logger.Info("telemetry disabled, using ambient global providers", map[string]interface{}{
			"serviceName": cfg.ServiceName, "exporter": cfg.Exporter,
		})
		return &Provider{
			tracer: otel.Tracer(instrumentationName),
			meter:  otel.Meter(instrumentationName),
			logger: logger,
		}, nil
	}

	ctx := context.Background()
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "otlp":
		logger.Debug("creating OTLP/gRPC trace exporter", map[string]interface{}{"endpoint": cfg.Endpoint})
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
	case "stdout":
		logger.Debug("creating stdout trace exporter", nil)
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("telemetry: unknown exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: create %s exporter: %w", cfg.Exporter, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger.Info("telemetry provider ready", map[string]interface{}{
		"serviceName": cfg.ServiceName, "exporter": cfg.Exporter,
	})

	return &Provider{
		tracer: tp.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
		tp:     tp,
		logger: logger,
	}, nil
}

// Tracer returns agentcore's named Tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Meter returns agentcore's named Meter.
func (p *Provider) Meter() metric.Meter { return p.meter }

// Shutdown flushes and stops the SDK TracerProvider, if one was built.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		p.logger.Warn("telemetry shutdown failed", map[string]interface{}{"error": err.Error()})
		return err
	}
	return nil
}

// StartSpan is a thin convenience wrapper over the Provider's tracer.
// No runtime code path calls it, so permit, breaker, gateway and
// workflow operations emit no spans.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
