package tracing

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ServiceName is the default service and tracer name.
const ServiceName = "referral-coupons-api"

// Config holds tracing configuration.
type Config struct {
	Enabled     bool
	Endpoint    string // Jaeger collector endpoint, e.g. http://localhost:14268/api/traces
	ServiceName string
	Environment string
}

// Tracer wraps OpenTelemetry tracer functionality.
type Tracer struct {
	tracer trace.Tracer
}

var (
	mu           sync.RWMutex
	globalTracer *Tracer
)

// InitTracing initializes OpenTelemetry tracing. A disabled config installs
// a no-op tracer.
func InitTracing(cfg Config) (*Tracer, error) {
	if !cfg.Enabled {
		t := &Tracer{tracer: noop.NewTracerProvider().Tracer(ServiceName)}
		setGlobal(t)
		return t, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = ServiceName
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String("1.0.0"),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &Tracer{tracer: otel.Tracer(cfg.ServiceName)}
	setGlobal(t)
	return t, nil
}

func setGlobal(t *Tracer) {
	mu.Lock()
	globalTracer = t
	mu.Unlock()
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// GetTracer returns the global tracer, or a no-op tracer before InitTracing.
func GetTracer() *Tracer {
	mu.RLock()
	defer mu.RUnlock()

	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(ServiceName)}
	}
	return globalTracer
}

// Shutdown flushes and stops the SDK tracer provider, if one is installed.
func Shutdown(ctx context.Context) error {
	if tp, ok := otel.GetTracerProvider().(*tracesdk.TracerProvider); ok {
		return tp.Shutdown(ctx)
	}
	return nil
}
