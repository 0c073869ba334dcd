package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	providerMu sync.Mutex
	active     *sdktrace.TracerProvider
)

// InitOpenTelemetry installs a process-wide tracer provider. sampleRatio is
// the fraction of command traces kept (1 keeps everything); the trial hot
// path never creates spans, so sampling only affects the command surface.
// Repeated calls are no-ops until ShutdownOpenTelemetry releases the provider.
func InitOpenTelemetry(serviceName string, sampleRatio float64) error {
	providerMu.Lock()
	defer providerMu.Unlock()

	if active != nil {
		return nil
	}

	if sampleRatio < 0 {
		sampleRatio = 0
	}
	if sampleRatio > 1 {
		sampleRatio = 1
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return err
	}

	active = sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(active)
	return nil
}

// ShutdownOpenTelemetry flushes and releases the tracer provider. A later
// InitOpenTelemetry installs a fresh one.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.Lock()
	tp := active
	active = nil
	providerMu.Unlock()

	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span and mirrors its trace id into the context so
// LoggerFromContext can attach it to log lines.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		sc := span.SpanContext()
		if sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}
