package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used when no provider is configured.
const InstrumentationName = "github.com/cobrun/geofence"

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string  // OTLP endpoint
	SampleRate     float64 // 0.0 to 1.0
	Insecure       bool    // Use insecure connection
}

// sampler samples root spans at SampleRate and follows the parent otherwise,
// so a trace started by the map editor is kept or dropped as a whole.
func (c TracingConfig) sampler() sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case c.SampleRate >= 1.0:
		root = sdktrace.AlwaysSample()
	case c.SampleRate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(c.SampleRate)
	}
	return sdktrace.ParentBased(root)
}

// TracingProvider provides tracing functionality.
type TracingProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracingProvider exports spans over OTLP/HTTP and installs the provider
// and W3C propagators globally.
func NewTracingProvider(ctx context.Context, config TracingConfig) (*TracingProvider, error) {
	var opts []otlptracehttp.Option
	if config.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(config.Endpoint))
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			attribute.String("environment", config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(config.sampler()),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracingProvider{
		provider: provider,
		tracer:   provider.Tracer(InstrumentationName),
	}, nil
}

// Tracer returns the tracer for creating spans.
func (t *TracingProvider) Tracer() trace.Tracer {
	return t.tracer
}

// Shutdown flushes and shuts down the tracing provider.
func (t *TracingProvider) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// DefaultTracer returns a tracer from the global provider, a no-op until a
// TracingProvider is installed.
func DefaultTracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// TraceID returns the trace ID from context.
func TraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// FailSpan records err on span and marks it failed.
func FailSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanError records an error on the span in ctx.
func SetSpanError(ctx context.Context, err error) {
	FailSpan(trace.SpanFromContext(ctx), err)
}

// PolygonAttributes returns span attributes identifying a candidate polygon.
func PolygonAttributes(name, id string, vertices int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("polygon.name", name),
		attribute.Int("polygon.vertices", vertices),
	}
	if id != "" {
		attrs = append(attrs, attribute.String("polygon.id", id))
	}
	return attrs
}

// OutcomeAttributes describes how a validation ended.
func OutcomeAttributes(outcome, stage string, conflicts, skipped int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("polygon.outcome", outcome),
		attribute.String("polygon.stage", stage),
		attribute.Int("polygon.conflicts", conflicts),
		attribute.Int("polygon.skipped", skipped),
	}
}

// TracingMiddleware starts a server span per request. route names the span
// after routing; a nil route falls back to the raw path.
func TracingMiddleware(tracer trace.Tracer, route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
					attribute.String("client.address", r.RemoteAddr),
					semconv.UserAgentOriginal(r.UserAgent()),
				),
			)
			defer span.End()

			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			pattern := r.URL.Path
			if route != nil {
				if p := route(r); p != "" {
					pattern = p
				}
			}
			span.SetName(r.Method + " " + pattern)
			span.SetAttributes(
				attribute.String("http.route", pattern),
				attribute.Int("http.response.status_code", wrapped.status),
			)
			if id := w.Header().Get("X-Request-ID"); id != "" {
				span.SetAttributes(attribute.String("http.request_id", id))
			}
			// 4xx are the caller's problem and leave the span unset.
			if wrapped.status >= 500 {
				span.SetStatus(codes.Error, http.StatusText(wrapped.status))
			}
		})
	}
}

// WrapStoreOperation runs one polygon store operation in a client span.
func WrapStoreOperation(ctx context.Context, tracer trace.Tracer, backend, operation, key string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "store "+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", backend),
			attribute.String("db.operation", operation),
			attribute.String("db.key", key),
		),
	)
	defer span.End()

	if err := fn(ctx); err != nil {
		FailSpan(span, err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
