package middleware

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for edge middleware.
const defaultTracerName = "coachcall/edge"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "coachcall/edge").
	TracerName string

	// Filter determines which requests to trace. Return true to trace
	// the request, false to skip. If nil, all requests are traced.
	Filter func(r *http.Request) bool

	// AttributeExtractor extracts custom attributes from the request.
	// Called for each traced request.
	AttributeExtractor func(r *http.Request) []attribute.KeyValue

	// tracer is the resolved tracer instance.
	tracer trace.Tracer
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithFilter sets a filter function for requests.
func WithFilter(filter func(r *http.Request) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(r *http.Request) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

// OpenTelemetry creates middleware that traces every request.
//
// The middleware creates a span per request named "METHOD path", injects
// the span context into the request context for downstream calls, and sets
// span status from the response code.
//
// The tracer uses the global OpenTelemetry tracer provider. Configure it
// in your main() before starting the server:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func OpenTelemetry(opts ...OTelOption) func(http.Handler) http.Handler {
	config := OTelConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	config.tracer = otel.Tracer(config.TracerName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.Filter != nil && !config.Filter(r) {
				next.ServeHTTP(w, r)
				return
			}

			attrs := []attribute.KeyValue{
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(r)...)
			}

			spanCtx, span := config.tracer.Start(
				r.Context(),
				r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r.WithContext(spanCtx))

			status := sw.statusCode()
			span.SetAttributes(attribute.Int("http.status_code", status))
			if status >= 500 {
				span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
			} else {
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}
