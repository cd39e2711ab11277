package bridge

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for bridge instrumentation.
const defaultTracerName = "gamebridge"

// TraceConfig configures OpenTelemetry tracing for the bridge.
type TraceConfig struct {
	// TracerName is the name of the tracer (default: "gamebridge").
	TracerName string

	// Filter determines which dispatches to trace. Return true to trace.
	// If nil, all dispatches are traced.
	Filter func(target, method string) bool

	tracer trace.Tracer
}

// TraceOption configures OpenTelemetry tracing.
type TraceOption func(*TraceConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) TraceOption {
	return func(c *TraceConfig) {
		c.TracerName = name
	}
}

// WithTraceFilter sets a filter for which dispatches get spans.
func WithTraceFilter(filter func(target, method string) bool) TraceOption {
	return func(c *TraceConfig) {
		c.Filter = filter
	}
}

// Trace installs an OpenTelemetry dispatch hook on the bridge: every
// inbound dispatch produces a span named "gamebridge.<target>.<method>"
// with target, method, and payload kind as attributes.
//
// The tracer comes from the global tracer provider; configure it with
// otel.SetTracerProvider before traffic starts. Dispatch hooks fire
// after the handler runs, so spans mark completion points rather than
// wrapping handler execution.
func Trace(b *Bridge, opts ...TraceOption) {
	config := TraceConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	config.tracer = otel.Tracer(config.TracerName)

	prev := b.hooks.OnDispatch
	b.hooks.OnDispatch = func(target, method string, binary bool) {
		if config.Filter == nil || config.Filter(target, method) {
			kind := "text"
			if binary {
				kind = "binary"
			}
			_, span := config.tracer.Start(
				context.Background(),
				fmt.Sprintf("gamebridge.%s.%s", target, method),
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("gamebridge.target", target),
					attribute.String("gamebridge.method", method),
					attribute.String("gamebridge.payload_kind", kind),
				),
			)
			span.End()
		}
		if prev != nil {
			prev(target, method, binary)
		}
	}
}
