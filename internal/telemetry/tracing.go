package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation name dagcore registers spans
// under; the host application's TracerProvider decides what, if
// anything, happens with them.
const tracerName = "github.com/flowmesh/dagcore"

// Tracer returns the library's tracer. With no TracerProvider
// configured by the host, otel.Tracer returns a no-op implementation,
// so calling this unconditionally is always safe.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan is a convenience wrapper around Tracer().Start, mirroring
// the teacher's tracing.StartSpan helper.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// RecordError records err on the span carried by ctx, if any and if it
// is currently recording.
func RecordError(ctx context.Context, err error, opts ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err, opts...)
	}
}
