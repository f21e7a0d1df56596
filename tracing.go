package aclengine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/sheetguard/aclengine")

// NewTracerProvider builds a TracerProvider with the given span
// processors (e.g. an exporter-backed batch processor) and installs it
// as the global provider tracer reads from. Document servers that
// don't otherwise configure OpenTelemetry can call this once at
// startup; callers that already run their own provider should set it
// globally themselves and skip this.
func NewTracerProvider(opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp
}

// startSpan opens a span for one engine operation, tagging it with the
// session and table involved. Callers defer the returned function to
// close the span regardless of outcome.
func startSpan(ctx context.Context, name string, session Session, table TableID) (context.Context, func(err error)) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("aclengine.session", string(session)),
		attribute.String("aclengine.table", string(table)),
	))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
