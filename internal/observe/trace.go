package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the castvoice tracer.
const tracerName = "github.com/MrWong99/castvoice"

// Span and log attribute keys shared by the synthesis path.
const (
	AttrCharacterID attribute.Key = "character_id"
	AttrMessageID   attribute.Key = "message_id"
	AttrProvider    attribute.Key = "provider"
)

// Tracer returns the castvoice tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on the castvoice tracer. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartSynthesisSpan starts the span of one synthesis request, tagged with
// the character and message it renders. Attach the adapter that produced the
// audio with [SetProvider].
func StartSynthesisSpan(ctx context.Context, op, characterID, messageID string) (context.Context, trace.Span) {
	return StartSpan(ctx, op, trace.WithAttributes(
		AttrCharacterID.String(characterID),
		AttrMessageID.String(messageID),
	))
}

// SetProvider records the adapter that served the request on span.
func SetProvider(span trace.Span, provider string) {
	span.SetAttributes(AttrProvider.String(provider))
}

// CorrelationID is the trace id of the span in ctx, or "" without one. The
// HTTP API returns it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger, with trace_id and span_id added when ctx
// carries a span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
