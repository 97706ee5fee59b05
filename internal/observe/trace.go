package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the soundalert tracer.
const tracerName = "github.com/MrWong99/soundalert"

// SpanCycle is the root span of one monitoring cycle. Stage spans started
// with [StartStage] are its children.
const SpanCycle = "monitor.cycle"

// Tracer returns the package-level [trace.Tracer] for soundalert. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartStage starts the child span "monitor.<stage>" for one pipeline stage.
// Finish it with [EndStage].
func StartStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "monitor."+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("monitor.stage", stage)),
	)
}

// EndStage marks span failed when err is non-nil and ends it.
func EndStage(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// DetectionAttributes describes a classifier verdict.
func DetectionAttributes(label string, confidence float32, priority int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("sound.label", label),
		attribute.Float64("sound.confidence", float64(confidence)),
		attribute.Int("sound.priority", priority),
	}
}

// AnnotateDetection attaches the verdict to the span active in ctx. It is a
// no-op when ctx carries no recording span.
func AnnotateDetection(ctx context.Context, label string, confidence float32, priority int) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(DetectionAttributes(label, confidence, priority)...)
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
// The trace ID is echoed to HTTP clients as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default [slog.Logger] enriched with trace_id and span_id
// from ctx, so a failed cycle's log line can be matched to its trace.
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
