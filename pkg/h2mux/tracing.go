package h2mux

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the package's otel tracer, grounded on celeris's
// pkg/celeris/tracing.go (otel.Tracer(name) held once, used to start a
// span per unit of work — there, a request; here, a stream activation
// or a GOAWAY fan-out).
var tracer = otel.Tracer("h2mux")

// traceActivation starts a span covering one stream's activation: the
// window credit and the writability-changed notification.
func traceActivation(ctx context.Context, streamID uint32) (context.Context, trace.Span) {
	spanCtx, span := tracer.Start(ctx, "h2mux.stream_active", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.Int64("h2mux.stream_id", int64(streamID)))
	return spanCtx, span
}

// traceGoAwayFanOut starts a span covering one GOAWAY's fan-out across
// all qualifying children.
func traceGoAwayFanOut(ctx context.Context, lastStreamID uint32) (context.Context, trace.Span) {
	spanCtx, span := tracer.Start(ctx, "h2mux.goaway_fanout", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.Int64("h2mux.last_stream_id", int64(lastStreamID)))
	return spanCtx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
