package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "sensebridge"

// StartToolCallSpan starts a span for an MCP tool call.
func StartToolCallSpan(ctx context.Context, requestID, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "mcp.toolcall",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("mcp.tool", tool),
		),
	)
}

// StartLSPRequestSpan starts a client span for one language server request.
func StartLSPRequestSpan(ctx context.Context, method string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "lsp."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("lsp.method", method)),
	)
}

// StartAggregationSpan starts a span covering one detail aggregation.
func StartAggregationSpan(ctx context.Context, path string, line, character int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "details.aggregate",
		trace.WithAttributes(
			attribute.String("document.path", path),
			attribute.Int("position.line", line),
			attribute.Int("position.character", character),
		),
	)
}
