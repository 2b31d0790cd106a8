package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "sensebridge"

// Metrics holds all bridge metric instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	LSPRequests          metric.Int64Counter
	LSPRequestDuration   metric.Float64Histogram
	NotificationsDropped metric.Int64Counter
	ToolCalls            metric.Int64Counter
	ToolDuration         metric.Float64Histogram
	IndexLookups         metric.Int64Counter
	FieldsUnavailable    metric.Int64Counter
	BundlesDegraded      metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.LSPRequests, err = meter.Int64Counter("sensebridge.lsp.requests",
		metric.WithDescription("Language server requests by method and outcome"))
	if err != nil {
		return nil, err
	}

	m.LSPRequestDuration, err = meter.Float64Histogram("sensebridge.lsp.request.duration_seconds",
		metric.WithDescription("Language server request latency"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.NotificationsDropped, err = meter.Int64Counter("sensebridge.lsp.notifications.dropped",
		metric.WithDescription("Server notifications dropped on full subscriber queues"))
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter("sensebridge.mcp.toolcalls",
		metric.WithDescription("MCP tool calls by tool and outcome"))
	if err != nil {
		return nil, err
	}

	m.ToolDuration, err = meter.Float64Histogram("sensebridge.mcp.toolcall.duration_seconds",
		metric.WithDescription("MCP tool call latency"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.IndexLookups, err = meter.Int64Counter("sensebridge.index.lookups",
		metric.WithDescription("Semantic index lookups by result (hit, miss, stale)"))
	if err != nil {
		return nil, err
	}

	m.FieldsUnavailable, err = meter.Int64Counter("sensebridge.details.fields_unavailable",
		metric.WithDescription("Detail bundle fields that could not be obtained"))
	if err != nil {
		return nil, err
	}

	m.BundlesDegraded, err = meter.Int64Counter("sensebridge.details.degraded",
		metric.WithDescription("Detail bundles marked degraded by a concurrent edit"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordLSPRequest counts one language server round trip.
func (m *Metrics) RecordLSPRequest(ctx context.Context, method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("method", method), attribute.String("outcome", outcome))
	m.LSPRequests.Add(ctx, 1, attrs)
	m.LSPRequestDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordNotificationDropped counts one notification lost to backpressure.
func (m *Metrics) RecordNotificationDropped(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.NotificationsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// RecordToolCall counts one MCP tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tool", tool), attribute.String("outcome", outcome))
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordIndexLookup counts one semantic index lookup.
func (m *Metrics) RecordIndexLookup(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.IndexLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordFieldUnavailable counts one failed detail sub-request.
func (m *Metrics) RecordFieldUnavailable(ctx context.Context, field string) {
	if m == nil {
		return
	}
	m.FieldsUnavailable.Add(ctx, 1, metric.WithAttributes(attribute.String("field", field)))
}

// RecordDegraded counts one degraded detail bundle.
func (m *Metrics) RecordDegraded(ctx context.Context) {
	if m == nil {
		return
	}
	m.BundlesDegraded.Add(ctx, 1)
}
