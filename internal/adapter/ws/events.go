package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	lspDomain "github.com/Strob0t/sensebridge/internal/domain/lsp"
)

// Event type constants for WebSocket messages.
const (
	EventLSPStatus     = "lsp.status"
	EventLSPProgress   = "lsp.progress"
	EventLSPDiagnostic = "lsp.diagnostic"
	EventToolCall      = "mcp.toolcall"
)

// LSPStatusEvent is broadcast when the language server session changes state.
type LSPStatusEvent struct {
	Language string `json:"language"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// LSPProgressEvent relays one $/progress notification.
type LSPProgressEvent struct {
	Language   string `json:"language"`
	Token      string `json:"token"`
	Kind       string `json:"kind"` // "begin", "report" or "end"
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
	Percentage *int   `json:"percentage,omitempty"`
}

// LSPDiagnosticEvent carries the latest diagnostics of one document.
type LSPDiagnosticEvent struct {
	Language    string                 `json:"language"`
	URI         string                 `json:"uri"`
	Diagnostics []lspDomain.Diagnostic `json:"diagnostics"`
}

// ToolCallEvent is broadcast when an MCP tool call completes.
type ToolCallEvent struct {
	RequestID  string `json:"request_id"`
	Tool       string `json:"tool"`
	Outcome    string `json:"outcome"` // "ok", "candidates" or "error"
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
