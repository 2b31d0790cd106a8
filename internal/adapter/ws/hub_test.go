package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("expected non-nil hub")
	}
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub()

	// Broadcast with no connections should not panic.
	hub.Broadcast(context.Background(), Message{
		Type:    "test",
		Payload: []byte(`{"key":"value"}`),
	})
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub()

	// A channel cannot be marshaled to JSON; should log an error, not panic.
	hub.BroadcastEvent(context.Background(), "bad", make(chan int))
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub()

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.remove(&conn{cancel: cancel})
}

func dial(t *testing.T, hub *Hub, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	before := hub.ConnectionCount()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	c, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() == before {
		if time.Now().After(deadline) {
			t.Fatal("connection was not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return c
}

func readMessage(t *testing.T, c *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestHubDeliversEvents(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	defer hub.Close()

	c := dial(t, hub, srv, "")
	hub.BroadcastEvent(context.Background(), EventLSPStatus, LSPStatusEvent{Language: "rust", Status: "ready"})

	msg := readMessage(t, c)
	if msg.Type != EventLSPStatus {
		t.Fatalf("unexpected type %q", msg.Type)
	}
	var ev LSPStatusEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Language != "rust" || ev.Status != "ready" {
		t.Errorf("unexpected payload %+v", ev)
	}
}

func TestHubFiltersByType(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	defer hub.Close()

	c := dial(t, hub, srv, "?types=mcp.toolcall")
	hub.BroadcastEvent(context.Background(), EventLSPProgress, LSPProgressEvent{Token: "t", Kind: "begin"})
	hub.BroadcastEvent(context.Background(), EventToolCall, ToolCallEvent{Tool: "details", Outcome: "ok"})

	if msg := readMessage(t, c); msg.Type != EventToolCall {
		t.Fatalf("filtered connection received %q", msg.Type)
	}
}

func TestConnWants(t *testing.T) {
	all := &conn{}
	lsp := &conn{types: parseTypes("lsp, mcp.toolcall")}

	tests := []struct {
		c    *conn
		typ  string
		want bool
	}{
		{all, EventLSPDiagnostic, true},
		{lsp, EventLSPDiagnostic, true},
		{lsp, EventToolCall, true},
		{lsp, "mcp.other", false},
		{lsp, "lsp", true},
	}
	for _, tt := range tests {
		if got := tt.c.wants(tt.typ); got != tt.want {
			t.Errorf("wants(%q) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestHubClose(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	c := dial(t, hub, srv, "")
	hub.Close()
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections after close, got %d", hub.ConnectionCount())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := c.Read(ctx); err == nil {
		t.Fatal("expected the connection to be closed")
	}
}
