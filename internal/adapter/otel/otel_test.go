package otel

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/sensebridge/internal/config"
)

func TestInitExposesMetrics(t *testing.T) {
	tel, err := Init(context.Background(), config.Telemetry{ServiceName: "sensebridge-test"}, "test")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordToolCall(context.Background(), "find_things", "ok", 15*time.Millisecond)

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(string(body), "sensebridge_mcp_toolcalls") {
		t.Errorf("tool call counter missing from exposition:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("go collector missing from exposition")
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordLSPRequest(ctx, "textDocument/hover", "ok", time.Millisecond)
	m.RecordNotificationDropped(ctx, "$/progress")
	m.RecordToolCall(ctx, "details", "error", time.Millisecond)
	m.RecordIndexLookup(ctx, "hit")
	m.RecordFieldUnavailable(ctx, "references")
	m.RecordDegraded(ctx)
}

func TestHTTPMiddlewarePassesThrough(t *testing.T) {
	for _, path := range []string{"/health", "/events"} {
		called := false
		h := HTTPMiddleware("sensebridge")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			called = true
			w.WriteHeader(http.StatusTeapot)
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		if !called || rec.Code != http.StatusTeapot {
			t.Errorf("%s: called=%v status=%d", path, called, rec.Code)
		}
	}
}
