package http

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/sensebridge/internal/logger"
)

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

// The /events WebSocket upgrade hijacks the connection through the logging
// wrapper, so the wrapper must pass Hijacker and Flusher through.
func TestResponseWriterPassThrough(t *testing.T) {
	t.Run("hijack", func(t *testing.T) {
		inner := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
		rw := &responseWriter{ResponseWriter: inner, status: http.StatusOK}
		hj, ok := http.ResponseWriter(rw).(http.Hijacker)
		if !ok {
			t.Fatal("responseWriter does not implement http.Hijacker")
		}
		if _, _, err := hj.Hijack(); err != nil || !inner.hijacked {
			t.Fatalf("Hijack err=%v delegated=%v", err, inner.hijacked)
		}
	})

	t.Run("hijack unsupported", func(t *testing.T) {
		rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
		if _, _, err := rw.Hijack(); err == nil {
			t.Fatal("expected error when upstream does not implement Hijacker")
		}
	})

	t.Run("flush", func(t *testing.T) {
		inner := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: inner, status: http.StatusOK}
		f, ok := http.ResponseWriter(rw).(http.Flusher)
		if !ok {
			t.Fatal("responseWriter does not implement http.Flusher")
		}
		f.Flush()
		if !inner.Flushed {
			t.Fatal("expected inner ResponseRecorder to be flushed")
		}
	})
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	req.Header.Set(headerRequestID, "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc" || rec.Header().Get(headerRequestID) != "abc" {
		t.Fatalf("incoming id not propagated: ctx=%q header=%q", seen, rec.Header().Get(headerRequestID))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if seen == "" || seen == "abc" || rec.Header().Get(headerRequestID) != seen {
		t.Fatalf("expected a generated id, got ctx=%q header=%q", seen, rec.Header().Get(headerRequestID))
	}
}

func TestLoggerRecordsStatus(t *testing.T) {
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", http.NoBody))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}
