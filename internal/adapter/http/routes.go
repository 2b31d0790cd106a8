package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/sensebridge/internal/domain"
	lspDomain "github.com/Strob0t/sensebridge/internal/domain/lsp"
)

// Session reports language server health.
type Session interface {
	Healthy() error
	Status() lspDomain.ServerInfo
}

// BreakerStates reports per-request-kind circuit breaker states.
type BreakerStates interface {
	States() map[string]string
}

// RouterDeps holds the handlers mounted on the router. Nil handlers are not
// mounted.
type RouterDeps struct {
	Session  Session
	Breakers BreakerStates
	MCP      http.Handler // streamable MCP transport
	Events   http.Handler // WebSocket event stream
	Metrics  http.Handler // Prometheus exposition
	// Middleware wraps every route, e.g. tracing and auth.
	Middleware []func(http.Handler) http.Handler
	// Auth guards /mcp and /events.
	Auth func(http.Handler) http.Handler
}

// NewRouter builds the HTTP surface.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, chimw.RealIP, Logger, chimw.Recoverer)
	r.Use(deps.Middleware...)

	r.Get("/health", healthHandler(deps.Session, deps.Breakers))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(deps.Auth)
		}
		if deps.Events != nil {
			r.Get("/events", deps.Events.ServeHTTP)
		}
		if deps.MCP != nil {
			r.Handle("/mcp", deps.MCP)
		}
	})
	return r
}

type healthResponse struct {
	Status  string               `json:"status"`
	Session  lspDomain.ServerInfo `json:"session"`
	Breakers map[string]string    `json:"breakers,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// healthHandler answers 200 while the language server is usable, 503
// otherwise. An open breaker alone does not fail the check.
func healthHandler(session Session, breakers BreakerStates) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{Status: "ok"}
		if breakers != nil {
			resp.Breakers = breakers.States()
		}
		if session == nil {
			writeJSON(w, http.StatusOK, resp)
			return
		}
		resp.Session = session.Status()
		status := http.StatusOK
		if err := session.Healthy(); err != nil {
			resp.Status = "unavailable"
			resp.Error = domain.Chain(err)
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}
