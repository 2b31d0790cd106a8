package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lspAdapter "github.com/Strob0t/sensebridge/internal/adapter/lsp"
	"github.com/Strob0t/sensebridge/internal/adapter/ws"
	"github.com/Strob0t/sensebridge/internal/config"
	lspDomain "github.com/Strob0t/sensebridge/internal/domain/lsp"
	"github.com/Strob0t/sensebridge/internal/port/broadcast"
)

// diagnosticDelay debounces diagnostic broadcasts per URI.
const diagnosticDelay = 500 * time.Millisecond

// Session is the subset of the language server session the services use.
type Session interface {
	Workspace() string
	ResolvePath(path string) string
	Handles(path string) bool
	Config() lspDomain.LanguageServerConfig
	Capabilities() lspAdapter.Capabilities

	Open(ctx context.Context, path string) (lspAdapter.Document, error)
	Document(path string) (lspAdapter.Document, bool)
	Version(path string) int32
	Versions() map[string]int32

	DocumentSymbols(ctx context.Context, path string) ([]lspDomain.DocumentSymbol, []lspDomain.SymbolInformation, error)
	SemanticTokensFull(ctx context.Context, path string) ([]uint32, error)
	Hover(ctx context.Context, path string, pos lspDomain.Position) (*lspDomain.HoverResult, error)
	Definition(ctx context.Context, path string, pos lspDomain.Position) ([]lspDomain.Location, error)
	Declaration(ctx context.Context, path string, pos lspDomain.Position) ([]lspDomain.Location, error)
	Implementation(ctx context.Context, path string, pos lspDomain.Position) ([]lspDomain.Location, error)
	References(ctx context.Context, path string, pos lspDomain.Position) ([]lspDomain.Location, error)
	WorkspaceSymbol(ctx context.Context, query string, opts lspAdapter.WorkspaceSymbolOptions) ([]lspDomain.SymbolInformation, error)
}

var _ Session = (*lspAdapter.Client)(nil)

// LSPService owns the language server session lifecycle and forwards its
// status, progress and diagnostics to the event broadcaster.
type LSPService struct {
	cfg    *config.LSP
	client *lspAdapter.Client
	hub    broadcast.Broadcaster

	unsubscribe func()
	forwarding  sync.WaitGroup

	mu       sync.Mutex
	startErr error

	// Debounce diagnostic broadcasts per URI.
	diagTimers map[string]*time.Timer
	diagMu     sync.Mutex
}

// NewLSPService creates a new LSP service. hub may be nil.
func NewLSPService(cfg *config.LSP, client *lspAdapter.Client, hub broadcast.Broadcaster) *LSPService {
	s := &LSPService{
		cfg:        cfg,
		client:     client,
		hub:        hub,
		diagTimers: make(map[string]*time.Timer),
	}
	client.SetDiagnosticCallback(s.onDiagnostic)
	return s
}

// Client returns the managed session.
func (s *LSPService) Client() *lspAdapter.Client {
	return s.client
}

// Start spawns the language server and begins forwarding its events.
func (s *LSPService) Start(ctx context.Context) error {
	s.broadcastStatus(ctx, lspDomain.ServerStatusStarting, "")

	err := s.client.Start(ctx)
	s.mu.Lock()
	s.startErr = err
	s.mu.Unlock()
	if err != nil {
		slog.Error("lsp: failed to start server", "language", s.client.Language(), "error", err)
		s.broadcastStatus(ctx, lspDomain.ServerStatusFailed, err.Error())
		return err
	}

	notes, unsubscribe := s.client.Subscribe(s.cfg.NotificationBuffer)
	s.unsubscribe = unsubscribe
	s.forwarding.Add(1)
	go s.forwardProgress(notes)

	s.broadcastStatus(ctx, lspDomain.ServerStatusReady, "")
	return nil
}

// Stop shuts the language server down.
func (s *LSPService) Stop(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.forwarding.Wait()
		s.unsubscribe = nil
	}

	err := s.client.Shutdown(ctx)
	if err != nil {
		slog.Warn("lsp: failed to stop server", "language", s.client.Language(), "error", err)
	}

	s.diagMu.Lock()
	for key, t := range s.diagTimers {
		t.Stop()
		delete(s.diagTimers, key)
	}
	s.diagMu.Unlock()

	s.broadcastStatus(ctx, lspDomain.ServerStatusStopped, "")
	return err
}

// WaitReady blocks until the server finished its initial indexing. When the
// bounded wait expires the bridge proceeds with a warning; answers may be
// incomplete until the server catches up.
func (s *LSPService) WaitReady(ctx context.Context) error {
	err := s.client.Progress().WaitReady(ctx, s.cfg.ReadyTimeout)
	if errors.Is(err, lspAdapter.ErrTimeout) {
		slog.Warn("lsp: readiness wait expired, proceeding", "language", s.client.Language(), "error", err)
		return nil
	}
	return err
}

// Status returns the session status.
func (s *LSPService) Status() lspDomain.ServerInfo {
	return s.client.Info()
}

// Healthy returns nil while the session serves requests, or the reason it
// cannot.
func (s *LSPService) Healthy() error {
	status := s.client.Status()
	if status == lspDomain.ServerStatusReady {
		return nil
	}
	if err := s.client.Err(); err != nil {
		return fmt.Errorf("%w: %w", lspAdapter.ErrServerNotRunning, err)
	}
	s.mu.Lock()
	startErr := s.startErr
	s.mu.Unlock()
	if startErr != nil {
		return fmt.Errorf("%w: %w", lspAdapter.ErrServerNotRunning, startErr)
	}
	if status == lspDomain.ServerStatusFailed {
		return lspAdapter.ErrServerNotRunning
	}
	return fmt.Errorf("%w: session is %s", lspAdapter.ErrServerNotRunning, status)
}

// forwardProgress relays $/progress notifications until unsubscribed.
func (s *LSPService) forwardProgress(notes <-chan lspAdapter.Notification) {
	defer s.forwarding.Done()
	for n := range notes {
		if n.Method != "$/progress" || s.hub == nil {
			continue
		}
		var p struct {
			Token json.RawMessage `json:"token"`
			Value struct {
				Kind       string `json:"kind"`
				Title      string `json:"title"`
				Message    string `json:"message"`
				Percentage *int   `json:"percentage"`
			} `json:"value"`
		}
		if err := json.Unmarshal(n.Params, &p); err != nil {
			continue
		}
		s.hub.BroadcastEvent(context.Background(), ws.EventLSPProgress, ws.LSPProgressEvent{
			Language:   s.client.Language(),
			Token:      string(p.Token),
			Kind:       p.Value.Kind,
			Title:      p.Value.Title,
			Message:    p.Value.Message,
			Percentage: p.Value.Percentage,
		})
	}
}

// onDiagnostic is the callback from the client when diagnostics are received.
// It debounces broadcasts.
func (s *LSPService) onDiagnostic(uri string, diags []lspDomain.Diagnostic) {
	if s.hub == nil {
		return
	}

	s.diagMu.Lock()
	defer s.diagMu.Unlock()

	// Cancel any existing debounce timer.
	if t, ok := s.diagTimers[uri]; ok {
		t.Stop()
	}

	// Set a new debounce timer.
	s.diagTimers[uri] = time.AfterFunc(diagnosticDelay, func() {
		s.hub.BroadcastEvent(context.Background(), ws.EventLSPDiagnostic, ws.LSPDiagnosticEvent{
			Language:    s.client.Language(),
			URI:         uri,
			Diagnostics: diags,
		})

		s.diagMu.Lock()
		delete(s.diagTimers, uri)
		s.diagMu.Unlock()
	})
}

// broadcastStatus sends an LSP status event.
func (s *LSPService) broadcastStatus(ctx context.Context, status lspDomain.ServerStatus, errMsg string) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastEvent(ctx, ws.EventLSPStatus, ws.LSPStatusEvent{
		Language: s.client.Language(),
		Status:   string(status),
		Error:    errMsg,
	})
}
