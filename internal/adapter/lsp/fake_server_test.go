package lsp

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/sensebridge/internal/config"
	lspDomain "github.com/Strob0t/sensebridge/internal/domain/lsp"
)

// noReply makes a fake handler leave the request unanswered.
var noReply = &ResponseError{Code: -1, Message: "no reply"}

// repeatReply makes a fake handler answer the same request id three times.
var repeatReply = &ResponseError{Code: -2, Message: "repeat reply"}

type handlerFunc func(params json.RawMessage) (any, *ResponseError)

// fakeServer speaks LSP over in-memory pipes using the real framing code.
type fakeServer struct {
	t    *testing.T
	conn *JSONRPCConn

	mu       sync.Mutex
	handlers map[string]handlerFunc
	notes    []JSONRPCMessage

	notified  chan JSONRPCMessage
	responses chan *JSONRPCMessage
	done      chan struct{}
}

type pipeRWC struct {
	io.Reader
	io.Writer
	closers []io.Closer
}

func (p pipeRWC) Close() error {
	for _, c := range p.closers {
		_ = c.Close()
	}
	return nil
}

func testLSPConfig() *config.LSP {
	return &config.LSP{
		StartTimeout:       2 * time.Second,
		RequestTimeout:     2 * time.Second,
		ShutdownTimeout:    time.Second,
		ReadyTimeout:       time.Second,
		MaxDiagnostics:     10,
		NotificationBuffer: 16,
	}
}

func testServerConfig() lspDomain.LanguageServerConfig {
	return lspDomain.LanguageServerConfig{
		LanguageID:           "rust",
		Extensions:           []string{".rs"},
		SearchScopeExtension: true,
	}
}

func fakeInitializeResult() map[string]any {
	return map[string]any{
		"capabilities": map[string]any{
			"positionEncoding":        "utf-8",
			"hoverProvider":           true,
			"definitionProvider":      true,
			"declarationProvider":     true,
			"implementationProvider":  map[string]any{},
			"referencesProvider":      true,
			"documentSymbolProvider":  true,
			"workspaceSymbolProvider": true,
			"semanticTokensProvider": map[string]any{
				"legend": map[string]any{
					"tokenTypes":     []string{"function", "struct", "method", "property"},
					"tokenModifiers": []string{"declaration", "public"},
				},
				"full": map[string]any{"delta": true},
			},
		},
		"serverInfo": map[string]any{"name": "fake-analyzer", "version": "0.1"},
	}
}

// newFakeServer wires a fake server to a fresh client and returns both
// before the handshake.
func newFakeServer(t *testing.T) (*fakeServer, io.ReadWriteCloser) {
	t.Helper()

	c2sR, c2sW := io.Pipe()
	s2cR, s2cW := io.Pipe()

	clientSide := pipeRWC{Reader: s2cR, Writer: c2sW, closers: []io.Closer{c2sW, s2cR}}
	serverSide := pipeRWC{Reader: c2sR, Writer: s2cW, closers: []io.Closer{s2cW, c2sR}}

	s := &fakeServer{
		t:         t,
		conn:      NewJSONRPCConn(serverSide),
		handlers:  make(map[string]handlerFunc),
		notified:  make(chan JSONRPCMessage, 64),
		responses: make(chan *JSONRPCMessage, 8),
		done:      make(chan struct{}),
	}
	s.handle("initialize", func(json.RawMessage) (any, *ResponseError) {
		return fakeInitializeResult(), nil
	})
	s.handle("shutdown", func(json.RawMessage) (any, *ResponseError) {
		return nil, nil
	})

	go s.serve()
	t.Cleanup(func() {
		_ = serverSide.Close()
		_ = clientSide.Close()
		<-s.done
	})
	return s, clientSide
}

// connect performs the handshake and registers a shutdown on cleanup.
func connect(t *testing.T, s *fakeServer, rwc io.ReadWriteCloser, opts ...Option) *Client {
	t.Helper()
	c := NewClient(testServerConfig(), testLSPConfig(), t.TempDir(), opts...)
	if err := c.Connect(t.Context(), rwc); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Shutdown(context.Background())
	})
	return c
}

func (s *fakeServer) handle(method string, fn handlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = fn
}

func (s *fakeServer) serve() {
	defer close(s.done)
	for {
		msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		switch {
		case msg.IsResponse():
			s.responses <- msg
		case msg.IsNotification():
			s.mu.Lock()
			s.notes = append(s.notes, *msg)
			s.mu.Unlock()
			select {
			case s.notified <- *msg:
			default:
			}
			if msg.Method == "exit" {
				_ = s.conn.Close()
				return
			}
		case msg.IsRequest():
			s.mu.Lock()
			fn, ok := s.handlers[msg.Method]
			s.mu.Unlock()
			go s.answer(msg, fn, ok)
		}
	}
}

func (s *fakeServer) answer(msg *JSONRPCMessage, fn handlerFunc, ok bool) {
	if !ok {
		_ = s.conn.Reply(msg.ID, nil, &ResponseError{Code: CodeMethodNotFound, Message: "unknown method " + msg.Method})
		return
	}
	result, rpcErr := fn(msg.Params)
	if rpcErr == noReply {
		return
	}
	if rpcErr == repeatReply {
		for range 3 {
			_ = s.conn.Reply(msg.ID, "again", nil)
		}
		return
	}
	_ = s.conn.Reply(msg.ID, result, rpcErr)
}

// waitNotification returns the next client notification with method.
func (s *fakeServer) waitNotification(method string) JSONRPCMessage {
	s.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-s.notified:
			if msg.Method == method {
				return msg
			}
		case <-timeout:
			s.t.Fatalf("no %s notification received", method)
			return JSONRPCMessage{}
		}
	}
}

func (s *fakeServer) notifications(method string) []JSONRPCMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []JSONRPCMessage
	for _, n := range s.notes {
		if n.Method == method {
			out = append(out, n)
		}
	}
	return out
}
