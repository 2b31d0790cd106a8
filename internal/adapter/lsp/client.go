// Package lsp provides a Language Server Protocol client that manages a single
// language server process, communicating via JSON-RPC 2.0 over stdio.
package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	cfotel "github.com/Strob0t/sensebridge/internal/adapter/otel"
	"github.com/Strob0t/sensebridge/internal/config"
	lspDomain "github.com/Strob0t/sensebridge/internal/domain/lsp"
)

// Notification is an unsolicited server message delivered to subscribers.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics records request metrics.
func WithMetrics(m *cfotel.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithStreamWrapper wraps the server stream before framing, e.g. to record a transcript.
func WithStreamWrapper(fn func(io.ReadWriteCloser) io.ReadWriteCloser) Option {
	return func(c *Client) { c.wrap = fn }
}

// WithStderr redirects the server's stderr. Defaults to os.Stderr.
func WithStderr(w io.Writer) Option {
	return func(c *Client) { c.stderr = w }
}

// WithVersion sets the client version reported in initialize.
func WithVersion(v string) Option {
	return func(c *Client) { c.version = v }
}

// Client manages a single language server process and provides code intelligence operations.
type Client struct {
	language  string
	config    lspDomain.LanguageServerConfig
	lspCfg    *config.LSP
	workspace string
	version   string
	metrics   *cfotel.Metrics
	wrap      func(io.ReadWriteCloser) io.ReadWriteCloser
	stderr    io.Writer

	lifecycle sync.Mutex // serializes Start/Connect/Shutdown

	mu         sync.Mutex
	cmd        *exec.Cmd
	exited     chan error
	conn       *JSONRPCConn
	status     lspDomain.ServerStatus
	fatal      error
	caps       Capabilities
	serverName string
	done       chan struct{} // closed when readLoop exits
	stopping   atomic.Bool

	nextID  atomic.Int64
	pending map[int64]chan *JSONRPCMessage
	pendMu  sync.Mutex

	subs    map[int]chan Notification
	nextSub int
	subMu   sync.Mutex

	docs     *documentStore
	progress *ProgressGuard

	diagnostics  map[string][]lspDomain.Diagnostic // URI -> diagnostics
	diagMu       sync.RWMutex
	onDiagnostic atomic.Pointer[func(uri string, diags []lspDomain.Diagnostic)]
}

// NewClient creates a new LSP client for the given language and workspace root.
func NewClient(cfg lspDomain.LanguageServerConfig, lspCfg *config.LSP, workspace string, opts ...Option) *Client {
	if abs, err := filepath.Abs(workspace); err == nil {
		workspace = abs
	}
	c := &Client{
		language:    cfg.LanguageID,
		config:      cfg,
		lspCfg:      lspCfg,
		workspace:   workspace,
		version:     "dev",
		stderr:      os.Stderr,
		status:      lspDomain.ServerStatusStopped,
		pending:     make(map[int64]chan *JSONRPCMessage),
		subs:        make(map[int]chan Notification),
		diagnostics: make(map[string][]lspDomain.Diagnostic),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.docs = newDocumentStore(c)
	c.progress = newProgressGuard(cfg.InitProgressTokens)
	return c
}

// SetDiagnosticCallback sets a callback invoked when diagnostics are received.
func (c *Client) SetDiagnosticCallback(fn func(uri string, diags []lspDomain.Diagnostic)) {
	c.onDiagnostic.Store(&fn)
}

// Status returns the current server status.
func (c *Client) Status() lspDomain.ServerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the fatal error that terminated the session, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

// Language returns the language this client manages.
func (c *Client) Language() string {
	return c.language
}

// Workspace returns the absolute workspace root.
func (c *Client) Workspace() string {
	return c.workspace
}

// Capabilities returns what the server advertised during initialize.
func (c *Client) Capabilities() Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

// Config returns the language server configuration.
func (c *Client) Config() lspDomain.LanguageServerConfig {
	return c.config
}

// Progress returns the readiness guard fed by $/progress notifications.
func (c *Client) Progress() *ProgressGuard {
	return c.progress
}

// PID returns the process ID of the language server, or 0 if not running.
func (c *Client) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd != nil && c.cmd.Process != nil {
		return c.cmd.Process.Pid
	}
	return 0
}

// Info summarizes the session for health reporting.
func (c *Client) Info() lspDomain.ServerInfo {
	info := lspDomain.ServerInfo{
		Language:    c.language,
		Status:      c.Status(),
		PID:         c.PID(),
		Diagnostics: c.DiagnosticCount(),
		Ready:       c.progress.Ready(),
	}
	if len(c.config.Command) > 0 {
		info.Command = c.config.Command[0]
	}
	if err := c.Err(); err != nil {
		info.Error = err.Error()
	}
	return info
}

// Start spawns the language server process and performs the LSP initialize
// handshake. Spawn failures, handshake errors and handshake timeouts wrap
// ErrStartup; the process is killed in those cases.
func (c *Client) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if s := c.Status(); s == lspDomain.ServerStatusReady || s == lspDomain.ServerStatusStarting {
		return nil
	}

	if len(c.config.Command) == 0 {
		c.setStatus(lspDomain.ServerStatusFailed)
		return fmt.Errorf("%w: no command configured for language %s", ErrStartup, c.language)
	}

	// Check if the binary exists on PATH.
	if _, err := exec.LookPath(c.config.Command[0]); err != nil {
		c.setStatus(lspDomain.ServerStatusFailed)
		return fmt.Errorf("%w: language server binary not found: %s", ErrStartup, c.config.Command[0])
	}

	// The process outlives the start context; Shutdown or a fatal error kills it.
	cmd := exec.Command(c.config.Command[0], c.config.Command[1:]...) //nolint:gosec // command from trusted config
	cmd.Dir = c.workspace
	cmd.Stderr = c.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.setStatus(lspDomain.ServerStatusFailed)
		return fmt.Errorf("%w: stdin pipe: %w", ErrStartup, err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.setStatus(lspDomain.ServerStatusFailed)
		return fmt.Errorf("%w: stdout pipe: %w", ErrStartup, err)
	}

	if err := cmd.Start(); err != nil {
		c.setStatus(lspDomain.ServerStatusFailed)
		return fmt.Errorf("%w: start process: %w", ErrStartup, err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	c.mu.Lock()
	c.cmd = cmd
	c.exited = exited
	c.mu.Unlock()

	if err := c.connect(ctx, stdioPipe{stdin: stdin, stdout: stdout}); err != nil {
		_ = cmd.Process.Kill()
		return err
	}

	slog.Info("lsp server started", "language", c.language, "server", c.serverName, "pid", cmd.Process.Pid, "workspace", c.workspace)
	return nil
}

// Connect performs the initialize handshake over an already established
// stream instead of spawning a process.
func (c *Client) Connect(ctx context.Context, rwc io.ReadWriteCloser) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if s := c.Status(); s == lspDomain.ServerStatusReady || s == lspDomain.ServerStatusStarting {
		return nil
	}
	return c.connect(ctx, rwc)
}

func (c *Client) connect(ctx context.Context, rwc io.ReadWriteCloser) error {
	if c.wrap != nil {
		rwc = c.wrap(rwc)
	}

	conn := NewJSONRPCConn(rwc)
	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.fatal = nil
	c.status = lspDomain.ServerStatusStarting
	c.mu.Unlock()
	c.stopping.Store(false)

	// Start the read loop before sending initialize.
	go c.readLoop(conn, done)

	startCtx, cancel := context.WithTimeout(ctx, c.lspCfg.StartTimeout)
	defer cancel()

	if err := c.initialize(startCtx, conn); err != nil {
		c.stopping.Store(true)
		c.setStatus(lspDomain.ServerStatusFailed)
		_ = conn.Close()
		<-done
		return fmt.Errorf("%w: initialize: %w", ErrStartup, err)
	}

	c.setStatus(lspDomain.ServerStatusReady)
	return nil
}

// Shutdown performs a graceful LSP shutdown (shutdown + exit) and kills the
// process if it does not exit within the configured grace period.
func (c *Client) Shutdown(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	status, conn, cmd, exited, done := c.status, c.conn, c.cmd, c.exited, c.done
	c.mu.Unlock()

	if status == lspDomain.ServerStatusStopped || conn == nil {
		return nil
	}

	slog.Info("lsp server stopping", "language", c.language)

	shutdownCtx, cancel := context.WithTimeout(ctx, c.lspCfg.ShutdownTimeout)
	defer cancel()

	if status == lspDomain.ServerStatusReady {
		if _, err := c.call(shutdownCtx, conn, "shutdown", nil); err != nil {
			slog.Warn("lsp shutdown request failed", "language", c.language, "error", err)
		}
		c.stopping.Store(true)
		_ = conn.Notify("exit", nil)
	}
	c.stopping.Store(true)

	// Wait for process to exit or kill it.
	if cmd != nil && cmd.Process != nil {
		select {
		case <-exited:
		case <-shutdownCtx.Done():
			slog.Warn("lsp server did not exit gracefully, killing", "language", c.language)
			_ = cmd.Process.Kill()
			<-exited
		}
	}
	_ = conn.Close()

	// Wait for readLoop to finish.
	<-done

	c.mu.Lock()
	c.status = lspDomain.ServerStatusStopped
	c.conn = nil
	c.cmd = nil
	c.mu.Unlock()

	slog.Info("lsp server stopped", "language", c.language)
	return nil
}

// Request sends a correlated request and waits for its response, bounded by
// the configured per-request timeout.
func (c *Client) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	conn, err := c.activeConn()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return c.call(ctx, conn, method, params)
}

// Notify sends a fire-and-forget notification.
func (c *Client) Notify(method string, params any) error {
	conn, err := c.activeConn()
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return conn.Notify(method, params)
}

// Subscribe registers a queue for unsolicited server notifications. Delivery
// never blocks the read loop: when the queue is full the notification is
// dropped for that subscriber. The returned function unsubscribes.
func (c *Client) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = c.lspCfg.NotificationBuffer
	}
	ch := make(chan Notification, buffer)

	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			close(ch)
			c.subMu.Unlock()
		})
	}
}

// DiagnosticCount returns the total number of cached diagnostics.
func (c *Client) DiagnosticCount() int {
	c.diagMu.RLock()
	defer c.diagMu.RUnlock()
	count := 0
	for _, diags := range c.diagnostics {
		count += len(diags)
	}
	return count
}

// Diagnostics returns cached diagnostics for a URI. If uri is empty, all diagnostics are returned.
func (c *Client) Diagnostics(uri string) []lspDomain.Diagnostic {
	c.diagMu.RLock()
	defer c.diagMu.RUnlock()

	if uri != "" {
		return c.diagnostics[uri]
	}

	var all []lspDomain.Diagnostic
	for _, diags := range c.diagnostics {
		all = append(all, diags...)
	}
	return all
}

// --- Internal methods ---

func (c *Client) setStatus(s lspDomain.ServerStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

func (c *Client) activeConn() (*JSONRPCConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal != nil {
		return nil, c.fatal
	}
	if c.status != lspDomain.ServerStatusReady || c.conn == nil {
		return nil, ErrServerNotRunning
	}
	return c.conn, nil
}

// initialize performs the LSP initialize/initialized handshake.
func (c *Client) initialize(ctx context.Context, conn *JSONRPCConn) error {
	result, err := c.call(ctx, conn, "initialize", c.initializeParams())
	if err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	caps, name, err := parseCapabilities(result)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.caps = caps
	c.serverName = name
	c.mu.Unlock()

	if err := conn.Notify("initialized", map[string]any{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	slog.Debug("lsp capabilities negotiated", "language", c.language,
		"encoding", caps.PositionEncoding, "token_types", len(caps.Legend.TokenTypes),
		"implementation", caps.Implementation, "workspace_symbol", caps.WorkspaceSymbol)
	return nil
}

// call sends a JSON-RPC request and waits for the response. A timed-out
// request releases its slot and is cancelled on the server; a late response
// is dropped by the read loop.
func (c *Client) call(ctx context.Context, conn *JSONRPCConn, method string, params any) (json.RawMessage, error) {
	ctx, span := cfotel.StartLSPRequestSpan(ctx, method)
	defer span.End()

	if c.lspCfg.RequestTimeout > 0 && method != "initialize" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.lspCfg.RequestTimeout)
		defer cancel()
	}

	id := c.nextID.Add(1)
	ch := make(chan *JSONRPCMessage, 1)

	c.pendMu.Lock()
	c.pending[id] = ch
	c.pendMu.Unlock()

	defer func() {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
	}()

	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	start := time.Now()
	if err := conn.Send(id, method, params); err != nil {
		c.metrics.RecordLSPRequest(ctx, method, "error", time.Since(start))
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case msg := <-ch:
		if msg.Error != nil {
			c.metrics.RecordLSPRequest(ctx, method, "error", time.Since(start))
			span.RecordError(msg.Error)
			return nil, fmt.Errorf("%s: %w", method, msg.Error)
		}
		c.metrics.RecordLSPRequest(ctx, method, "ok", time.Since(start))
		return msg.Result, nil
	case <-ctx.Done():
		_ = conn.Notify("$/cancelRequest", map[string]int64{"id": id})
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.metrics.RecordLSPRequest(ctx, method, "timeout", time.Since(start))
			return nil, fmt.Errorf("%s: %w", method, ErrTimeout)
		}
		c.metrics.RecordLSPRequest(ctx, method, "cancelled", time.Since(start))
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	case <-done:
		c.metrics.RecordLSPRequest(ctx, method, "error", time.Since(start))
		if err := c.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", method, err)
		}
		return nil, fmt.Errorf("%s: %w", method, ErrServerNotRunning)
	}
}

// readLoop continuously reads messages from the language server.
// Responses are dispatched to pending callers; server requests are answered;
// notifications are handled inline and fanned out to subscribers.
func (c *Client) readLoop(conn *JSONRPCConn, done chan struct{}) {
	defer close(done)

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			if c.terminate(err) {
				_ = conn.Close()
			}
			return
		}

		switch {
		case msg.IsResponse():
			id, ok := msg.IntID()
			if !ok {
				slog.Warn("lsp response with non-numeric id dropped", "id", string(msg.ID))
				continue
			}
			c.pendMu.Lock()
			ch, ok := c.pending[id]
			c.pendMu.Unlock()
			if !ok {
				slog.Debug("late lsp response dropped", "id", id)
				continue
			}
			select {
			case ch <- msg:
			default:
				slog.Warn("duplicate lsp response dropped", "id", id)
			}
		case msg.IsRequest():
			go c.handleServerRequest(conn, msg)
		case msg.IsNotification():
			c.handleNotification(msg)
		default:
			slog.Warn("lsp message without id or method dropped")
		}
	}
}

// terminate records why the read loop stopped. Outside of a shutdown this
// is fatal: the session fails and the process is killed. It reports whether
// the session failed.
func (c *Client) terminate(err error) bool {
	if c.stopping.Load() {
		return false
	}

	var fatal error
	if errors.Is(err, ErrProtocol) {
		fatal = err
	} else {
		fatal = fmt.Errorf("%w: server closed the connection: %v", ErrServerNotRunning, err)
	}

	c.mu.Lock()
	c.fatal = fatal
	c.status = lspDomain.ServerStatusFailed
	cmd := c.cmd
	c.mu.Unlock()

	slog.Error("lsp session terminated", "language", c.language, "error", fatal)
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	return true
}

// handleServerRequest answers server-to-client requests so the server never
// stalls waiting on us.
func (c *Client) handleServerRequest(conn *JSONRPCConn, msg *JSONRPCMessage) {
	var (
		result any
		rpcErr *ResponseError
	)
	switch msg.Method {
	case "window/workDoneProgress/create", "client/registerCapability",
		"client/unregisterCapability", "window/showMessageRequest", "workspace/semanticTokens/refresh":
		result = nil
	case "workspace/configuration":
		var params struct {
			Items []json.RawMessage `json:"items"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		result = make([]any, len(params.Items))
	case "workspace/workspaceFolders":
		result = []map[string]string{{"uri": lspDomain.PathToURI(c.workspace), "name": "workspace"}}
	case "workspace/applyEdit":
		result = map[string]any{"applied": false, "failureReason": "read-only client"}
	default:
		rpcErr = &ResponseError{Code: CodeMethodNotFound, Message: "method not supported: " + msg.Method}
	}
	if err := conn.Reply(msg.ID, result, rpcErr); err != nil {
		slog.Debug("lsp reply failed", "method", msg.Method, "error", err)
	}
}

// handleNotification processes server notifications and fans them out.
func (c *Client) handleNotification(msg *JSONRPCMessage) {
	switch msg.Method {
	case "textDocument/publishDiagnostics":
		c.handlePublishDiagnostics(msg.Params)
	case "$/progress":
		c.progress.handle(msg.Params)
	case "window/logMessage", "window/showMessage":
		var p struct {
			Type    int    `json:"type"`
			Message string `json:"message"`
		}
		if json.Unmarshal(msg.Params, &p) == nil {
			slog.Debug("lsp server message", "language", c.language, "type", p.Type, "message", p.Message)
		}
	}

	n := Notification{Method: msg.Method, Params: msg.Params}
	c.subMu.Lock()
	for _, ch := range c.subs {
		select {
		case ch <- n:
		default:
			c.metrics.RecordNotificationDropped(context.Background(), msg.Method)
		}
	}
	c.subMu.Unlock()
}

// handlePublishDiagnostics processes diagnostic notifications from the server.
func (c *Client) handlePublishDiagnostics(raw json.RawMessage) {
	var params struct {
		URI         string                 `json:"uri"`
		Diagnostics []lspDomain.Diagnostic `json:"diagnostics"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		slog.Warn("lsp: failed to unmarshal diagnostics", "error", err)
		return
	}

	diags := params.Diagnostics
	if c.lspCfg.MaxDiagnostics > 0 && len(diags) > c.lspCfg.MaxDiagnostics {
		diags = diags[:c.lspCfg.MaxDiagnostics]
	}

	c.diagMu.Lock()
	if len(diags) == 0 {
		delete(c.diagnostics, params.URI)
	} else {
		c.diagnostics[params.URI] = diags
	}
	c.diagMu.Unlock()

	if fn := c.onDiagnostic.Load(); fn != nil && *fn != nil {
		(*fn)(params.URI, diags)
	}
}

// stdioPipe combines a stdin (writer) and stdout (reader) into an io.ReadWriteCloser.
type stdioPipe struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p stdioPipe) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p stdioPipe) Write(b []byte) (int, error) { return p.stdin.Write(b) }
func (p stdioPipe) Close() error {
	_ = p.stdin.Close()
	return p.stdout.Close()
}
