// Package mcp exposes the bridge to code assistants as a Model Context
// Protocol server with two tools: find_things and details.
package mcp

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	cfotel "github.com/Strob0t/sensebridge/internal/adapter/otel"
	lspDomain "github.com/Strob0t/sensebridge/internal/domain/lsp"
	"github.com/Strob0t/sensebridge/internal/domain/symbol"
	"github.com/Strob0t/sensebridge/internal/port/broadcast"
	"github.com/Strob0t/sensebridge/internal/service"
)

const instructions = `Explore the workspace through its language server.
Use find_things to search symbols by (fuzzy) name across the workspace.
Use details with a symbol name, optionally narrowed by kind, container and
file, to get its signature, documentation, definition, implementations and
references. When details answers with candidates, call it again with one of
their ids as choice.`

// Finder searches the workspace for symbols.
type Finder interface {
	Find(ctx context.Context, text string, opts service.FindOptions) ([]symbol.SearchHit, error)
}

// Resolver maps a loose reference onto candidates and picks one.
type Resolver interface {
	Resolve(ctx context.Context, ref symbol.LooseReference) ([]symbol.Candidate, error)
	Decide(ctx context.Context, cands []symbol.Candidate, choice string) (service.Resolution, error)
}

// Aggregator builds the detail bundle of a resolved symbol.
type Aggregator interface {
	Aggregate(ctx context.Context, sym symbol.Symbol) symbol.DetailBundle
}

// Session reports whether the language server can serve tool calls.
type Session interface {
	Healthy() error
	WaitReady(ctx context.Context) error
	Status() lspDomain.ServerInfo
}

// ServerConfig holds MCP server configuration.
type ServerConfig struct {
	Name    string
	Version string
	Root    string // workspace root locations are reported relative to
	APIKey  string // guards the HTTP transport; empty disables auth
}

// ServerDeps holds the services the tools call. Metrics and Events may be nil.
type ServerDeps struct {
	Session    Session
	Finder     Finder
	Resolver   Resolver
	Aggregator Aggregator
	Metrics    *cfotel.Metrics
	Events     broadcast.Broadcaster
}

// Server wraps the mcp-go server with the bridge tools.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
}

// NewServer creates an MCP server and registers its tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{cfg: cfg, deps: deps}
	s.mcpServer = mcpserver.NewMCPServer(
		cfg.Name,
		cfg.Version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithInstructions(instructions),
		mcpserver.WithRecovery(),
	)
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio serves MCP over in and out until ctx ends or in is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelError))
	slog.Info("mcp server listening on stdio")
	return stdio.Listen(ctx, in, out)
}

// HTTPHandler returns the streamable HTTP transport. Mount it behind Auth.
func (s *Server) HTTPHandler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.mcpServer)
}

// Auth returns AuthMiddleware bound to the configured API key.
func (s *Server) Auth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return AuthMiddleware(s.cfg.APIKey, next)
	}
}
