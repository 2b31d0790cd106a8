package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	cfotel "github.com/Strob0t/sensebridge/internal/adapter/otel"
	"github.com/Strob0t/sensebridge/internal/adapter/ws"
	"github.com/Strob0t/sensebridge/internal/domain"
	"github.com/Strob0t/sensebridge/internal/domain/symbol"
	"github.com/Strob0t/sensebridge/internal/logger"
	"github.com/Strob0t/sensebridge/internal/service"
)

const (
	toolFindThings = "find_things"
	toolDetails    = "details"
)

// Tool call outcomes reported to metrics and events.
const (
	outcomeOK         = "ok"
	outcomeCandidates = "candidates"
	outcomeError      = "error"
)

func kindNames() []string {
	out := make([]string, len(symbol.Kinds))
	for i, k := range symbol.Kinds {
		out[i] = string(k)
	}
	return out
}

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.findThingsTool(),
		s.detailsTool(),
	)
}

func (s *Server) findThingsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool(toolFindThings,
		mcplib.WithDescription("Search the workspace for symbols whose name matches the query, best matches first."),
		mcplib.WithReadOnlyHintAnnotation(true),
		mcplib.WithString("query",
			mcplib.Required(),
			mcplib.Description("Symbol name or fragment; may be qualified, e.g. Scheduler::run"),
		),
		mcplib.WithString("kind",
			mcplib.Description("Only return symbols of this kind"),
			mcplib.Enum(kindNames()...),
		),
		mcplib.WithString("mode",
			mcplib.Description("fuzzy (default) matches the query characters in order; exact matches the name verbatim"),
			mcplib.Enum(string(service.ModeFuzzy), string(service.ModeExact)),
		),
		mcplib.WithString("scope",
			mcplib.Description("workspace or workspace_and_dependencies; by default dependencies are searched only when the workspace has no match"),
			mcplib.Enum(string(service.ScopeWorkspace), string(service.ScopeWorkspaceAndDependencies)),
		),
		mcplib.WithNumber("limit",
			mcplib.Description("Maximum number of results"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.instrument(toolFindThings, s.handleFindThings),
	}
}

func (s *Server) detailsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool(toolDetails,
		mcplib.WithDescription("Resolve a symbol and return its signature, documentation, definition, declaration, implementations and references. "+
			"Returns a candidate list instead when the reference is ambiguous."),
		mcplib.WithReadOnlyHintAnnotation(true),
		mcplib.WithString("name",
			mcplib.Required(),
			mcplib.Description("Symbol name"),
		),
		mcplib.WithString("kind",
			mcplib.Description("Symbol kind"),
			mcplib.Enum(kindNames()...),
		),
		mcplib.WithString("container",
			mcplib.Description("Enclosing type or module, e.g. Scheduler or crate::jobs"),
		),
		mcplib.WithString("file",
			mcplib.Description("Workspace-relative path or glob of the file declaring the symbol"),
		),
		mcplib.WithString("choice",
			mcplib.Description("Candidate id (file:line:character) from a previous candidates answer"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.instrument(toolDetails, s.handleDetails),
	}
}

type toolHandler func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, string, error)

// instrument tags the call with a request id, waits for the language server
// and records the outcome. Errors become tool errors carrying their cause chain.
func (s *Server) instrument(tool string, h toolHandler) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
		reqID := uuid.NewString()
		ctx = logger.WithRequestID(ctx, reqID)
		ctx, span := cfotel.StartToolCallSpan(ctx, reqID, tool)
		defer span.End()
		start := time.Now()
		log := logger.From(ctx)

		result, outcome, err := s.call(ctx, req, h)
		if err != nil {
			outcome = outcomeError
			span.RecordError(err)
			log.Warn("mcp: tool call failed", "tool", tool, "error", err)
			result = mcplib.NewToolResultError(domain.Chain(err))
		}

		elapsed := time.Since(start)
		s.deps.Metrics.RecordToolCall(ctx, tool, outcome, elapsed)
		log.Info("mcp: tool call", "tool", tool, "outcome", outcome, "duration_ms", elapsed.Milliseconds())
		if s.deps.Events != nil {
			ev := ws.ToolCallEvent{
				RequestID:  reqID,
				Tool:       tool,
				Outcome:    outcome,
				DurationMS: elapsed.Milliseconds(),
			}
			if err != nil {
				ev.Error = domain.Chain(err)
			}
			s.deps.Events.BroadcastEvent(context.WithoutCancel(ctx), ws.EventToolCall, ev)
		}
		return result, nil
	}
}

func (s *Server) call(ctx context.Context, req mcplib.CallToolRequest, h toolHandler) (*mcplib.CallToolResult, string, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Session != nil {
		if err := s.deps.Session.Healthy(); err != nil {
			return nil, "", fmt.Errorf("language server unavailable: %w", err)
		}
		if err := s.deps.Session.WaitReady(ctx); err != nil {
			return nil, "", fmt.Errorf("waiting for the language server: %w", err)
		}
	}
	return h(ctx, req)
}

func (s *Server) handleFindThings(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, string, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Finder == nil {
		return nil, "", errors.New("finder not configured")
	}
	query, err := req.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return nil, "", errors.New("query is required")
	}

	var opts service.FindOptions
	if opts.Kind, err = parseKind(req.GetString("kind", "")); err != nil {
		return nil, "", err
	}
	if opts.Mode, err = service.ParseMatchMode(req.GetString("mode", "")); err != nil {
		return nil, "", err
	}
	if opts.Scope, err = service.ParseScope(req.GetString("scope", "")); err != nil {
		return nil, "", err
	}
	opts.Limit = req.GetInt("limit", 0)

	hits, err := s.deps.Finder.Find(ctx, query, opts)
	if err != nil {
		return nil, "", err
	}

	out := hitsResult{Type: "hits", Hits: make([]hitView, len(hits))}
	for i, h := range hits {
		out.Hits[i] = hitView{symbolView: s.symbolView(h.Symbol), Relevance: h.Relevance}
	}
	return toolResultJSON(out), outcomeOK, nil
}

func (s *Server) handleDetails(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, string, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Resolver == nil || s.deps.Aggregator == nil {
		return nil, "", errors.New("resolver not configured")
	}
	name, err := req.RequireString("name")
	if err != nil || strings.TrimSpace(name) == "" {
		return nil, "", errors.New("name is required")
	}

	ref := symbol.LooseReference{
		Name:      name,
		Container: symbol.SplitContainer(req.GetString("container", "")),
		File:      strings.TrimSpace(req.GetString("file", "")),
	}
	if ref.Kind, err = parseKind(req.GetString("kind", "")); err != nil {
		return nil, "", err
	}
	choice := req.GetString("choice", "")

	var cands []symbol.Candidate
	if strings.TrimSpace(choice) == "" {
		if cands, err = s.deps.Resolver.Resolve(ctx, ref); err != nil {
			return nil, "", err
		}
	}
	res, err := s.deps.Resolver.Decide(ctx, cands, choice)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, "", fmt.Errorf("no symbol matches %s: %w", describe(ref), err)
	}
	if err != nil {
		return nil, "", err
	}

	if res.Selected == nil {
		out := candidatesResult{
			Type:       "candidates",
			Ambiguous:  res.Ambiguous,
			Message:    fmt.Sprintf("no confident match for %s; pass one id as choice", describe(ref)),
			Candidates: make([]candidateView, len(res.Candidates)),
		}
		if res.Ambiguous {
			out.Message = fmt.Sprintf("%s %s; pass one id as choice", domain.ErrAmbiguous, describe(ref))
		}
		for i, c := range res.Candidates {
			out.Candidates[i] = candidateView{
				ID:         c.ID,
				symbolView: s.symbolView(c.Symbol),
				Confidence: c.Confidence,
				Reason:     c.Reason,
			}
		}
		return toolResultJSON(out), outcomeCandidates, nil
	}

	bundle := s.deps.Aggregator.Aggregate(ctx, res.Selected.Symbol)
	return toolResultJSON(detailsResult{Type: "details", Bundle: s.bundleView(bundle)}), outcomeOK, nil
}

func parseKind(s string) (*symbol.Kind, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	k, err := symbol.ParseKind(s)
	if err != nil {
		return nil, fmt.Errorf("%w (valid kinds: %s)", err, strings.Join(kindNames(), ", "))
	}
	return &k, nil
}

func describe(ref symbol.LooseReference) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%q", ref.Name)
	if ref.Kind != nil {
		fmt.Fprintf(&b, " of kind %s", *ref.Kind)
	}
	if len(ref.Container) > 0 {
		fmt.Fprintf(&b, " in %s", strings.Join(ref.Container, "::"))
	}
	if ref.File != "" {
		fmt.Fprintf(&b, " in file %s", ref.File)
	}
	return b.String()
}

// toolResultJSON renders v as the text content of a tool result.
func toolResultJSON(v any) *mcplib.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err)
	}
	return mcplib.NewToolResultText(string(data))
}
