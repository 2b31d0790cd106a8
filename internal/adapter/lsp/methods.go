package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	lspDomain "github.com/Strob0t/sensebridge/internal/domain/lsp"
)

// WorkspaceSymbolOptions carries the rust-analyzer workspace/symbol
// extension. It is only sent to servers that declare support.
type WorkspaceSymbolOptions struct {
	Scope string // "workspace" | "workspace_and_dependencies"
	Kind  string // "only_types" | "all_symbols"
}

// FileChangeType mirrors LSP FileChangeType.
type FileChangeType int

const (
	FileCreated FileChangeType = 1
	FileChanged FileChangeType = 2
	FileDeleted FileChangeType = 3
)

// FileEvent is one entry of workspace/didChangeWatchedFiles.
type FileEvent struct {
	Path string
	Type FileChangeType
}

// Hover returns hover information at pos in path.
func (c *Client) Hover(ctx context.Context, path string, pos lspDomain.Position) (*lspDomain.HoverResult, error) {
	if !c.Capabilities().Hover {
		return nil, fmt.Errorf("hover: %w", ErrUnsupported)
	}
	result, err := c.Request(ctx, "textDocument/hover", c.positionParams(path, pos))
	if err != nil {
		return nil, err
	}
	if result == nil || string(result) == "null" {
		return nil, nil
	}

	var raw struct {
		Contents json.RawMessage  `json:"contents"`
		Range    *lspDomain.Range `json:"range,omitempty"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("%w: unmarshal hover: %v", ErrProtocol, err)
	}

	return &lspDomain.HoverResult{
		Contents: extractHoverContents(raw.Contents),
		Range:    raw.Range,
	}, nil
}

// Definition returns the definition locations for the symbol at pos.
func (c *Client) Definition(ctx context.Context, path string, pos lspDomain.Position) ([]lspDomain.Location, error) {
	if !c.Capabilities().Definition {
		return nil, fmt.Errorf("definition: %w", ErrUnsupported)
	}
	return c.locations(ctx, "textDocument/definition", c.positionParams(path, pos))
}

// Declaration returns the declaration locations for the symbol at pos.
func (c *Client) Declaration(ctx context.Context, path string, pos lspDomain.Position) ([]lspDomain.Location, error) {
	if !c.Capabilities().Declaration {
		return nil, fmt.Errorf("declaration: %w", ErrUnsupported)
	}
	return c.locations(ctx, "textDocument/declaration", c.positionParams(path, pos))
}

// Implementation returns the implementations of the symbol at pos.
func (c *Client) Implementation(ctx context.Context, path string, pos lspDomain.Position) ([]lspDomain.Location, error) {
	if !c.Capabilities().Implementation {
		return nil, fmt.Errorf("implementation: %w", ErrUnsupported)
	}
	return c.locations(ctx, "textDocument/implementation", c.positionParams(path, pos))
}

// References returns all references to the symbol at pos, excluding its declaration.
func (c *Client) References(ctx context.Context, path string, pos lspDomain.Position) ([]lspDomain.Location, error) {
	if !c.Capabilities().References {
		return nil, fmt.Errorf("references: %w", ErrUnsupported)
	}
	params := c.positionParams(path, pos)
	params["context"] = map[string]bool{"includeDeclaration": false}
	return c.locations(ctx, "textDocument/references", params)
}

// DocumentSymbols returns the symbols of path. Servers answer either with a
// hierarchical tree or with a flat list; exactly one of the results is set.
func (c *Client) DocumentSymbols(ctx context.Context, path string) ([]lspDomain.DocumentSymbol, []lspDomain.SymbolInformation, error) {
	result, err := c.Request(ctx, "textDocument/documentSymbol", map[string]any{
		"textDocument": map[string]string{"uri": lspDomain.PathToURI(c.ResolvePath(path))},
	})
	if err != nil {
		return nil, nil, err
	}
	return parseDocumentSymbols(result)
}

// SemanticTokensFull returns the raw delta-encoded token stream of path.
func (c *Client) SemanticTokensFull(ctx context.Context, path string) ([]uint32, error) {
	if !c.Capabilities().SemanticTokensFull {
		return nil, fmt.Errorf("semantic tokens: %w", ErrUnsupported)
	}
	result, err := c.Request(ctx, "textDocument/semanticTokens/full", map[string]any{
		"textDocument": map[string]string{"uri": lspDomain.PathToURI(c.ResolvePath(path))},
	})
	if err != nil {
		return nil, err
	}
	if result == nil || string(result) == "null" {
		return nil, nil
	}

	var tokens struct {
		Data []uint32 `json:"data"`
	}
	if err := json.Unmarshal(result, &tokens); err != nil {
		return nil, fmt.Errorf("%w: unmarshal semantic tokens: %v", ErrProtocol, err)
	}
	return tokens.Data, nil
}

// WorkspaceSymbol queries the server-wide symbol search.
func (c *Client) WorkspaceSymbol(ctx context.Context, query string, opts WorkspaceSymbolOptions) ([]lspDomain.SymbolInformation, error) {
	if !c.Capabilities().WorkspaceSymbol {
		return nil, fmt.Errorf("workspace symbol: %w", ErrUnsupported)
	}
	params := map[string]any{"query": query}
	if c.config.SearchScopeExtension {
		if opts.Scope != "" {
			params["searchScope"] = lowerCamel(opts.Scope)
		}
		if opts.Kind != "" {
			params["searchKind"] = lowerCamel(opts.Kind)
		}
	}

	result, err := c.Request(ctx, "workspace/symbol", params)
	if err != nil {
		return nil, err
	}
	if result == nil || string(result) == "null" {
		return nil, nil
	}

	// WorkspaceSymbol may omit the range of its location.
	var syms []lspDomain.SymbolInformation
	if err := json.Unmarshal(result, &syms); err != nil {
		return nil, fmt.Errorf("%w: unmarshal workspace symbols: %v", ErrProtocol, err)
	}
	return syms, nil
}

// NotifyFilesChanged forwards file system changes the server may not watch itself.
func (c *Client) NotifyFilesChanged(events []FileEvent) error {
	if len(events) == 0 {
		return nil
	}
	changes := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		changes = append(changes, map[string]any{
			"uri":  lspDomain.PathToURI(c.ResolvePath(ev.Path)),
			"type": int(ev.Type),
		})
	}
	return c.Notify("workspace/didChangeWatchedFiles", map[string]any{"changes": changes})
}

func (c *Client) positionParams(path string, pos lspDomain.Position) map[string]any {
	return map[string]any{
		"textDocument": map[string]string{"uri": lspDomain.PathToURI(c.ResolvePath(path))},
		"position":     pos,
	}
}

func (c *Client) locations(ctx context.Context, method string, params any) ([]lspDomain.Location, error) {
	result, err := c.Request(ctx, method, params)
	if err != nil {
		return nil, err
	}
	locs, err := parseLocations(result)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return locs, nil
}

// parseLocations accepts Location | Location[] | LocationLink[] | null.
func parseLocations(raw json.RawMessage) ([]lspDomain.Location, error) {
	if raw == nil || string(raw) == "null" {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		// Single location.
		var loc lspDomain.Location
		if err := json.Unmarshal(raw, &loc); err != nil || loc.URI == "" {
			return nil, fmt.Errorf("%w: unexpected location result format", ErrProtocol)
		}
		return []lspDomain.Location{loc}, nil
	}

	locs := make([]lspDomain.Location, 0, len(items))
	for _, item := range items {
		var link lspDomain.LocationLink
		if err := json.Unmarshal(item, &link); err == nil && link.TargetURI != "" {
			locs = append(locs, lspDomain.Location{URI: link.TargetURI, Range: link.TargetSelectionRange})
			continue
		}
		var loc lspDomain.Location
		if err := json.Unmarshal(item, &loc); err != nil || loc.URI == "" {
			return nil, fmt.Errorf("%w: unexpected location entry %s", ErrProtocol, string(item))
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

// parseDocumentSymbols distinguishes DocumentSymbol[] from SymbolInformation[]
// by the presence of a location on the first entry.
func parseDocumentSymbols(raw json.RawMessage) ([]lspDomain.DocumentSymbol, []lspDomain.SymbolInformation, error) {
	if raw == nil || string(raw) == "null" {
		return nil, nil, nil
	}

	var probe []struct {
		Location json.RawMessage `json:"location"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, nil, fmt.Errorf("%w: unmarshal document symbols: %v", ErrProtocol, err)
	}
	if len(probe) == 0 {
		return nil, nil, nil
	}

	if len(probe[0].Location) > 0 {
		var flat []lspDomain.SymbolInformation
		if err := json.Unmarshal(raw, &flat); err != nil {
			return nil, nil, fmt.Errorf("%w: unmarshal symbol information: %v", ErrProtocol, err)
		}
		return nil, flat, nil
	}

	var tree []lspDomain.DocumentSymbol
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, nil, fmt.Errorf("%w: unmarshal document symbol tree: %v", ErrProtocol, err)
	}
	return tree, nil, nil
}

// extractHoverContents extracts a markdown string from the various hover
// content formats (MarkedString, MarkedString[], MarkupContent).
func extractHoverContents(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}

	// Try string directly.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	// Try MarkupContent {kind, value} or a single MarkedString object.
	var mc struct {
		Kind     string `json:"kind"`
		Language string `json:"language"`
		Value    string `json:"value"`
	}
	if err := json.Unmarshal(raw, &mc); err == nil && mc.Value != "" {
		if mc.Language != "" {
			return fmt.Sprintf("```%s\n%s\n```", mc.Language, mc.Value)
		}
		return mc.Value
	}

	// Try MarkedString[] or string[].
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		parts := make([]string, 0, len(arr))
		for _, item := range arr {
			if part := extractHoverContents(item); part != "" {
				parts = append(parts, part)
			}
		}
		return strings.Join(parts, "\n\n")
	}

	return ""
}

// lowerCamel turns "workspace_and_dependencies" into "workspaceAndDependencies".
func lowerCamel(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}
