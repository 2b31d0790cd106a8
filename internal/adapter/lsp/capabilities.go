package lsp

import (
	"encoding/json"
	"fmt"
	"os"

	lspDomain "github.com/Strob0t/sensebridge/internal/domain/lsp"
	"github.com/Strob0t/sensebridge/internal/domain/semantic"
)

var standardTokenTypes = []string{
	"namespace", "type", "class", "enum", "interface", "struct", "typeParameter",
	"parameter", "variable", "property", "enumMember", "event", "function", "method",
	"macro", "keyword", "modifier", "comment", "string", "number", "regexp", "operator", "decorator",
}

var standardTokenModifiers = []string{
	"declaration", "definition", "readonly", "static", "deprecated", "abstract",
	"async", "modification", "documentation", "defaultLibrary",
}

// Capabilities is the subset of server capabilities the bridge depends on.
type Capabilities struct {
	PositionEncoding   semantic.Encoding
	Legend             lspDomain.SemanticTokensLegend
	SemanticTokensFull bool
	Hover              bool
	Definition         bool
	Declaration        bool
	Implementation     bool
	References         bool
	DocumentSymbol     bool
	WorkspaceSymbol    bool
}

// serverCapabilities mirrors the initialize result fields we inspect.
// Providers are either booleans or option objects.
type serverCapabilities struct {
	PositionEncoding        string          `json:"positionEncoding"`
	HoverProvider           json.RawMessage `json:"hoverProvider"`
	DefinitionProvider      json.RawMessage `json:"definitionProvider"`
	DeclarationProvider     json.RawMessage `json:"declarationProvider"`
	ImplementationProvider  json.RawMessage `json:"implementationProvider"`
	ReferencesProvider      json.RawMessage `json:"referencesProvider"`
	DocumentSymbolProvider  json.RawMessage `json:"documentSymbolProvider"`
	WorkspaceSymbolProvider json.RawMessage `json:"workspaceSymbolProvider"`
	SemanticTokensProvider  *struct {
		Legend lspDomain.SemanticTokensLegend `json:"legend"`
		Full   json.RawMessage                `json:"full"`
	} `json:"semanticTokensProvider"`
}

type initializeResult struct {
	Capabilities serverCapabilities `json:"capabilities"`
	ServerInfo   *struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo,omitempty"`
}

func provided(raw json.RawMessage) bool {
	s := string(raw)
	return s != "" && s != "null" && s != "false"
}

// parseCapabilities validates the initialize result. A semantic-tokens
// legend with full-document support is mandatory.
func parseCapabilities(raw json.RawMessage) (Capabilities, string, error) {
	var res initializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return Capabilities{}, "", fmt.Errorf("%w: decode initialize result: %v", ErrProtocol, err)
	}
	sc := res.Capabilities

	caps := Capabilities{
		PositionEncoding: semantic.ParseEncoding(sc.PositionEncoding),
		Hover:            provided(sc.HoverProvider),
		Definition:       provided(sc.DefinitionProvider),
		Declaration:      provided(sc.DeclarationProvider),
		Implementation:   provided(sc.ImplementationProvider),
		References:       provided(sc.ReferencesProvider),
		DocumentSymbol:   provided(sc.DocumentSymbolProvider),
		WorkspaceSymbol:  provided(sc.WorkspaceSymbolProvider),
	}

	if sc.SemanticTokensProvider == nil || len(sc.SemanticTokensProvider.Legend.TokenTypes) == 0 {
		return caps, "", fmt.Errorf("server does not provide a semantic tokens legend")
	}
	caps.Legend = sc.SemanticTokensProvider.Legend
	caps.SemanticTokensFull = provided(sc.SemanticTokensProvider.Full)
	if !caps.SemanticTokensFull {
		return caps, "", fmt.Errorf("server does not provide full-document semantic tokens")
	}
	if !caps.DocumentSymbol {
		return caps, "", fmt.Errorf("server does not provide document symbols")
	}

	name := ""
	if res.ServerInfo != nil {
		name = res.ServerInfo.Name
		if res.ServerInfo.Version != "" {
			name += " " + res.ServerInfo.Version
		}
	}
	return caps, name, nil
}

// initializeParams builds the client side of capability negotiation.
func (c *Client) initializeParams() map[string]any {
	root := lspDomain.PathToURI(c.workspace)
	params := map[string]any{
		"processId": os.Getpid(),
		"clientInfo": map[string]any{
			"name":    "sensebridge",
			"version": c.version,
		},
		"rootUri": root,
		"workspaceFolders": []map[string]string{
			{"uri": root, "name": "workspace"},
		},
		"capabilities": map[string]any{
			"general": map[string]any{
				"positionEncodings": []string{string(semantic.UTF8), string(semantic.UTF16)},
			},
			"window": map[string]any{
				"workDoneProgress": true,
			},
			"workspace": map[string]any{
				"workspaceFolders":      true,
				"configuration":         true,
				"didChangeWatchedFiles": map[string]any{"dynamicRegistration": false},
				"symbol": map[string]any{
					"symbolKind": map[string]any{"valueSet": lspDomain.AllSymbolKinds()},
					"tagSupport": map[string]any{"valueSet": []int{lspDomain.SymbolTagDeprecated}},
				},
			},
			"textDocument": map[string]any{
				"synchronization":    map[string]any{"didSave": false},
				"publishDiagnostics": map[string]any{},
				"hover": map[string]any{
					"contentFormat": []string{"markdown", "plaintext"},
				},
				"definition":     map[string]any{"linkSupport": true},
				"declaration":    map[string]any{"linkSupport": true},
				"implementation": map[string]any{"linkSupport": true},
				"references":     map[string]any{},
				"documentSymbol": map[string]any{
					"hierarchicalDocumentSymbolSupport": true,
					"symbolKind":                        map[string]any{"valueSet": lspDomain.AllSymbolKinds()},
					"tagSupport":                        map[string]any{"valueSet": []int{lspDomain.SymbolTagDeprecated}},
				},
				"semanticTokens": map[string]any{
					"requests":                map[string]any{"full": map[string]any{"delta": true}},
					"tokenTypes":              standardTokenTypes,
					"tokenModifiers":          standardTokenModifiers,
					"formats":                 []string{"relative"},
					"overlappingTokenSupport": false,
					"multilineTokenSupport":   false,
				},
			},
		},
	}
	if c.config.InitOpts != nil {
		params["initializationOptions"] = c.config.InitOpts
	}
	return params
}
