// Package lsp defines domain types for Language Server Protocol integration.
// These types mirror the subset of the protocol the bridge speaks, in a
// transport-independent way for use across the service and adapter layers.
package lsp

import (
	"net/url"
	"path/filepath"
	"strings"
)

// Position in a text document (0-based line and character). Character is
// counted in the position encoding negotiated with the server.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Less reports whether p sorts before o.
func (p Position) Less(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Character < o.Character
}

// Range in a text document, half-open.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Contains reports whether pos lies within r. The end is exclusive unless r is empty.
func (r Range) Contains(pos Position) bool {
	if pos.Less(r.Start) {
		return false
	}
	if r.Start == r.End {
		return pos == r.Start
	}
	return pos.Less(r.End)
}

// Encloses reports whether o lies entirely within r.
func (r Range) Encloses(o Range) bool {
	return !o.Start.Less(r.Start) && !r.End.Less(o.End)
}

// Location links a URI to a range.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// LocationLink is the richer definition result some servers return.
type LocationLink struct {
	OriginSelectionRange *Range `json:"originSelectionRange,omitempty"`
	TargetURI            string `json:"targetUri"`
	TargetRange          Range  `json:"targetRange"`
	TargetSelectionRange Range  `json:"targetSelectionRange"`
}

// DiagnosticSeverity mirrors LSP DiagnosticSeverity.
const (
	SeverityError   = 1
	SeverityWarning = 2
	SeverityInfo    = 3
	SeverityHint    = 4
)

// Diagnostic represents a compiler/linter diagnostic.
type Diagnostic struct {
	Range    Range  `json:"range"`
	Severity int    `json:"severity"` // 1=Error, 2=Warning, 3=Info, 4=Hint
	Source   string `json:"source"`
	Message  string `json:"message"`
}

// SymbolTagDeprecated is the only symbol tag defined by the protocol.
const SymbolTagDeprecated = 1

// DocumentSymbol represents a symbol in a document (function, class, etc.).
type DocumentSymbol struct {
	Name           string           `json:"name"`
	Detail         string           `json:"detail,omitempty"`
	Kind           SymbolKind       `json:"kind"`
	Tags           []int            `json:"tags,omitempty"`
	Deprecated     bool             `json:"deprecated,omitempty"`
	Range          Range            `json:"range"`
	SelectionRange Range            `json:"selectionRange"`
	Children       []DocumentSymbol `json:"children,omitempty"`
}

// IsDeprecated reports whether the symbol is tagged or flagged deprecated.
func (s DocumentSymbol) IsDeprecated() bool {
	return s.Deprecated || hasTag(s.Tags, SymbolTagDeprecated)
}

// SymbolInformation is the flat symbol shape returned by workspace/symbol
// and by older servers for textDocument/documentSymbol.
type SymbolInformation struct {
	Name          string     `json:"name"`
	Kind          SymbolKind `json:"kind"`
	Tags          []int      `json:"tags,omitempty"`
	Deprecated    bool       `json:"deprecated,omitempty"`
	Location      Location   `json:"location"`
	ContainerName string     `json:"containerName,omitempty"`
}

// IsDeprecated reports whether the symbol is tagged or flagged deprecated.
func (s SymbolInformation) IsDeprecated() bool {
	return s.Deprecated || hasTag(s.Tags, SymbolTagDeprecated)
}

func hasTag(tags []int, tag int) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HoverResult contains hover information for a position.
type HoverResult struct {
	Contents string `json:"contents"` // Markdown
	Range    *Range `json:"range,omitempty"`
}

// SemanticTokensLegend lists the token types and modifiers a server uses.
type SemanticTokensLegend struct {
	TokenTypes     []string `json:"tokenTypes"`
	TokenModifiers []string `json:"tokenModifiers"`
}

// ServerStatus represents the lifecycle state of a language server.
type ServerStatus string

const (
	ServerStatusStopped  ServerStatus = "stopped"
	ServerStatusStarting ServerStatus = "starting"
	ServerStatusReady    ServerStatus = "ready"
	ServerStatusFailed   ServerStatus = "failed"
)

// ServerInfo describes the running language server instance.
type ServerInfo struct {
	Language    string       `json:"language"`
	Status      ServerStatus `json:"status"`
	Command     string       `json:"command"`
	PID         int          `json:"pid,omitempty"`
	Error       string       `json:"error,omitempty"`
	Diagnostics int          `json:"diagnostics"`
	Ready       bool         `json:"ready"`
}

// PathToURI converts an absolute file path to a file:// URI.
func PathToURI(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// URIToPath converts a file:// URI to a local path. Non-file URIs are
// returned unchanged.
func URIToPath(uri string) string {
	if !strings.HasPrefix(uri, "file://") {
		return uri
	}
	u, err := url.Parse(uri)
	if err != nil {
		return strings.TrimPrefix(uri, "file://")
	}
	return filepath.FromSlash(u.Path)
}
