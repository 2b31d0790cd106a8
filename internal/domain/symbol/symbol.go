// Package symbol defines the bridge's own view of code symbols: spans tied to
// document versions, loose references, ranked candidates, detail bundles and
// search hits.
package symbol

import (
	"fmt"
	"strings"

	"github.com/Strob0t/sensebridge/internal/domain/lsp"
)

// TokenSpan is the exact extent of one token in one document version.
// Start and End are 0-based, End is exclusive.
type TokenSpan struct {
	Path    string       `json:"path"` // absolute
	Version int32        `json:"version"`
	Start   lsp.Position `json:"start"`
	End     lsp.Position `json:"end"`
}

// Range returns the span as a protocol range.
func (s TokenSpan) Range() lsp.Range {
	return lsp.Range{Start: s.Start, End: s.End}
}

// Current reports whether the span is still valid for version.
func (s TokenSpan) Current(version int32) bool {
	return s.Version == version
}

// Key identifies the span independent of version, for deduplication.
func (s TokenSpan) Key() string {
	return fmt.Sprintf("%s:%d:%d-%d:%d", s.Path, s.Start.Line, s.Start.Character, s.End.Line, s.End.Character)
}

// Symbol is a named code entity with its exact name-token span.
type Symbol struct {
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Container []string  `json:"container,omitempty"` // outermost first, excluding the symbol itself
	Span      TokenSpan `json:"span"`
	Detail    string    `json:"detail,omitempty"`

	// Approximate is set when the name token could not be isolated and Span
	// falls back to the server-declared range.
	Approximate bool     `json:"approximate,omitempty"`
	Deprecated  bool     `json:"deprecated,omitempty"`
	Modifiers   []string `json:"modifiers,omitempty"`
}

// Qualified joins the container path and name with "::".
func (s Symbol) Qualified() string {
	if len(s.Container) == 0 {
		return s.Name
	}
	return strings.Join(s.Container, "::") + "::" + s.Name
}

// Depth is the number of enclosing containers.
func (s Symbol) Depth() int { return len(s.Container) }

// SplitContainer parses a container hint such as "a::B", "a.B" or "a/B"
// into its segments.
func SplitContainer(hint string) []string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return nil
	}
	fields := strings.FieldsFunc(hint, func(r rune) bool {
		return r == ':' || r == '.' || r == '/' || r == '\\'
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// LooseReference is the caller's fuzzy description of a symbol.
type LooseReference struct {
	Name      string
	Kind      *Kind
	Container []string
	File      string // workspace-relative path or doublestar glob
}

// NameMatch grades how a candidate name matches the requested one.
type NameMatch int

const (
	NameMismatch NameMatch = iota
	NameSubstring
	NameCaseInsensitive
	NameExact
)

// String returns the match grade name.
func (m NameMatch) String() string {
	switch m {
	case NameExact:
		return "exact"
	case NameCaseInsensitive:
		return "case_insensitive"
	case NameSubstring:
		return "substring"
	default:
		return "none"
	}
}

// MarshalText encodes the grade by name.
func (m NameMatch) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// MatchName grades candidate against want.
func MatchName(want, candidate string) NameMatch {
	switch {
	case want == "" || candidate == "":
		return NameMismatch
	case candidate == want:
		return NameExact
	case strings.EqualFold(candidate, want):
		return NameCaseInsensitive
	case strings.Contains(strings.ToLower(candidate), strings.ToLower(want)):
		return NameSubstring
	default:
		return NameMismatch
	}
}

// MatchReason records why a candidate was ranked where it was.
// Score is the confidence before the modifier bonus; candidates with equal
// Score and reasons are tied whatever their modifiers.
type MatchReason struct {
	Name              NameMatch `json:"name"`
	KindMatch         bool      `json:"kind_match"`
	ContainerDistance int       `json:"container_distance"`
	Score             float64   `json:"score"`
	ModifierScore     int       `json:"modifier_score,omitempty"`
}

// Candidate is one possible resolution of a LooseReference.
type Candidate struct {
	ID         string      `json:"id"` // file:line:character, 1-based
	Symbol     Symbol      `json:"symbol"`
	Confidence float64     `json:"confidence"`
	Reason     MatchReason `json:"reason"`
}

// SearchHit is one ranked result of a workspace search.
type SearchHit struct {
	Symbol    Symbol  `json:"symbol"`
	Relevance float64 `json:"relevance"`
	External  bool    `json:"external,omitempty"`
}
