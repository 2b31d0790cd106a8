package symbol

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Strob0t/sensebridge/internal/domain/lsp"
)

// FieldStatus tells whether one aggregated field was obtained.
type FieldStatus string

const (
	FieldOK          FieldStatus = "ok"
	FieldUnavailable FieldStatus = "unavailable"
)

// Field wraps one aggregated value with its availability.
type Field[T any] struct {
	Status FieldStatus `json:"status"`
	Value  T           `json:"value,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Available builds an ok field.
func Available[T any](v T) Field[T] {
	return Field[T]{Status: FieldOK, Value: v}
}

// Unavailable builds a failed field carrying err's message.
func Unavailable[T any](err error) Field[T] {
	f := Field[T]{Status: FieldUnavailable}
	if err != nil {
		f.Error = err.Error()
	}
	return f
}

// OK reports whether the field was obtained.
func (f Field[T]) OK() bool { return f.Status == FieldOK }

// Location is a caller-facing position: 1-based line and character, with a
// workspace-relative path unless the target lies outside the workspace.
type Location struct {
	File         string `json:"file"`
	Line         int    `json:"line"`
	Character    int    `json:"character"`
	EndLine      int    `json:"end_line"`
	EndCharacter int    `json:"end_character"`
	External     bool   `json:"external,omitempty"`
	Version      int32  `json:"version,omitempty"` // document version when the target was open
}

// String renders "file:line:character".
func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Character)
}

// Less orders locations by path then position.
func (l Location) Less(o Location) bool {
	if l.File != o.File {
		return l.File < o.File
	}
	if l.Line != o.Line {
		return l.Line < o.Line
	}
	if l.Character != o.Character {
		return l.Character < o.Character
	}
	if l.EndLine != o.EndLine {
		return l.EndLine < o.EndLine
	}
	return l.EndCharacter < o.EndCharacter
}

// Key identifies the location by path and span.
func (l Location) Key() string {
	return fmt.Sprintf("%s:%d:%d-%d:%d", l.File, l.Line, l.Character, l.EndLine, l.EndCharacter)
}

// NewLocation converts an absolute path and 0-based range into a Location
// relative to root.
func NewLocation(root, path string, r lsp.Range) Location {
	loc := Location{
		File:         path,
		Line:         r.Start.Line + 1,
		Character:    r.Start.Character + 1,
		EndLine:      r.End.Line + 1,
		EndCharacter: r.End.Character + 1,
		External:     true,
	}
	if rel, ok := Relative(root, path); ok {
		loc.File = rel
		loc.External = false
	}
	return loc
}

// Relative returns path relative to root, with forward slashes, when path
// lies inside root.
func Relative(root, path string) (string, bool) {
	if root == "" || !filepath.IsAbs(path) {
		return filepath.ToSlash(path), false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(path), false
	}
	return filepath.ToSlash(rel), true
}

// CandidateID renders the stable handle a caller passes back to pick a
// candidate.
func CandidateID(root string, s Symbol) string {
	return NewLocation(root, s.Span.Path, s.Span.Range()).String()
}

// DetailBundle is the merged answer for one resolved symbol.
type DetailBundle struct {
	Symbol          Symbol            `json:"symbol"`
	Location        Location          `json:"location"`
	Hover           Field[string]     `json:"hover"`
	Documentation   string            `json:"documentation,omitempty"`
	Definition      Field[*Location]  `json:"definition"`
	Declaration     Field[*Location]  `json:"declaration"`
	Implementations Field[[]Location] `json:"implementations"`
	References      Field[[]Location] `json:"references"`

	// Degraded is set when a document touched by the aggregation changed
	// version before it completed.
	Degraded       bool   `json:"degraded,omitempty"`
	DegradedReason string `json:"degraded_reason,omitempty"`
}
