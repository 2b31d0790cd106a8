// Package semantic turns raw semantic-token streams and document-symbol trees
// into symbols with exact name-token spans. Everything here is pure: callers
// supply the server responses and the document text of one version.
package semantic

import (
	"fmt"
	"math/bits"

	"github.com/Strob0t/sensebridge/internal/domain/lsp"
)

// Token is one decoded semantic token with absolute coordinates.
type Token struct {
	Line      int      `json:"line"`
	Start     int      `json:"start"`
	Length    int      `json:"length"`
	Type      string   `json:"type"`
	Modifiers []string `json:"modifiers,omitempty"`
	Text      string   `json:"text"`
}

// End returns the exclusive end column.
func (t Token) End() int { return t.Start + t.Length }

// Range returns the token extent as a protocol range.
func (t Token) Range() lsp.Range {
	return lsp.Range{
		Start: lsp.Position{Line: t.Line, Character: t.Start},
		End:   lsp.Position{Line: t.Line, Character: t.End()},
	}
}

// HasModifier reports whether the token carries modifier m.
func (t Token) HasModifier(m string) bool {
	for _, x := range t.Modifiers {
		if x == m {
			return true
		}
	}
	return false
}

// Anomaly marks a token the decoder could not trust.
type Anomaly struct {
	Line   int    `json:"line"`
	Index  int    `json:"index"` // position in the decoded token slice
	Reason string `json:"reason"`
}

// Decode expands the relative 5-tuple encoding of textDocument/semanticTokens
// into absolute tokens. A new line resets the start column; tokens on the
// same line advance it by deltaStart. Tokens that overflow their line, use an
// unknown type or overlap their predecessor are kept and reported as
// anomalies. A data length that is not a multiple of five is an error.
func Decode(legend lsp.SemanticTokensLegend, text string, data []uint32, enc Encoding) ([]Token, []Anomaly, error) {
	if len(data)%5 != 0 {
		return nil, nil, fmt.Errorf("semantic tokens: data length %d is not a multiple of 5", len(data))
	}

	lines := Lines(text)
	tokens := make([]Token, 0, len(data)/5)
	var anomalies []Anomaly

	line, start := 0, 0
	prevEnd := -1
	for i := 0; i < len(data); i += 5 {
		deltaLine, deltaStart := int(data[i]), int(data[i+1])
		if deltaLine > 0 {
			line += deltaLine
			start = deltaStart
			prevEnd = -1
		} else {
			start += deltaStart
		}

		tok := Token{
			Line:      line,
			Start:     start,
			Length:    int(data[i+2]),
			Modifiers: decodeModifiers(legend.TokenModifiers, data[i+4]),
		}
		idx := len(tokens)

		if typ := int(data[i+3]); typ < len(legend.TokenTypes) {
			tok.Type = legend.TokenTypes[typ]
		} else {
			anomalies = append(anomalies, Anomaly{Line: line, Index: idx, Reason: fmt.Sprintf("token type %d outside legend", typ)})
		}

		if line >= len(lines) {
			anomalies = append(anomalies, Anomaly{Line: line, Index: idx, Reason: "line past end of document"})
		} else if txt, ok := enc.slice(lines[line], tok.Start, tok.Length); ok {
			tok.Text = txt
		} else {
			anomalies = append(anomalies, Anomaly{Line: line, Index: idx, Reason: "token past end of line"})
		}

		if prevEnd > tok.Start {
			anomalies = append(anomalies, Anomaly{Line: line, Index: idx, Reason: "overlaps previous token"})
		}
		prevEnd = tok.End()

		tokens = append(tokens, tok)
	}

	return tokens, anomalies, nil
}

func decodeModifiers(names []string, set uint32) []string {
	if set == 0 {
		return nil
	}
	out := make([]string, 0, bits.OnesCount32(set))
	for bit := 0; set != 0; bit++ {
		if set&1 == 1 && bit < len(names) {
			out = append(out, names[bit])
		}
		set >>= 1
	}
	return out
}
