package mcp

import (
	"github.com/Strob0t/sensebridge/internal/domain/symbol"
)

// symbolView is a symbol as reported to tool callers: its span becomes a
// workspace-relative, 1-based location.
type symbolView struct {
	Name        string          `json:"name"`
	Qualified   string          `json:"qualified_name"`
	Kind        symbol.Kind     `json:"kind"`
	Container   []string        `json:"container,omitempty"`
	Location    symbol.Location `json:"location"`
	Detail      string          `json:"detail,omitempty"`
	Approximate bool            `json:"approximate,omitempty"`
	Deprecated  bool            `json:"deprecated,omitempty"`
}

type hitView struct {
	symbolView
	Relevance float64 `json:"relevance"`
}

type hitsResult struct {
	Type string    `json:"type"`
	Hits []hitView `json:"hits"`
}

type candidateView struct {
	ID string `json:"id"`
	symbolView
	Confidence float64            `json:"confidence"`
	Reason     symbol.MatchReason `json:"reason"`
}

type candidatesResult struct {
	Type       string          `json:"type"`
	Ambiguous  bool            `json:"ambiguous"`
	Message    string          `json:"message"`
	Candidates []candidateView `json:"candidates"`
}

type bundleView struct {
	Symbol          symbolView                      `json:"symbol"`
	Signature       symbol.Field[string]            `json:"signature"`
	Documentation   string                          `json:"documentation,omitempty"`
	Definition      symbol.Field[*symbol.Location]  `json:"definition"`
	Declaration     symbol.Field[*symbol.Location]  `json:"declaration"`
	Implementations symbol.Field[[]symbol.Location] `json:"implementations"`
	References      symbol.Field[[]symbol.Location] `json:"references"`
	Degraded        bool                            `json:"degraded,omitempty"`
	DegradedReason  string                          `json:"degraded_reason,omitempty"`
}

type detailsResult struct {
	Type   string     `json:"type"`
	Bundle bundleView `json:"bundle"`
}

func (s *Server) symbolView(sym symbol.Symbol) symbolView {
	return symbolView{
		Name:        sym.Name,
		Qualified:   sym.Qualified(),
		Kind:        sym.Kind,
		Container:   sym.Container,
		Location:    symbol.NewLocation(s.cfg.Root, sym.Span.Path, sym.Span.Range()),
		Detail:      sym.Detail,
		Approximate: sym.Approximate,
		Deprecated:  sym.Deprecated,
	}
}

func (s *Server) bundleView(b symbol.DetailBundle) bundleView {
	v := bundleView{
		Symbol:          s.symbolView(b.Symbol),
		Signature:       b.Hover,
		Documentation:   b.Documentation,
		Definition:      b.Definition,
		Declaration:     b.Declaration,
		Implementations: b.Implementations,
		References:      b.References,
		Degraded:        b.Degraded,
		DegradedReason:  b.DegradedReason,
	}
	// The aggregator computes the location against the session root.
	if b.Location.File != "" {
		v.Symbol.Location = b.Location
	}
	return v
}
