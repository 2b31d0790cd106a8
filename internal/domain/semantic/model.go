package semantic

import (
	"sort"
	"strings"
	"unicode"

	"github.com/Strob0t/sensebridge/internal/domain/lsp"
	"github.com/Strob0t/sensebridge/internal/domain/symbol"
)

// declarationModifiers mark a token as the defining occurrence of a name.
var declarationModifiers = []string{"declaration", "definition"}

// Model is the symbol table of one document version.
type Model struct {
	Path      string
	Version   int32
	Tokens    []Token
	Anomalies []Anomaly

	entries []entry
}

type entry struct {
	sym  symbol.Symbol
	body lsp.Range
}

type node struct {
	name       string
	detail     string
	kind       lsp.SymbolKind
	deprecated bool
	body       lsp.Range
	selection  lsp.Range
	container  []string
	children   []lsp.Range
}

// Build intersects a hierarchical document-symbol tree with the decoded
// token stream of the same document version.
func Build(path string, version int32, tree []lsp.DocumentSymbol, tokens []Token, anomalies []Anomaly) *Model {
	var nodes []node
	var walk func(syms []lsp.DocumentSymbol, container []string)
	walk = func(syms []lsp.DocumentSymbol, container []string) {
		for _, s := range syms {
			n := node{
				name:       s.Name,
				detail:     s.Detail,
				kind:       s.Kind,
				deprecated: s.IsDeprecated(),
				body:       s.Range,
				selection:  s.SelectionRange,
				container:  container,
			}
			for _, c := range s.Children {
				n.children = append(n.children, c.Range)
			}
			nodes = append(nodes, n)
			if len(s.Children) > 0 {
				walk(s.Children, appendPath(container, s.Name))
			}
		}
	}
	walk(tree, nil)
	return build(path, version, nodes, tokens, anomalies)
}

// BuildFlat is Build for servers that answer documentSymbol with the flat
// SymbolInformation shape. The container path comes from containerName.
func BuildFlat(path string, version int32, infos []lsp.SymbolInformation, tokens []Token, anomalies []Anomaly) *Model {
	nodes := make([]node, 0, len(infos))
	for _, s := range infos {
		nodes = append(nodes, node{
			name:       s.Name,
			kind:       s.Kind,
			deprecated: s.IsDeprecated(),
			body:       s.Location.Range,
			selection:  s.Location.Range,
			container:  symbol.SplitContainer(s.ContainerName),
		})
	}
	return build(path, version, nodes, tokens, anomalies)
}

func build(path string, version int32, nodes []node, tokens []Token, anomalies []Anomaly) *Model {
	m := &Model{Path: path, Version: version, Tokens: tokens, Anomalies: anomalies}

	byLine := make(map[int][]int)
	for i, t := range tokens {
		byLine[t.Line] = append(byLine[t.Line], i)
	}
	suspect := make(map[int]bool, len(anomalies))
	for _, a := range anomalies {
		suspect[a.Index] = true
	}

	for _, n := range nodes {
		qualifiers, ident := splitQualified(n.name)
		sym := symbol.Symbol{
			Name:       ident,
			Kind:       symbol.FromLSP(n.kind),
			Container:  append(append([]string(nil), n.container...), qualifiers...),
			Detail:     n.detail,
			Deprecated: n.deprecated,
		}

		idx, ok := findNameToken(tokens, byLine, n, ident)
		if ok && !suspect[idx] {
			t := tokens[idx]
			sym.Span = span(path, version, t.Range())
			sym.Modifiers = t.Modifiers
		} else {
			fallback := n.selection
			if fallback == (lsp.Range{}) || !n.body.Encloses(fallback) {
				fallback = lsp.Range{Start: n.body.Start, End: n.body.Start}
			}
			sym.Span = span(path, version, fallback)
			sym.Approximate = true
		}

		m.entries = append(m.entries, entry{sym: sym, body: n.body})
	}

	sort.SliceStable(m.entries, func(i, j int) bool {
		return m.entries[i].sym.Span.Start.Less(m.entries[j].sym.Span.Start)
	})
	return m
}

// findNameToken isolates the token that spells ident. A match inside the
// selection range wins; otherwise a declaration-modified match in the body
// outside any child symbol; otherwise the first body match outside children.
func findNameToken(tokens []Token, byLine map[int][]int, n node, ident string) (int, bool) {
	if ident == "" {
		return 0, false
	}

	for line := n.selection.Start.Line; line <= n.selection.End.Line; line++ {
		for _, i := range byLine[line] {
			t := tokens[i]
			if t.Text == ident && n.selection.Encloses(t.Range()) {
				return i, true
			}
		}
	}

	first := -1
	for line := n.body.Start.Line; line <= n.body.End.Line; line++ {
		for _, i := range byLine[line] {
			t := tokens[i]
			if t.Text != ident || !n.body.Encloses(t.Range()) || insideAny(n.children, t.Range()) {
				continue
			}
			for _, m := range declarationModifiers {
				if t.HasModifier(m) {
					return i, true
				}
			}
			if first < 0 {
				first = i
			}
		}
	}
	if first >= 0 {
		return first, true
	}
	return 0, false
}

func insideAny(ranges []lsp.Range, r lsp.Range) bool {
	for _, c := range ranges {
		if c.Encloses(r) {
			return true
		}
	}
	return false
}

func span(path string, version int32, r lsp.Range) symbol.TokenSpan {
	return symbol.TokenSpan{Path: path, Version: version, Start: r.Start, End: r.End}
}

func appendPath(container []string, name string) []string {
	out := make([]string, 0, len(container)+1)
	out = append(out, container...)
	return append(out, scopeName(name))
}

// scopeName is the name children see as their container. Implementation
// blocks ("impl Point", "impl<T> Display for Point<T>") scope their members
// under the implementing type.
func scopeName(name string) string {
	if !strings.HasPrefix(name, "impl") || !strings.ContainsRune(name, ' ') {
		_, ident := splitQualified(name)
		return ident
	}
	target := name
	if i := strings.LastIndex(target, " for "); i >= 0 {
		target = target[i+len(" for "):]
	} else {
		target = strings.TrimSpace(target[strings.IndexRune(target, ' '):])
	}
	if i := strings.IndexRune(target, '<'); i >= 0 {
		target = target[:i]
	}
	if _, ident := splitQualified(strings.TrimSpace(target)); ident != "" {
		return ident
	}
	return name
}

// splitQualified separates receiver or path qualifiers from the declared
// identifier: "(*Server).Start" yields ["Server"], "Start". Names containing
// spaces, such as "impl Display for Point", are kept whole.
func splitQualified(name string) ([]string, string) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsRune(name, ' ') {
		return nil, name
	}
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$')
	})
	if len(parts) == 0 {
		return nil, name
	}
	return parts[:len(parts)-1], parts[len(parts)-1]
}

// Symbols returns every symbol in document order.
func (m *Model) Symbols() []symbol.Symbol {
	out := make([]symbol.Symbol, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.sym
	}
	return out
}

// Lookup returns the symbols whose name is exactly name.
func (m *Model) Lookup(name string) []symbol.Symbol {
	var out []symbol.Symbol
	for _, e := range m.entries {
		if e.sym.Name == name {
			out = append(out, e.sym)
		}
	}
	return out
}

// At returns the symbol whose name token covers pos, or else the innermost
// symbol whose body encloses pos.
func (m *Model) At(pos lsp.Position) (symbol.Symbol, bool) {
	var best *entry
	for i := range m.entries {
		e := &m.entries[i]
		if e.sym.Span.Range().Contains(pos) {
			return e.sym, true
		}
		if e.body.Contains(pos) && (best == nil || best.body.Encloses(e.body)) {
			best = e
		}
	}
	if best == nil {
		return symbol.Symbol{}, false
	}
	return best.sym, true
}

// Len returns the number of symbols, used as the model's cache cost.
func (m *Model) Len() int { return len(m.entries) }
