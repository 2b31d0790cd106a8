package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hbollon/go-edlib"

	lspAdapter "github.com/Strob0t/sensebridge/internal/adapter/lsp"
	"github.com/Strob0t/sensebridge/internal/config"
	lspDomain "github.com/Strob0t/sensebridge/internal/domain/lsp"
	"github.com/Strob0t/sensebridge/internal/domain/symbol"
)

// MatchMode selects how a query is compared with symbol names.
type MatchMode string

const (
	// ModeFuzzy matches when the query characters appear in order in the
	// name, ignoring case.
	ModeFuzzy MatchMode = "fuzzy"
	// ModeExact matches the name verbatim.
	ModeExact MatchMode = "exact"
)

// ParseMatchMode parses a mode name; empty selects fuzzy.
func ParseMatchMode(s string) (MatchMode, error) {
	switch MatchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFuzzy:
		return ModeFuzzy, nil
	case ModeExact:
		return ModeExact, nil
	default:
		return "", fmt.Errorf("unknown match mode %q", s)
	}
}

// Scope selects which symbols a search may return.
type Scope string

const (
	ScopeWorkspace                Scope = "workspace"
	ScopeWorkspaceAndDependencies Scope = "workspace_and_dependencies"
)

// ParseScope parses a scope name; empty means unspecified.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return "", nil
	case ScopeWorkspace:
		return ScopeWorkspace, nil
	case ScopeWorkspaceAndDependencies, "all", "dependencies":
		return ScopeWorkspaceAndDependencies, nil
	default:
		return "", fmt.Errorf("unknown search scope %q", s)
	}
}

// FindOptions narrows a workspace search.
type FindOptions struct {
	Kind  *symbol.Kind
	Mode  MatchMode
	Scope Scope // empty: workspace, widened to dependencies when nothing matches
	Limit int   // 0 or above the configured top-K: top-K
}

// Finder ranks workspace-wide symbol search results.
type Finder struct {
	session Session
	cfg     *config.Finder
}

// NewFinder creates a finder over session.
func NewFinder(session Session, cfg *config.Finder) *Finder {
	return &Finder{session: session, cfg: cfg}
}

// Find returns the best matching symbols for text, most relevant first.
func (f *Finder) Find(ctx context.Context, text string, opts FindOptions) ([]symbol.SearchHit, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("query is required")
	}

	hits, err := f.collect(ctx, text, opts)
	if err != nil {
		return nil, err
	}

	limit := f.cfg.TopK
	if opts.Limit > 0 && opts.Limit < limit {
		limit = opts.Limit
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// collect runs the search without truncation.
func (f *Finder) collect(ctx context.Context, text string, opts FindOptions) ([]symbol.SearchHit, error) {
	if opts.Mode == "" {
		opts.Mode = ModeFuzzy
	}

	scope := opts.Scope
	if scope == "" {
		scope = ScopeWorkspace
	}
	hits, err := f.search(ctx, text, opts, scope)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 && opts.Scope == "" {
		return f.search(ctx, text, opts, ScopeWorkspaceAndDependencies)
	}
	return hits, nil
}

func (f *Finder) search(ctx context.Context, text string, opts FindOptions, scope Scope) ([]symbol.SearchHit, error) {
	containerHint, name := splitQuery(text)

	searchKind := "all_symbols"
	if opts.Kind != nil && *opts.Kind == symbol.KindType {
		searchKind = "only_types"
	}
	infos, err := f.session.WorkspaceSymbol(ctx, name, lspAdapter.WorkspaceSymbolOptions{
		Scope: string(scope),
		Kind:  searchKind,
	})
	if err != nil {
		return nil, fmt.Errorf("workspace symbol search: %w", err)
	}

	root := f.session.Workspace()
	seen := make(map[string]bool, len(infos))
	hits := make([]symbol.SearchHit, 0, len(infos))
	for _, info := range infos {
		sym := symbolFromInfo(f.session, info)
		_, inside := symbol.Relative(root, sym.Span.Path)
		if scope == ScopeWorkspace && !inside {
			continue
		}
		if !sym.Kind.Matches(opts.Kind) {
			continue
		}
		if !nameMatches(opts.Mode, name, sym.Name) {
			continue
		}
		if len(containerHint) > 0 && containerDistance(containerHint, sym.Container) < 0 {
			continue
		}

		key := sym.Name + "|" + sym.Span.Key()
		if seen[key] {
			continue
		}
		seen[key] = true

		hits = append(hits, symbol.SearchHit{
			Symbol:    sym,
			Relevance: similarity(name, sym.Name) * f.kindPriority(sym.Kind),
			External:  !inside,
		})
	}

	sort.SliceStable(hits, func(a, b int) bool {
		return lessHit(hits[a], hits[b])
	})
	return hits, nil
}

func (f *Finder) kindPriority(k symbol.Kind) float64 {
	switch k {
	case symbol.KindType, symbol.KindFunction, symbol.KindMethod, symbol.KindModule:
		return f.cfg.TypePriority
	case symbol.KindField, symbol.KindVariable, symbol.KindConstant:
		return f.cfg.FieldPriority
	default:
		return f.cfg.OtherPriority
	}
}

// lessHit orders by relevance, then shallower container, then name, then
// location.
func lessHit(a, b symbol.SearchHit) bool {
	if a.Relevance != b.Relevance {
		return a.Relevance > b.Relevance
	}
	if a.Symbol.Depth() != b.Symbol.Depth() {
		return a.Symbol.Depth() < b.Symbol.Depth()
	}
	if a.Symbol.Name != b.Symbol.Name {
		return a.Symbol.Name < b.Symbol.Name
	}
	if a.Symbol.Span.Path != b.Symbol.Span.Path {
		return a.Symbol.Span.Path < b.Symbol.Span.Path
	}
	return a.Symbol.Span.Start.Less(b.Symbol.Span.Start)
}

// splitQuery separates a qualified query such as "Scheduler::run" into its
// container hint and name.
func splitQuery(text string) ([]string, string) {
	parts := symbol.SplitContainer(text)
	if len(parts) <= 1 {
		return nil, text
	}
	return parts[:len(parts)-1], parts[len(parts)-1]
}

func nameMatches(mode MatchMode, query, name string) bool {
	if mode == ModeExact {
		return name == query
	}
	return subsequence(strings.ToLower(query), strings.ToLower(name))
}

// subsequence reports whether every rune of q occurs in s, in order.
func subsequence(q, s string) bool {
	rs := []rune(s)
	i := 0
	for _, r := range q {
		for i < len(rs) && rs[i] != r {
			i++
		}
		if i == len(rs) {
			return false
		}
		i++
	}
	return true
}

// similarity scores name against query in [0, 1]: Jaro-Winkler, raised for
// prefix and substring matches.
func similarity(query, name string) float64 {
	q, n := strings.ToLower(query), strings.ToLower(name)
	if q == n {
		if query == name {
			return 1
		}
		return 0.99
	}
	score := 0.0
	if s, err := edlib.StringsSimilarity(q, n, edlib.JaroWinkler); err == nil {
		score = float64(s)
	}
	switch {
	case strings.HasPrefix(n, q):
		score = max(score, 0.9)
	case strings.Contains(n, q):
		score = max(score, 0.8)
	}
	return score
}

// symbolFromInfo converts a workspace/symbol hit into an approximate symbol.
func symbolFromInfo(session Session, info lspDomain.SymbolInformation) symbol.Symbol {
	path := lspDomain.URIToPath(info.Location.URI)
	r := info.Location.Range
	return symbol.Symbol{
		Name:      info.Name,
		Kind:      symbol.FromLSP(info.Kind),
		Container: symbol.SplitContainer(info.ContainerName),
		Span: symbol.TokenSpan{
			Path:    path,
			Version: session.Version(path),
			Start:   r.Start,
			End:     r.End,
		},
		Approximate: true,
		Deprecated:  info.IsDeprecated(),
	}
}
