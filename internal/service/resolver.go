package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Strob0t/sensebridge/internal/config"
	"github.com/Strob0t/sensebridge/internal/domain"
	lspDomain "github.com/Strob0t/sensebridge/internal/domain/lsp"
	"github.com/Strob0t/sensebridge/internal/domain/symbol"
	"github.com/Strob0t/sensebridge/internal/workpool"
)

// maxCandidates bounds the candidate list returned for a low-confidence match.
const maxCandidates = 10

// Resolution is the outcome of resolving a loose reference: either one
// selected candidate or a list the caller must choose from.
type Resolution struct {
	Selected   *symbol.Candidate
	Candidates []symbol.Candidate
	Ambiguous  bool // several candidates tied for the top rank
}

// Resolver maps loose textual references onto exact symbol tokens.
type Resolver struct {
	session Session
	index   *Index
	finder  *Finder
	pool    *workpool.Pool
	cfg     *config.Resolver
	ignore  []string
}

// NewResolver creates a resolver. ignore lists doublestar patterns, relative
// to the workspace root, that file hints never match.
func NewResolver(session Session, index *Index, finder *Finder, pool *workpool.Pool, cfg *config.Resolver, ignore []string) *Resolver {
	return &Resolver{
		session: session,
		index:   index,
		finder:  finder,
		pool:    pool,
		cfg:     cfg,
		ignore:  ignore,
	}
}

// Resolve returns every candidate for ref, best first. An empty result is
// not an error.
func (r *Resolver) Resolve(ctx context.Context, ref symbol.LooseReference) ([]symbol.Candidate, error) {
	ref.Name = strings.TrimSpace(ref.Name)
	if ref.Name == "" {
		return nil, errors.New("name is required")
	}

	var (
		syms []symbol.Symbol
		err  error
	)
	if ref.File != "" {
		syms, err = r.fromFiles(ctx, ref)
	} else {
		syms, err = r.fromWorkspace(ctx, ref)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(syms))
	cands := make([]symbol.Candidate, 0, len(syms))
	for _, s := range syms {
		if !s.Kind.Matches(ref.Kind) {
			continue
		}
		match := symbol.MatchName(ref.Name, s.Name)
		if match == symbol.NameMismatch {
			continue
		}
		if seen[s.Span.Key()] {
			continue
		}
		seen[s.Span.Key()] = true
		cands = append(cands, r.score(ref, s, match))
	}

	sort.SliceStable(cands, func(a, b int) bool {
		return lessCandidate(cands[a], cands[b])
	})
	return cands, nil
}

// Decide turns a ranked candidate list into a resolution. choice, when set,
// is a candidate ID ("file:line:character", 1-based) picked by the caller; a
// position not in the list is resolved against the semantic index.
func (r *Resolver) Decide(ctx context.Context, cands []symbol.Candidate, choice string) (Resolution, error) {
	if choice = strings.TrimSpace(choice); choice != "" {
		for i := range cands {
			if cands[i].ID == choice {
				return Resolution{Selected: &cands[i]}, nil
			}
		}
		c, err := r.candidateAt(ctx, choice)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Selected: &c}, nil
	}

	if len(cands) == 0 {
		return Resolution{}, domain.ErrNotFound
	}

	top := Top(cands)
	if len(top) > 1 {
		return Resolution{Candidates: top, Ambiguous: true}, nil
	}
	if top[0].Confidence < r.cfg.MinConfidence {
		return Resolution{Candidates: cands[:min(len(cands), maxCandidates)]}, nil
	}
	return Resolution{Selected: &top[0]}, nil
}

// Top returns the leading group of candidates that cannot be told apart by
// name, kind or container. Modifiers only order the group.
func Top(cands []symbol.Candidate) []symbol.Candidate {
	if len(cands) == 0 {
		return nil
	}
	n := 1
	for n < len(cands) && tied(cands[0], cands[n]) {
		n++
	}
	return cands[:n]
}

func tied(a, b symbol.Candidate) bool {
	return a.Reason.Score == b.Reason.Score &&
		a.Reason.Name == b.Reason.Name &&
		a.Reason.KindMatch == b.Reason.KindMatch &&
		distanceRank(a.Reason.ContainerDistance) == distanceRank(b.Reason.ContainerDistance)
}

// lessCandidate orders by score, then confidence, then exact name, then kind
// match, then container distance, then lexical position.
func lessCandidate(a, b symbol.Candidate) bool {
	if a.Reason.Score != b.Reason.Score {
		return a.Reason.Score > b.Reason.Score
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Reason.Name != b.Reason.Name {
		return a.Reason.Name > b.Reason.Name
	}
	if a.Reason.KindMatch != b.Reason.KindMatch {
		return a.Reason.KindMatch
	}
	if da, db := distanceRank(a.Reason.ContainerDistance), distanceRank(b.Reason.ContainerDistance); da != db {
		return da < db
	}
	if a.Symbol.Span.Path != b.Symbol.Span.Path {
		return a.Symbol.Span.Path < b.Symbol.Span.Path
	}
	return a.Symbol.Span.Start.Less(b.Symbol.Span.Start)
}

// distanceRank sorts unmatched containers (-1) last.
func distanceRank(d int) int {
	if d < 0 {
		return int(^uint(0) >> 1)
	}
	return d
}

func (r *Resolver) score(ref symbol.LooseReference, s symbol.Symbol, match symbol.NameMatch) symbol.Candidate {
	reason := symbol.MatchReason{Name: match}
	confidence := float64(match) * r.cfg.NameWeight

	if ref.Kind != nil && s.Kind.Matches(ref.Kind) {
		reason.KindMatch = true
		confidence += r.cfg.KindWeight
	}

	if len(ref.Container) > 0 {
		d := containerDistance(ref.Container, s.Container)
		reason.ContainerDistance = d
		if d < 0 {
			confidence -= r.cfg.ContainerWeight
		} else {
			confidence += r.cfg.ContainerWeight / float64(1+d)
		}
	}

	reason.Score = confidence
	scores := r.session.Config().ModifierScores
	for _, m := range s.Modifiers {
		reason.ModifierScore += scores[m]
	}
	confidence += float64(reason.ModifierScore) * r.cfg.ModifierWeight

	return symbol.Candidate{
		ID:         symbol.CandidateID(r.session.Workspace(), s),
		Symbol:     s,
		Confidence: confidence,
		Reason:     reason,
	}
}

// containerDistance matches hint segments, in order and ignoring case,
// against the symbol's container path. It returns the number of container
// segments between the innermost matched segment and the symbol, or -1 when
// the hint does not match.
func containerDistance(hint, container []string) int {
	i := len(container) - 1
	last := -1
	for h := len(hint) - 1; h >= 0; h-- {
		for i >= 0 && !strings.EqualFold(container[i], hint[h]) {
			i--
		}
		if i < 0 {
			return -1
		}
		if last < 0 {
			last = i
		}
		i--
	}
	return len(container) - 1 - last
}

// fromFiles indexes every document matched by the file hint.
func (r *Resolver) fromFiles(ctx context.Context, ref symbol.LooseReference) ([]symbol.Symbol, error) {
	files, err := r.matchFiles(ref.File)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	results := workpool.Map(ctx, r.pool, files, r.index.Symbols)

	var (
		out      []symbol.Symbol
		firstErr error
		failed   int
	)
	for _, res := range results {
		if res.Err != nil {
			failed++
			if firstErr == nil {
				firstErr = res.Err
			}
			slog.Warn("resolver: indexing failed", "path", res.Item, "error", res.Err)
			continue
		}
		out = append(out, res.Value...)
	}
	if failed == len(results) {
		return nil, firstErr
	}
	return out, nil
}

// fromWorkspace asks the server-wide search for the name and refines each
// hit to its exact token via the semantic index.
func (r *Resolver) fromWorkspace(ctx context.Context, ref symbol.LooseReference) ([]symbol.Symbol, error) {
	hits, err := r.finder.collect(ctx, ref.Name, FindOptions{Kind: ref.Kind, Mode: ModeFuzzy})
	if err != nil {
		return nil, err
	}

	var (
		out    []symbol.Symbol
		files  []string
		byFile = make(map[string][]symbol.SearchHit)
	)
	for _, h := range hits {
		if symbol.MatchName(ref.Name, h.Symbol.Name) == symbol.NameMismatch {
			continue
		}
		path := h.Symbol.Span.Path
		if h.External || !r.session.Handles(path) {
			out = append(out, h.Symbol)
			continue
		}
		if _, ok := byFile[path]; !ok {
			if len(files) >= r.cfg.MaxFiles {
				out = append(out, h.Symbol)
				continue
			}
			files = append(files, path)
		}
		byFile[path] = append(byFile[path], h)
	}

	results := workpool.Map(ctx, r.pool, files, r.index.Symbols)
	for _, res := range results {
		if res.Err != nil {
			slog.Warn("resolver: indexing failed, using server location", "path", res.Item, "error", res.Err)
			for _, h := range byFile[res.Item] {
				out = append(out, h.Symbol)
			}
			continue
		}
		out = append(out, refine(byFile[res.Item], res.Value)...)
	}
	return out, nil
}

// refine swaps each server hit for the indexed symbol it points at; hits
// without one keep their server location.
func refine(hits []symbol.SearchHit, indexed []symbol.Symbol) []symbol.Symbol {
	var out []symbol.Symbol
	for _, h := range hits {
		found := false
		for _, s := range indexed {
			if s.Name != h.Symbol.Name {
				continue
			}
			if s.Span.Range().Contains(h.Symbol.Span.Start) || h.Symbol.Span.Range().Encloses(s.Span.Range()) ||
				s.Span.Start.Line == h.Symbol.Span.Start.Line {
				out = append(out, s)
				found = true
			}
		}
		if !found {
			out = append(out, h.Symbol)
		}
	}
	return out
}

// matchFiles expands a file hint into absolute paths of documents the
// session handles. A hint without glob syntax that names no existing file
// is retried as "**/<hint>".
func (r *Resolver) matchFiles(hint string) ([]string, error) {
	root := r.session.Workspace()
	pattern := filepath.ToSlash(strings.TrimSpace(hint))
	if filepath.IsAbs(hint) {
		rel, ok := symbol.Relative(root, hint)
		if !ok {
			return r.existing(hint), nil
		}
		pattern = rel
	}
	pattern = strings.TrimPrefix(pattern, "./")

	if !hasMeta(pattern) {
		if files := r.existing(filepath.Join(root, filepath.FromSlash(pattern))); len(files) > 0 {
			return files, nil
		}
		pattern = "**/" + pattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid file pattern %q", hint)
	}

	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("match file pattern %q: %w", hint, err)
	}

	sort.Strings(matches)
	var files []string
	for _, m := range matches {
		if r.ignored(m) {
			continue
		}
		abs := filepath.Join(root, filepath.FromSlash(m))
		if !r.session.Handles(abs) {
			continue
		}
		files = append(files, abs)
		if len(files) >= r.cfg.MaxFiles {
			slog.Debug("resolver: file hint truncated", "pattern", pattern, "max_files", r.cfg.MaxFiles)
			break
		}
	}
	return files, nil
}

func (r *Resolver) existing(path string) []string {
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return []string{path}
	}
	return nil
}

func (r *Resolver) ignored(rel string) bool {
	for _, pattern := range r.ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// candidateAt resolves an ID that was not in the candidate list by asking
// the index what lies at that position.
func (r *Resolver) candidateAt(ctx context.Context, id string) (symbol.Candidate, error) {
	path, line, char, err := ParseCandidateID(id)
	if err != nil {
		return symbol.Candidate{}, err
	}
	m, err := r.index.Model(ctx, path)
	if err != nil {
		return symbol.Candidate{}, err
	}
	s, ok := m.At(lspDomain.Position{Line: line - 1, Character: char - 1})
	if !ok {
		return symbol.Candidate{}, fmt.Errorf("no symbol at %s: %w", id, domain.ErrNotFound)
	}
	score := float64(symbol.NameExact) * r.cfg.NameWeight
	return symbol.Candidate{
		ID:         symbol.CandidateID(r.session.Workspace(), s),
		Symbol:     s,
		Confidence: score,
		Reason:     symbol.MatchReason{Name: symbol.NameExact, Score: score},
	}, nil
}

// ParseCandidateID splits "file:line:character" (1-based). The file part
// may itself contain colons.
func ParseCandidateID(id string) (string, int, int, error) {
	rest, charStr, ok := cutLast(id, ":")
	if !ok {
		return "", 0, 0, fmt.Errorf("malformed candidate id %q", id)
	}
	file, lineStr, ok := cutLast(rest, ":")
	if !ok || file == "" {
		return "", 0, 0, fmt.Errorf("malformed candidate id %q", id)
	}
	line, err := strconv.Atoi(lineStr)
	if err != nil || line < 1 {
		return "", 0, 0, fmt.Errorf("malformed line in candidate id %q", id)
	}
	char, err := strconv.Atoi(charStr)
	if err != nil || char < 1 {
		return "", 0, 0, fmt.Errorf("malformed character in candidate id %q", id)
	}
	return file, line, char, nil
}

func cutLast(s, sep string) (string, string, bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}
