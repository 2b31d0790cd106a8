package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	lspAdapter "github.com/Strob0t/sensebridge/internal/adapter/lsp"
	cfotel "github.com/Strob0t/sensebridge/internal/adapter/otel"
	lspDomain "github.com/Strob0t/sensebridge/internal/domain/lsp"
	"github.com/Strob0t/sensebridge/internal/domain/symbol"
	"github.com/Strob0t/sensebridge/internal/resilience"
)

// Aggregator merges hover, definition, declaration, implementation and
// references for one symbol into a single bundle.
type Aggregator struct {
	session  Session
	breakers *resilience.Breakers
	metrics  *cfotel.Metrics
}

// NewAggregator creates an aggregator. Each LSP method gets its own breaker
// from breakers.
func NewAggregator(session Session, breakers *resilience.Breakers, metrics *cfotel.Metrics) *Aggregator {
	return &Aggregator{session: session, breakers: breakers, metrics: metrics}
}

// BreakerFailure decides which sub-request errors trip a method breaker:
// timeouts and transport failures do, unsupported capabilities and server
// answers do not.
func BreakerFailure(err error) bool {
	return errors.Is(err, lspAdapter.ErrTimeout) ||
		errors.Is(err, lspAdapter.ErrProtocol) ||
		errors.Is(err, lspAdapter.ErrServerNotRunning)
}

// Aggregate issues all sub-requests concurrently at the symbol's name token.
// A failing sub-request only marks its own field unavailable. When any
// document involved changes version before the bundle is complete, the
// bundle is marked degraded.
func (a *Aggregator) Aggregate(ctx context.Context, sym symbol.Symbol) symbol.DetailBundle {
	root := a.session.Workspace()
	path := sym.Span.Path
	pos := sym.Span.Start

	ctx, span := cfotel.StartAggregationSpan(ctx, path, pos.Line, pos.Character)
	defer span.End()

	bundle := symbol.DetailBundle{
		Symbol:   sym,
		Location: symbol.NewLocation(root, path, sym.Span.Range()),
	}

	before := a.session.Versions()
	if _, ok := before[path]; !ok && a.session.Handles(path) {
		if doc, err := a.session.Open(ctx, path); err == nil {
			before[doc.Path] = doc.Version
		}
	}
	if v, ok := before[path]; ok && sym.Span.Version != 0 && v != sym.Span.Version {
		bundle.Degraded = true
		bundle.DegradedReason = fmt.Sprintf("%s was resolved at version %d but is now at version %d",
			bundle.Location.File, sym.Span.Version, v)
	}

	var (
		defs, decls, impls, refs []lspDomain.Location
		touched                  = []string{path}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var hover *lspDomain.HoverResult
		err := a.call(gctx, "textDocument/hover", func(ctx context.Context) (err error) {
			hover, err = a.session.Hover(ctx, path, pos)
			return err
		})
		if err != nil {
			bundle.Hover = symbol.Unavailable[string](err)
			return nil
		}
		signature, docs := "", ""
		if hover != nil {
			signature, docs = SplitHover(hover.Contents)
		}
		bundle.Hover = symbol.Available(signature)
		bundle.Documentation = docs
		return nil
	})
	g.Go(func() error {
		err := a.call(gctx, "textDocument/definition", func(ctx context.Context) (err error) {
			defs, err = a.session.Definition(ctx, path, pos)
			return err
		})
		bundle.Definition = a.single(err, root, defs)
		return nil
	})
	g.Go(func() error {
		err := a.call(gctx, "textDocument/declaration", func(ctx context.Context) (err error) {
			decls, err = a.session.Declaration(ctx, path, pos)
			return err
		})
		bundle.Declaration = a.single(err, root, decls)
		return nil
	})
	g.Go(func() error {
		err := a.call(gctx, "textDocument/implementation", func(ctx context.Context) (err error) {
			impls, err = a.session.Implementation(ctx, path, pos)
			return err
		})
		bundle.Implementations = a.list(err, root, impls)
		return nil
	})
	g.Go(func() error {
		err := a.call(gctx, "textDocument/references", func(ctx context.Context) (err error) {
			refs, err = a.session.References(ctx, path, pos)
			return err
		})
		bundle.References = a.list(err, root, refs)
		return nil
	})
	_ = g.Wait()

	for _, group := range [][]lspDomain.Location{defs, decls, impls, refs} {
		for _, l := range group {
			touched = append(touched, lspDomain.URIToPath(l.URI))
		}
	}

	after := a.session.Versions()
	if !bundle.Degraded {
		if reason, changed := versionBump(root, touched, before, after); changed {
			bundle.Degraded = true
			bundle.DegradedReason = reason
		}
	}
	if bundle.Degraded {
		a.metrics.RecordDegraded(ctx)
		span.SetAttributes(attribute.Bool("details.degraded", true))
	}

	for field, ok := range map[string]bool{
		"hover":           bundle.Hover.OK(),
		"definition":      bundle.Definition.OK(),
		"declaration":     bundle.Declaration.OK(),
		"implementations": bundle.Implementations.OK(),
		"references":      bundle.References.OK(),
	} {
		if !ok {
			a.metrics.RecordFieldUnavailable(ctx, field)
		}
	}
	return bundle
}

// call runs one sub-request through the breaker of its method.
func (a *Aggregator) call(ctx context.Context, method string, fn func(context.Context) error) error {
	if a.breakers == nil {
		return fn(ctx)
	}
	return a.breakers.Get(method).Execute(func() error { return fn(ctx) })
}

func (a *Aggregator) single(err error, root string, locs []lspDomain.Location) symbol.Field[*symbol.Location] {
	if err != nil {
		return symbol.Unavailable[*symbol.Location](err)
	}
	list := a.convert(root, locs)
	if len(list) == 0 {
		return symbol.Available[*symbol.Location](nil)
	}
	return symbol.Available(&list[0])
}

func (a *Aggregator) list(err error, root string, locs []lspDomain.Location) symbol.Field[[]symbol.Location] {
	if err != nil {
		return symbol.Unavailable[[]symbol.Location](err)
	}
	return symbol.Available(a.convert(root, locs))
}

// convert maps protocol locations to caller locations, removing duplicates
// and sorting by path then position.
func (a *Aggregator) convert(root string, locs []lspDomain.Location) []symbol.Location {
	seen := make(map[string]bool, len(locs))
	out := make([]symbol.Location, 0, len(locs))
	for _, l := range locs {
		path := lspDomain.URIToPath(l.URI)
		loc := symbol.NewLocation(root, path, l.Range)
		if seen[loc.Key()] {
			continue
		}
		seen[loc.Key()] = true
		loc.Version = a.session.Version(path)
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// versionBump reports the first touched document whose version differs
// between the two snapshots. Documents opened during the aggregation count
// as unchanged.
func versionBump(root string, paths []string, before, after map[string]int32) (string, bool) {
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		v0, ok := before[p]
		if !ok {
			continue
		}
		v1, open := after[p]
		if !open || v1 != v0 {
			rel, _ := symbol.Relative(root, p)
			if !open {
				return fmt.Sprintf("%s was closed during aggregation", rel), true
			}
			return fmt.Sprintf("%s changed from version %d to %d during aggregation", rel, v0, v1), true
		}
	}
	return "", false
}

// SplitHover separates the leading code blocks of hover markdown (the
// signature) from the prose that follows (the documentation). Hover text
// without code blocks is all signature.
func SplitHover(markdown string) (string, string) {
	text := strings.TrimSpace(markdown)
	if !strings.HasPrefix(text, "```") {
		return text, ""
	}

	var blocks []string
	for strings.HasPrefix(text, "```") {
		body := text[3:]
		nl := strings.IndexByte(body, '\n')
		if nl < 0 {
			break
		}
		body = body[nl+1:]
		end := strings.Index(body, "```")
		if end < 0 {
			blocks = append(blocks, strings.TrimSpace(body))
			text = ""
			break
		}
		blocks = append(blocks, strings.TrimSpace(body[:end]))
		text = strings.TrimSpace(body[end+3:])
		text = strings.TrimSpace(strings.TrimPrefix(text, "---"))
	}
	return strings.Join(blocks, "\n"), text
}
