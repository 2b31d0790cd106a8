package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lspAdapter "github.com/Strob0t/sensebridge/internal/adapter/lsp"
	cfotel "github.com/Strob0t/sensebridge/internal/adapter/otel"
	"github.com/Strob0t/sensebridge/internal/config"
	"github.com/Strob0t/sensebridge/internal/domain"
	"github.com/Strob0t/sensebridge/internal/domain/semantic"
	"github.com/Strob0t/sensebridge/internal/domain/symbol"
	"github.com/Strob0t/sensebridge/internal/port/cache"
)

// Index caches the semantic model of each document version. Entries are
// keyed by path and version, so a model can never be served for a version
// it was not built from.
type Index struct {
	session Session
	cache   cache.Cache[*semantic.Model]
	cfg     *config.Index
	metrics *cfotel.Metrics
}

// NewIndex creates an index over session backed by c.
func NewIndex(session Session, c cache.Cache[*semantic.Model], cfg *config.Index, metrics *cfotel.Metrics) *Index {
	return &Index{session: session, cache: c, cfg: cfg, metrics: metrics}
}

func cacheKey(path string, version int32) string {
	return fmt.Sprintf("%s@%d", path, version)
}

// OnDocumentEvent evicts the superseded model. Register it with the session
// so evictions happen in version order.
func (i *Index) OnDocumentEvent(ev lspAdapter.DocumentEvent) {
	ctx := context.Background()
	if ev.Previous > 0 {
		_ = i.cache.Delete(ctx, cacheKey(ev.Path, ev.Previous))
	}
	if ev.Closed {
		_ = i.cache.Delete(ctx, cacheKey(ev.Path, ev.Version))
	}
}

// Model returns the semantic model of the current version of path, opening
// the document if needed. A document that changes while its model is built
// is rebuilt, up to the configured number of attempts.
func (i *Index) Model(ctx context.Context, path string) (*semantic.Model, error) {
	abs := i.session.ResolvePath(path)

	attempts := max(i.cfg.MaxRecompute, 1)
	for attempt := 0; attempt < attempts; attempt++ {
		doc, ok := i.session.Document(abs)
		if !ok {
			var err error
			if doc, err = i.session.Open(ctx, abs); err != nil {
				return nil, fmt.Errorf("index %s: %w", path, err)
			}
		}

		key := cacheKey(abs, doc.Version)
		if m, found, _ := i.cache.Get(ctx, key); found {
			i.metrics.RecordIndexLookup(ctx, "hit")
			return m, nil
		}
		i.metrics.RecordIndexLookup(ctx, "miss")

		m, err := i.build(ctx, doc)
		if err != nil {
			var rpcErr *lspAdapter.ResponseError
			if errors.As(err, &rpcErr) && rpcErr.IsContentModified() {
				i.metrics.RecordIndexLookup(ctx, "stale")
				continue
			}
			return nil, fmt.Errorf("index %s: %w", path, err)
		}

		if i.session.Version(abs) != doc.Version {
			i.metrics.RecordIndexLookup(ctx, "stale")
			continue
		}
		if err := i.cache.Set(ctx, key, m, i.cfg.CacheTTL); err != nil {
			slog.Warn("index: cache set failed", "path", abs, "error", err)
		}
		// A bump racing the Set would have found nothing to evict.
		if i.session.Version(abs) != doc.Version {
			_ = i.cache.Delete(ctx, key)
			i.metrics.RecordIndexLookup(ctx, "stale")
			continue
		}
		return m, nil
	}
	return nil, fmt.Errorf("index %s: %w after %d attempts", path, domain.ErrStale, attempts)
}

// Symbols returns the symbols of the current version of path.
func (i *Index) Symbols(ctx context.Context, path string) ([]symbol.Symbol, error) {
	m, err := i.Model(ctx, path)
	if err != nil {
		return nil, err
	}
	return m.Symbols(), nil
}

func (i *Index) build(ctx context.Context, doc lspAdapter.Document) (*semantic.Model, error) {
	caps := i.session.Capabilities()

	tree, flat, err := i.session.DocumentSymbols(ctx, doc.Path)
	if err != nil {
		return nil, fmt.Errorf("document symbols: %w", err)
	}
	data, err := i.session.SemanticTokensFull(ctx, doc.Path)
	if err != nil {
		return nil, fmt.Errorf("semantic tokens: %w", err)
	}

	tokens, anomalies, err := semantic.Decode(caps.Legend, doc.Text, data, caps.PositionEncoding)
	if err != nil {
		return nil, fmt.Errorf("decode semantic tokens: %w", err)
	}
	if len(anomalies) > 0 {
		slog.Debug("index: token anomalies", "path", doc.Path, "version", doc.Version, "count", len(anomalies))
	}

	var m *semantic.Model
	if flat != nil {
		m = semantic.BuildFlat(doc.Path, doc.Version, flat, tokens, anomalies)
	} else {
		m = semantic.Build(doc.Path, doc.Version, tree, tokens, anomalies)
	}
	slog.Debug("index: model built", "path", doc.Path, "version", doc.Version, "symbols", m.Len(), "tokens", len(tokens))
	return m, nil
}
