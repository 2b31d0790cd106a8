package service

import (
	"context"
	"errors"
	"testing"

	lspAdapter "github.com/Strob0t/sensebridge/internal/adapter/lsp"
	"github.com/Strob0t/sensebridge/internal/domain"
	"github.com/Strob0t/sensebridge/internal/domain/semantic"
)

func newTestIndex(t *testing.T, s *fakeSession) (*Index, *memCache[*semantic.Model]) {
	t.Helper()
	cfg := testConfig()
	c := newMemCache[*semantic.Model]()
	idx := NewIndex(s, c, &cfg.Index, nil)
	s.listener = idx.OnDocumentEvent
	return idx, c
}

func TestIndex_CachesPerVersion(t *testing.T) {
	s := newFakeSession(t.TempDir())
	path := s.addScheduler("src/lib.rs")
	idx, c := newTestIndex(t, s)
	ctx := context.Background()

	m1, err := idx.Model(ctx, "src/lib.rs")
	if err != nil {
		t.Fatal(err)
	}
	if m1.Version != 1 {
		t.Fatalf("expected version 1, got %d", m1.Version)
	}
	if _, err := idx.Model(ctx, path); err != nil {
		t.Fatal(err)
	}
	if n := s.symbolCalls(path); n != 1 {
		t.Fatalf("expected one build for an unchanged document, got %d", n)
	}

	s.bump(path)
	if c.has(cacheKey(path, 1)) {
		t.Error("version 1 entry should be evicted on bump")
	}

	m2, err := idx.Model(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if m2.Version != 2 {
		t.Fatalf("expected version 2, got %d", m2.Version)
	}
	for _, sym := range m2.Symbols() {
		if sym.Span.Version != 2 {
			t.Errorf("symbol %s carries stale version %d", sym.Name, sym.Span.Version)
		}
	}
	if n := s.symbolCalls(path); n != 2 {
		t.Fatalf("expected a rebuild after the bump, got %d builds", n)
	}
}

func TestIndex_EvictsOnClose(t *testing.T) {
	s := newFakeSession(t.TempDir())
	path := s.addScheduler("src/lib.rs")
	idx, c := newTestIndex(t, s)

	if _, err := idx.Model(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	idx.OnDocumentEvent(lspAdapter.DocumentEvent{Path: path, Version: 1, Closed: true})
	if c.has(cacheKey(path, 1)) {
		t.Error("entry should be evicted on close")
	}
}

func TestIndex_RebuildsWhenDocumentChangesMidBuild(t *testing.T) {
	s := newFakeSession(t.TempDir())
	path := s.addScheduler("src/lib.rs")
	idx, c := newTestIndex(t, s)
	s.onSymbols = func(p string, call int) error {
		if call == 1 {
			s.bump(p)
		}
		return nil
	}

	m, err := idx.Model(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if m.Version != 2 {
		t.Fatalf("expected the model of version 2, got %d", m.Version)
	}
	if c.has(cacheKey(path, 1)) {
		t.Error("a model of the superseded version must not be cached")
	}
	if !c.has(cacheKey(path, 2)) {
		t.Error("the current version should be cached")
	}
}

func TestIndex_GivesUpWhenDocumentKeepsChanging(t *testing.T) {
	s := newFakeSession(t.TempDir())
	path := s.addScheduler("src/lib.rs")
	idx, _ := newTestIndex(t, s)
	s.onSymbols = func(p string, _ int) error {
		s.bump(p)
		return nil
	}

	_, err := idx.Model(context.Background(), path)
	if !errors.Is(err, domain.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	if n := s.symbolCalls(path); n != testConfig().Index.MaxRecompute {
		t.Errorf("expected %d attempts, got %d", testConfig().Index.MaxRecompute, n)
	}
}

func TestIndex_RetriesContentModified(t *testing.T) {
	s := newFakeSession(t.TempDir())
	path := s.addScheduler("src/lib.rs")
	idx, _ := newTestIndex(t, s)
	calls := 0
	s.onTokens = func(string) error {
		calls++
		if calls == 1 {
			return &lspAdapter.ResponseError{Code: lspAdapter.CodeContentModified, Message: "content modified"}
		}
		return nil
	}

	m, err := idx.Model(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if m.Len() == 0 {
		t.Error("expected symbols after the retry")
	}
	if calls != 2 {
		t.Errorf("expected 2 token requests, got %d", calls)
	}
}

func TestIndex_PropagatesErrors(t *testing.T) {
	s := newFakeSession(t.TempDir())
	path := s.addScheduler("src/lib.rs")
	idx, _ := newTestIndex(t, s)
	s.onTokens = func(string) error { return lspAdapter.ErrTimeout }

	_, err := idx.Model(context.Background(), path)
	if !errors.Is(err, lspAdapter.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	if _, err := idx.Model(context.Background(), "src/missing.rs"); err == nil {
		t.Fatal("expected an error for an unknown document")
	}
}

func TestIndex_SymbolsIsolateNameTokens(t *testing.T) {
	s := newFakeSession(t.TempDir())
	path := s.addScheduler("src/lib.rs")
	idx, _ := newTestIndex(t, s)

	syms, err := idx.Symbols(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	for _, sym := range syms {
		if sym.Name == "run" {
			if sym.Approximate || sym.Span.Range() != rng(5, 11, 5, 14) {
				t.Errorf("unexpected run span %+v approximate=%v", sym.Span.Range(), sym.Approximate)
			}
			return
		}
	}
	t.Fatal("run not found")
}
