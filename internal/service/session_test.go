package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lspAdapter "github.com/Strob0t/sensebridge/internal/adapter/lsp"
	"github.com/Strob0t/sensebridge/internal/config"
	lspDomain "github.com/Strob0t/sensebridge/internal/domain/lsp"
	"github.com/Strob0t/sensebridge/internal/domain/semantic"
)

const schedulerSrc = `struct Scheduler {
    queue: Vec<u32>,
}

impl Scheduler {
    pub fn run(&self) {}
}
`

var rustLegend = lspDomain.SemanticTokensLegend{
	TokenTypes:     []string{"struct", "property", "method", "keyword", "selfKeyword"},
	TokenModifiers: []string{"declaration", "public", "library"},
}

// schedulerTokens encodes schedulerSrc with rustLegend in UTF-8 columns.
var schedulerTokens = []uint32{
	0, 0, 6, 3, 0, // struct
	0, 7, 9, 0, 1, // Scheduler decl
	1, 4, 5, 1, 1, // queue decl
	0, 7, 3, 0, 4, // Vec library
	3, 0, 4, 3, 0, // impl
	0, 5, 9, 0, 0, // Scheduler
	1, 4, 3, 3, 0, // pub
	0, 4, 2, 3, 0, // fn
	0, 3, 3, 2, 3, // run decl|public
	0, 5, 4, 4, 0, // self
}

func rng(sl, sc, el, ec int) lspDomain.Range {
	return lspDomain.Range{
		Start: lspDomain.Position{Line: sl, Character: sc},
		End:   lspDomain.Position{Line: el, Character: ec},
	}
}

func schedulerTree() []lspDomain.DocumentSymbol {
	return []lspDomain.DocumentSymbol{
		{
			Name: "Scheduler", Kind: lspDomain.SymbolKindStruct,
			Range: rng(0, 0, 2, 1), SelectionRange: rng(0, 7, 0, 16),
			Children: []lspDomain.DocumentSymbol{
				{Name: "queue", Kind: lspDomain.SymbolKindField, Range: rng(1, 4, 1, 19), SelectionRange: rng(1, 4, 1, 9)},
			},
		},
		{
			Name: "impl Scheduler", Kind: lspDomain.SymbolKindObject,
			Range: rng(4, 0, 6, 1), SelectionRange: rng(4, 5, 4, 14),
			Children: []lspDomain.DocumentSymbol{
				{Name: "run", Kind: lspDomain.SymbolKindMethod, Range: rng(5, 4, 5, 24), SelectionRange: rng(5, 11, 5, 14)},
			},
		},
	}
}

type fakeDoc struct {
	doc    lspAdapter.Document
	tree   []lspDomain.DocumentSymbol
	tokens []uint32
}

// fakeSession implements Session over in-memory documents.
type fakeSession struct {
	root string

	mu       sync.Mutex
	docs     map[string]*fakeDoc
	open     map[string]bool
	infos    []lspDomain.SymbolInformation
	queries  []lspAdapter.WorkspaceSymbolOptions
	symCalls map[string]int
	listener func(lspAdapter.DocumentEvent)

	// Hooks run inside the matching request; nil means answer normally.
	onSymbols func(path string, call int) error
	onTokens  func(path string) error

	hover    func() (*lspDomain.HoverResult, error)
	def      func() ([]lspDomain.Location, error)
	decl     func() ([]lspDomain.Location, error)
	impl     func() ([]lspDomain.Location, error)
	refs     func() ([]lspDomain.Location, error)

	positions chan lspDomain.Position
}

func newFakeSession(root string) *fakeSession {
	return &fakeSession{
		root:     root,
		docs:     make(map[string]*fakeDoc),
		open:     make(map[string]bool),
		symCalls: make(map[string]int),
	}
}

func (f *fakeSession) addDoc(rel, text string, tree []lspDomain.DocumentSymbol, tokens []uint32) string {
	path := filepath.Join(f.root, filepath.FromSlash(rel))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[path] = &fakeDoc{
		doc: lspAdapter.Document{
			Path:       path,
			URI:        lspDomain.PathToURI(path),
			LanguageID: "rust",
			Version:    1,
			Text:       text,
		},
		tree:   tree,
		tokens: tokens,
	}
	return path
}

func (f *fakeSession) addScheduler(rel string) string {
	return f.addDoc(rel, schedulerSrc, schedulerTree(), schedulerTokens)
}

// bump simulates a full-text change and notifies the listener.
func (f *fakeSession) bump(path string) int32 {
	f.mu.Lock()
	d := f.docs[path]
	prev := d.doc.Version
	d.doc.Version++
	ev := lspAdapter.DocumentEvent{Path: path, Version: d.doc.Version, Previous: prev}
	listener := f.listener
	f.mu.Unlock()
	if listener != nil {
		listener(ev)
	}
	return ev.Version
}

func (f *fakeSession) symbolCalls(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.symCalls[path]
}

func (f *fakeSession) Workspace() string { return f.root }

func (f *fakeSession) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(f.root, filepath.FromSlash(path))
}

func (f *fakeSession) Handles(path string) bool { return strings.HasSuffix(path, ".rs") }

func (f *fakeSession) Config() lspDomain.LanguageServerConfig {
	return lspDomain.DefaultServers["rust"]
}

func (f *fakeSession) Capabilities() lspAdapter.Capabilities {
	return lspAdapter.Capabilities{
		PositionEncoding:   semantic.UTF8,
		Legend:             rustLegend,
		SemanticTokensFull: true,
		Hover:              true,
		Definition:         true,
		Declaration:        true,
		Implementation:     true,
		References:         true,
		DocumentSymbol:     true,
		WorkspaceSymbol:    true,
	}
}

func (f *fakeSession) Open(_ context.Context, path string) (lspAdapter.Document, error) {
	path = f.ResolvePath(path)
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[path]
	if !ok {
		return lspAdapter.Document{}, fmt.Errorf("open %s: no such file", path)
	}
	f.open[path] = true
	return d.doc, nil
}

func (f *fakeSession) Document(path string) (lspAdapter.Document, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[path]
	if !ok || !f.open[path] {
		return lspAdapter.Document{}, false
	}
	return d.doc, true
}

func (f *fakeSession) Version(path string) int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.docs[path]; ok && f.open[path] {
		return d.doc.Version
	}
	return 0
}

func (f *fakeSession) Versions() map[string]int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int32, len(f.open))
	for path := range f.open {
		out[path] = f.docs[path].doc.Version
	}
	return out
}

func (f *fakeSession) DocumentSymbols(_ context.Context, path string) ([]lspDomain.DocumentSymbol, []lspDomain.SymbolInformation, error) {
	f.mu.Lock()
	f.symCalls[path]++
	call := f.symCalls[path]
	d, ok := f.docs[path]
	hook := f.onSymbols
	f.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("unknown document %s", path)
	}
	if hook != nil {
		if err := hook(path, call); err != nil {
			return nil, nil, err
		}
	}
	return d.tree, nil, nil
}

func (f *fakeSession) SemanticTokensFull(_ context.Context, path string) ([]uint32, error) {
	f.mu.Lock()
	d, ok := f.docs[path]
	hook := f.onTokens
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown document %s", path)
	}
	if hook != nil {
		if err := hook(path); err != nil {
			return nil, err
		}
	}
	return d.tokens, nil
}

func (f *fakeSession) record(pos lspDomain.Position) {
	if f.positions != nil {
		f.positions <- pos
	}
}

func (f *fakeSession) Hover(_ context.Context, _ string, pos lspDomain.Position) (*lspDomain.HoverResult, error) {
	f.record(pos)
	if f.hover == nil {
		return nil, nil
	}
	return f.hover()
}

func (f *fakeSession) Definition(_ context.Context, _ string, pos lspDomain.Position) ([]lspDomain.Location, error) {
	f.record(pos)
	if f.def == nil {
		return nil, nil
	}
	return f.def()
}

func (f *fakeSession) Declaration(_ context.Context, _ string, pos lspDomain.Position) ([]lspDomain.Location, error) {
	f.record(pos)
	if f.decl == nil {
		return nil, nil
	}
	return f.decl()
}

func (f *fakeSession) Implementation(_ context.Context, _ string, pos lspDomain.Position) ([]lspDomain.Location, error) {
	f.record(pos)
	if f.impl == nil {
		return nil, nil
	}
	return f.impl()
}

func (f *fakeSession) References(_ context.Context, _ string, pos lspDomain.Position) ([]lspDomain.Location, error) {
	f.record(pos)
	if f.refs == nil {
		return nil, nil
	}
	return f.refs()
}

func (f *fakeSession) WorkspaceSymbol(_ context.Context, _ string, opts lspAdapter.WorkspaceSymbolOptions) ([]lspDomain.SymbolInformation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, opts)
	return f.infos, nil
}

// memCache is a map-backed cache.Cache.
type memCache[V any] struct {
	mu sync.Mutex
	m  map[string]V
}

func newMemCache[V any]() *memCache[V] {
	return &memCache[V]{m: make(map[string]V)}
}

func (c *memCache[V]) Get(_ context.Context, key string) (V, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *memCache[V]) Set(_ context.Context, key string, value V, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
	return nil
}

func (c *memCache[V]) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

func (c *memCache[V]) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.m[key]
	return ok
}

func testConfig() config.Config {
	return config.Defaults()
}

func info(name string, kind lspDomain.SymbolKind, container, path string, r lspDomain.Range) lspDomain.SymbolInformation {
	return lspDomain.SymbolInformation{
		Name:          name,
		Kind:          kind,
		ContainerName: container,
		Location:      lspDomain.Location{URI: lspDomain.PathToURI(path), Range: r},
	}
}
