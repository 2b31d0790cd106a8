package lsp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lspDomain "github.com/Strob0t/sensebridge/internal/domain/lsp"
)

// Document is a snapshot of a document the session has opened on the server.
type Document struct {
	Path       string // absolute
	URI        string
	LanguageID string
	Version    int32
	Text       string
}

// DocumentEvent reports a version change. Previous is 0 for a fresh open;
// Closed is set when the document left the server.
type DocumentEvent struct {
	Path     string
	Version  int32
	Previous int32
	Closed   bool
}

// DocumentListener receives document events synchronously, in order, while
// the document store is locked. Listeners must not call back into the store.
type DocumentListener func(DocumentEvent)

type documentStore struct {
	client    *Client
	mu        sync.Mutex
	docs      map[string]*Document
	closed    map[string]int32 // last version of documents no longer open
	listeners []DocumentListener
}

func newDocumentStore(c *Client) *documentStore {
	return &documentStore{client: c, docs: make(map[string]*Document), closed: make(map[string]int32)}
}

// OnDocumentEvent registers a listener for document version events.
func (c *Client) OnDocumentEvent(l DocumentListener) {
	c.docs.mu.Lock()
	defer c.docs.mu.Unlock()
	c.docs.listeners = append(c.docs.listeners, l)
}

// ResolvePath makes path absolute against the workspace root.
func (c *Client) ResolvePath(path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.workspace, path)
	}
	return filepath.Clean(path)
}

// Handles reports whether path has one of the language's file extensions.
// Languages without configured extensions accept every file.
func (c *Client) Handles(path string) bool {
	if len(c.config.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range c.config.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Open opens path on the server, reading its text from disk. A first open
// starts at version 1; reopening a closed document continues after its last
// version. Opening an already open document returns the current snapshot.
func (c *Client) Open(ctx context.Context, path string) (Document, error) {
	path = c.ResolvePath(path)

	c.docs.mu.Lock()
	defer c.docs.mu.Unlock()

	if d, ok := c.docs.docs[path]; ok {
		return *d, nil
	}
	text, err := readText(path)
	if err != nil {
		return Document{}, err
	}
	return c.docs.open(ctx, path, text)
}

// Reload re-reads path from disk and pushes the new text when it changed.
// A document that is not open yet is opened.
func (c *Client) Reload(ctx context.Context, path string) (Document, error) {
	path = c.ResolvePath(path)
	text, err := readText(path)
	if err != nil {
		return Document{}, err
	}
	return c.Change(ctx, path, text)
}

// Change replaces the full text of path and bumps its version. Unchanged
// text leaves the version alone.
func (c *Client) Change(ctx context.Context, path, text string) (Document, error) {
	path = c.ResolvePath(path)

	c.docs.mu.Lock()
	defer c.docs.mu.Unlock()

	d, ok := c.docs.docs[path]
	if !ok {
		return c.docs.open(ctx, path, text)
	}
	if d.Text == text {
		return *d, nil
	}

	next := d.Version + 1
	err := c.Notify("textDocument/didChange", map[string]any{
		"textDocument":   map[string]any{"uri": d.URI, "version": next},
		"contentChanges": []map[string]string{{"text": text}},
	})
	if err != nil {
		return *d, fmt.Errorf("change %s: %w", path, err)
	}

	prev := d.Version
	d.Version = next
	d.Text = text
	c.docs.emit(DocumentEvent{Path: path, Version: next, Previous: prev})
	return *d, nil
}

// Close removes path from the server. Closing an unknown document is a no-op.
func (c *Client) Close(_ context.Context, path string) error {
	path = c.ResolvePath(path)

	c.docs.mu.Lock()
	defer c.docs.mu.Unlock()

	d, ok := c.docs.docs[path]
	if !ok {
		return nil
	}
	delete(c.docs.docs, path)
	c.docs.closed[path] = d.Version
	c.docs.emit(DocumentEvent{Path: path, Version: d.Version, Previous: d.Version, Closed: true})

	if err := c.Notify("textDocument/didClose", map[string]any{
		"textDocument": map[string]string{"uri": d.URI},
	}); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// Document returns a snapshot of an open document.
func (c *Client) Document(path string) (Document, bool) {
	path = c.ResolvePath(path)

	c.docs.mu.Lock()
	defer c.docs.mu.Unlock()

	d, ok := c.docs.docs[path]
	if !ok {
		return Document{}, false
	}
	return *d, true
}

// Version returns the current version of an open document, or 0.
func (c *Client) Version(path string) int32 {
	d, ok := c.Document(path)
	if !ok {
		return 0
	}
	return d.Version
}

// Versions returns the current version of every open document.
func (c *Client) Versions() map[string]int32 {
	c.docs.mu.Lock()
	defer c.docs.mu.Unlock()

	out := make(map[string]int32, len(c.docs.docs))
	for p, d := range c.docs.docs {
		out[p] = d.Version
	}
	return out
}

// open must be called with mu held.
func (s *documentStore) open(_ context.Context, path, text string) (Document, error) {
	d := &Document{
		Path:       path,
		URI:        lspDomain.PathToURI(path),
		LanguageID: s.client.config.LanguageID,
		Version:    s.closed[path] + 1,
		Text:       text,
	}
	err := s.client.Notify("textDocument/didOpen", map[string]any{
		"textDocument": map[string]any{
			"uri":        d.URI,
			"languageId": d.LanguageID,
			"version":    d.Version,
			"text":       d.Text,
		},
	})
	if err != nil {
		return Document{}, fmt.Errorf("open %s: %w", path, err)
	}
	s.docs[path] = d
	delete(s.closed, path)
	s.emit(DocumentEvent{Path: path, Version: d.Version})
	return *d, nil
}

// emit must be called with mu held.
func (s *documentStore) emit(ev DocumentEvent) {
	for _, l := range s.listeners {
		l(ev)
	}
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
