// Package watcher keeps the language server's view of the workspace in step
// with edits made on disk.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	lspAdapter "github.com/Strob0t/sensebridge/internal/adapter/lsp"
)

// Session is the part of the language server session the watcher drives.
type Session interface {
	Handles(path string) bool
	Document(path string) (lspAdapter.Document, bool)
	Reload(ctx context.Context, path string) (lspAdapter.Document, error)
	Close(ctx context.Context, path string) error
	NotifyFilesChanged(events []lspAdapter.FileEvent) error
}

// Watcher forwards file system changes below a root to a Session. Open
// documents are reloaded or closed so their versions advance, every handled
// change is reported through workspace/didChangeWatchedFiles.
type Watcher struct {
	fs       *fsnotify.Watcher
	session  Session
	root     string
	ignore   []string
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]lspAdapter.FileChangeType

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher for root. ignore holds doublestar patterns relative
// to root.
func New(session Session, root string, ignore []string, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Watcher{
		fs:       fw,
		session:  session,
		root:     root,
		ignore:   ignore,
		debounce: debounce,
		pending:  make(map[string]lspAdapter.FileChangeType),
	}, nil
}

// Start adds watches for every directory below root and begins forwarding
// changes until Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
	slog.Info("watching workspace", "root", w.root, "debounce", w.debounce)
	return nil
}

// Stop ends watching and waits for the last batch to be forwarded.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.fs.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && w.ignoredDir(w.rel(p)) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(p); err != nil {
			slog.Warn("watcher: add watch failed", "dir", p, "error", err)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(context.WithoutCancel(ctx))
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				w.flush(context.WithoutCancel(ctx))
				return
			}
			if w.handle(ev) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				continue
			}
			slog.Warn("watcher error", "error", err)
		case <-timer.C:
			w.flush(ctx)
		}
	}
}

// handle records ev and reports whether a flush is due.
func (w *Watcher) handle(ev fsnotify.Event) bool {
	rel := w.rel(ev.Name)
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !w.ignoredDir(rel) {
				if err := w.addTree(ev.Name); err != nil {
					slog.Warn("watcher: add new directory failed", "dir", ev.Name, "error", err)
				}
			}
			return false
		}
	}
	if w.ignored(rel) || !w.session.Handles(ev.Name) {
		return false
	}

	var typ lspAdapter.FileChangeType
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		typ = lspAdapter.FileDeleted
	case ev.Has(fsnotify.Create):
		typ = lspAdapter.FileCreated
	case ev.Has(fsnotify.Write):
		typ = lspAdapter.FileChanged
	default:
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[ev.Name] = merge(w.pending[ev.Name], typ)
	return true
}

// merge folds a new change into the one already pending for a path.
func merge(prev, next lspAdapter.FileChangeType) lspAdapter.FileChangeType {
	switch {
	case prev == 0:
		return next
	case prev == lspAdapter.FileCreated && next == lspAdapter.FileChanged:
		return lspAdapter.FileCreated
	case prev == lspAdapter.FileDeleted && next == lspAdapter.FileCreated:
		return lspAdapter.FileChanged
	default:
		return next
	}
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]lspAdapter.FileChangeType)
	w.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	paths := make([]string, 0, len(batch))
	for p := range batch {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	events := make([]lspAdapter.FileEvent, 0, len(paths))
	for _, p := range paths {
		typ := batch[p]
		events = append(events, lspAdapter.FileEvent{Path: p, Type: typ})
		if _, open := w.session.Document(p); !open {
			continue
		}
		var err error
		if typ == lspAdapter.FileDeleted {
			err = w.session.Close(ctx, p)
		} else {
			_, err = w.session.Reload(ctx, p)
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("watcher: sync document failed", "path", p, "error", err)
		}
	}
	if err := w.session.NotifyFilesChanged(events); err != nil {
		slog.Warn("watcher: notify server failed", "error", err)
		return
	}
	slog.Debug("watcher: forwarded changes", "count", len(events))
}

func (w *Watcher) rel(p string) string {
	r, err := filepath.Rel(w.root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(r)
}

func (w *Watcher) ignored(rel string) bool {
	for _, pattern := range w.ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// ignoredDir reports whether everything below rel is ignored.
func (w *Watcher) ignoredDir(rel string) bool {
	return w.ignored(rel) || w.ignored(path.Join(rel, "_"))
}
