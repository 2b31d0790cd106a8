package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	lspAdapter "github.com/Strob0t/sensebridge/internal/adapter/lsp"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSession struct {
	mu       sync.Mutex
	open     map[string]bool
	reloaded []string
	closed   []string
	notified []lspAdapter.FileEvent
}

func (s *fakeSession) Handles(path string) bool { return strings.HasSuffix(path, ".rs") }

func (s *fakeSession) Document(path string) (lspAdapter.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lspAdapter.Document{}, s.open[path]
}

func (s *fakeSession) Reload(_ context.Context, path string) (lspAdapter.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloaded = append(s.reloaded, path)
	return lspAdapter.Document{}, nil
}

func (s *fakeSession) Close(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, path)
	delete(s.open, path)
	return nil
}

func (s *fakeSession) NotifyFilesChanged(events []lspAdapter.FileEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notified = append(s.notified, events...)
	return nil
}

func (s *fakeSession) eventFor(path string) (lspAdapter.FileEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.notified) - 1; i >= 0; i-- {
		if s.notified[i].Path == path {
			return s.notified[i], true
		}
	}
	return lspAdapter.FileEvent{}, false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func startWatcher(t *testing.T, root string, session *fakeSession) *Watcher {
	t.Helper()
	w, err := New(session, root, []string{"**/target/**"}, 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestWatcher_ReloadsOpenDocuments(t *testing.T) {
	root := t.TempDir()
	lib := filepath.Join(root, "lib.rs")
	if err := os.WriteFile(lib, []byte("fn a() {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	session := &fakeSession{open: map[string]bool{lib: true}}
	startWatcher(t, root, session)

	if err := os.WriteFile(lib, []byte("fn b() {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "change notification", func() bool {
		ev, ok := session.eventFor(lib)
		return ok && ev.Type == lspAdapter.FileChanged
	})

	session.mu.Lock()
	defer session.mu.Unlock()
	if len(session.reloaded) == 0 || session.reloaded[0] != lib {
		t.Errorf("expected %s to be reloaded, got %v", lib, session.reloaded)
	}
}

func TestWatcher_ClosesRemovedDocuments(t *testing.T) {
	root := t.TempDir()
	lib := filepath.Join(root, "lib.rs")
	if err := os.WriteFile(lib, []byte("fn a() {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	session := &fakeSession{open: map[string]bool{lib: true}}
	startWatcher(t, root, session)

	if err := os.Remove(lib); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "delete notification", func() bool {
		ev, ok := session.eventFor(lib)
		return ok && ev.Type == lspAdapter.FileDeleted
	})

	session.mu.Lock()
	defer session.mu.Unlock()
	if len(session.closed) != 1 || session.closed[0] != lib {
		t.Errorf("expected %s to be closed, got %v", lib, session.closed)
	}
}

func TestWatcher_NewDirectoriesAndFilters(t *testing.T) {
	root := t.TempDir()
	session := &fakeSession{open: map[string]bool{}}
	startWatcher(t, root, session)

	sub := filepath.Join(root, "src", "jobs")
	if err := os.MkdirAll(sub, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "target"), 0o750); err != nil {
		t.Fatal(err)
	}
	// Let the watcher pick up the new directories.
	time.Sleep(100 * time.Millisecond)

	for _, name := range []string{"target/gen.rs", "src/jobs/notes.txt", "src/jobs/queue.rs"} {
		if err := os.WriteFile(filepath.Join(root, filepath.FromSlash(name)), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	queue := filepath.Join(sub, "queue.rs")
	waitFor(t, "create notification", func() bool {
		_, ok := session.eventFor(queue)
		return ok
	})
	if _, ok := session.eventFor(filepath.Join(root, "target", "gen.rs")); ok {
		t.Error("ignored directory was reported")
	}
	if _, ok := session.eventFor(filepath.Join(sub, "notes.txt")); ok {
		t.Error("unhandled file type was reported")
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	if len(session.reloaded) != 0 {
		t.Errorf("documents that are not open must not be reloaded: %v", session.reloaded)
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		prev, next, want lspAdapter.FileChangeType
	}{
		{0, lspAdapter.FileChanged, lspAdapter.FileChanged},
		{lspAdapter.FileCreated, lspAdapter.FileChanged, lspAdapter.FileCreated},
		{lspAdapter.FileDeleted, lspAdapter.FileCreated, lspAdapter.FileChanged},
		{lspAdapter.FileChanged, lspAdapter.FileDeleted, lspAdapter.FileDeleted},
	}
	for _, tt := range tests {
		if got := merge(tt.prev, tt.next); got != tt.want {
			t.Errorf("merge(%d, %d) = %d, want %d", tt.prev, tt.next, got, tt.want)
		}
	}
}

func TestIgnoredDir(t *testing.T) {
	w := &Watcher{ignore: []string{"**/target/**", "**/.git/**"}}
	tests := []struct {
		rel  string
		want bool
	}{
		{"target", true},
		{"crates/core/target", true},
		{".git", true},
		{"src", false},
		{"src/targets", false},
	}
	for _, tt := range tests {
		if got := w.ignoredDir(tt.rel); got != tt.want {
			t.Errorf("ignoredDir(%q) = %v, want %v", tt.rel, got, tt.want)
		}
	}
}
