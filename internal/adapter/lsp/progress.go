package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ProgressGuard tracks $/progress work-done reports and decides when the
// server has finished building its initial model. Once ready it stays ready.
type ProgressGuard struct {
	mu       sync.Mutex
	expected map[string]bool
	seen     map[string]bool
	running  map[string]string // token -> title
	ready    bool
	changed  chan struct{}
}

func newProgressGuard(expected []string) *ProgressGuard {
	g := &ProgressGuard{
		expected: make(map[string]bool, len(expected)),
		seen:     make(map[string]bool),
		running:  make(map[string]string),
		changed:  make(chan struct{}),
	}
	for _, t := range expected {
		g.expected[t] = true
	}
	return g
}

// Ready reports whether every expected init token was seen and no progress
// is running, or readiness was latched earlier.
func (g *ProgressGuard) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.evaluate()
}

// Running returns the tokens of work still in progress, sorted.
func (g *ProgressGuard) Running() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.running))
	for t := range g.running {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// WaitReady blocks until the server is ready, ctx ends or timeout elapses.
// On timeout the guard latches ready, so later callers do not wait again,
// and an error wrapping ErrTimeout lists what was still pending.
func (g *ProgressGuard) WaitReady(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		g.mu.Lock()
		if g.evaluate() {
			g.mu.Unlock()
			return nil
		}
		changed := g.changed
		g.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			g.mu.Lock()
			pending := g.pendingLocked()
			g.latch()
			g.mu.Unlock()
			return fmt.Errorf("%w: waiting for server readiness (pending: %s)", ErrTimeout, strings.Join(pending, ", "))
		}
	}
}

// handle consumes one $/progress notification.
func (g *ProgressGuard) handle(raw json.RawMessage) {
	var p struct {
		Token json.RawMessage `json:"token"`
		Value struct {
			Kind  string `json:"kind"`
			Title string `json:"title"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	token := progressToken(p.Token)

	g.mu.Lock()
	defer g.mu.Unlock()

	switch p.Value.Kind {
	case "begin":
		g.seen[token] = true
		g.running[token] = p.Value.Title
	case "end":
		g.seen[token] = true
		delete(g.running, token)
	default:
		return
	}
	g.evaluate()
	close(g.changed)
	g.changed = make(chan struct{})
}

// evaluate must be called with mu held.
func (g *ProgressGuard) evaluate() bool {
	if g.ready {
		return true
	}
	if len(g.running) > 0 {
		return false
	}
	for t := range g.expected {
		if !g.seen[t] {
			return false
		}
	}
	g.latch()
	return true
}

func (g *ProgressGuard) latch() {
	g.ready = true
}

func (g *ProgressGuard) pendingLocked() []string {
	var out []string
	for t := range g.expected {
		if !g.seen[t] {
			out = append(out, t)
		}
	}
	for t := range g.running {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// progressToken normalizes a string or integer token.
func progressToken(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
