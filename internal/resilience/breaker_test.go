package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var errTest = errors.New("server busy")

func TestClosedStateAllowsCalls(t *testing.T) {
	b := NewBreaker("textDocument/hover", 3, time.Second)
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
}

func TestOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker("textDocument/hover", 3, time.Second)

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errTest })
	}

	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestTransitionsToHalfOpenAfterTimeout(t *testing.T) {
	now := time.Now()
	b := NewBreaker("textDocument/references", 2, time.Second)
	b.now = func() time.Time { return now }

	// Trip the breaker
	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errTest })
	}

	// Still open
	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	// Advance past timeout
	now = now.Add(2 * time.Second)

	// Should be half-open and allow one call
	called := false
	err = b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error in half-open, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called in half-open")
	}

	// Success should close the circuit
	b.mu.Lock()
	if b.state != stateClosed {
		t.Fatalf("expected state closed after half-open success, got %d", b.state)
	}
	b.mu.Unlock()
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker("textDocument/references", 2, time.Second)
	b.now = func() time.Time { return now }

	// Trip the breaker
	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errTest })
	}

	// Advance past timeout to reach half-open
	now = now.Add(2 * time.Second)

	// Fail in half-open → should reopen
	_ = b.Execute(func() error { return errTest })

	b.mu.Lock()
	if b.state != stateOpen {
		t.Fatalf("expected state open after half-open failure, got %d", b.state)
	}
	b.mu.Unlock()

	// Calls should be rejected
	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after reopen, got %v", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("textDocument/hover", 3, time.Second)

	// Two failures
	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return errTest })

	// One success resets
	_ = b.Execute(func() error { return nil })

	// Two more failures should not trip (only 2, need 3)
	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return errTest })

	// Still closed
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
}

func TestCancellationDoesNotTrip(t *testing.T) {
	b := NewBreaker("textDocument/implementation", 1, time.Second)

	_ = b.Execute(func() error { return fmt.Errorf("implementation: %w", context.Canceled) })

	if got := b.State(); got != "closed" {
		t.Fatalf("state = %s, want closed", got)
	}
}

func TestOpenErrorNamesBreaker(t *testing.T) {
	b := NewBreaker("textDocument/hover", 1, time.Minute)
	_ = b.Execute(func() error { return errTest })

	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if err.Error() != "textDocument/hover: circuit breaker is open" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestBreakersArePerName(t *testing.T) {
	set := NewBreakers(1, time.Minute, nil)

	_ = set.Get("textDocument/hover").Execute(func() error { return errTest })

	if err := set.Get("textDocument/definition").Execute(func() error { return nil }); err != nil {
		t.Fatalf("definition breaker affected by hover failure: %v", err)
	}
	if set.Get("textDocument/hover") != set.Get("textDocument/hover") {
		t.Error("Get returned a different breaker for the same name")
	}

	states := set.States()
	if states["textDocument/hover"] != "open" || states["textDocument/definition"] != "closed" {
		t.Errorf("states = %v", states)
	}
}

func TestBreakersCustomFailurePredicate(t *testing.T) {
	errUnsupported := errors.New("unsupported")
	set := NewBreakers(1, time.Minute, func(err error) bool { return !errors.Is(err, errUnsupported) })

	b := set.Get("textDocument/declaration")
	_ = b.Execute(func() error { return errUnsupported })
	if b.State() != "closed" {
		t.Errorf("state = %s, want closed", b.State())
	}
}
