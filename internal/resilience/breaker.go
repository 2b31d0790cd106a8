// Package resilience provides reliability patterns for language server calls.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker implements a circuit breaker for one kind of language server
// request. It tracks consecutive failures and opens the circuit when a
// threshold is reached, rejecting calls until a timeout elapses.
type Breaker struct {
	name        string
	mu          sync.Mutex
	state       state
	failures    int
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	now         func() time.Time // for testing
	isFailure   func(error) bool
}

// NewBreaker creates a circuit breaker that opens after maxFailures consecutive
// failures and stays open for the given timeout before transitioning to half-open.
func NewBreaker(name string, maxFailures int, timeout time.Duration) *Breaker {
	return &Breaker{
		name:        name,
		maxFailures: maxFailures,
		timeout:     timeout,
		now:         time.Now,
		isFailure:   countsAsFailure,
	}
}

// countsAsFailure ignores the caller's own cancellation.
func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Execute runs fn if the circuit is closed or half-open.
// Returns an error wrapping ErrCircuitOpen if the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allowRequest() {
		return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		if b.isFailure(err) {
			b.onFailure()
		}
		return err
	}

	b.onSuccess()
	return nil
}

// State reports "closed", "open" or "half-open".
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.now().Sub(b.openedAt) >= b.timeout {
			b.state = stateHalfOpen
			return true
		}
		return false
	case stateHalfOpen:
		return true
	}
	return false
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.maxFailures {
		b.state = stateOpen
		b.openedAt = b.now()
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.failures = 0
	b.state = stateClosed
}

// Breakers lazily creates one Breaker per name with shared settings.
type Breakers struct {
	mu          sync.Mutex
	byName      map[string]*Breaker
	maxFailures int
	timeout     time.Duration
	isFailure   func(error) bool
}

// NewBreakers creates a breaker set. isFailure decides which errors trip a
// breaker; nil counts every error except context cancellation.
func NewBreakers(maxFailures int, timeout time.Duration, isFailure func(error) bool) *Breakers {
	if isFailure == nil {
		isFailure = countsAsFailure
	}
	return &Breakers{
		byName:      make(map[string]*Breaker),
		maxFailures: maxFailures,
		timeout:     timeout,
		isFailure:   isFailure,
	}
}

// Get returns the breaker for name, creating it on first use.
func (s *Breakers) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byName[name]
	if !ok {
		b = NewBreaker(name, s.maxFailures, s.timeout)
		b.isFailure = s.isFailure
		s.byName[name] = b
	}
	return b
}

// States reports the state of every breaker created so far.
func (s *Breakers) States() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.byName))
	for name, b := range s.byName {
		out[name] = b.State()
	}
	return out
}
