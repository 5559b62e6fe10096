// Package resilience implements a hand-rolled sliding-window circuit
// breaker and a single-retry helper, generalizing the teacher's
// internal/resilience/circuit_breaker.go. The inference client wraps every
// remote call through a per-model-key breaker so a flapping inference
// service doesn't cascade into every waiting pipeline run.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/Joshi004/moments-pipeline/internal/metrics"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Execute while the breaker is tripped.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

type eventKind int

const (
	eventAttempt eventKind = iota
	eventSuccess
	eventFailure
)

type event struct {
	ts   time.Time
	kind eventKind
}

// clock abstracts time.Now for deterministic tests.
type clock interface{ Now() time.Time }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// CircuitBreaker is a sliding-window state machine over a named resource
// (typically one remote model endpoint).
type CircuitBreaker struct {
	mu sync.Mutex

	name string

	state    State
	openedAt time.Time

	events []event
	window time.Duration

	threshold        int
	minAttempts      int
	successThreshold int
	successes        int
	resetTimeout     time.Duration

	clock clock
}

// Option configures a CircuitBreaker at construction time.
type Option func(*CircuitBreaker)

// WithClock overrides the breaker's time source (tests only).
func WithClock(c clock) Option { return func(cb *CircuitBreaker) { cb.clock = c } }

// WithHalfOpenSuccessThreshold overrides the successes required to close
// from half-open (default 1, matching the spec's single transport retry —
// there's no sustained probation period for this use case).
func WithHalfOpenSuccessThreshold(n int) Option {
	return func(cb *CircuitBreaker) { cb.successThreshold = n }
}

// NewCircuitBreaker builds a sliding-window breaker: it trips to open once
// at least minAttempts attempts occurred within window and threshold of
// them failed, and stays open for resetTimeout before probing half-open.
func NewCircuitBreaker(name string, threshold, minAttempts int, window, resetTimeout time.Duration, opts ...Option) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if minAttempts <= 0 {
		minAttempts = 5
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	cb := &CircuitBreaker{
		name:             name,
		state:            StateClosed,
		threshold:        threshold,
		minAttempts:      minAttempts,
		window:           window,
		resetTimeout:     resetTimeout,
		successThreshold: 1,
		clock:            realClock{},
	}
	for _, opt := range opts {
		opt(cb)
	}
	metrics.CircuitBreakerStateChange.WithLabelValues(cb.name, cb.state.String()).Inc()
	return cb
}

// Execute runs fn iff the breaker allows it, recording the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}
	cb.recordAttempt()
	if err := fn(); err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

// State returns the breaker's current state, e.g. for status reporting.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.prune()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) >= cb.resetTimeout {
			cb.transitionInto(StateHalfOpen)
			return true
		}
		return false
	default: // half-open: allow a single probe at a time is the caller's job
		return true
	}
}

func (cb *CircuitBreaker) recordAttempt() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.events = append(cb.events, event{ts: cb.clock.Now(), kind: eventAttempt})
	cb.prune()
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.events = append(cb.events, event{ts: cb.clock.Now(), kind: eventSuccess})
	cb.prune()
	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.transitionInto(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.events = append(cb.events, event{ts: cb.clock.Now(), kind: eventFailure})
	cb.prune()

	if cb.state == StateHalfOpen {
		cb.transitionInto(StateOpen)
		return
	}
	cb.evaluate()
}

func (cb *CircuitBreaker) prune() {
	cutoff := cb.clock.Now().Add(-cb.window)
	kept := cb.events[:0]
	for _, e := range cb.events {
		if !e.ts.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	cb.events = kept
}

func (cb *CircuitBreaker) evaluate() {
	if cb.state != StateClosed {
		return
	}
	var attempts, failures int
	for _, e := range cb.events {
		switch e.kind {
		case eventAttempt:
			attempts++
		case eventFailure:
			failures++
		}
	}
	if attempts >= cb.minAttempts && failures >= cb.threshold {
		cb.transitionInto(StateOpen)
	}
}

func (cb *CircuitBreaker) transitionInto(s State) {
	if cb.state == s {
		return
	}
	cb.state = s
	switch s {
	case StateOpen:
		cb.openedAt = cb.clock.Now()
	case StateHalfOpen:
		cb.successes = 0
	case StateClosed:
		cb.events = nil
	}
	metrics.CircuitBreakerStateChange.WithLabelValues(cb.name, s.String()).Inc()
}
