// Package breaker implements the circuit-breaker pattern used to guard
// every external service client: it opens after a run of consecutive
// failures, stays open for a cooldown, then admits a single probe before
// deciding whether to close again.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/example/bgp-orchestrator/internal/metrics"
)

// State is one of the three circuit-breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// ErrOpen is returned by Call when the circuit is open, or half-open with
// its probe still in flight, and the call is rejected without contacting
// the dependency.
var ErrOpen = errors.New("circuit breaker is open")

// Config controls the breaker's thresholds. Zero values fall back to the
// spec's documented defaults (5 failures, 60s cooldown).
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	return c
}

// Breaker guards a single dependency. State transitions are synchronized by
// a single mutex; the failure counter and last-failure clock are read and
// written only while holding it.
type Breaker struct {
	name string
	cfg  Config

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
}

// New creates a Breaker in the CLOSED state.
func New(name string, cfg Config) *Breaker {
	return &Breaker{name: name, cfg: cfg.withDefaults(), state: Closed}
}

// Name returns the breaker's identity, used in logs and metrics labels.
func (b *Breaker) Name() string { return b.name }

// State returns the current state for observability/health endpoints.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Call executes fn under circuit-breaker protection. If the circuit is
// open and the cooldown has not elapsed, or half-open with the probe call
// still running, it fails fast with ErrOpen without invoking fn.
func (b *Breaker) Call(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn()
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// allow checks whether a call may proceed, performing the OPEN→HALF_OPEN
// transition when the cooldown has elapsed and admitting only that one
// probe until it succeeds or fails.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		// The single probe is already in flight; reject until it settles.
		return false
	}
	if !b.lastFailureTime.IsZero() && time.Since(b.lastFailureTime) >= b.cfg.RecoveryTimeout {
		b.transition(HalfOpen)
		return true
	}
	return false
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		// A single half-open success closes the circuit.
		b.transition(Closed)
		b.failureCount = 0
	case Closed:
		b.failureCount = 0
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case HalfOpen:
		// A half-open failure immediately reopens the circuit.
		b.transition(Open)
	case Closed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transition(Open)
		}
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(next State) {
	b.state = next
	metrics.CircuitBreakerStateChanges.WithLabelValues(b.name, string(next)).Inc()
}

// Reset forces the breaker back to CLOSED, clearing counters. Intended for
// operational tooling, not the hot path.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
}
