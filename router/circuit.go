package router

import (
	"sync"
	"time"
)

// CircuitState is the breaker's three-state shape, grounded on
// davidleathers' dependable-call-exchange-backend CircuitBreaker
// (CircuitClosed/CircuitOpen/CircuitHalfOpen) generalised from a fixed
// timeout/threshold pair to the spec's quiet/backoff/max timers.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitHalfOpen
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitHalfOpen:
		return "half_open"
	case CircuitOpen:
		return "open"
	default:
		return "closed"
	}
}

// CircuitBreaker transitions:
//
//	Closed   --(first failure)-->         Open (until=now+quiet)
//	Open     --(now>=until)-->             HalfOpen
//	HalfOpen --(success)-->                Closed
//	HalfOpen --(failure)-->                Open (until=now+backoff)
//	Open     --(further failure while open)--> Open (until=now+max, if later than the current until)
type CircuitBreaker struct {
	mu    sync.Mutex
	state CircuitState
	until time.Time

	quiet   time.Duration
	backoff time.Duration
	max     time.Duration
}

// NewCircuitBreaker builds a closed breaker with the given timers.
func NewCircuitBreaker(quiet, backoff, max time.Duration) *CircuitBreaker {
	return &CircuitBreaker{state: CircuitClosed, quiet: quiet, backoff: backoff, max: max}
}

// Allow reports whether a new attempt may proceed, flipping Open ->
// HalfOpen first if the quiet/backoff window has elapsed.
func (b *CircuitBreaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if !now.Before(b.until) {
			b.state = CircuitHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CircuitClosed
	b.until = time.Time{}
}

// RecordFailure opens (or re-opens) the breaker.
func (b *CircuitBreaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CircuitClosed:
		b.state = CircuitOpen
		b.until = now.Add(b.quiet)
	case CircuitHalfOpen:
		b.state = CircuitOpen
		b.until = now.Add(b.backoff)
	case CircuitOpen:
		extended := now.Add(b.max)
		if extended.After(b.until) {
			b.until = extended
		}
	}
}

// State returns the current state for reporting/metrics.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
