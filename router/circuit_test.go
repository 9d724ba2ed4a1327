package router

import (
	"testing"
	"time"
)

func TestCircuitBreakerTransitions(t *testing.T) {
	cb := NewCircuitBreaker(10*time.Millisecond, 20*time.Millisecond, 100*time.Millisecond)
	now := time.Now()

	if cb.State() != CircuitClosed {
		t.Fatalf("expected initial state closed, got %s", cb.State())
	}
	if !cb.Allow(now) {
		t.Fatal("closed breaker must allow")
	}

	cb.RecordFailure(now)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open after first failure, got %s", cb.State())
	}
	if cb.Allow(now) {
		t.Fatal("open breaker must not allow before quiet elapses")
	}

	afterQuiet := now.Add(15 * time.Millisecond)
	if !cb.Allow(afterQuiet) {
		t.Fatal("open breaker must allow (transition to half-open) after quiet elapses")
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half_open after quiet window, got %s", cb.State())
	}

	cb.RecordFailure(afterQuiet)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open after half-open failure, got %s", cb.State())
	}

	later := afterQuiet.Add(25 * time.Millisecond)
	if !cb.Allow(later) {
		t.Fatal("expected breaker to allow again after backoff elapses")
	}
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed after success in half-open, got %s", cb.State())
	}
}

func TestCircuitBreakerOpenExtendsUntilOnRepeatedFailure(t *testing.T) {
	cb := NewCircuitBreaker(10*time.Millisecond, 20*time.Millisecond, 50*time.Millisecond)
	now := time.Now()
	cb.RecordFailure(now) // closed -> open, until = now+quiet(10ms)

	// A further failure while still open should extend `until` using max,
	// not shrink it.
	cb.RecordFailure(now.Add(1 * time.Millisecond))
	if cb.Allow(now.Add(30 * time.Millisecond)) {
		t.Fatal("expected the open window to have been extended by the max timer")
	}
}
