package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/usub-dev/usubpg/config"
)

func TestAcquireFailsWhenEndpointUnreachable(t *testing.T) {
	ep := config.Endpoint{
		Host:           "10.255.255.1", // reserved black-hole address
		Port:           5432,
		ConnectTimeout: 20 * time.Millisecond,
	}
	p := New(ep, 1, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, err := p.Acquire(ctx)
	if err == nil {
		t.Skip("unexpectedly connected; network environment allows routing to 10.255.255.1")
	}
}

func TestAcquireReturnsErrPoolExhaustedAfterRetryCap(t *testing.T) {
	ep := config.Endpoint{
		Host:           "10.255.255.1", // reserved black-hole address
		Port:           5432,
		ConnectTimeout: 5 * time.Millisecond,
	}
	p := New(ep, 1, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := p.Acquire(ctx)
	if err == nil {
		t.Skip("unexpectedly connected; network environment allows routing to 10.255.255.1")
	}
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted once retries are exhausted, got %v", err)
	}
}

func TestLiveCountStartsAtZero(t *testing.T) {
	p := New(config.Endpoint{Host: "127.0.0.1", Port: 5432}, 4, nil)
	if p.LiveCount() != 0 {
		t.Fatalf("expected live count 0, got %d", p.LiveCount())
	}
}

func TestReleaseNilIsNoop(t *testing.T) {
	p := New(config.Endpoint{Host: "127.0.0.1", Port: 5432}, 4, nil)
	p.Release(nil) // must not panic
}
