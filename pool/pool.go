// Package pool implements a bounded per-endpoint session pool: an MPMC
// idle queue, atomic live-count gated growth, fatal-error reaping and
// async acquire with bounded retry. Grounded on the teacher's own
// replica.Pool (connection bookkeeping, health-driven state) adapted
// from address-health tracking to session lifecycle management.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/usub-dev/usubpg/config"
	"github.com/usub-dev/usubpg/metrics"
	"github.com/usub-dev/usubpg/reactor"
	"github.com/usub-dev/usubpg/session"
	"github.com/usub-dev/usubpg/wire"
)

// ErrPoolExhausted is returned by Acquire once retriesOnConnectionFailed
// consecutive dial attempts have failed while the pool had room to grow,
// mirroring the spec's capped-retry ConnectionClosed exhaustion case.
var ErrPoolExhausted = errors.New("pool: exhausted")

// retriesOnConnectionFailed bounds how many consecutive failed dial
// attempts Acquire tolerates before giving up with ErrPoolExhausted,
// rather than retrying the unreachable endpoint forever.
const retriesOnConnectionFailed = 5

// Pool bounds how many live sessions one endpoint may have open at
// once, recycling idle ones through a buffered channel acting as the
// MPMC idle queue.
type Pool struct {
	endpoint config.Endpoint
	waiter   reactor.Waiter

	maxConns  int32
	liveCount atomic.Int32
	idle      chan *session.Session

	retryBackoff time.Duration
	label        string // used as the metrics endpoint label
}

// New creates a pool for endpoint, capped at maxConns live sessions.
func New(endpoint config.Endpoint, maxConns int, waiter reactor.Waiter) *Pool {
	if maxConns <= 0 {
		maxConns = 1
	}
	return &Pool{
		endpoint:     endpoint,
		waiter:       waiter,
		maxConns:     int32(maxConns),
		idle:         make(chan *session.Session, maxConns),
		retryBackoff: 100 * time.Microsecond,
		label:        endpoint.String(),
	}
}

// LiveCount reports the number of sessions currently open (idle + borrowed).
func (p *Pool) LiveCount() int {
	return int(p.liveCount.Load())
}

// Acquire returns an idle session immediately if one is queued, else
// grows the pool (dialing a fresh session) if under maxConns, else
// blocks with a bounded sleep-retry loop until one frees up, ctx is
// done, or the pool stays exhausted.
func (p *Pool) Acquire(ctx context.Context) (*session.Session, error) {
	failedConnects := 0
	for {
		select {
		case s := <-p.idle:
			if s.IsIdle() {
				p.reportGauges()
				return s, nil
			}
			// dead/busy session slipped into the idle queue: drop it and retry.
			p.liveCount.Add(-1)
			continue
		default:
		}

		if p.liveCount.Load() < p.maxConns {
			grown, attempted := p.tryGrow()
			if grown != nil {
				p.reportGauges()
				return grown, nil
			}
			if attempted {
				failedConnects++
				if failedConnects >= retriesOnConnectionFailed {
					return nil, fmt.Errorf("%w: %d consecutive connect attempts to %s failed", ErrPoolExhausted, failedConnects, p.label)
				}
			}
		}

		select {
		case s := <-p.idle:
			if !s.IsIdle() {
				p.liveCount.Add(-1)
				continue
			}
			p.reportGauges()
			return s, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.retryBackoff):
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
	}
}

// tryGrow attempts to CAS the live count up by one and dial a fresh
// session. The returned bool reports whether a dial was actually
// attempted: false means the pool was already at capacity or lost the
// CAS race, which isn't a connection failure and shouldn't count
// against retriesOnConnectionFailed.
func (p *Pool) tryGrow() (*session.Session, bool) {
	for {
		cur := p.liveCount.Load()
		if cur >= p.maxConns {
			return nil, false
		}
		if p.liveCount.CompareAndSwap(cur, cur+1) {
			break
		}
	}

	s := session.New(p.waiter)
	ctx, cancel := context.WithTimeout(context.Background(), p.endpoint.ConnectTimeout+5*time.Second)
	defer cancel()
	if err := s.Connect(ctx, p.endpoint); err != nil {
		p.liveCount.Add(-1)
		log.Printf("pool: connect to %s failed: %v", p.label, err)
		return nil, true
	}
	return s, true
}

// Release returns a session to the idle queue, or discards it (and
// frees its slot) if it is no longer idle-safe.
func (p *Pool) Release(s *session.Session) {
	if s == nil {
		return
	}
	if !s.IsIdle() {
		p.discard(s)
		return
	}
	select {
	case p.idle <- s:
	default:
		// idle queue is full (shouldn't happen, maxConns-sized); discard.
		p.discard(s)
	}
	p.reportGauges()
}

// ReleaseAsync is the safe-path counterpart to Release: it first pumps
// and discards any orphan server messages left over from whatever the
// caller abandoned mid-flight, so a session only ever gets recycled once
// it is actually idle, then hands off to Release (or discard, if the
// drain never reached idle) in its own goroutine.
func (p *Pool) ReleaseAsync(s *session.Session) {
	go func() {
		if s == nil {
			return
		}
		if !s.IsIdle() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.DrainPending(ctx)
			cancel()
		}
		p.Release(s)
	}()
}

// MarkDead closes s and frees its pool slot permanently, incrementing
// the reaped-connection counter. Use this instead of Release whenever
// the caller observed a fatal I/O error on s.
func (p *Pool) MarkDead(s *session.Session) {
	p.discard(s)
	metrics.PoolReaped.WithLabelValues(p.label).Inc()
}

func (p *Pool) discard(s *session.Session) {
	s.Close()
	p.liveCount.Add(-1)
	p.reportGauges()
}

func (p *Pool) reportGauges() {
	metrics.PoolLiveConns.WithLabelValues(p.label).Set(float64(p.liveCount.Load()))
	metrics.PoolIdleConns.WithLabelValues(p.label).Set(float64(len(p.idle)))
}

// QueryAwaitable acquires a session, runs fn against it, and releases or
// reaps it afterward based on whether fn's error looks fatal — matching
// the spec's "borrow for the duration of one query" convenience.
func (p *Pool) QueryAwaitable(ctx context.Context, fn func(*session.Session) (*wire.QueryResult, error)) (*wire.QueryResult, error) {
	s, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	result, err := fn(s)
	if err != nil || (result != nil && wire.IsFatalError(result.Code, result.ErrDetail.SQLState, result.Error)) {
		p.MarkDead(s)
		return result, err
	}
	p.Release(s)
	return result, nil
}
