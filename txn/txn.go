// Package txn layers isolation-level transactions and named savepoints
// over a pooled session. Grounded on the teacher's own in-transaction
// tracking in postgres.go (state.inTransaction) generalised to explicit
// BEGIN/COMMIT/ROLLBACK issuance against a connection borrowed from
// pool.Pool, plus davidleathers' counter-style naming for
// unique-but-non-global identifiers (applied here to savepoint names
// rather than connection IDs).
package txn

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/usub-dev/usubpg/metrics"
	"github.com/usub-dev/usubpg/pool"
	"github.com/usub-dev/usubpg/session"
	"github.com/usub-dev/usubpg/wire"
)

// Isolation is the transaction isolation level.
type Isolation int

const (
	ReadCommitted Isolation = iota
	RepeatableRead
	Serializable
)

func (i Isolation) sql() string {
	switch i {
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "READ COMMITTED"
	}
}

// Config configures how Begin opens a transaction.
type Config struct {
	Isolation  Isolation
	ReadOnly   bool
	Deferrable bool
}

// Counter mints savepoint names. It is explicitly NOT a package-level
// singleton: each Transaction carries its own, so two transactions on
// different sessions never contend over (or leak identity through) a
// shared global counter.
type Counter struct {
	n atomic.Uint64
}

func (c *Counter) next() string {
	return fmt.Sprintf("sp_%d", c.n.Add(1))
}

// Transaction tracks one borrowed pool session plus one BEGIN..COMMIT/
// ROLLBACK span (or, under read-only, non-deferrable emulation, a span of
// individually-autocommitted statements) and any nested savepoints
// opened within it.
type Transaction struct {
	pool    *pool.Pool
	s       *session.Session
	cfg     Config
	counter Counter
	label   string

	// emulateAutocommit is set when cfg is read-only and non-deferrable:
	// per spec, no BEGIN is sent, every statement autocommits on its
	// own, and Commit/Rollback become no-ops that just surrender the
	// connection.
	emulateAutocommit bool

	active     bool
	committed  bool
	rolledBack bool
}

func isFatal(result *wire.QueryResult) bool {
	return result != nil && wire.IsFatalError(result.Code, result.ErrDetail.SQLState, result.Error)
}

// Begin acquires a connection from p and opens a transaction on it. When
// cfg is read-only and not deferrable, it instead activates
// emulate_readonly_autocommit: PostgreSQL already autocommits any bare
// statement, so no BEGIN round trip is sent and Commit/Rollback simply
// release the connection.
func Begin(ctx context.Context, p *pool.Pool, cfg Config, label string) (*Transaction, error) {
	s, err := p.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("txn: acquire connection: %w", err)
	}

	t := &Transaction{pool: p, s: s, cfg: cfg, label: label}

	if cfg.ReadOnly && !cfg.Deferrable {
		t.emulateAutocommit = true
		t.active = true
		return t, nil
	}

	sql := "BEGIN"
	sql += " ISOLATION LEVEL " + cfg.Isolation.sql()
	if cfg.ReadOnly {
		sql += " READ ONLY"
	} else {
		sql += " READ WRITE"
	}
	if cfg.Deferrable {
		sql += " DEFERRABLE"
	}

	result, err := s.ExecSimpleQuery(ctx, sql)
	if err != nil {
		p.MarkDead(s)
		return nil, err
	}
	if isFatal(result) {
		p.MarkDead(s)
		return nil, &wire.QueryError{Result: result}
	}
	if !result.OK {
		p.Release(s)
		return nil, &wire.QueryError{Result: result}
	}

	t.active = true
	return t, nil
}

// Query runs sql (optionally parameterised) within the transaction. A
// fatal connection error reaps the bound session and terminates the
// transaction as rolled back, matching the pool's own fatal-error
// contract.
func (t *Transaction) Query(ctx context.Context, sql string, args ...any) (*wire.QueryResult, error) {
	if !t.active {
		return nil, fmt.Errorf("txn: transaction is not active")
	}

	var result *wire.QueryResult
	var err error
	if len(args) == 0 {
		result, err = t.s.ExecSimpleQuery(ctx, sql)
	} else {
		result, err = t.s.ExecParamQuery(ctx, sql, args...)
	}
	if err != nil {
		t.reapAndFail()
		return nil, err
	}
	if isFatal(result) {
		t.reapAndFail()
	}
	return result, nil
}

func (t *Transaction) reapAndFail() {
	if !t.active {
		return
	}
	t.active = false
	t.rolledBack = true
	t.pool.MarkDead(t.s)
}

// Commit commits the transaction (or, under autocommit emulation, just
// releases the connection) and surrenders it back to the pool either
// way. Calling Commit on an inactive transaction is an error.
func (t *Transaction) Commit(ctx context.Context) error {
	if !t.active {
		return fmt.Errorf("txn: transaction is not active")
	}
	t.active = false

	if t.emulateAutocommit {
		t.committed = true
		t.pool.Release(t.s)
		metrics.TxCommitted.WithLabelValues(t.label).Inc()
		return nil
	}

	result, err := t.s.ExecSimpleQuery(ctx, "COMMIT")
	if err != nil {
		t.rolledBack = true
		t.pool.MarkDead(t.s)
		return err
	}
	if isFatal(result) {
		t.rolledBack = true
		t.pool.MarkDead(t.s)
		return &wire.QueryError{Result: result}
	}
	if !result.OK {
		t.rolledBack = true
		t.pool.Release(t.s)
		return &wire.QueryError{Result: result}
	}

	t.committed = true
	t.pool.Release(t.s)
	metrics.TxCommitted.WithLabelValues(t.label).Inc()
	return nil
}

// Rollback rolls the whole transaction back (a no-op under autocommit
// emulation, since each statement already committed on its own) and
// surrenders the connection back to the pool either way.
func (t *Transaction) Rollback(ctx context.Context) error {
	if !t.active {
		return fmt.Errorf("txn: transaction is not active")
	}
	t.active = false

	if t.emulateAutocommit {
		t.rolledBack = true
		t.pool.Release(t.s)
		metrics.TxRolledBack.WithLabelValues(t.label).Inc()
		return nil
	}

	result, err := t.s.ExecSimpleQuery(ctx, "ROLLBACK")
	t.rolledBack = true
	if err != nil || isFatal(result) {
		t.pool.MarkDead(t.s)
		if err != nil {
			return err
		}
		return &wire.QueryError{Result: result}
	}
	t.pool.Release(t.s)
	if !result.OK {
		return &wire.QueryError{Result: result}
	}
	metrics.TxRolledBack.WithLabelValues(t.label).Inc()
	return nil
}

// Abort rolls back and swallows the rollback error, for defer-site use
// after an already-reported failure; it reports whether a rollback was
// actually attempted (false if the transaction had already finished).
func (t *Transaction) Abort(ctx context.Context) bool {
	if !t.active {
		return false
	}
	_ = t.Rollback(ctx)
	return true
}

// Finished reports whether the transaction has reached a terminal state.
func (t *Transaction) Finished() bool {
	return t.committed || t.rolledBack
}

// Savepoint is a named nested rollback point within a Transaction.
// Forbidden under autocommit emulation, since there is no enclosing
// transaction for it to nest inside.
type Savepoint struct {
	t    *Transaction
	name string
	done bool
}

// Savepoint opens a new named savepoint, generating its name from this
// transaction's own counter (sp_<n>), never a shared global sequence.
func (t *Transaction) Savepoint(ctx context.Context) (*Savepoint, error) {
	if !t.active {
		return nil, fmt.Errorf("txn: transaction is not active")
	}
	if t.emulateAutocommit {
		return nil, fmt.Errorf("txn: savepoints are not valid under read-only autocommit emulation")
	}
	name := t.counter.next()
	result, err := t.s.ExecSimpleQuery(ctx, fmt.Sprintf("SAVEPOINT %s", name))
	if err != nil {
		t.reapAndFail()
		return nil, err
	}
	if isFatal(result) {
		t.reapAndFail()
		return nil, &wire.QueryError{Result: result}
	}
	if !result.OK {
		return nil, &wire.QueryError{Result: result}
	}
	return &Savepoint{t: t, name: name}, nil
}

// RollbackTo rolls the enclosing transaction back to this savepoint,
// without ending the transaction itself.
func (sp *Savepoint) RollbackTo(ctx context.Context) error {
	if sp.done {
		return fmt.Errorf("txn: savepoint %s already released", sp.name)
	}
	result, err := sp.t.s.ExecSimpleQuery(ctx, fmt.Sprintf("ROLLBACK TO SAVEPOINT %s", sp.name))
	if err != nil {
		sp.t.reapAndFail()
		return err
	}
	if isFatal(result) {
		sp.t.reapAndFail()
		return &wire.QueryError{Result: result}
	}
	if !result.OK {
		return &wire.QueryError{Result: result}
	}
	return nil
}

// Release discards the savepoint, keeping its effects.
func (sp *Savepoint) Release(ctx context.Context) error {
	if sp.done {
		return nil
	}
	sp.done = true
	result, err := sp.t.s.ExecSimpleQuery(ctx, fmt.Sprintf("RELEASE SAVEPOINT %s", sp.name))
	if err != nil {
		sp.t.reapAndFail()
		return err
	}
	if isFatal(result) {
		sp.t.reapAndFail()
		return &wire.QueryError{Result: result}
	}
	if !result.OK {
		return &wire.QueryError{Result: result}
	}
	return nil
}
