package session

import (
	"context"
	"fmt"

	"github.com/usub-dev/usubpg/rowmap"
	"github.com/usub-dev/usubpg/wire"
)

// ExecSimpleQuery runs sql over the simple query protocol: a single 'Q'
// message, draining RowDescription/DataRow/CommandComplete (or
// ErrorResponse) until ReadyForQuery. Any text containing its own
// parameters must be interpolated by the caller; use ExecParamQuery for
// server-side parameter binding.
func (s *Session) ExecSimpleQuery(ctx context.Context, sql string) (*wire.QueryResult, error) {
	if err := s.beginOp(); err != nil {
		return nil, err
	}
	defer s.endOp()

	payload := append([]byte(sql), 0)
	if err := s.writeFrame(ctx, wire.MsgQuery, payload); err != nil {
		return nil, err
	}
	return s.drainQuery(ctx)
}

// ExecParamQuery runs sql through the extended protocol: Parse/Bind
// (unnamed statement/portal)/Describe/Execute/Sync, with args encoded
// via wire.EncodeParam. args' arity must match the query's placeholder
// count; mismatches are caught server-side as a Bind error.
func (s *Session) ExecParamQuery(ctx context.Context, sql string, args ...any) (*wire.QueryResult, error) {
	if err := s.beginOp(); err != nil {
		return nil, err
	}
	defer s.endOp()

	slots := make([]wire.ParamSlot, 0, len(args))
	for _, a := range args {
		es, err := wire.EncodeParam(a)
		if err != nil {
			return nil, fmt.Errorf("usubpg: encode parameter: %w", err)
		}
		slots = append(slots, es...)
	}

	if err := s.sendParse(ctx, "", sql, slots); err != nil {
		return nil, err
	}
	if err := s.sendBind(ctx, "", "", slots); err != nil {
		return nil, err
	}
	if err := s.sendDescribePortal(ctx, ""); err != nil {
		return nil, err
	}
	if err := s.sendExecute(ctx, "", 0); err != nil {
		return nil, err
	}
	if err := s.sendSync(ctx); err != nil {
		return nil, err
	}
	return s.drainExtended(ctx)
}

// QueryInto runs sql (optionally parameterised) and decodes every
// returned row into a freshly-appended T, trying named mapping first
// and falling back to positional mapping per rowmap.DecodeRow.
func QueryInto[T any](ctx context.Context, s *Session, sql string, args ...any) ([]T, error) {
	var result *wire.QueryResult
	var err error
	if len(args) == 0 {
		result, err = s.ExecSimpleQuery(ctx, sql)
	} else {
		result, err = s.ExecParamQuery(ctx, sql, args...)
	}
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, &wire.QueryError{Result: result}
	}
	out := make([]T, 0, len(result.Rows))
	for _, row := range result.Rows {
		var t T
		if err := rowmap.DecodeRow(row, result.Columns, &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Session) beginOp() error {
	if s.state != StateReady {
		return fmt.Errorf("usubpg: session not ready (state=%d)", s.state)
	}
	s.state = StateBusy
	return nil
}

func (s *Session) endOp() {
	if s.state == StateBusy {
		s.state = StateReady
	}
}
