package session

import (
	"context"
	"fmt"

	"github.com/usub-dev/usubpg/wire"
)

// Cursor wraps a server-side DECLARE'd cursor, fetched in bounded chunks.
type Cursor struct {
	s    *Session
	name string
}

// Declare opens a server-side cursor over the given query, named
// usub_cur_<n> to avoid colliding with any caller-chosen identifier.
// Server-side cursors require an open transaction, so the simple-query
// string itself opens one with a leading BEGIN; the cursor and its
// transaction live until Close commits them.
func (s *Session) Declare(ctx context.Context, query string) (*Cursor, error) {
	name := s.nextCursorName()
	declareSQL := fmt.Sprintf("BEGIN; DECLARE %s NO SCROLL CURSOR FOR %s;", name, query)
	result, err := s.ExecSimpleQuery(ctx, declareSQL)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, &wire.QueryError{Result: result}
	}
	return &Cursor{s: s, name: name}, nil
}

// FetchChunk pulls up to n rows via FETCH FORWARD; Done is true once the
// cursor is exhausted (the fetch returned zero rows).
func (c *Cursor) FetchChunk(ctx context.Context, n int) (*wire.CursorChunk, error) {
	sql := fmt.Sprintf("FETCH FORWARD %d FROM %s", n, c.name)
	result, err := c.s.ExecSimpleQuery(ctx, sql)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return &wire.CursorChunk{OK: false, Code: result.Code, Error: result.Error, ErrDetail: result.ErrDetail}, nil
	}
	return &wire.CursorChunk{
		Rows: result.Rows,
		Done: len(result.Rows) == 0,
		OK:   true,
	}, nil
}

// Close closes the server-side cursor and commits the transaction
// Declare opened for it.
func (c *Cursor) Close(ctx context.Context) error {
	result, err := c.s.ExecSimpleQuery(ctx, fmt.Sprintf("CLOSE %s; COMMIT;", c.name))
	if err != nil {
		return err
	}
	if !result.OK {
		return &wire.QueryError{Result: result}
	}
	return nil
}
