package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/usub-dev/usubpg/wire"
)

// writeFrame waits for the socket to become writable (per the reactor's
// Waiter, which folds ctx's deadline into the underlying SetDeadline)
// before writing one framed message.
func (s *Session) writeFrame(ctx context.Context, msgType byte, payload []byte) error {
	if err := s.waiter.WaitWritable(ctx, s.conn); err != nil {
		s.markDead()
		return fmt.Errorf("usubpg: wait writable: %w", err)
	}
	if _, err := s.conn.Write(wire.EncodeFrame(msgType, payload)); err != nil {
		s.markDead()
		return fmt.Errorf("usubpg: write: %w", err)
	}
	return nil
}

func (s *Session) readFrame(ctx context.Context) (wire.Frame, error) {
	if err := s.waiter.WaitReadable(ctx, s.conn); err != nil {
		s.markDead()
		return wire.Frame{}, fmt.Errorf("usubpg: wait readable: %w", err)
	}
	f, err := wire.ReadFrame(s.conn)
	if err != nil {
		s.markDead()
		return wire.Frame{}, fmt.Errorf("usubpg: read: %w", err)
	}
	return f, nil
}

// DrainPending pumps and discards whatever server messages are still in
// flight from an operation the caller abandoned without reading to
// ReadyForQuery, so a pooled session can be safely recycled. It reads
// directly off the socket rather than through readFrame: a deadline
// expiring before anything arrives just means there was nothing to
// drain, and must not mark an otherwise-healthy session dead.
func (s *Session) DrainPending(ctx context.Context) {
	if s.state == StateDead || s.conn == nil {
		return
	}
	defer s.conn.SetDeadline(time.Time{})
	for {
		if dl, ok := ctx.Deadline(); ok {
			s.conn.SetDeadline(dl)
		} else {
			s.conn.SetDeadline(time.Now().Add(2 * time.Second))
		}
		f, err := wire.ReadFrame(s.conn)
		if err != nil {
			return
		}
		if f.Type == wire.MsgReadyForQuery {
			if len(f.Payload) > 0 {
				s.txStatus = f.Payload[0]
			}
			s.state = StateReady
			return
		}
	}
}

// drainQuery reads the simple-query response stream until ReadyForQuery,
// appending rows across however many result sets a multi-statement query
// string produced; Columns and RowsAffected come from the last result set
// that carried a RowDescription or CommandComplete.
func (s *Session) drainQuery(ctx context.Context) (*wire.QueryResult, error) {
	result := wire.NewOKResult()
	for {
		f, err := s.readFrame(ctx)
		if err != nil {
			return nil, err
		}
		switch f.Type {
		case wire.MsgRowDescription:
			cols, err := wire.DecodeRowDescription(f.Payload)
			if err != nil {
				return nil, err
			}
			result.Columns = cols
		case wire.MsgDataRow:
			row, err := wire.DecodeDataRow(f.Payload)
			if err != nil {
				return nil, err
			}
			result.Rows = append(result.Rows, row)
		case wire.MsgCommandComplete:
			tag, _, _ := wire.NulString(f.Payload, 0)
			result.RowsAffected = wire.ExtractRowsAffected(tag)
		case wire.MsgEmptyQueryResponse:
			// no-op: empty query string, result stays OK/empty.
		case wire.MsgErrorResponse:
			wire.FillServerError(result, f.Payload)
		case wire.MsgNoticeResponse:
			// notices are not surfaced to the caller.
		case wire.MsgReadyForQuery:
			if len(f.Payload) > 0 {
				s.txStatus = f.Payload[0]
			}
			return result, nil
		default:
			// unrecognised/ignored message kind (e.g. ParameterStatus mid-session).
		}
	}
}

func (s *Session) sendParse(ctx context.Context, stmtName, sql string, slots []wire.ParamSlot) error {
	var buf []byte
	buf = append(buf, stmtName...)
	buf = append(buf, 0)
	buf = append(buf, sql...)
	buf = append(buf, 0)
	count := make([]byte, 2)
	binary.BigEndian.PutUint16(count, uint16(len(slots)))
	buf = append(buf, count...)
	for _, p := range slots {
		oidBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(oidBuf, p.OID)
		buf = append(buf, oidBuf...)
	}
	return s.writeFrame(ctx, wire.MsgParse, buf)
}

func (s *Session) sendBind(ctx context.Context, portal, stmtName string, slots []wire.ParamSlot) error {
	var buf []byte
	buf = append(buf, portal...)
	buf = append(buf, 0)
	buf = append(buf, stmtName...)
	buf = append(buf, 0)

	n := make([]byte, 2)
	binary.BigEndian.PutUint16(n, uint16(len(slots)))
	buf = append(buf, n...) // param format count
	for _, p := range slots {
		fmtBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(fmtBuf, uint16(p.Format))
		buf = append(buf, fmtBuf...)
	}

	buf = append(buf, n...) // param value count
	for _, p := range slots {
		lenBuf := make([]byte, 4)
		if p.Value == nil {
			binary.BigEndian.PutUint32(lenBuf, 0xFFFFFFFF) // -1 as uint32
			buf = append(buf, lenBuf...)
			continue
		}
		binary.BigEndian.PutUint32(lenBuf, uint32(len(p.Value)))
		buf = append(buf, lenBuf...)
		buf = append(buf, p.Value...)
	}

	buf = append(buf, 0, 1) // one result-column format code
	buf = append(buf, 0, 0) // text format for all result columns
	return s.writeFrame(ctx, wire.MsgBind, buf)
}

func (s *Session) sendDescribePortal(ctx context.Context, portal string) error {
	var buf []byte
	buf = append(buf, 'P')
	buf = append(buf, portal...)
	buf = append(buf, 0)
	return s.writeFrame(ctx, wire.MsgDescribe, buf)
}

func (s *Session) sendExecute(ctx context.Context, portal string, maxRows int32) error {
	var buf []byte
	buf = append(buf, portal...)
	buf = append(buf, 0)
	n := make([]byte, 4)
	binary.BigEndian.PutUint32(n, uint32(maxRows))
	buf = append(buf, n...)
	return s.writeFrame(ctx, wire.MsgExecute, buf)
}

func (s *Session) sendSync(ctx context.Context) error {
	return s.writeFrame(ctx, wire.MsgSync, nil)
}

// drainExtended reads the extended-protocol response stream (Parse/Bind
// confirmations, optional rows, CommandComplete, then ReadyForQuery).
func (s *Session) drainExtended(ctx context.Context) (*wire.QueryResult, error) {
	result := wire.NewOKResult()
	for {
		f, err := s.readFrame(ctx)
		if err != nil {
			return nil, err
		}
		switch f.Type {
		case wire.MsgParseComplete, wire.MsgBindComplete, wire.MsgNoData:
			// acknowledged, nothing to record.
		case wire.MsgParameterDescription:
			// parameter type OIDs the server inferred; not needed by the caller.
		case wire.MsgRowDescription:
			cols, err := wire.DecodeRowDescription(f.Payload)
			if err != nil {
				return nil, err
			}
			result.Columns = cols
		case wire.MsgDataRow:
			row, err := wire.DecodeDataRow(f.Payload)
			if err != nil {
				return nil, err
			}
			result.Rows = append(result.Rows, row)
		case wire.MsgCommandComplete:
			tag, _, _ := wire.NulString(f.Payload, 0)
			result.RowsAffected = wire.ExtractRowsAffected(tag)
		case wire.MsgErrorResponse:
			wire.FillServerError(result, f.Payload)
		case wire.MsgNoticeResponse:
			// ignored
		case wire.MsgReadyForQuery:
			if len(f.Payload) > 0 {
				s.txStatus = f.Payload[0]
			}
			return result, nil
		default:
			// ignored
		}
	}
}
