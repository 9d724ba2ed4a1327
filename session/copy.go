package session

import (
	"context"
	"fmt"

	"github.com/usub-dev/usubpg/wire"
)

// CopyInHandle streams CopyData chunks to the server for a COPY ... FROM
// STDIN started by CopyInStart.
type CopyInHandle struct {
	s *Session
}

// CopyInStart issues sql (expected to be a COPY ... FROM STDIN statement)
// and waits for the server's CopyInResponse, returning a handle for
// streaming chunks.
func (s *Session) CopyInStart(ctx context.Context, sql string) (*CopyInHandle, error) {
	if err := s.beginOp(); err != nil {
		return nil, err
	}
	payload := append([]byte(sql), 0)
	if err := s.writeFrame(ctx, wire.MsgQuery, payload); err != nil {
		s.endOp()
		return nil, err
	}
	for {
		f, err := s.readFrame(ctx)
		if err != nil {
			s.endOp()
			return nil, err
		}
		switch f.Type {
		case wire.MsgCopyInResponse:
			return &CopyInHandle{s: s}, nil
		case wire.MsgErrorResponse:
			s.endOp()
			fields := wire.ParseErrorFields(f.Payload)
			return nil, fmt.Errorf("usubpg: copy in rejected: %s", fields.Message)
		case wire.MsgReadyForQuery:
			s.endOp()
			return nil, fmt.Errorf("usubpg: server did not enter COPY mode")
		default:
			// ignore notices/parameter status while waiting
		}
	}
}

// SendChunk writes one raw CopyData chunk.
func (h *CopyInHandle) SendChunk(ctx context.Context, chunk []byte) error {
	return h.s.writeFrame(ctx, wire.MsgCopyData, chunk)
}

// Finish sends CopyDone and drains the server's response to completion.
func (h *CopyInHandle) Finish(ctx context.Context) (*wire.CopyResult, error) {
	defer h.s.endOp()
	if err := h.s.writeFrame(ctx, wire.MsgCopyDone, nil); err != nil {
		return nil, err
	}
	return h.s.drainCopyCompletion(ctx)
}

// Abort sends CopyFail with reason and drains the server's error response.
func (h *CopyInHandle) Abort(ctx context.Context, reason string) (*wire.CopyResult, error) {
	defer h.s.endOp()
	payload := append([]byte(reason), 0)
	if err := h.s.writeFrame(ctx, wire.MsgCopyFail, payload); err != nil {
		return nil, err
	}
	return h.s.drainCopyCompletion(ctx)
}

func (s *Session) drainCopyCompletion(ctx context.Context) (*wire.CopyResult, error) {
	result := &wire.CopyResult{OK: true}
	for {
		f, err := s.readFrame(ctx)
		if err != nil {
			return nil, err
		}
		switch f.Type {
		case wire.MsgCommandComplete:
			tag, _, _ := wire.NulString(f.Payload, 0)
			result.RowsAffected = wire.ExtractRowsAffected(tag)
		case wire.MsgErrorResponse:
			f2 := wire.ParseErrorFields(f.Payload)
			result.OK = false
			result.Code = wire.ServerError
			result.Error = f2.Message
			result.ErrDetail = wire.ErrorDetail{
				SQLState: f2.SQLState, Message: f2.Message, Detail: f2.Detail, Hint: f2.Hint,
				Category: wire.ClassifySQLState(f2.SQLState),
			}
		case wire.MsgReadyForQuery:
			if len(f.Payload) > 0 {
				s.txStatus = f.Payload[0]
			}
			return result, nil
		default:
			// ignore
		}
	}
}

// CopyOutHandle reads CopyData chunks streamed by the server for a
// COPY ... TO STDOUT started by CopyOutStart.
type CopyOutHandle struct {
	s    *Session
	done bool
}

// CopyOutStart issues sql and waits for CopyOutResponse.
func (s *Session) CopyOutStart(ctx context.Context, sql string) (*CopyOutHandle, error) {
	if err := s.beginOp(); err != nil {
		return nil, err
	}
	payload := append([]byte(sql), 0)
	if err := s.writeFrame(ctx, wire.MsgQuery, payload); err != nil {
		s.endOp()
		return nil, err
	}
	for {
		f, err := s.readFrame(ctx)
		if err != nil {
			s.endOp()
			return nil, err
		}
		switch f.Type {
		case wire.MsgCopyOutResponse:
			return &CopyOutHandle{s: s}, nil
		case wire.MsgErrorResponse:
			s.endOp()
			fields := wire.ParseErrorFields(f.Payload)
			return nil, fmt.Errorf("usubpg: copy out rejected: %s", fields.Message)
		case wire.MsgReadyForQuery:
			s.endOp()
			return nil, fmt.Errorf("usubpg: server did not enter COPY OUT mode")
		default:
			// ignore
		}
	}
}

// ReadChunk returns the next CopyData chunk, or done=true once the
// server has sent CopyDone and the operation is fully drained.
func (h *CopyOutHandle) ReadChunk(ctx context.Context) (chunk []byte, done bool, err error) {
	if h.done {
		return nil, true, nil
	}
	for {
		f, err := h.s.readFrame(ctx)
		if err != nil {
			return nil, false, err
		}
		switch f.Type {
		case wire.MsgCopyData:
			return f.Payload, false, nil
		case wire.MsgCopyDone:
			continue
		case wire.MsgCommandComplete:
			continue
		case wire.MsgErrorResponse:
			fields := wire.ParseErrorFields(f.Payload)
			h.done = true
			h.s.endOp()
			return nil, true, fmt.Errorf("usubpg: copy out failed: %s", fields.Message)
		case wire.MsgReadyForQuery:
			if len(f.Payload) > 0 {
				h.s.txStatus = f.Payload[0]
			}
			h.done = true
			h.s.endOp()
			return nil, true, nil
		default:
			continue
		}
	}
}
