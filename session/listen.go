package session

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/usub-dev/usubpg/wire"
)

// Listen issues LISTEN <channel>.
func (s *Session) Listen(ctx context.Context, channel string) error {
	result, err := s.ExecSimpleQuery(ctx, fmt.Sprintf("LISTEN %s", channel))
	if err != nil {
		return err
	}
	if !result.OK {
		return &wire.QueryError{Result: result}
	}
	return nil
}

// Unlisten issues UNLISTEN <channel> and drops any registered handlers
// for it.
func (s *Session) Unlisten(ctx context.Context, channel string) error {
	result, err := s.ExecSimpleQuery(ctx, fmt.Sprintf("UNLISTEN %s", channel))
	if err != nil {
		return err
	}
	s.notifyMu.Lock()
	delete(s.notifyHandlers, channel)
	s.notifyMu.Unlock()
	if !result.OK {
		return &wire.QueryError{Result: result}
	}
	return nil
}

// OnNotify registers a handler for channel. Multiple handlers may be
// registered for the same channel; each fires on every delivery.
func (s *Session) OnNotify(channel string, h NotifyHandler) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.notifyHandlers[channel] = append(s.notifyHandlers[channel], h)
}

// WaitReadableForListener blocks until the socket has a frame available
// and, if it is a NotificationResponse, dispatches every handler
// registered for its channel in its own goroutine with private copies
// of channel/payload/pid, per the spec's fan-out contract. Any other
// frame type is read and discarded — this call is meant to be driven in
// a dedicated loop on a session that is otherwise idle.
func (s *Session) WaitReadableForListener(ctx context.Context) error {
	f, err := s.readFrame(ctx)
	if err != nil {
		return err
	}
	if f.Type != wire.MsgNotificationResponse {
		return nil
	}
	if len(f.Payload) < 4 {
		return fmt.Errorf("usubpg: truncated NotificationResponse")
	}
	pid := binary.BigEndian.Uint32(f.Payload[0:4])
	channel, next, err := wire.NulString(f.Payload, 4)
	if err != nil {
		return err
	}
	payload, _, err := wire.NulString(f.Payload, next)
	if err != nil {
		payload = ""
	}

	s.notifyMu.Lock()
	handlers := append([]NotifyHandler(nil), s.notifyHandlers[channel]...)
	s.notifyMu.Unlock()

	for _, h := range handlers {
		h := h
		ch, pl, p := channel, payload, pid
		go h(ch, pl, p)
	}
	return nil
}
