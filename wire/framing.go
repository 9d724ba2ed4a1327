package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Backend/frontend message type bytes, PostgreSQL protocol v3.0.
const (
	MsgQuery                = 'Q'
	MsgParse                = 'P'
	MsgBind                 = 'B'
	MsgExecute              = 'E'
	MsgDescribe             = 'D'
	MsgSync                 = 'S'
	MsgTerminate            = 'X'
	MsgCopyData             = 'd'
	MsgCopyDone             = 'c'
	MsgCopyFail             = 'f'
	MsgPasswordMessage      = 'p'
	MsgReadyForQuery        = 'Z'
	MsgCommandComplete      = 'C'
	MsgRowDescription       = 'T'
	MsgDataRow              = 'D'
	MsgErrorResponse        = 'E'
	MsgNoticeResponse       = 'N'
	MsgAuthentication       = 'R'
	MsgParameterStatus      = 'S'
	MsgBackendKeyData       = 'K'
	MsgParseComplete        = '1'
	MsgBindComplete         = '2'
	MsgCloseComplete        = '3'
	MsgNoData               = 'n'
	MsgParameterDescription = 't'
	MsgCopyInResponse       = 'G'
	MsgCopyOutResponse      = 'H'
	MsgCopyBothResponse     = 'W'
	MsgEmptyQueryResponse   = 'I'
	MsgNotificationResponse = 'A'
)

// Authentication request codes carried in an 'R' message's first int32.
const (
	AuthOK               = 0
	AuthCleartextPwd     = 3
	AuthMD5Pwd           = 5
)

// Frame is one decoded wire message: a type byte plus its payload (the
// length prefix itself, 4 bytes including itself, is not retained).
type Frame struct {
	Type    byte
	Payload []byte
}

// ReadFrame reads one frame: 1-byte type, 4-byte big-endian length
// (including itself), then length-4 bytes of payload.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	length := binary.BigEndian.Uint32(hdr[1:5])
	if length < 4 {
		return Frame{}, fmt.Errorf("wire: corrupt frame length %d", length)
	}
	payload := make([]byte, length-4)
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: hdr[0], Payload: payload}, nil
}

// EncodeFrame renders a typed message as bytes ready to write to the wire.
func EncodeFrame(msgType byte, payload []byte) []byte {
	length := uint32(len(payload) + 4)
	buf := make([]byte, 1+4+len(payload))
	buf[0] = msgType
	binary.BigEndian.PutUint32(buf[1:5], length)
	copy(buf[5:], payload)
	return buf
}

// EncodeStartupMessage builds the v3.0 startup message for the given
// ordered key/value parameters (user, database, client_encoding, ...).
func EncodeStartupMessage(params [][2]string) []byte {
	var body []byte
	for _, kv := range params {
		body = append(body, kv[0]...)
		body = append(body, 0)
		body = append(body, kv[1]...)
		body = append(body, 0)
	}
	body = append(body, 0)
	length := uint32(len(body) + 4 + 4)
	buf := make([]byte, 0, length)
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, length)
	buf = append(buf, lenBuf...)
	verBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(verBuf, 196608) // protocol version 3.0
	buf = append(buf, verBuf...)
	buf = append(buf, body...)
	return buf
}

// NulString reads a NUL-terminated string starting at offset i, returning
// the string and the offset just past its terminator.
func NulString(buf []byte, i int) (string, int, error) {
	start := i
	for i < len(buf) && buf[i] != 0 {
		i++
	}
	if i >= len(buf) {
		return "", i, fmt.Errorf("wire: truncated NUL-terminated field")
	}
	return string(buf[start:i]), i + 1, nil
}
