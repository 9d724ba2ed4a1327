// Package session drives one non-blocking PostgreSQL session over a
// socket whose readiness is surfaced by the reactor package: connection
// handshake, simple/parameterised query execution, COPY streaming,
// server-side cursors and LISTEN/NOTIFY. Grounded on the teacher
// proxy's own connect/read/write loop (postgres/postgres.go) and on the
// jackc/pgx connection/pgconn state machine for the auth and
// ReadyForQuery handshake shape.
package session

import (
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/usub-dev/usubpg/config"
	"github.com/usub-dev/usubpg/reactor"
	"github.com/usub-dev/usubpg/wire"
)

// State is a coarse session lifecycle state: New -> Connecting -> Ready
// -> (Busy <-> Ready) -> Dead.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateReady
	StateBusy
	StateDead
)

// NotifyHandler receives one LISTEN/NOTIFY delivery. It is invoked in its
// own goroutine with private copies of channel/payload/pid, per spec.
type NotifyHandler func(channel, payload string, pid uint32)

// Session owns a single logical PostgreSQL connection and its
// non-blocking state. Not safe for concurrent use: a session is owned
// exclusively by the pool or by one borrowing caller at a time.
type Session struct {
	waiter reactor.Waiter
	conn   net.Conn

	state     State
	txStatus  byte // 'I' idle, 'T' in-transaction, 'E' failed-transaction
	cursorSeq atomic.Uint64

	backendPID uint32
	secretKey  uint32

	serverParams map[string]string

	notifyMu       sync.Mutex
	notifyHandlers map[string][]NotifyHandler
}

// New creates a session bound to the given Waiter. It is not yet
// connected: call Connect before use.
func New(waiter reactor.Waiter) *Session {
	if waiter == nil {
		waiter = reactor.NetWaiter{}
	}
	return &Session{
		waiter:         waiter,
		state:          StateNew,
		serverParams:   make(map[string]string),
		notifyHandlers: make(map[string][]NotifyHandler),
	}
}

// Connected reports whether the session currently holds a live socket.
func (s *Session) Connected() bool {
	return s.state == StateReady || s.state == StateBusy
}

// IsIdle reports whether the session is safe for the pool to recycle:
// connected, not busy, and (when known) the last observed transaction
// status is idle.
func (s *Session) IsIdle() bool {
	return s.state == StateReady && (s.txStatus == 0 || s.txStatus == 'I')
}

// Connect performs the non-blocking connect handshake: TCP (optionally
// TLS) dial, then startup message, auth, and ReadyForQuery. The
// provided context's deadline bounds the whole handshake; on expiry the
// session is left disconnected and Connect fails with a descriptive
// timeout error mirroring the spec's exact message shape.
func (s *Session) Connect(ctx context.Context, ep config.Endpoint) error {
	s.state = StateConnecting

	timeout := ep.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(ep.Host, portString(ep.Port))
	var d net.Dialer
	if ep.Keepalive {
		d.KeepAlive = time.Duration(ep.KeepaliveIdle) * time.Second
	} else {
		d.KeepAlive = -1
	}

	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		s.state = StateDead
		if dialCtx.Err() != nil {
			return fmt.Errorf("connect timeout after %d ms", timeout.Milliseconds())
		}
		log.Printf("session: dial failed (%s): %v", config.BuildConninfo(ep.Redacted(), timeout), err)
		return fmt.Errorf("usubpg: dial %s: %w", addr, err)
	}
	s.conn = conn

	if ep.SSLMode != "" && ep.SSLMode != "disable" {
		conn, err = s.negotiateSSL(dialCtx, conn, ep)
		if err != nil {
			s.conn.Close()
			s.state = StateDead
			log.Printf("session: ssl negotiation failed (%s): %v", config.BuildConninfo(ep.Redacted(), timeout), err)
			return err
		}
		s.conn = conn
	}

	if dl, ok := dialCtx.Deadline(); ok {
		s.conn.SetDeadline(dl)
	}

	if err := s.startupAndAuth(ep); err != nil {
		s.conn.Close()
		s.state = StateDead
		if dialCtx.Err() != nil {
			return fmt.Errorf("connect timeout after %d ms", timeout.Milliseconds())
		}
		log.Printf("session: handshake failed (%s): %v", config.BuildConninfo(ep.Redacted(), timeout), err)
		return err
	}

	s.conn.SetDeadline(time.Time{})
	s.state = StateReady
	return nil
}

func portString(p int) string {
	if p == 0 {
		p = 5432
	}
	return fmt.Sprintf("%d", p)
}

func (s *Session) negotiateSSL(ctx context.Context, conn net.Conn, ep config.Endpoint) (net.Conn, error) {
	const sslRequestCode = 80877103
	req := make([]byte, 8)
	binary.BigEndian.PutUint32(req[0:4], 8)
	binary.BigEndian.PutUint32(req[4:8], sslRequestCode)
	if _, err := conn.Write(req); err != nil {
		return nil, fmt.Errorf("usubpg: ssl request: %w", err)
	}
	resp := make([]byte, 1)
	if _, err := conn.Read(resp); err != nil {
		return nil, fmt.Errorf("usubpg: ssl response: %w", err)
	}
	if resp[0] != 'S' {
		if ep.SSLMode == "require" || ep.SSLMode == "verify-ca" || ep.SSLMode == "verify-full" {
			return nil, fmt.Errorf("usubpg: server refused SSL but sslmode=%s requires it", ep.SSLMode)
		}
		return conn, nil
	}
	serverName := ep.Host
	if ep.ServerHostname != "" && net.ParseIP(ep.Host) != nil {
		serverName = ep.ServerHostname
	}
	tlsCfg := &tls.Config{ServerName: serverName}
	if ep.SSLMode == "require" || ep.SSLMode == "allow" || ep.SSLMode == "prefer" {
		tlsCfg.InsecureSkipVerify = true
	}
	tlsConn := tls.Client(conn, tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("usubpg: tls handshake: %w", err)
	}
	return tlsConn, nil
}

func (s *Session) startupAndAuth(ep config.Endpoint) error {
	params := [][2]string{
		{"user", ep.User},
		{"database", ep.Database},
		{"client_encoding", "UTF8"},
	}
	if _, err := s.conn.Write(wire.EncodeStartupMessage(params)); err != nil {
		return fmt.Errorf("usubpg: write startup message: %w", err)
	}

	for {
		frame, err := wire.ReadFrame(s.conn)
		if err != nil {
			return fmt.Errorf("usubpg: read during handshake: %w", err)
		}
		switch frame.Type {
		case wire.MsgAuthentication:
			if len(frame.Payload) < 4 {
				return fmt.Errorf("usubpg: truncated authentication message")
			}
			code := binary.BigEndian.Uint32(frame.Payload[0:4])
			switch code {
			case wire.AuthOK:
				// proceed to ParameterStatus/BackendKeyData/ReadyForQuery
			case wire.AuthCleartextPwd:
				if err := s.sendPassword(ep.Password); err != nil {
					return err
				}
			case wire.AuthMD5Pwd:
				if len(frame.Payload) < 8 {
					return fmt.Errorf("usubpg: truncated md5 salt")
				}
				salt := frame.Payload[4:8]
				hashed := md5Hash(ep.Password, ep.User, salt)
				if err := s.sendPassword(hashed); err != nil {
					return err
				}
			default:
				return fmt.Errorf("usubpg: unsupported auth method %d", code)
			}
		case wire.MsgParameterStatus:
			name, rest, err := wire.NulString(frame.Payload, 0)
			if err != nil {
				continue
			}
			val, _, err := wire.NulString(frame.Payload, rest)
			if err != nil {
				continue
			}
			s.serverParams[name] = val
		case wire.MsgBackendKeyData:
			if len(frame.Payload) >= 8 {
				s.backendPID = binary.BigEndian.Uint32(frame.Payload[0:4])
				s.secretKey = binary.BigEndian.Uint32(frame.Payload[4:8])
			}
		case wire.MsgErrorResponse:
			f := wire.ParseErrorFields(frame.Payload)
			return fmt.Errorf("usubpg: auth failed: %s", f.Message)
		case wire.MsgReadyForQuery:
			if len(frame.Payload) > 0 {
				s.txStatus = frame.Payload[0]
			}
			return nil
		default:
			// NoticeResponse and anything else pre-handshake is ignored.
		}
	}
}

func (s *Session) sendPassword(password string) error {
	payload := append([]byte(password), 0)
	_, err := s.conn.Write(wire.EncodeFrame(wire.MsgPasswordMessage, payload))
	if err != nil {
		return fmt.Errorf("usubpg: write password message: %w", err)
	}
	return nil
}

// md5Hash computes PostgreSQL's md5(md5(password+user)+salt) challenge
// response, rendered as "md5<hex>".
func md5Hash(password, user string, salt []byte) string {
	inner := md5.Sum([]byte(password + user))
	innerHex := hex.EncodeToString(inner[:])
	outer := md5.Sum(append([]byte(innerHex), salt...))
	return "md5" + hex.EncodeToString(outer[:])
}

// nextCursorName generates the monotonically-incrementing cursor name
// usub_cur_<n>.
func (s *Session) nextCursorName() string {
	n := s.cursorSeq.Add(1)
	return fmt.Sprintf("usub_cur_%d", n)
}

// Close shuts down the socket and marks the session disconnected. Safe
// to call more than once.
func (s *Session) Close() error {
	s.state = StateDead
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return nil
}

// markDead transitions the session to Dead without closing the socket;
// used after a fatal I/O error mid-operation. Close releases the socket.
func (s *Session) markDead() {
	s.state = StateDead
}
