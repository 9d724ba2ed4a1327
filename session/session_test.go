package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/usub-dev/usubpg/config"
	"github.com/usub-dev/usubpg/wire"
)

func TestMD5HashFormat(t *testing.T) {
	h := md5Hash("secret", "alice", []byte{1, 2, 3, 4})
	if len(h) != 3+32 || h[:3] != "md5" {
		t.Fatalf("unexpected md5 hash shape: %q", h)
	}
	h2 := md5Hash("other", "alice", []byte{1, 2, 3, 4})
	if h == h2 {
		t.Fatal("different passwords produced the same hash")
	}
}

func TestNextCursorNameIncrements(t *testing.T) {
	s := New(nil)
	a := s.nextCursorName()
	b := s.nextCursorName()
	if a == b {
		t.Fatalf("expected distinct cursor names, got %q twice", a)
	}
	if a != "usub_cur_1" || b != "usub_cur_2" {
		t.Fatalf("unexpected cursor names: %q %q", a, b)
	}
}

func TestIsIdleRequiresReadyState(t *testing.T) {
	s := New(nil)
	if s.IsIdle() {
		t.Fatal("a freshly constructed session must not be idle")
	}
	s.state = StateReady
	s.txStatus = 'I'
	if !s.IsIdle() {
		t.Fatal("expected idle session to report IsIdle")
	}
	s.txStatus = 'T'
	if s.IsIdle() {
		t.Fatal("a session mid-transaction must not be reported idle")
	}
}

// fakeServerAuthOK performs just enough of the startup handshake over one end
// of a net.Pipe to drive Session.startupAndAuth to completion.
func fakeServerAuthOK(t *testing.T, conn net.Conn) {
	t.Helper()
	// Read and discard the startup message: length(4) + version(4) + body.
	hdr := make([]byte, 4)
	if _, err := readFull(conn, hdr); err != nil {
		t.Errorf("fake server: read startup length: %v", err)
		return
	}
	length := be32(hdr)
	rest := make([]byte, length-4)
	if _, err := readFull(conn, rest); err != nil {
		t.Errorf("fake server: read startup body: %v", err)
		return
	}

	conn.Write(wire.EncodeFrame(wire.MsgAuthentication, []byte{0, 0, 0, 0}))
	paramPayload := append([]byte("server_version\x00"), []byte("16.0\x00")...)
	conn.Write(wire.EncodeFrame(wire.MsgParameterStatus, paramPayload))
	bkd := make([]byte, 8)
	bkd[3] = 42
	bkd[7] = 99
	conn.Write(wire.EncodeFrame(wire.MsgBackendKeyData, bkd))
	conn.Write(wire.EncodeFrame(wire.MsgReadyForQuery, []byte{'I'}))
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestStartupAndAuthReachesReady(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		fakeServerAuthOK(t, server)
		close(done)
	}()

	s := New(nil)
	s.conn = client
	ep := config.Endpoint{User: "alice", Database: "app"}
	if err := s.startupAndAuth(ep); err != nil {
		t.Fatalf("startupAndAuth: %v", err)
	}
	<-done

	if s.backendPID != 42 || s.secretKey != 99 {
		t.Fatalf("unexpected backend key data: pid=%d secret=%d", s.backendPID, s.secretKey)
	}
	if s.txStatus != 'I' {
		t.Fatalf("expected idle tx status, got %q", s.txStatus)
	}
	if s.serverParams["server_version"] != "16.0" {
		t.Fatalf("expected server_version param, got %+v", s.serverParams)
	}
}

func TestConnectFailsOnUnroutableAddress(t *testing.T) {
	s := New(nil)
	ep := config.Endpoint{
		Host:           "10.255.255.1", // reserved, expected to black-hole
		Port:           5432,
		ConnectTimeout: 50 * time.Millisecond,
	}
	ctx := context.Background()
	err := s.Connect(ctx, ep)
	if err == nil {
		t.Skip("unexpectedly connected; network environment allows routing to 10.255.255.1")
	}
}
