package session

import (
	"context"
	"net"
	"testing"

	"github.com/usub-dev/usubpg/wire"
)

// fakeServerSimpleQuery replies to one simple-query round trip with a
// single-column, single-row result plus a command tag.
func fakeServerSimpleQuery(t *testing.T, conn net.Conn) {
	t.Helper()
	f, err := wire.ReadFrame(conn)
	if err != nil {
		t.Errorf("fake server: read query: %v", err)
		return
	}
	if f.Type != wire.MsgQuery {
		t.Errorf("fake server: expected Query, got %c", f.Type)
		return
	}

	rowDesc := []byte{0, 1} // one column
	rowDesc = append(rowDesc, []byte("id\x00")...)
	rowDesc = append(rowDesc, make([]byte, 18)...)
	conn.Write(wire.EncodeFrame(wire.MsgRowDescription, rowDesc))

	dataRow := []byte{0, 1, 0, 0, 0, 1, '7'} // one field, length 1, value "7"
	conn.Write(wire.EncodeFrame(wire.MsgDataRow, dataRow))

	conn.Write(wire.EncodeFrame(wire.MsgCommandComplete, append([]byte("SELECT 1"), 0)))
	conn.Write(wire.EncodeFrame(wire.MsgReadyForQuery, []byte{'I'}))
}

func TestExecSimpleQueryDecodesRow(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		fakeServerSimpleQuery(t, server)
		close(done)
	}()

	s := New(nil)
	s.conn = client
	s.state = StateReady

	result, err := s.ExecSimpleQuery(context.Background(), "SELECT 1 AS id")
	if err != nil {
		t.Fatalf("ExecSimpleQuery: %v", err)
	}
	<-done

	if !result.OK {
		t.Fatalf("expected OK result, got error %q", result.Error)
	}
	if len(result.Rows) != 1 || result.Rows[0][0] == nil || *result.Rows[0][0] != "7" {
		t.Fatalf("unexpected rows: %+v", result.Rows)
	}
	if result.Columns[0].Name != "id" {
		t.Fatalf("unexpected column: %+v", result.Columns)
	}
	if !s.IsIdle() {
		t.Fatal("expected session to return to idle after the query completes")
	}
}
