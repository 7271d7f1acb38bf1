package pgflow

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/riftdata/pgflow/internal/connsm"
	"github.com/riftdata/pgflow/internal/pgconf"
	"github.com/riftdata/pgflow/internal/wire"
	"github.com/riftdata/pgflow/pkg/logger"
)

// connectOverConn is Connect minus the dial: it drives startup over an
// already-open net.Conn (a net.Pipe end, in these tests) instead of
// one built from cfg.Addr(). Living in the same package as client.go
// lets it reach Client's unexported fields directly rather than
// needing a test-only exported constructor on the public API.
func connectOverConn(ctx context.Context, conn net.Conn, cfg *pgconf.Config) (*Client, error) {
	c := &Client{
		conn:     conn,
		sm:       connsm.New(),
		cfg:      cfg,
		cmds:     make(chan actorCmd, 32),
		readGate: make(chan struct{}, 1),
		closed:   make(chan struct{}),
		readyCh:  make(chan error, 1),
		log:      logger.ForConn(conn.RemoteAddr().String()),
	}

	go c.actorLoop()
	go c.readLoop()

	c.cmds <- actorCmd{kind: cmdStart}

	select {
	case err := <-c.readyCh:
		if err != nil {
			return nil, err
		}
		return c, nil
	case <-ctx.Done():
		c.forceClose()
		return nil, ctx.Err()
	}
}

// fakeBackend is a minimal hand-rolled server side of the v3 protocol,
// just enough to drive Connect/Query/Close through a real net.Conn
// (actually net.Pipe) instead of feeding connsm decoded messages
// directly the way internal/connsm's own tests do. It never validates
// anything the client sends; it exists to exercise client.go's wire
// framing, not to be a protocol conformance checker.
type fakeBackend struct {
	conn net.Conn
}

func (f *fakeBackend) readStartup() error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(f.conn, lenBuf[:]); err != nil {
		return err
	}
	n := int(binary.BigEndian.Uint32(lenBuf[:])) - 4
	rest := make([]byte, n)
	_, err := io.ReadFull(f.conn, rest)
	return err
}

func (f *fakeBackend) send(msgType byte, payload []byte) error {
	return wire.WriteMessage(f.conn, msgType, payload)
}

func (f *fakeBackend) sendAuthOK() error {
	buf := wire.NewBuffer(4)
	buf.WriteInt32(wire.AuthOK)
	return f.send(wire.MsgAuthentication, buf.Bytes())
}

func (f *fakeBackend) sendParameterStatus(name, value string) error {
	buf := wire.NewBuffer(len(name) + len(value) + 2)
	buf.WriteString(name)
	buf.WriteString(value)
	return f.send(wire.MsgParameterStatus, buf.Bytes())
}

func (f *fakeBackend) sendBackendKeyData(pid, secret int32) error {
	buf := wire.NewBuffer(8)
	buf.WriteInt32(pid)
	buf.WriteInt32(secret)
	return f.send(wire.MsgBackendKeyData, buf.Bytes())
}

func (f *fakeBackend) sendReadyForQuery(txStatus byte) error {
	return f.send(wire.MsgReadyForQuery, []byte{txStatus})
}

// completeStartup drives AuthenticationOK straight through to
// ReadyForQuery, the "trust" auth path, matching internal/connsm's own
// test helper (handshake in conn_test.go) one level down the stack.
func (f *fakeBackend) completeStartup() error {
	if err := f.readStartup(); err != nil {
		return err
	}
	if err := f.sendAuthOK(); err != nil {
		return err
	}
	if err := f.sendParameterStatus("server_version", "16.0"); err != nil {
		return err
	}
	if err := f.sendBackendKeyData(42, 1234); err != nil {
		return err
	}
	return f.sendReadyForQuery(wire.TxStatusIdle)
}

// readFrontendMessage reads and discards one frontend message,
// returning its type byte.
func (f *fakeBackend) readFrontendMessage() (byte, []byte, error) {
	return wire.ReadMessage(f.conn)
}

func (f *fakeBackend) sendParseComplete() error { return f.send(wire.MsgParseComplete, nil) }

func (f *fakeBackend) sendParameterDescription(types []uint32) error {
	buf := wire.NewBuffer(2 + 4*len(types))
	buf.WriteInt16(int16(len(types)))
	for _, t := range types {
		buf.WriteUint32(t)
	}
	return f.send(wire.MsgParameterDescription, buf.Bytes())
}

func (f *fakeBackend) sendRowDescription(names []string, oid uint32) error {
	buf := wire.NewBuffer(64)
	buf.WriteInt16(int16(len(names)))
	for _, name := range names {
		buf.WriteString(name)
		buf.WriteUint32(0)              // table OID
		buf.WriteInt16(0)                // column attr
		buf.WriteUint32(oid)             // type OID
		buf.WriteInt16(-1)               // type size
		buf.WriteInt32(-1)               // type modifier
		buf.WriteInt16(wire.FormatBinary) // format
	}
	return f.send(wire.MsgRowDescription, buf.Bytes())
}

func (f *fakeBackend) sendBindComplete() error { return f.send(wire.MsgBindComplete, nil) }

func (f *fakeBackend) sendDataRow(values [][]byte) error {
	buf := wire.NewBuffer(32)
	buf.WriteInt16(int16(len(values)))
	for _, v := range values {
		buf.WriteCountedBytes(v)
	}
	return f.send(wire.MsgDataRow, buf.Bytes())
}

func (f *fakeBackend) sendCommandComplete(tag string) error {
	buf := wire.NewBuffer(len(tag) + 1)
	buf.WriteString(tag)
	return f.send(wire.MsgCommandComplete, buf.Bytes())
}

// serveOneSelect answers exactly one Parse/Describe/Bind/Execute/Sync
// round trip (§4.2's PDBES dispatch) with a single text column and one
// row, then goes back to idle.
func (f *fakeBackend) serveOneSelect(t *testing.T, rows [][]byte, colName string) {
	t.Helper()
	for _, want := range []byte{wire.MsgParse, wire.MsgDescribe, wire.MsgBind, wire.MsgExecute, wire.MsgSync} {
		got, _, err := f.readFrontendMessage()
		if err != nil {
			t.Fatalf("reading frontend message: %v", err)
		}
		if got != want {
			t.Fatalf("expected frontend message %q, got %q", want, got)
		}
	}

	if err := f.sendParseComplete(); err != nil {
		t.Fatalf("sendParseComplete: %v", err)
	}
	if err := f.sendParameterDescription(nil); err != nil {
		t.Fatalf("sendParameterDescription: %v", err)
	}
	if err := f.sendRowDescription([]string{colName}, 25 /* text */); err != nil {
		t.Fatalf("sendRowDescription: %v", err)
	}
	if err := f.sendBindComplete(); err != nil {
		t.Fatalf("sendBindComplete: %v", err)
	}
	for _, row := range rows {
		if err := f.sendDataRow([][]byte{row}); err != nil {
			t.Fatalf("sendDataRow: %v", err)
		}
	}
	if err := f.sendCommandComplete("SELECT " + strconv.Itoa(len(rows))); err != nil {
		t.Fatalf("sendCommandComplete: %v", err)
	}
	if err := f.sendReadyForQuery(wire.TxStatusIdle); err != nil {
		t.Fatalf("sendReadyForQuery: %v", err)
	}
}

// testDial connects a Client over net.Pipe to a fakeBackend goroutine,
// returning the Client once the startup sequence completes.
func testDial(t *testing.T, serve func(f *fakeBackend)) (*Client, net.Conn) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	go func() {
		f := &fakeBackend{conn: serverConn}
		if err := f.completeStartup(); err != nil {
			return
		}
		serve(f)
		// Keep reading so Close's Terminate write over the synchronous
		// pipe does not block.
		_, _ = io.Copy(io.Discard, serverConn)
	}()

	cfg := &pgconf.Config{
		Host:            "ignored",
		Port:            1,
		User:            "alice",
		SSLMode:         pgconf.SSLDisable,
		ApplicationName: "pgflow-test",
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := connectOverConn(ctx, clientConn, cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return client, serverConn
}

func TestQueryOverRealWireFraming(t *testing.T) {
	client, _ := testDial(t, func(f *fakeBackend) {
		f.serveOneSelect(t, [][]byte{[]byte("hello")}, "greeting")
	})
	defer client.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Query(ctx, "select $1::text", "ignored")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	row, err := stream.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if row == nil {
		t.Fatal("expected one row, got none")
	}
	val, err := row.Column("greeting")
	if err != nil {
		t.Fatalf("Column: %v", err)
	}
	if string(val) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", val)
	}

	end, err := stream.Next(ctx)
	if err != nil {
		t.Fatalf("Next (end): %v", err)
	}
	if end != nil {
		t.Fatal("expected end of stream")
	}
	tag, err := stream.CommandTag()
	if err != nil {
		t.Fatalf("CommandTag: %v", err)
	}
	if tag != "SELECT 1" {
		t.Fatalf("expected tag %q, got %q", "SELECT 1", tag)
	}
}

func TestTooManyParametersRejectedSynchronously(t *testing.T) {
	client, _ := testDial(t, func(f *fakeBackend) {})
	defer client.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	args := make([]any, 32768)
	for i := range args {
		args[i] = i
	}
	if _, err := client.Query(ctx, "select 1", args...); err == nil {
		t.Fatal("expected an error for 32768 parameters, got nil")
	}
}
