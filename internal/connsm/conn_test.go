package connsm

import (
	"context"
	"errors"
	"testing"

	"github.com/riftdata/pgflow/internal/substate"
	"github.com/riftdata/pgflow/internal/wire"
)

// fakeDataSource satisfies rowstream.DataSource for tests that need a
// stream created (BindComplete with RowDescription). It never touches a
// real socket; rows reach the stream through Conn.OnMessage(DataRow),
// which the tests call with decoded messages.
type fakeDataSource struct {
	requests int
	cancels  int
}

func (f *fakeDataSource) Request() { f.requests++ }
func (f *fakeDataSource) Cancel()  { f.cancels++ }

// handshake drives a Conn from Initial through ReadyForQuery using Trust
// auth (AuthenticationOK straight away), which is all these tests need
// to reach the states they exercise.
func handshake(t *testing.T, c *Conn) {
	t.Helper()
	if _, err := c.Connected(map[string]string{"user": "alice", "database": "postgres"}, false); err != nil {
		t.Fatalf("Connected: %v", err)
	}
	if _, err := c.OnMessage(wire.AuthenticationOK{}); err != nil {
		t.Fatalf("AuthenticationOK: %v", err)
	}
	if _, err := c.OnMessage(wire.BackendKeyData{PID: 1, SecretKey: 2}); err != nil {
		t.Fatalf("BackendKeyData: %v", err)
	}
	action, err := c.OnMessage(wire.ReadyForQuery{TxStatus: wire.TxStatusIdle})
	if err != nil {
		t.Fatalf("initial ReadyForQuery: %v", err)
	}
	if action.Kind != ActionFireReadyForQuery {
		t.Fatalf("expected ActionFireReadyForQuery, got %v", action.Kind)
	}
	if c.State() != StateReadyForQuery {
		t.Fatalf("expected StateReadyForQuery, got %v", c.State())
	}
}

// TestScenarioS1DeleteNoRows drives a DELETE through the full
// Parse/Describe/Bind/Execute/Sync round trip with no rows returned:
// NoData at describe time, then CommandComplete with a tag, settling
// the querySink with an already-finished stream (§3 lifecycle (b)).
func TestScenarioS1DeleteNoRows(t *testing.T) {
	c := New()
	handshake(t, c)

	task, sink := NewExtendedQueryTask("", "", "delete from widgets where id = $1", []wire.BindParameter{{Value: []byte{0, 0, 0, 1}}})
	action := c.Enqueue(task)
	if action.Kind != ActionSendBytes {
		t.Fatalf("expected ActionSendBytes dispatching task, got %v", action.Kind)
	}
	if c.State() != StateExtendedQuery {
		t.Fatalf("expected StateExtendedQuery, got %v", c.State())
	}

	mustWait(t, c, wire.ParseComplete{})
	mustWait(t, c, wire.ParameterDescription{Types: []uint32{23}})
	mustWait(t, c, wire.NoData{})

	a, err := c.OnMessage(wire.BindComplete{})
	if err != nil {
		t.Fatalf("BindComplete: %v", err)
	}
	if a.Kind != ActionWait {
		t.Fatalf("expected ActionWait after no-data BindComplete, got %v", a.Kind)
	}

	a, err = c.OnMessage(wire.CommandComplete{Tag: "DELETE 1"})
	if err != nil {
		t.Fatalf("CommandComplete: %v", err)
	}
	if a.Kind != ActionSucceedQueryNoRows {
		t.Fatalf("expected ActionSucceedQueryNoRows, got %v", a.Kind)
	}
	if a.Tag != "DELETE 1" {
		t.Fatalf("expected tag DELETE 1, got %q", a.Tag)
	}

	a, err = c.OnMessage(wire.ReadyForQuery{TxStatus: wire.TxStatusIdle})
	if err != nil {
		t.Fatalf("closing ReadyForQuery: %v", err)
	}
	if a.Kind != ActionFireReadyForQuery {
		t.Fatalf("expected ActionFireReadyForQuery, got %v", a.Kind)
	}
	if c.State() != StateReadyForQuery {
		t.Fatalf("expected StateReadyForQuery, got %v", c.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result, err := sink.Wait(ctx)
	if err != nil {
		t.Fatalf("sink.Wait: %v", err)
	}
	if row, err := result.Stream.Next(ctx); err != nil || row != nil {
		t.Fatalf("expected clean end of stream, got row=%v err=%v", row, err)
	}
	tag, err := result.Stream.CommandTag()
	if err != nil {
		t.Fatalf("CommandTag: %v", err)
	}
	if tag != "DELETE 1" {
		t.Fatalf("expected DELETE 1, got %q", tag)
	}
}

// TestScenarioS3UnexpectedMessageFailsQuery delivers a BindComplete
// before the server has even sent ParseComplete: a message the
// extended-query sub-SM recognizes but cannot accept in its current
// state. This must fail only the active query (ActionFailQuery,
// wrapping substate.ErrUnexpectedMessage) without putting the
// connection itself into the Error state — the sub-SM's own state
// check rejects it, not the top-level dispatcher.
func TestScenarioS3UnexpectedMessageFailsQuery(t *testing.T) {
	c := New()
	handshake(t, c)

	task, sink := NewExtendedQueryTask("", "", "select 1", nil)
	if a := c.Enqueue(task); a.Kind != ActionSendBytes {
		t.Fatalf("expected ActionSendBytes, got %v", a.Kind)
	}

	a, err := c.OnMessage(wire.BindComplete{})
	if err != nil {
		t.Fatalf("unexpected top-level error: %v", err)
	}
	if a.Kind != ActionFailQuery {
		t.Fatalf("expected ActionFailQuery, got %v", a.Kind)
	}
	if !errors.Is(a.Err, substate.ErrUnexpectedMessage) {
		t.Fatalf("expected substate.ErrUnexpectedMessage, got %T: %v", a.Err, a.Err)
	}
	if c.State() != StateExtendedQuery {
		t.Fatalf("connection should stay in StateExtendedQuery awaiting the server's ReadyForQuery, got %v", c.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := sink.Wait(ctx); err == nil {
		t.Fatalf("expected sink to fail")
	}

	// The server still owes us a ReadyForQuery for the failed round trip.
	a, err = c.OnMessage(wire.ReadyForQuery{TxStatus: wire.TxStatusIdle})
	if err != nil {
		t.Fatalf("closing ReadyForQuery: %v", err)
	}
	if a.Kind != ActionFireReadyForQuery {
		t.Fatalf("expected ActionFireReadyForQuery, got %v", a.Kind)
	}
}

// TestScenarioS5TLSRequiredServerRefuses covers the startup-phase TLS
// failure: requireTLS is set, the server answers 'N', and the
// connection must go fatal (ActionCloseConnection, CodeTLSRequired)
// with the socket-close flag set, without ever sending Startup.
func TestScenarioS5TLSRequiredServerRefuses(t *testing.T) {
	c := New()
	a, err := c.Connected(map[string]string{"user": "alice"}, true)
	if err != nil {
		t.Fatalf("Connected: %v", err)
	}
	if a.Kind != ActionSendSSLRequest {
		t.Fatalf("expected ActionSendSSLRequest, got %v", a.Kind)
	}
	if c.State() != StateSSLRequestSent {
		t.Fatalf("expected StateSSLRequestSent, got %v", c.State())
	}

	a, err = c.OnSSLResponse(false)
	if err == nil {
		t.Fatalf("expected an error from a refused TLS upgrade")
	}
	if a.Kind != ActionCloseConnection {
		t.Fatalf("expected ActionCloseConnection, got %v", a.Kind)
	}
	var perr *ProtocolError
	if !errors.As(a.Err, &perr) {
		t.Fatalf("expected *ProtocolError, got %T: %v", a.Err, a.Err)
	}
	if perr.Code != CodeTLSRequired {
		t.Fatalf("expected CodeTLSRequired, got %v", perr.Code)
	}
	if a.Cleanup == nil || !a.Cleanup.Close {
		t.Fatalf("expected Cleanup.Close = true, got %+v", a.Cleanup)
	}
	if c.State() != StateError {
		t.Fatalf("expected StateError, got %v", c.State())
	}
}

// TestScenarioS6PreparedReuseSkipsParseDescribe covers reusing an
// already-prepared, already-described statement: the task is built
// with ReuseDescribed set (as NewPreparedExecuteTask does), and
// dispatch must go straight to Bind/Execute/Sync, expecting
// BindComplete as the first backend message rather than ParseComplete.
func TestScenarioS6PreparedReuseSkipsParseDescribe(t *testing.T) {
	c := New()
	handshake(t, c)

	cols := []wire.FieldDescription{{Name: "id", DataTypeOID: 23}}
	task, sink := NewPreparedExecuteTask("stmt1", "", []wire.BindParameter{{Value: []byte{0, 0, 0, 7}}}, []uint32{23}, cols)
	ds := &fakeDataSource{}
	task.SetDataSource(ds)

	a := c.Enqueue(task)
	if a.Kind != ActionSendBytes {
		t.Fatalf("expected ActionSendBytes, got %v", a.Kind)
	}
	if c.State() != StateExtendedQuery {
		t.Fatalf("expected StateExtendedQuery, got %v", c.State())
	}

	a, err := c.OnMessage(wire.BindComplete{})
	if err != nil {
		t.Fatalf("BindComplete: %v", err)
	}
	if a.Kind != ActionSucceedQuery {
		t.Fatalf("expected ActionSucceedQuery straight from BindComplete, got %v", a.Kind)
	}

	a, err = c.OnMessage(wire.DataRow{Values: [][]byte{{0, 0, 0, 7}}})
	if err != nil {
		t.Fatalf("DataRow: %v", err)
	}
	if a.Kind != ActionForwardRows {
		t.Fatalf("expected ActionForwardRows, got %v", a.Kind)
	}

	a, err = c.OnMessage(wire.CommandComplete{Tag: "SELECT 1"})
	if err != nil {
		t.Fatalf("CommandComplete: %v", err)
	}
	if a.Kind != ActionForwardStreamComplete {
		t.Fatalf("expected ActionForwardStreamComplete, got %v", a.Kind)
	}

	if _, err := c.OnMessage(wire.ReadyForQuery{TxStatus: wire.TxStatusIdle}); err != nil {
		t.Fatalf("closing ReadyForQuery: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result, err := sink.Wait(ctx)
	if err != nil {
		t.Fatalf("sink.Wait: %v", err)
	}
	row, err := result.Stream.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if row == nil {
		t.Fatalf("expected a row")
	}
	if _, err := result.Stream.Next(ctx); err != nil {
		t.Fatalf("expected clean end of stream, got %v", err)
	}
}

func mustWait(t *testing.T, c *Conn, msg wire.BackendMessage) {
	t.Helper()
	a, err := c.OnMessage(msg)
	if err != nil {
		t.Fatalf("OnMessage(%T): %v", msg, err)
	}
	if a.Kind != ActionWait {
		t.Fatalf("OnMessage(%T): expected ActionWait, got %v", msg, a.Kind)
	}
}
