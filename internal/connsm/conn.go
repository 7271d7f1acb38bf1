// Package connsm implements the Connection State Machine (§4.1): the
// top-level FSM that owns the socket's lifecycle from startup through
// authentication, task dispatch, extended-query/close sub-SM
// delegation, and error-driven teardown. It is pure — every mutation
// takes an event and returns the next Action; the channel glue (not
// this package) performs I/O.
package connsm

import (
	"bytes"
	"fmt"

	"github.com/riftdata/pgflow/internal/scram"
	"github.com/riftdata/pgflow/internal/substate"
	"github.com/riftdata/pgflow/internal/wire"
	"github.com/riftdata/pgflow/rowstream"
)

type StateKind int

const (
	StateInitial StateKind = iota
	StateSSLRequestSent
	StateSSLNegotiated
	StateWaitingForStartup
	StateAuthenticating
	StateBackendKeyDataReceived
	StateReadyForQuery
	StateExtendedQuery
	StateClose
	StateClosing
	StateClosed
	StateError
)

func (s StateKind) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateSSLRequestSent:
		return "SSLRequestSent"
	case StateSSLNegotiated:
		return "SSLNegotiated"
	case StateWaitingForStartup:
		return "WaitingForStartup"
	case StateAuthenticating:
		return "Authenticating"
	case StateBackendKeyDataReceived:
		return "BackendKeyDataReceived"
	case StateReadyForQuery:
		return "ReadyForQuery"
	case StateExtendedQuery:
		return "ExtendedQuery"
	case StateClose:
		return "Close"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// AuthContext carries what authentication needs beyond the startup
// parameters (§4.1 "Missing auth context -> emit ProvideAuthContext").
type AuthContext struct {
	Username string
	Password string
	Database string
}

// Conn is the Connection State Machine instance for one socket.
type Conn struct {
	state StateKind

	params     map[string]string
	requireTLS bool
	tlsBound   []byte // TLS channel-binding data once the handshake completes, nil if not bound

	authCtx *AuthContext
	scram   *scram.Client

	txState byte
	tasks   []*Task
	active  *Task

	// awaitingRFQ is true once the active sub-SM has reached a terminal
	// state (CommandComplete/CloseComplete/Error) but the server's own
	// ReadyForQuery confirming it hasn't arrived yet (§4.1 "Sub-SM
	// completion transitions back to ReadyForQuery (awaiting the
	// server's own ReadyForQuery to confirm)").
	awaitingRFQ bool

	err error
}

func New() *Conn {
	return &Conn{state: StateInitial}
}

func (c *Conn) State() StateKind { return c.state }

// Connected begins the startup sequence (§4.1 "connected(requireTLS)").
func (c *Conn) Connected(params map[string]string, requireTLS bool) (Action, error) {
	if c.state != StateInitial {
		return c.protocolError(fmt.Errorf("Connected called in state %v", c.state))
	}
	c.params = params
	c.requireTLS = requireTLS
	if requireTLS {
		c.state = StateSSLRequestSent
		return Action{Kind: ActionSendSSLRequest, Bytes: wire.EncodeSSLRequest()}, nil
	}
	c.state = StateWaitingForStartup
	return Action{Kind: ActionSendBytes, Bytes: wire.EncodeStartup(params)}, nil
}

// OnSSLResponse handles the untyped 'S'/'N' reply to SSLRequest.
func (c *Conn) OnSSLResponse(supported bool) (Action, error) {
	if c.state != StateSSLRequestSent {
		return c.protocolError(fmt.Errorf("SSL response in state %v", c.state))
	}
	if !supported {
		return c.fatal(CodeTLSRequired, fmt.Errorf("TLS required but server refused"), true)
	}
	c.state = StateSSLNegotiated
	return Action{Kind: ActionEstablishSSL}, nil
}

// OnTLSHandshakeComplete advances past a successfully negotiated TLS
// upgrade into the normal startup sequence.
func (c *Conn) OnTLSHandshakeComplete(bindingData []byte) (Action, error) {
	if c.state != StateSSLNegotiated {
		return c.protocolError(fmt.Errorf("TLS handshake complete in state %v", c.state))
	}
	c.tlsBound = bindingData
	c.state = StateWaitingForStartup
	return Action{Kind: ActionSendBytes, Bytes: wire.EncodeStartup(c.params)}, nil
}

// ProvideAuthContext supplies credentials after the SM requested them
// via ActionProvideAuthContext.
func (c *Conn) ProvideAuthContext(ctx *AuthContext) (Action, error) {
	c.authCtx = ctx
	return Action{Kind: ActionWait}, nil
}

// Enqueue appends a task to the Task Queue (§3), dispatching it
// immediately if the connection is idle at ReadyForQuery.
func (c *Conn) Enqueue(t *Task) Action {
	c.tasks = append(c.tasks, t)
	if c.state == StateReadyForQuery && c.active == nil {
		return c.dispatchNext()
	}
	return Action{Kind: ActionWait}
}

// SetDemand forwards the Row-Batch Stream's demand signal to the
// active query's read-pacing gate (§4.2 "Read pacing", §8 invariant 5).
func (c *Conn) SetDemand(want bool) Action {
	if c.active == nil || c.active.query == nil {
		return Action{Kind: ActionSuppressRead}
	}
	switch c.active.query.SetDemand(want) {
	case substate.QueryActionRequestRead:
		return Action{Kind: ActionRequestRead}
	default:
		return Action{Kind: ActionSuppressRead}
	}
}

// OnMessage is the central event dispatcher: every decoded backend
// message flows through here (§4.1).
func (c *Conn) OnMessage(msg wire.BackendMessage) (Action, error) {
	// Out-of-band messages can arrive between any two messages at any
	// stage (§5 "Notices and notifications ... delivered out of band
	// without affecting task ordering").
	switch m := msg.(type) {
	case wire.ParameterStatus:
		_ = m // stored by the glue/config layer; the SM only needs to not choke on it
		return Action{Kind: ActionWait}, nil
	case wire.NoticeResponse:
		return Action{Kind: ActionNotice, Err: NewServerError(m.Fields)}, nil
	case wire.NotificationResponse:
		return Action{Kind: ActionNotify, NotificationChan: m.Channel, NotificationBody: m.Payload, NotificationPID: m.PID}, nil
	}

	switch c.state {
	case StateWaitingForStartup, StateAuthenticating:
		return c.onAuthPhase(msg)
	case StateBackendKeyDataReceived:
		return c.onBackendKeyDataPhase(msg)
	case StateReadyForQuery:
		return c.onReadyForQueryPhase(msg)
	case StateExtendedQuery:
		return c.onExtendedQueryPhase(msg)
	case StateClose:
		return c.onClosePhase(msg)
	case StateClosing, StateClosed, StateError:
		return Action{Kind: ActionWait}, nil
	default:
		return c.protocolError(fmt.Errorf("message %T in state %v", msg, c.state))
	}
}

func (c *Conn) onAuthPhase(msg wire.BackendMessage) (Action, error) {
	switch m := msg.(type) {
	case wire.AuthenticationOK:
		c.state = StateBackendKeyDataReceived
		return Action{Kind: ActionWait}, nil
	case wire.AuthenticationCleartext:
		if c.authCtx == nil || c.authCtx.Password == "" {
			if c.authCtx == nil {
				return Action{Kind: ActionProvideAuthContext}, nil
			}
			return c.fatal(CodeAuthRequiresPassword, fmt.Errorf("cleartext auth requires a password"), true)
		}
		c.state = StateAuthenticating
		return Action{Kind: ActionSendBytes, Bytes: frame(wire.MsgPassword, wire.EncodePassword(c.authCtx.Password))}, nil
	case wire.AuthenticationMD5:
		if c.authCtx == nil {
			return Action{Kind: ActionProvideAuthContext}, nil
		}
		if c.authCtx.Password == "" {
			return c.fatal(CodeAuthRequiresPassword, fmt.Errorf("MD5 auth requires a password"), true)
		}
		hashed := wire.MD5Password(c.authCtx.Username, c.authCtx.Password, m.Salt)
		c.state = StateAuthenticating
		return Action{Kind: ActionSendBytes, Bytes: frame(wire.MsgPassword, wire.EncodePassword(hashed))}, nil
	case wire.AuthenticationSASL:
		if c.authCtx == nil {
			return Action{Kind: ActionProvideAuthContext}, nil
		}
		if c.authCtx.Password == "" {
			return c.fatal(CodeAuthRequiresPassword, fmt.Errorf("SASL auth requires a password"), true)
		}
		if !containsMechanism(m.Mechanisms, "SCRAM-SHA-256") {
			return c.fatal(CodeUnsupportedAuthMethod, fmt.Errorf("server offered %v, only SCRAM-SHA-256[-PLUS] supported", m.Mechanisms), true)
		}
		client, err := scram.NewClient(c.authCtx.Username, c.authCtx.Password, c.tlsBound)
		if err != nil {
			return c.fatal(CodeUnsupportedAuthMethod, err, true)
		}
		c.scram = client
		c.state = StateAuthenticating
		payload := wire.EncodeSASLInitialResponse(client.Mechanism(), client.FirstMessage())
		return Action{Kind: ActionSendBytes, Bytes: frame(wire.MsgPassword, payload)}, nil
	case wire.AuthenticationSASLContinue:
		if c.scram == nil {
			return c.protocolError(fmt.Errorf("SASLContinue without an active SCRAM client"))
		}
		resp, err := c.scram.ContinueResponse(m.Data)
		if err != nil {
			return c.fatal(CodeUnsupportedAuthMethod, err, true)
		}
		return Action{Kind: ActionSendBytes, Bytes: frame(wire.MsgPassword, wire.EncodeSASLResponse(resp))}, nil
	case wire.AuthenticationSASLFinal:
		if c.scram == nil {
			return c.protocolError(fmt.Errorf("SASLFinal without an active SCRAM client"))
		}
		if err := c.scram.Finish(m.Data); err != nil {
			return c.fatal(CodeUnsupportedAuthMethod, err, true)
		}
		return Action{Kind: ActionWait}, nil
	case wire.ErrorResponse:
		return c.fatal(CodeUnexpectedMessage, NewServerError(m.Fields), true)
	default:
		return c.protocolError(fmt.Errorf("unexpected message %T during authentication", msg))
	}
}

func (c *Conn) onBackendKeyDataPhase(msg wire.BackendMessage) (Action, error) {
	switch m := msg.(type) {
	case wire.BackendKeyData:
		_ = m
		return Action{Kind: ActionWait}, nil
	case wire.ReadyForQuery:
		c.txState = m.TxStatus
		c.state = StateReadyForQuery
		if len(c.tasks) == 0 {
			return Action{Kind: ActionFireReadyForQuery, TxState: c.txState}, nil
		}
		return c.dispatchNext(), nil
	case wire.ErrorResponse:
		return c.fatal(CodeUnexpectedMessage, NewServerError(m.Fields), true)
	default:
		return c.protocolError(fmt.Errorf("unexpected message %T awaiting BackendKeyData", msg))
	}
}

func (c *Conn) onReadyForQueryPhase(msg wire.BackendMessage) (Action, error) {
	switch m := msg.(type) {
	case wire.ErrorResponse:
		return c.fatal(CodeUnexpectedMessage, NewServerError(m.Fields), true)
	default:
		return c.protocolError(fmt.Errorf("unexpected message %T while idle at ReadyForQuery", msg))
	}
}

// dispatchNext pops the head task and sends its opening frame.
func (c *Conn) dispatchNext() Action {
	t := c.tasks[0]
	c.tasks = c.tasks[1:]
	c.active = t
	c.awaitingRFQ = false

	switch t.Kind {
	case TaskExtendedQuery:
		c.state = StateExtendedQuery
		if t.ReuseDescribed {
			t.query = substate.NewReusedQueryState(t.KnownParamTypes, t.KnownCols)
			return Action{Kind: ActionSendBytes, Bytes: bindExecuteSyncFrame(t)}
		}
		t.query = substate.NewQueryState()
		return Action{Kind: ActionSendBytes, Bytes: parseDescribeBindExecuteSyncFrame(t)}
	case TaskPrepareStatement:
		c.state = StateExtendedQuery
		t.query = substate.NewQueryState()
		return Action{Kind: ActionSendBytes, Bytes: parseDescribeSyncFrame(t)}
	case TaskClose:
		c.state = StateClose
		t.close = substate.NewCloseState()
		return Action{Kind: ActionSendBytes, Bytes: closeSyncFrame(t)}
	default:
		return Action{Kind: ActionWait}
	}
}

func (c *Conn) onExtendedQueryPhase(msg wire.BackendMessage) (Action, error) {
	t := c.active
	if t == nil || t.query == nil {
		return c.protocolError(fmt.Errorf("message %T with no active extended-query task", msg))
	}
	q := t.query

	switch m := msg.(type) {
	case wire.ParseComplete:
		if _, err := q.OnParseComplete(); err != nil {
			return c.failActiveQuery(err)
		}
		return Action{Kind: ActionWait}, nil

	case wire.ParameterDescription:
		if _, err := q.OnParameterDescription(m.Types); err != nil {
			return c.failActiveQuery(err)
		}
		return Action{Kind: ActionWait}, nil

	case wire.RowDescription:
		if _, err := q.OnRowDescription(m.Fields); err != nil {
			return c.failActiveQuery(err)
		}
		if t.Kind == TaskPrepareStatement {
			return c.succeedPrepare(t), nil
		}
		return Action{Kind: ActionWait}, nil

	case wire.NoData:
		if _, err := q.OnNoData(); err != nil {
			return c.failActiveQuery(err)
		}
		if t.Kind == TaskPrepareStatement {
			return c.succeedPrepare(t), nil
		}
		return Action{Kind: ActionWait}, nil

	case wire.BindComplete:
		action, err := q.OnBindComplete()
		if err != nil {
			return c.failActiveQuery(err)
		}
		switch action {
		case substate.QueryActionCreateStreamBindComplete:
			stream := rowstream.New(rowstream.NewColumns(q.Cols), t.source)
			t.stream = stream
			t.querySink.Succeed(QueryResult{Stream: stream})
			return Action{Kind: ActionSucceedQuery, Task: t, Cols: q.Cols}, nil
		case substate.QueryActionCreateStreamBindCompleteNoData:
			return Action{Kind: ActionWait}, nil
		default:
			return c.protocolError(fmt.Errorf("unexpected BindComplete action %v", action))
		}

	case wire.DataRow:
		if _, err := q.OnDataRow(); err != nil {
			return c.failActiveQuery(err)
		}
		row := rowstream.NewRow(t.stream.Columns(), m.Values)
		t.stream.ReceiveRows([]rowstream.Row{row})
		return Action{Kind: ActionForwardRows, Task: t}, nil

	case wire.EmptyQueryResponse:
		action, err := q.OnEmptyQuery()
		if err != nil {
			return c.failActiveQuery(err)
		}
		return c.completeQuery(t, action, "")

	case wire.CommandComplete:
		action, err := q.OnCommandComplete(m.Tag)
		if err != nil {
			return c.failActiveQuery(err)
		}
		return c.completeQuery(t, action, m.Tag)

	case wire.PortalSuspended:
		if _, err := q.OnPortalSuspended(); err != nil {
			return c.failActiveQuery(err)
		}
		return Action{Kind: ActionWait}, nil

	case wire.ErrorResponse:
		serr := NewServerError(m.Fields)
		action := q.OnError(serr)
		return c.failActiveQueryWithAction(action, serr)

	case wire.ReadyForQuery:
		return c.onReadyForQueryAfterSubSM(m.TxStatus)

	default:
		return c.protocolError(fmt.Errorf("unexpected message %T during extended query", msg))
	}
}

func (c *Conn) succeedPrepare(t *Task) Action {
	c.awaitingRFQ = true
	t.prepareSink.Succeed(PrepareResult{ParamTypes: t.query.ParamTypes, Cols: t.query.Cols})
	return Action{Kind: ActionSucceedPrepare, Task: t, Cols: t.query.Cols}
}

// completeQuery settles the task's outcome directly: the no-rows case
// settles querySink with a synthesized already-finished stream (§3
// lifecycle (b)); the streaming case pushes the terminal completion
// into the stream the caller already received at BindComplete.
func (c *Conn) completeQuery(t *Task, action substate.QueryAction, tag string) (Action, error) {
	c.awaitingRFQ = true
	switch action {
	case substate.QueryActionSucceedQueryNoRows:
		t.querySink.Succeed(QueryResult{Stream: rowstream.NewFinished(tag)})
		return Action{Kind: ActionSucceedQueryNoRows, Task: t, Tag: tag}, nil
	case substate.QueryActionForwardStreamComplete:
		t.stream.ReceiveComplete(tag, nil)
		return Action{Kind: ActionForwardStreamComplete, Task: t, Tag: tag}, nil
	default:
		return c.protocolError(fmt.Errorf("unexpected completion action %v", action))
	}
}

func (c *Conn) failActiveQuery(err error) (Action, error) {
	action := c.active.query.OnError(err)
	return c.failActiveQueryWithAction(action, err)
}

// failActiveQueryWithAction settles the active task's outcome on
// failure. If the stream was already handed to the caller
// (QueryActionForwardStreamError), the error flows into the stream;
// otherwise the querySink itself is failed directly (§4.2 Failures).
// Either way this is a query-level failure, not a connection-fatal
// one: the connection SM stays out of the Error state and continues
// toward the server's ReadyForQuery.
func (c *Conn) failActiveQueryWithAction(action substate.QueryAction, err error) (Action, error) {
	c.awaitingRFQ = true
	t := c.active
	switch action {
	case substate.QueryActionForwardStreamError:
		t.stream.ReceiveComplete("", err)
		return Action{Kind: ActionForwardStreamError, Task: t, Err: err}, nil
	default:
		t.failWith(err)
		return Action{Kind: ActionFailQuery, Task: t, Err: err}, nil
	}
}

func (c *Conn) onClosePhase(msg wire.BackendMessage) (Action, error) {
	t := c.active
	if t == nil || t.close == nil {
		return c.protocolError(fmt.Errorf("message %T with no active close task", msg))
	}
	switch m := msg.(type) {
	case wire.CloseComplete:
		c.awaitingRFQ = true
		_, err := t.close.OnCloseComplete()
		if err != nil {
			t.failWith(err)
			return Action{Kind: ActionFailClose, Task: t, Err: err}, nil
		}
		t.closeSink.Succeed(struct{}{})
		return Action{Kind: ActionSucceedClose, Task: t}, nil
	case wire.ErrorResponse:
		serr := NewServerError(m.Fields)
		t.close.OnError(serr)
		t.failWith(serr)
		c.awaitingRFQ = true
		return Action{Kind: ActionFailClose, Task: t, Err: serr}, nil
	case wire.ReadyForQuery:
		return c.onReadyForQueryAfterSubSM(m.TxStatus)
	default:
		return c.protocolError(fmt.Errorf("unexpected message %T during close", msg))
	}
}

// onReadyForQueryAfterSubSM is reached when the server's ReadyForQuery
// arrives confirming a just-completed sub-SM (§4.1 "Sub-SM completion
// transitions back to ReadyForQuery (awaiting the server's own
// ReadyForQuery to confirm)").
func (c *Conn) onReadyForQueryAfterSubSM(txState byte) (Action, error) {
	if !c.awaitingRFQ {
		return c.protocolError(fmt.Errorf("unexpected ReadyForQuery: active sub-SM not yet terminal"))
	}
	c.txState = txState
	c.active = nil
	c.awaitingRFQ = false
	c.state = StateReadyForQuery
	if len(c.tasks) == 0 {
		return Action{Kind: ActionFireReadyForQuery, TxState: txState}, nil
	}
	return c.dispatchNext(), nil
}

// protocolError produces the §4.1 "Error handling" transition: Error
// state, CloseConnection with a CleanUpContext failing every queued
// task (plus the active one) with the same error, terminal thereafter.
func (c *Conn) protocolError(cause error) (Action, error) {
	return c.fatal(CodeUnexpectedMessage, cause, true)
}

func (c *Conn) fatal(code Code, cause error, closeSocket bool) (Action, error) {
	err := NewProtocolError(code, cause)
	c.state = StateError
	c.err = err

	all := c.tasks
	if c.active != nil {
		all = append([]*Task{c.active}, all...)
	}
	for _, t := range all {
		// A task whose stream was already handed to the caller has its
		// querySink settled; the error must flow through the stream
		// instead, or this would violate the settled-exactly-once
		// invariant (§8 invariant 1).
		if t.stream != nil {
			t.stream.ReceiveComplete("", err)
			continue
		}
		t.failWith(err)
	}
	c.tasks = nil
	c.active = nil

	return Action{
		Kind: ActionCloseConnection,
		Err:  err,
		Cleanup: &CleanUpContext{
			Tasks: all,
			Err:   err,
			Close: closeSocket,
		},
	}, err
}

func containsMechanism(mechs []string, want string) bool {
	for _, m := range mechs {
		if m == want {
			return true
		}
	}
	return false
}

func frame(msgType byte, payload []byte) []byte {
	var buf bytes.Buffer
	_ = wire.WriteMessage(&buf, msgType, payload)
	return buf.Bytes()
}

func parseDescribeBindExecuteSyncFrame(t *Task) []byte {
	var buf bytes.Buffer
	_ = wire.WriteMessage(&buf, wire.MsgParse, wire.EncodeParse(t.StatementName, t.Query, nil))
	_ = wire.WriteMessage(&buf, wire.MsgDescribe, wire.EncodeDescribe(wire.TargetStatement, t.StatementName))
	_ = wire.WriteMessage(&buf, wire.MsgBind, wire.EncodeBind(t.PortalName, t.StatementName, t.Params))
	_ = wire.WriteMessage(&buf, wire.MsgExecute, wire.EncodeExecute(t.PortalName, 0))
	_ = wire.WriteMessage(&buf, wire.MsgSync, wire.EncodeSync())
	return buf.Bytes()
}

func parseDescribeSyncFrame(t *Task) []byte {
	var buf bytes.Buffer
	_ = wire.WriteMessage(&buf, wire.MsgParse, wire.EncodeParse(t.StatementName, t.Query, nil))
	_ = wire.WriteMessage(&buf, wire.MsgDescribe, wire.EncodeDescribe(wire.TargetStatement, t.StatementName))
	_ = wire.WriteMessage(&buf, wire.MsgSync, wire.EncodeSync())
	return buf.Bytes()
}

func bindExecuteSyncFrame(t *Task) []byte {
	var buf bytes.Buffer
	_ = wire.WriteMessage(&buf, wire.MsgBind, wire.EncodeBind(t.PortalName, t.StatementName, t.Params))
	_ = wire.WriteMessage(&buf, wire.MsgExecute, wire.EncodeExecute(t.PortalName, 0))
	_ = wire.WriteMessage(&buf, wire.MsgSync, wire.EncodeSync())
	return buf.Bytes()
}

func closeSyncFrame(t *Task) []byte {
	var buf bytes.Buffer
	_ = wire.WriteMessage(&buf, wire.MsgClose, wire.EncodeClose(t.CloseTargetKind, t.CloseTargetName))
	_ = wire.WriteMessage(&buf, wire.MsgSync, wire.EncodeSync())
	return buf.Bytes()
}
