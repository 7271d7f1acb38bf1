// Package substate implements the two sub-state machines the
// Connection State Machine (internal/connsm) delegates into while a
// task is in flight: the Extended-Query sub-SM (§4.2) and the Close
// sub-SM (§4.3). Both are pure: they accept one backend message and
// return the next state plus the action(s) the caller should perform.
package substate

import (
	"fmt"

	"github.com/riftdata/pgflow/internal/wire"
)

// QueryKind distinguishes the outer state tags of the extended-query
// sub-machine (§3 Extended-Query Sub-State).
type QueryKind int

const (
	QueryInitial QueryKind = iota
	QueryPDBESSent
	QueryParseComplete
	QueryParamDescReceived
	QueryRowDescReceived
	QueryNoDataReceived
	QueryBindComplete
	QueryStreaming
	QueryDrain
	QueryCommandComplete
	QueryError
)

// QueryState is the extended-query sub-state machine's current state.
// Cols is set from RowDescriptionReceived onward (nil for NoData).
// Demand tracks whether the consumer has asked for more rows — it
// mirrors the Row-Batch Stream's own demand so read-pacing (§4.2) can
// be decided without reaching into the stream.
type QueryState struct {
	Kind         QueryKind
	ParamTypes   []uint32
	Cols         []wire.FieldDescription
	Demand       bool
	OutstandingRead bool
	Tag          string
	Err          error
}

// QueryAction is what the connection SM should do in response to a
// QueryState transition.
type QueryAction int

const (
	QueryActionNone QueryAction = iota
	QueryActionCreateStreamBindComplete   // BindComplete with RowDescription: create the Row-Batch Stream
	QueryActionCreateStreamBindCompleteNoData // BindComplete with NoData: no stream yet; the finished stream comes with CommandComplete
	QueryActionForwardRows
	QueryActionForwardStreamComplete
	QueryActionForwardStreamError
	QueryActionSucceedQueryNoRows
	QueryActionFailQuery
	QueryActionRequestRead   // ask the glue to re-enable socket reads (demand satisfied)
	QueryActionSuppressRead  // demand exhausted, do not request another read
	QueryActionComplete      // terminal, no further action needed beyond the outer ReadyForQuery wait
)

// NewQueryState begins a fresh extended-query sub-machine in the
// PDBES-sent state. The Bind+Execute+Sync-only round-trip for a
// previously-described prepared statement (§8 scenario S6) starts from
// NewReusedQueryState instead.
func NewQueryState() *QueryState {
	return &QueryState{Kind: QueryPDBESSent}
}

// NewReusedQueryState seeds a sub-machine for a Bind/Execute/Sync-only
// round-trip against an already-Parsed, already-Described prepared
// statement (§4.2 "SendBindExecuteSync (prepared reuse)", §8 scenario
// S6): no Parse/ParameterDescription/RowDescription messages are
// coming, so the machine starts already holding the previously-learned
// shape and waits directly for BindComplete.
func NewReusedQueryState(paramTypes []uint32, cols []wire.FieldDescription) *QueryState {
	if cols == nil {
		return &QueryState{Kind: QueryNoDataReceived, ParamTypes: paramTypes}
	}
	normalized := make([]wire.FieldDescription, len(cols))
	for i, f := range cols {
		f.Format = wire.FormatBinary
		normalized[i] = f
	}
	return &QueryState{Kind: QueryRowDescReceived, ParamTypes: paramTypes, Cols: normalized}
}

// OnParseComplete advances PDBES_Sent -> ParseComplete.
func (q *QueryState) OnParseComplete() (QueryAction, error) {
	if q.Kind != QueryPDBESSent {
		return q.fail(fmt.Errorf("%w: ParseComplete in state %v", ErrUnexpectedMessage, q.Kind))
	}
	q.Kind = QueryParseComplete
	return QueryActionNone, nil
}

// OnParameterDescription advances ParseComplete -> ParameterDescriptionReceived.
func (q *QueryState) OnParameterDescription(types []uint32) (QueryAction, error) {
	if q.Kind != QueryParseComplete && q.Kind != QueryPDBESSent {
		return q.fail(fmt.Errorf("%w: ParameterDescription in state %v", ErrUnexpectedMessage, q.Kind))
	}
	q.Kind = QueryParamDescReceived
	q.ParamTypes = types
	return QueryActionNone, nil
}

// OnRowDescription advances to RowDescriptionReceived. Per §4.2 every
// text-declared column format is rewritten to binary here, before the
// caller ever sees it — the codec decodes verbatim (internal/wire),
// this sub-SM is where the "client always requests binary" correction
// happens.
func (q *QueryState) OnRowDescription(fields []wire.FieldDescription) (QueryAction, error) {
	if q.Kind != QueryParamDescReceived && q.Kind != QueryPDBESSent {
		return q.fail(fmt.Errorf("%w: RowDescription in state %v", ErrUnexpectedMessage, q.Kind))
	}
	normalized := make([]wire.FieldDescription, len(fields))
	for i, f := range fields {
		f.Format = wire.FormatBinary
		normalized[i] = f
	}
	q.Kind = QueryRowDescReceived
	q.Cols = normalized
	return QueryActionNone, nil
}

// OnNoData advances to NoDataReceived (the query produces no rows,
// e.g. an UPDATE/DELETE/INSERT without RETURNING).
func (q *QueryState) OnNoData() (QueryAction, error) {
	if q.Kind != QueryParamDescReceived && q.Kind != QueryPDBESSent {
		return q.fail(fmt.Errorf("%w: NoData in state %v", ErrUnexpectedMessage, q.Kind))
	}
	q.Kind = QueryNoDataReceived
	return QueryActionNone, nil
}

// OnBindComplete advances RowDescriptionReceived/NoDataReceived ->
// BindComplete, and reports which of the two stream-creation actions
// the connection SM must perform.
func (q *QueryState) OnBindComplete() (QueryAction, error) {
	switch q.Kind {
	case QueryRowDescReceived:
		q.Kind = QueryStreaming
		q.Demand = true
		return QueryActionCreateStreamBindComplete, nil
	case QueryNoDataReceived:
		q.Kind = QueryBindComplete
		return QueryActionCreateStreamBindCompleteNoData, nil
	default:
		return q.fail(fmt.Errorf("%w: BindComplete in state %v", ErrUnexpectedMessage, q.Kind))
	}
}

// OnDataRow is called once per DataRow batch while Streaming.
func (q *QueryState) OnDataRow() (QueryAction, error) {
	if q.Kind != QueryStreaming {
		return q.fail(fmt.Errorf("%w: DataRow in state %v", ErrUnexpectedMessage, q.Kind))
	}
	q.OutstandingRead = false
	return QueryActionForwardRows, nil
}

// OnCommandComplete ends a query, whether rows were streamed
// (QueryActionForwardStreamComplete) or not (QueryActionSucceedQueryNoRows).
func (q *QueryState) OnCommandComplete(tag string) (QueryAction, error) {
	switch q.Kind {
	case QueryStreaming:
		q.Kind = QueryCommandComplete
		q.Tag = tag
		return QueryActionForwardStreamComplete, nil
	case QueryBindComplete:
		q.Kind = QueryCommandComplete
		q.Tag = tag
		return QueryActionSucceedQueryNoRows, nil
	default:
		return q.fail(fmt.Errorf("%w: CommandComplete in state %v", ErrUnexpectedMessage, q.Kind))
	}
}

// OnEmptyQuery treats an EmptyQueryResponse like a zero-row command
// complete with an empty tag — the server sends it instead of
// CommandComplete when the statement text was empty.
func (q *QueryState) OnEmptyQuery() (QueryAction, error) {
	return q.OnCommandComplete("")
}

// OnPortalSuspended is reachable only if a caller sets a row limit on
// Execute; pgflow's Execute always requests maxRows=0 (no limit, §6),
// so seeing this is always a protocol violation for this client.
func (q *QueryState) OnPortalSuspended() (QueryAction, error) {
	return q.fail(fmt.Errorf("%w: PortalSuspended (pgflow never limits Execute rows)", ErrUnexpectedMessage))
}

// OnError fails the query. Whether the caller already has a stream in
// hand determines whether the connection SM should emit FailQuery or
// ForwardStreamError (§4.2 Failures): OnError checks whether the state
// was Streaming, records the error, and returns the matching action,
// which the connection SM then carries out.
func (q *QueryState) OnError(err error) QueryAction {
	wasStreaming := q.Kind == QueryStreaming
	q.Kind = QueryError
	q.Err = err
	if wasStreaming {
		return QueryActionForwardStreamError
	}
	return QueryActionFailQuery
}

// SetDemand records the Row-Batch Stream's current demand signal and
// reports whether the connection SM should now request a socket read
// (demand just became true) or may safely withhold one (demand is
// satisfied / buffer still has rows, §5 backpressure, §8 invariant 5).
func (q *QueryState) SetDemand(want bool) QueryAction {
	q.Demand = want
	if !want {
		return QueryActionSuppressRead
	}
	if q.OutstandingRead {
		return QueryActionSuppressRead // already have one read in flight
	}
	q.OutstandingRead = true
	return QueryActionRequestRead
}

func (q *QueryState) fail(err error) (QueryAction, error) {
	q.Kind = QueryError
	q.Err = err
	return QueryActionFailQuery, err
}

func (k QueryKind) String() string {
	switch k {
	case QueryInitial:
		return "Initial"
	case QueryPDBESSent:
		return "ParseDescribeBindExecuteSyncSent"
	case QueryParseComplete:
		return "ParseComplete"
	case QueryParamDescReceived:
		return "ParameterDescriptionReceived"
	case QueryRowDescReceived:
		return "RowDescriptionReceived"
	case QueryNoDataReceived:
		return "NoDataReceived"
	case QueryBindComplete:
		return "BindComplete"
	case QueryStreaming:
		return "Streaming"
	case QueryDrain:
		return "Drain"
	case QueryCommandComplete:
		return "CommandComplete"
	case QueryError:
		return "Error"
	default:
		return "Unknown"
	}
}
