package connsm

import (
	"github.com/riftdata/pgflow/internal/substate"
	"github.com/riftdata/pgflow/internal/wire"
	"github.com/riftdata/pgflow/rowstream"
)

// TaskKind distinguishes the three task shapes in the Task Queue (§3).
type TaskKind int

const (
	TaskExtendedQuery TaskKind = iota
	TaskPrepareStatement
	TaskClose
)

// QueryResult is what an ExtendedQuery task's sink is settled with: a
// Row-Batch Stream the caller pulls rows from (empty/pre-finished when
// the query produced no rows, §3 lifecycle (b)).
type QueryResult struct {
	Stream *rowstream.Stream
}

// PrepareResult is what a PrepareStatement task's sink is settled with:
// the parameter types and row descriptor the server reported, so a
// later ExtendedQuery task can reuse them and skip Parse/Describe (S6).
type PrepareResult struct {
	ParamTypes []uint32
	Cols       []wire.FieldDescription
}

// Task is one Task Queue entry (§3 "Contexts"): inputs plus a
// caller-owned result sink, owned by the Connection SM from Enqueue
// until the sink is settled exactly once.
type Task struct {
	Kind TaskKind

	// ExtendedQuery / PrepareStatement inputs.
	StatementName  string // "" = unnamed statement
	PortalName     string // "" = unnamed portal
	Query          string
	Params         []wire.BindParameter
	ReuseDescribed bool                    // skip Parse/Describe; Describe already known (S6)
	KnownParamTypes []uint32
	KnownCols      []wire.FieldDescription

	// Close inputs.
	CloseTargetKind byte // wire.TargetPortal or wire.TargetStatement
	CloseTargetName string

	// Sub-state machines, created when the task is dispatched.
	query *substate.QueryState
	close *substate.CloseState

	// Exactly one of these is non-nil, matching Kind.
	querySink   *ResultSink[QueryResult]
	prepareSink *ResultSink[PrepareResult]
	closeSink   *ResultSink[struct{}]

	stream *rowstream.Stream // set once the sub-SM creates it
	source rowstream.DataSource // supplied by the glue before Enqueue; see SetDataSource
}

// SetDataSource attaches the channel glue's non-owning back-capability
// (§9 "Cyclic reference between Connection glue and Row-Batch Stream")
// that the Row-Batch Stream created for this task will call into to
// re-enable socket reads. Must be called before the task is enqueued.
func (t *Task) SetDataSource(ds rowstream.DataSource) { t.source = ds }

// NewExtendedQueryTask builds a task for one Parse/Describe/Bind/
// Execute/Sync round-trip against a fresh (unnamed or named)
// statement.
func NewExtendedQueryTask(statementName, portalName, query string, params []wire.BindParameter) (*Task, *ResultSink[QueryResult]) {
	sink := NewResultSink[QueryResult]()
	return &Task{
		Kind:          TaskExtendedQuery,
		StatementName: statementName,
		PortalName:    portalName,
		Query:         query,
		Params:        params,
		querySink:     sink,
	}, sink
}

// NewPreparedExecuteTask builds a task that reuses a previously
// prepared, previously described statement: Bind/Execute/Sync only,
// skipping Parse/Describe (§4.2 "Initial ... OR SendBindExecuteSync",
// §8 scenario S6).
func NewPreparedExecuteTask(statementName, portalName string, params []wire.BindParameter, paramTypes []uint32, cols []wire.FieldDescription) (*Task, *ResultSink[QueryResult]) {
	sink := NewResultSink[QueryResult]()
	return &Task{
		Kind:            TaskExtendedQuery,
		StatementName:   statementName,
		PortalName:      portalName,
		Params:          params,
		ReuseDescribed:  true,
		KnownParamTypes: paramTypes,
		KnownCols:       cols,
		querySink:       sink,
	}, sink
}

// NewPrepareStatementTask builds a task that runs Parse/Describe/Sync
// (no Bind/Execute) to learn a statement's parameter types and row
// descriptor ahead of later reuse.
func NewPrepareStatementTask(statementName, query string) (*Task, *ResultSink[PrepareResult]) {
	sink := NewResultSink[PrepareResult]()
	return &Task{
		Kind:          TaskPrepareStatement,
		StatementName: statementName,
		Query:         query,
		prepareSink:   sink,
	}, sink
}

// NewCloseTask builds a task that closes a portal or prepared
// statement (§4.3). targetKind must be wire.TargetPortal or
// wire.TargetStatement; any other mode fails synchronously per §4.1
// "close(mode:.all) is the only supported close mode".
func NewCloseTask(targetKind byte, targetName string) (*Task, *ResultSink[struct{}], error) {
	if targetKind != wire.TargetPortal && targetKind != wire.TargetStatement {
		return nil, nil, NewProtocolError(CodeOperationUnsupported, nil)
	}
	sink := NewResultSink[struct{}]()
	return &Task{
		Kind:            TaskClose,
		CloseTargetKind: targetKind,
		CloseTargetName: targetName,
		closeSink:       sink,
	}, sink, nil
}

// CleanUpContext (§4.1 "Error handling") lists every task the
// Connection SM must fail with the same error when it transitions to
// Error, plus whether the glue should close the socket or merely fire
// channel-inactive.
type CleanUpContext struct {
	Tasks []*Task
	Err   error
	Close bool
}

func (t *Task) failWith(err error) {
	switch t.Kind {
	case TaskExtendedQuery:
		t.querySink.Fail(err)
	case TaskPrepareStatement:
		t.prepareSink.Fail(err)
	case TaskClose:
		t.closeSink.Fail(err)
	}
}
