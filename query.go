package pgflow

import (
	"context"
	"fmt"

	"github.com/riftdata/pgflow/internal/connsm"
	"github.com/riftdata/pgflow/internal/pgtype"
	"github.com/riftdata/pgflow/internal/sqltext"
	"github.com/riftdata/pgflow/internal/wire"
	"github.com/riftdata/pgflow/rowstream"
)

// taskDataSource is the non-owning back-capability (§9) a Row-Batch
// Stream holds on the connection: Request re-enables exactly one more
// socket read by raising the active query's demand; Cancel lowers it
// again. Neither blocks on network I/O — both just hand a command to
// the actor.
type taskDataSource struct {
	c *Client
}

func (d *taskDataSource) Request() { d.c.sendCmd(actorCmd{kind: cmdSetDemand, demand: true}) }
func (d *taskDataSource) Cancel()  { d.c.sendCmd(actorCmd{kind: cmdSetDemand, demand: false}) }

// PreparedStatement is the result of Prepare: a named statement whose
// parameter types and row descriptor the server has already reported,
// so later Bind calls can skip Parse/Describe (§4.2, §8 scenario S6).
type PreparedStatement struct {
	name       string
	paramTypes []uint32
	cols       []wire.FieldDescription
}

func (p *PreparedStatement) Name() string                        { return p.name }
func (p *PreparedStatement) Columns() []wire.FieldDescription    { return p.cols }
func (p *PreparedStatement) ParamTypes() []uint32                { return p.paramTypes }

// Query runs sql as a fresh (unnamed) extended-query cycle and
// returns a Row-Batch Stream to pull results from. args are encoded
// with pgtype.Encode; pass already-built wire.BindParameter values via
// QueryParams instead if a type has no pgtype codec.
func (c *Client) Query(ctx context.Context, sql string, args ...any) (*rowstream.Stream, error) {
	params, err := encodeParams(args)
	if err != nil {
		return nil, err
	}
	return c.queryParams(ctx, sql, params)
}

// QueryParams is Query without the pgtype.Encode step, for callers
// that already have wire.BindParameter values.
func (c *Client) QueryParams(ctx context.Context, sql string, params []wire.BindParameter) (*rowstream.Stream, error) {
	return c.queryParams(ctx, sql, params)
}

func (c *Client) queryParams(ctx context.Context, sql string, params []wire.BindParameter) (*rowstream.Stream, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}
	if _, err := sqltext.Validate(sql, len(params)); err != nil {
		return nil, err
	}
	task, sink := connsm.NewExtendedQueryTask("", "", sql, params)
	task.SetDataSource(&taskDataSource{c: c})
	if !c.sendCmd(actorCmd{kind: cmdEnqueue, task: task}) {
		return nil, ErrClosed
	}
	result, err := sink.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return result.Stream, nil
}

// Prepare parses and describes sql under name, without binding or
// executing it, so its parameter types and row shape are known ahead
// of later Execute calls.
func (c *Client) Prepare(ctx context.Context, name, sql string) (*PreparedStatement, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}
	if _, err := sqltext.Analyze(sql); err != nil {
		return nil, err
	}
	task, sink := connsm.NewPrepareStatementTask(name, sql)
	if !c.sendCmd(actorCmd{kind: cmdEnqueue, task: task}) {
		return nil, ErrClosed
	}
	result, err := sink.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return &PreparedStatement{name: name, paramTypes: result.ParamTypes, cols: result.Cols}, nil
}

// Execute binds and runs a statement Prepare already described,
// skipping Parse/Describe (§8 scenario S6).
func (c *Client) Execute(ctx context.Context, stmt *PreparedStatement, args ...any) (*rowstream.Stream, error) {
	params, err := encodeParams(args)
	if err != nil {
		return nil, err
	}
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}
	if err := connsm.CheckParamCount(len(params)); err != nil {
		return nil, err
	}
	task, sink := connsm.NewPreparedExecuteTask(stmt.name, "", params, stmt.paramTypes, stmt.cols)
	task.SetDataSource(&taskDataSource{c: c})
	if !c.sendCmd(actorCmd{kind: cmdEnqueue, task: task}) {
		return nil, ErrClosed
	}
	result, err := sink.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return result.Stream, nil
}

// ClosePortal and CloseStatement are the only two supported Close
// targets (§4.1 "close(mode:.all) is the only supported close mode"
// is rejected synchronously by connsm.NewCloseTask).
func (c *Client) ClosePortal(ctx context.Context, name string) error {
	return c.closeTarget(ctx, wire.TargetPortal, name)
}

func (c *Client) CloseStatement(ctx context.Context, name string) error {
	return c.closeTarget(ctx, wire.TargetStatement, name)
}

func (c *Client) closeTarget(ctx context.Context, kind byte, name string) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	task, sink, err := connsm.NewCloseTask(kind, name)
	if err != nil {
		return err
	}
	if !c.sendCmd(actorCmd{kind: cmdEnqueue, task: task}) {
		return ErrClosed
	}
	_, err = sink.Wait(ctx)
	return err
}

func encodeParams(args []any) ([]wire.BindParameter, error) {
	if err := connsm.CheckParamCount(len(args)); err != nil {
		return nil, err
	}
	params := make([]wire.BindParameter, len(args))
	for i, a := range args {
		p, err := pgtype.Encode(a)
		if err != nil {
			return nil, fmt.Errorf("pgflow: encoding parameter %d: %w", i, err)
		}
		params[i] = p
	}
	return params, nil
}
