package rowstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DataSource is the narrow back-capability a Stream holds on its
// producer (the channel glue, §4.1/§9): Request asks for the next
// batch of rows (re-enabling a socket read), Cancel abandons the
// stream early. It is non-owning — the glue outlives the stream, not
// the other way around.
type DataSource interface {
	Request()
	Cancel()
}

// ErrConsumed is returned (wrapped) by Next and All when called on a
// Stream that has already reached its terminal Consumed state (§3
// invariant iv: a programmer error, surfaced as an error rather than a
// panic so a misbehaving caller can't take the whole process down).
var ErrConsumed = errors.New("rowstream: stream already consumed")

type upstreamKind int

const (
	upstreamStreaming upstreamKind = iota
	upstreamFinished
	upstreamFailure
	upstreamConsumed
)

type downstreamKind int

const (
	downstreamIdle downstreamKind = iota // "Consuming" in §3 — no promise outstanding
	downstreamWaitingForNext
	downstreamWaitingForAll
)

// Stream is the Row-Batch Stream. It is safe for the producer side
// (Receive*, called from the connection's actor goroutine) and the
// consumer side (Next/All/OnRow/Cancel, called from the caller's
// goroutine) to run concurrently; both are serialized on mu, matching
// §5's "both serialized on the event loop, so no locks are needed" —
// Go has no event loop primitive to piggyback on, so a mutex plays
// that role here, and `modifying` plays the role of the Modifying
// marker described in §9: an assertion barrier, not a correctness
// mechanism the locking already provides.
type Stream struct {
	mu sync.Mutex

	upstream   upstreamKind
	modifying  bool
	buf        []Row
	source     DataSource
	finishErr  error
	tag        string
	cols       *Columns

	downstream downstreamKind
	nextCh     chan nextResult
	allCh      chan allResult

	consumedResult string // commandTag, valid once upstream==upstreamConsumed after a success
}

type nextResult struct {
	row *Row
	err error
}

type allResult struct {
	rows []Row
	err  error
}

// New creates a Stream already in Streaming state, as happens at
// BindComplete when a RowDescription preceded it (§3 lifecycle (b)).
func New(cols *Columns, source DataSource) *Stream {
	return &Stream{upstream: upstreamStreaming, cols: cols, source: source, downstream: downstreamIdle}
}

// NewFinished synthesizes an already-finished stream for the
// "no rows coming" case (NoData -> BindComplete -> CommandComplete
// with no DataRow ever sent, §3 lifecycle (b), §8 scenario S1).
func NewFinished(tag string) *Stream {
	return &Stream{upstream: upstreamFinished, tag: tag, downstream: downstreamIdle}
}

func (s *Stream) enter() {
	if s.modifying {
		panic("rowstream: re-entrant access while Stream is Modifying")
	}
	s.modifying = true
}

func (s *Stream) leave() {
	s.modifying = false
}

// Next pulls the next row. It returns (nil, nil) on clean end of
// stream, (nil, err) if the stream ended in error, or the row.
func (s *Stream) Next(ctx context.Context) (*Row, error) {
	s.mu.Lock()
	if s.upstream == upstreamConsumed {
		s.mu.Unlock()
		return nil, fmt.Errorf("rowstream: Next: %w", ErrConsumed)
	}
	s.enter()

	if len(s.buf) > 0 {
		row := s.buf[0]
		s.buf = s.buf[1:]
		s.leave()
		s.mu.Unlock()
		return &row, nil
	}

	switch s.upstream {
	case upstreamFinished:
		s.upstream = upstreamConsumed
		s.consumedResult = s.tag
		s.leave()
		s.mu.Unlock()
		return nil, nil
	case upstreamFailure:
		err := s.finishErr
		s.upstream = upstreamConsumed
		s.leave()
		s.mu.Unlock()
		return nil, err
	}

	// Streaming with an empty buffer: park a promise and ask for more.
	ch := make(chan nextResult, 1)
	s.nextCh = ch
	s.downstream = downstreamWaitingForNext
	source := s.source
	s.leave()
	s.mu.Unlock()

	source.Request()

	select {
	case res := <-ch:
		return res.row, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// All consumes the entire stream and returns every remaining row.
func (s *Stream) All(ctx context.Context) ([]Row, error) {
	s.mu.Lock()
	if s.upstream == upstreamConsumed {
		s.mu.Unlock()
		return nil, fmt.Errorf("rowstream: All: %w", ErrConsumed)
	}
	s.enter()

	switch s.upstream {
	case upstreamFinished:
		rows := s.buf
		s.buf = nil
		s.upstream = upstreamConsumed
		s.consumedResult = s.tag
		s.leave()
		s.mu.Unlock()
		return rows, nil
	case upstreamFailure:
		// §9 open question: fail the future with the stored error and
		// transition to Consumed.
		err := s.finishErr
		s.upstream = upstreamConsumed
		s.leave()
		s.mu.Unlock()
		return nil, err
	}

	ch := make(chan allResult, 1)
	s.allCh = ch
	s.downstream = downstreamWaitingForAll
	source := s.source
	s.leave()
	s.mu.Unlock()

	source.Request()

	select {
	case res := <-ch:
		return res.rows, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnRow is an iterative consumer: it chains Next calls, invoking fn
// per row, stopping at the first error (from fn or from the stream)
// or at clean end of stream.
func (s *Stream) OnRow(ctx context.Context, fn func(Row) error) error {
	for {
		row, err := s.Next(ctx)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
		if err := fn(*row); err != nil {
			return err
		}
	}
}

// CommandTag is valid only after the stream has been fully consumed
// successfully (§4.4 "precondition-checked accessor").
func (s *Stream) CommandTag() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upstream != upstreamConsumed {
		return "", fmt.Errorf("rowstream: CommandTag called before the stream was fully consumed")
	}
	return s.consumedResult, nil
}

// Cancel forwards to the data source if the stream is still active;
// it is a no-op once terminal (§8 round-trip property).
func (s *Stream) Cancel() {
	s.mu.Lock()
	active := s.upstream == upstreamStreaming
	source := s.source
	s.mu.Unlock()
	if active && source != nil {
		source.Cancel()
	}
}

// --- Producer side: called by the channel glue from the connection's actor goroutine ---

// ReceiveRows is called when a batch of DataRow messages arrives.
func (s *Stream) ReceiveRows(rows []Row) {
	s.mu.Lock()
	s.enter()

	switch s.downstream {
	case downstreamWaitingForNext:
		if len(rows) == 0 {
			s.leave()
			s.mu.Unlock()
			return
		}
		first := rows[0]
		rest := rows[1:]
		s.buf = append(s.buf, rest...)
		ch := s.nextCh
		s.nextCh = nil
		s.downstream = downstreamIdle
		s.leave()
		s.mu.Unlock()
		ch <- nextResult{row: &first}
	case downstreamWaitingForAll:
		s.buf = append(s.buf, rows...)
		source := s.source
		s.leave()
		s.mu.Unlock()
		source.Request()
	default: // downstreamIdle ("Consuming")
		s.buf = append(s.buf, rows...)
		s.leave()
		s.mu.Unlock()
	}
}

// ReceiveComplete is called once the extended-query sub-SM reaches a
// terminal state (CommandComplete or Error) for this stream.
func (s *Stream) ReceiveComplete(tag string, err error) {
	s.mu.Lock()
	s.enter()

	switch s.downstream {
	case downstreamWaitingForNext:
		ch := s.nextCh
		s.nextCh = nil
		s.downstream = downstreamIdle
		if err != nil {
			s.upstream = upstreamConsumed
			s.leave()
			s.mu.Unlock()
			ch <- nextResult{err: err}
			return
		}
		s.upstream = upstreamConsumed
		s.consumedResult = tag
		s.leave()
		s.mu.Unlock()
		ch <- nextResult{}
	case downstreamWaitingForAll:
		ch := s.allCh
		s.allCh = nil
		s.downstream = downstreamIdle
		rows := s.buf
		s.buf = nil
		s.upstream = upstreamConsumed
		if err == nil {
			s.consumedResult = tag
		}
		s.leave()
		s.mu.Unlock()
		ch <- allResult{rows: rows, err: err}
	default: // downstreamIdle: leave the result for the next Next()/All() call to drain
		if err != nil {
			s.upstream = upstreamFailure
			s.finishErr = err
		} else {
			s.upstream = upstreamFinished
			s.tag = tag
		}
		s.leave()
		s.mu.Unlock()
	}
}

func (s *Stream) Columns() *Columns {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols
}
