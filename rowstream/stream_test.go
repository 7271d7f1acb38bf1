package rowstream

import (
	"context"
	"errors"
	"testing"

	"github.com/riftdata/pgflow/internal/wire"
)

type fakeSource struct {
	requests int
	canceled bool
	onReq    func(reqNum int)
}

func (f *fakeSource) Request() {
	f.requests++
	if f.onReq != nil {
		f.onReq(f.requests)
	}
}

func (f *fakeSource) Cancel() { f.canceled = true }

func newCols() *Columns {
	return NewColumns([]wire.FieldDescription{{Name: "id"}})
}

// TestScenarioS2SingleRowSelect mirrors §8 scenario S2: one DataRow
// followed by CommandComplete, consumed with Next.
func TestScenarioS2SingleRowSelect(t *testing.T) {
	cols := newCols()
	var s *Stream
	src := &fakeSource{}
	src.onReq = func(n int) {
		if n == 1 {
			go func() {
				s.ReceiveRows([]Row{{cols: cols, Values: [][]byte{[]byte("1")}}})
			}()
		}
	}
	s = New(cols, src)

	ctx := context.Background()
	row, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if row == nil {
		t.Fatal("expected a row, got nil")
	}
	v, _ := row.At(0)
	if string(v) != "1" {
		t.Fatalf("value = %q, want %q", v, "1")
	}

	s.ReceiveComplete("SELECT 1", nil)

	row, err = s.Next(ctx)
	if err != nil {
		t.Fatalf("second Next: %v", err)
	}
	if row != nil {
		t.Fatalf("expected end of stream, got row %+v", row)
	}

	tag, err := s.CommandTag()
	if err != nil {
		t.Fatalf("CommandTag: %v", err)
	}
	if tag != "SELECT 1" {
		t.Fatalf("tag = %q, want %q", tag, "SELECT 1")
	}

	if _, err := s.Next(ctx); !errors.Is(err, ErrConsumed) {
		t.Fatalf("Next after consumed: err = %v, want ErrConsumed", err)
	}
}

// TestScenarioS4AllConcatenatesBatches mirrors §8 scenario S4: All()
// drains two DataRow batches, then the terminal CommandComplete. The
// source sees three read requests: All's own, exactly one between the
// two batches, and one after the second batch that lets
// CommandComplete arrive.
func TestScenarioS4AllConcatenatesBatches(t *testing.T) {
	cols := newCols()
	var s *Stream
	src := &fakeSource{}
	src.onReq = func(n int) {
		switch n {
		case 1:
			go func() {
				s.ReceiveRows([]Row{
					{cols: cols, Values: [][]byte{[]byte("1")}},
					{cols: cols, Values: [][]byte{[]byte("2")}},
				})
			}()
		case 2:
			go func() {
				s.ReceiveRows([]Row{{cols: cols, Values: [][]byte{[]byte("3")}}})
				s.ReceiveComplete("SELECT 3", nil)
			}()
		}
	}
	s = New(cols, src)

	rows, err := s.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
	if src.requests != 3 {
		t.Fatalf("requests = %d, want 3", src.requests)
	}
	for i, want := range []string{"1", "2", "3"} {
		v, _ := rows[i].At(0)
		if string(v) != want {
			t.Errorf("rows[%d] = %q, want %q", i, v, want)
		}
	}
}

// TestAllObservesPreexistingFailure resolves the open question: calling
// All() on a stream that failed before any consumer attached fails the
// call immediately and transitions the stream to Consumed.
func TestAllObservesPreexistingFailure(t *testing.T) {
	cols := newCols()
	src := &fakeSource{}
	s := New(cols, src)

	wantErr := errors.New("boom")
	s.ReceiveComplete("", wantErr)

	if _, err := s.All(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("All: err = %v, want %v", err, wantErr)
	}
	if src.requests != 0 {
		t.Fatalf("requests = %d, want 0 (failure observed before any request)", src.requests)
	}
	if _, err := s.All(context.Background()); !errors.Is(err, ErrConsumed) {
		t.Fatalf("second All: err = %v, want ErrConsumed", err)
	}
}

func TestNewFinishedNoRows(t *testing.T) {
	s := NewFinished("DELETE 1")
	row, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if row != nil {
		t.Fatalf("expected nil row, got %+v", row)
	}
	tag, err := s.CommandTag()
	if err != nil {
		t.Fatalf("CommandTag: %v", err)
	}
	if tag != "DELETE 1" {
		t.Fatalf("tag = %q, want %q", tag, "DELETE 1")
	}
}

func TestCancelForwardsWhileActive(t *testing.T) {
	cols := newCols()
	src := &fakeSource{}
	s := New(cols, src)
	s.Cancel()
	if !src.canceled {
		t.Fatal("expected Cancel to forward to the data source while streaming")
	}

	s2 := NewFinished("SELECT 0")
	src2 := &fakeSource{}
	s2.source = src2
	s2.Cancel()
	if src2.canceled {
		t.Fatal("Cancel should be a no-op once the stream is no longer Streaming")
	}
}
