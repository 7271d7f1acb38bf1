package substate

import (
	"testing"

	"github.com/riftdata/pgflow/internal/wire"
)

// TestScenarioS1 mirrors §8 scenario S1: DELETE FROM t WHERE id=$1,
// ParseComplete, ParameterDescription([int8]), NoData, BindComplete,
// CommandComplete("DELETE 1").
func TestScenarioS1(t *testing.T) {
	q := NewQueryState()

	if _, err := q.OnParseComplete(); err != nil {
		t.Fatalf("OnParseComplete: %v", err)
	}
	if _, err := q.OnParameterDescription([]uint32{20}); err != nil {
		t.Fatalf("OnParameterDescription: %v", err)
	}
	if _, err := q.OnNoData(); err != nil {
		t.Fatalf("OnNoData: %v", err)
	}
	action, err := q.OnBindComplete()
	if err != nil {
		t.Fatalf("OnBindComplete: %v", err)
	}
	if action != QueryActionCreateStreamBindCompleteNoData {
		t.Fatalf("action = %v, want QueryActionCreateStreamBindCompleteNoData", action)
	}
	action, err = q.OnCommandComplete("DELETE 1")
	if err != nil {
		t.Fatalf("OnCommandComplete: %v", err)
	}
	if action != QueryActionSucceedQueryNoRows {
		t.Fatalf("action = %v, want QueryActionSucceedQueryNoRows", action)
	}
	if q.Tag != "DELETE 1" {
		t.Errorf("Tag = %q, want %q", q.Tag, "DELETE 1")
	}
}

// TestScenarioS2RowFormatRewrite mirrors §8 scenario S2: a text-declared
// RowDescription column must present as binary to the caller.
func TestScenarioS2RowFormatRewrite(t *testing.T) {
	q := NewQueryState()
	_, _ = q.OnParseComplete()
	_, _ = q.OnParameterDescription(nil)

	fields := []wire.FieldDescription{{Name: "version", DataTypeOID: 25, Format: wire.FormatText}}
	if _, err := q.OnRowDescription(fields); err != nil {
		t.Fatalf("OnRowDescription: %v", err)
	}
	if q.Cols[0].Format != wire.FormatBinary {
		t.Fatalf("Cols[0].Format = %d, want FormatBinary", q.Cols[0].Format)
	}

	action, err := q.OnBindComplete()
	if err != nil {
		t.Fatalf("OnBindComplete: %v", err)
	}
	if action != QueryActionCreateStreamBindComplete {
		t.Fatalf("action = %v, want QueryActionCreateStreamBindComplete", action)
	}

	if _, err := q.OnDataRow(); err != nil {
		t.Fatalf("OnDataRow: %v", err)
	}
	action, err = q.OnCommandComplete("SELECT 1")
	if err != nil {
		t.Fatalf("OnCommandComplete: %v", err)
	}
	if action != QueryActionForwardStreamComplete {
		t.Fatalf("action = %v, want QueryActionForwardStreamComplete", action)
	}
}

func TestUnexpectedMessageFailsQuery(t *testing.T) {
	q := NewQueryState()
	// BindComplete before ParseComplete is a protocol violation.
	if _, err := q.OnBindComplete(); err == nil {
		t.Fatal("expected error for out-of-order BindComplete")
	}
	if q.Kind != QueryError {
		t.Fatalf("Kind = %v, want QueryError", q.Kind)
	}
}

func TestDemandGatesReads(t *testing.T) {
	q := NewQueryState()
	_, _ = q.OnParseComplete()
	_, _ = q.OnParameterDescription(nil)
	_, _ = q.OnRowDescription([]wire.FieldDescription{{Name: "c"}})
	_, _ = q.OnBindComplete()

	if action := q.SetDemand(true); action != QueryActionRequestRead {
		t.Fatalf("first SetDemand(true) = %v, want QueryActionRequestRead", action)
	}
	// A second demand signal while a read is already outstanding must
	// not request a second one (§8 invariant 5: at most one outstanding read).
	if action := q.SetDemand(true); action != QueryActionSuppressRead {
		t.Fatalf("second SetDemand(true) = %v, want QueryActionSuppressRead", action)
	}
	if _, err := q.OnDataRow(); err != nil {
		t.Fatalf("OnDataRow: %v", err)
	}
	if action := q.SetDemand(true); action != QueryActionRequestRead {
		t.Fatalf("SetDemand after OutstandingRead cleared = %v, want QueryActionRequestRead", action)
	}
}

func TestCloseSubMachine(t *testing.T) {
	c := NewCloseState()
	action, err := c.OnCloseComplete()
	if err != nil {
		t.Fatalf("OnCloseComplete: %v", err)
	}
	if action != CloseActionSucceed {
		t.Fatalf("action = %v, want CloseActionSucceed", action)
	}

	c2 := NewCloseState()
	c2.Kind = CloseCompleteReceived // already terminal
	if action, err := c2.OnCloseComplete(); err == nil || action != CloseActionFail {
		t.Fatalf("expected failure for CloseComplete outside CloseSyncSent, got action=%v err=%v", action, err)
	}
}
