package sqltext

import (
	"errors"
	"testing"

	"github.com/riftdata/pgflow/internal/connsm"
)

func TestAnalyzeCountsPlaceholders(t *testing.T) {
	cases := []struct {
		sql  string
		want int
	}{
		{"select 1", 0},
		{"select * from orders where id = $1", 1},
		{"insert into orders (a, b, c) values ($1, $2, $3)", 3},
		{"select $2, $1", 2}, // max index, not occurrence count
		{"select '$1' from orders", 0}, // inside a string literal
		{"select $$literal $1 text$$", 0}, // inside a dollar-quoted body
		{"select 1 -- $1\nfrom orders", 0}, // inside a line comment
		{"select /* $1 */ 1", 0}, // inside a block comment
	}
	for _, c := range cases {
		info, err := Analyze(c.sql)
		if err != nil {
			t.Fatalf("Analyze(%q): %v", c.sql, err)
		}
		if info.PlaceholderCount != c.want {
			t.Errorf("Analyze(%q).PlaceholderCount = %d, want %d", c.sql, info.PlaceholderCount, c.want)
		}
	}
}

func TestAnalyzeClassifiesStatementType(t *testing.T) {
	cases := []struct {
		sql  string
		want QueryType
	}{
		{"select 1", QuerySelect},
		{"insert into t (a) values (1)", QueryInsert},
		{"update t set a = 1", QueryUpdate},
		{"delete from t", QueryDelete},
		{"create table t (a int)", QueryDDL},
		{"begin", QueryUtility},
	}
	for _, c := range cases {
		info, err := Analyze(c.sql)
		if err != nil {
			t.Fatalf("Analyze(%q): %v", c.sql, err)
		}
		if info.Type != c.want {
			t.Errorf("Analyze(%q).Type = %s, want %s", c.sql, info.Type, c.want)
		}
	}
}

func TestValidateParamCountMismatch(t *testing.T) {
	_, err := Validate("select * from orders where id = $1", 2)
	if err == nil {
		t.Fatal("expected a mismatch error, got nil")
	}
}

func TestValidateParamCountMatch(t *testing.T) {
	info, err := Validate("select * from orders where id = $1 and status = $2", 2)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if info.PlaceholderCount != 2 {
		t.Fatalf("PlaceholderCount = %d, want 2", info.PlaceholderCount)
	}
}

// TestValidateTooManyParametersBoundary pins the exact §8 threshold: a
// Bind carrying connsm.MaxBindParameters succeeds (it's the largest
// count the wire's int16 field can carry), one more fails synchronously
// before any Task is built.
func TestValidateTooManyParametersBoundary(t *testing.T) {
	if _, err := Validate("select 1", connsm.MaxBindParameters); err != nil {
		t.Fatalf("Validate at the boundary (%d params): %v", connsm.MaxBindParameters, err)
	}

	_, err := Validate("select 1", connsm.MaxBindParameters+1)
	if err == nil {
		t.Fatalf("expected an error for %d parameters, got nil", connsm.MaxBindParameters+1)
	}
	var protoErr *connsm.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected a *connsm.ProtocolError, got %T: %v", err, err)
	}
	if protoErr.Code != connsm.CodeTooManyParameters {
		t.Fatalf("Code = %v, want %v", protoErr.Code, connsm.CodeTooManyParameters)
	}
}
