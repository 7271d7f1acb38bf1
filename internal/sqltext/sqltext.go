// Package sqltext does the client-side SQL analysis a caller needs
// before it ever reaches the extended-query sub-state machine:
// classifying the statement, validating it parses, and counting its
// $N bind placeholders so TooManyParameters (§8) can be reported
// synchronously instead of waiting on a round trip. None of this
// feeds back into connsm or substate — they only ever see a query
// string and an already-built parameter list.
package sqltext

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// QueryType classifies the kind of SQL statement, the same
// distinction a terminal UI uses to decide whether to ask for
// confirmation before running something.
type QueryType int

const (
	QueryUnknown QueryType = iota
	QuerySelect
	QueryInsert
	QueryUpdate
	QueryDelete
	QueryDDL
	QueryUtility // SET, SHOW, BEGIN, COMMIT, ROLLBACK, EXPLAIN, etc.
)

func (q QueryType) String() string {
	switch q {
	case QuerySelect:
		return "SELECT"
	case QueryInsert:
		return "INSERT"
	case QueryUpdate:
		return "UPDATE"
	case QueryDelete:
		return "DELETE"
	case QueryDDL:
		return "DDL"
	case QueryUtility:
		return "UTILITY"
	default:
		return "UNKNOWN"
	}
}

// Info is the result of analyzing one SQL statement.
type Info struct {
	Original      string
	Type          QueryType
	PlaceholderCount int
}

func (i *Info) IsReadOnly() bool { return i.Type == QuerySelect }
func (i *Info) IsWrite() bool {
	return i.Type == QueryInsert || i.Type == QueryUpdate || i.Type == QueryDelete
}

// Analyze parses sql with pg_query_go (the same library the teacher
// used for branch-routing classification) and returns its statement
// type and placeholder count. A syntax error here is the same error a
// server Parse would eventually report, just without a round trip.
func Analyze(sql string) (*Info, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("sqltext: %w", err)
	}
	info := &Info{Original: sql, PlaceholderCount: countPlaceholders(sql)}
	if len(tree.Stmts) == 0 || tree.Stmts[0].Stmt == nil {
		return info, nil
	}
	info.Type = classify(tree.Stmts[0].Stmt)
	return info, nil
}

func classify(stmt *pg_query.Node) QueryType {
	switch stmt.Node.(type) {
	case *pg_query.Node_SelectStmt:
		return QuerySelect
	case *pg_query.Node_InsertStmt:
		return QueryInsert
	case *pg_query.Node_UpdateStmt:
		return QueryUpdate
	case *pg_query.Node_DeleteStmt:
		return QueryDelete
	case *pg_query.Node_CreateStmt, *pg_query.Node_AlterTableStmt,
		*pg_query.Node_DropStmt, *pg_query.Node_IndexStmt:
		return QueryDDL
	case *pg_query.Node_TransactionStmt, *pg_query.Node_VariableSetStmt,
		*pg_query.Node_VariableShowStmt:
		return QueryUtility
	default:
		return QueryUtility
	}
}

// countPlaceholders returns the highest $N bind placeholder index by scanning
// the raw SQL text rather than walking the parse tree: pg_query's own
// AST represents a ParamRef as just an integer index wherever an
// expression can appear, so a text scan that skips string/identifier
// literals and comments is both simpler and exactly as accurate. The
// PostgreSQL placeholder numbering starts at 1 and has no gaps in
// practice, so the maximum index seen is the parameter count.
func countPlaceholders(sql string) int {
	max := 0
	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case c == '\'':
			i = skipQuoted(sql, i, '\'')
		case c == '"':
			i = skipQuoted(sql, i, '"')
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			i = skipLineComment(sql, i)
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			i = skipBlockComment(sql, i)
		case c == '$' && i+1 < len(sql) && isDigit(sql[i+1]):
			n, next := readPlaceholder(sql, i+1)
			if n > max {
				max = n
			}
			i = next
		case c == '$':
			i = skipDollarQuoted(sql, i)
		default:
			i++
		}
	}
	return max
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func readPlaceholder(sql string, start int) (int, int) {
	j := start
	for j < len(sql) && isDigit(sql[j]) {
		j++
	}
	n := 0
	for _, c := range sql[start:j] {
		n = n*10 + int(c-'0')
	}
	return n, j
}

func skipQuoted(sql string, start int, quote byte) int {
	i := start + 1
	for i < len(sql) {
		if sql[i] == quote {
			if i+1 < len(sql) && sql[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

func skipLineComment(sql string, start int) int {
	i := start
	for i < len(sql) && sql[i] != '\n' {
		i++
	}
	return i
}

func skipBlockComment(sql string, start int) int {
	i := start + 2
	for i+1 < len(sql) {
		if sql[i] == '*' && sql[i+1] == '/' {
			return i + 2
		}
		i++
	}
	return len(sql)
}

// skipDollarQuoted handles $tag$...$tag$ string bodies (including the
// bare $$...$$ form). If the opening tag never closes, it consumes
// the rest of the input rather than looping forever.
func skipDollarQuoted(sql string, start int) int {
	j := start + 1
	for j < len(sql) && (isAlnum(sql[j]) || sql[j] == '_') {
		j++
	}
	if j >= len(sql) || sql[j] != '$' {
		return start + 1 // lone '$', not a tag opener
	}
	tag := sql[start : j+1]
	bodyStart := j + 1
	if idx := strings.Index(sql[bodyStart:], tag); idx >= 0 {
		return bodyStart + idx + len(tag)
	}
	return len(sql)
}

func isAlnum(b byte) bool {
	return isDigit(b) || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
