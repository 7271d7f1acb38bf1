package sqltext

import (
	"fmt"

	"github.com/riftdata/pgflow/internal/connsm"
)

// Validate analyzes sql and checks that the caller supplied a
// parameter for every placeholder the statement actually contains,
// plus the synchronous §8 TooManyParameters boundary. It is meant to
// run before a Task is ever built, so a caller mistake never reaches
// the wire at all.
func Validate(sql string, paramCount int) (*Info, error) {
	info, err := Analyze(sql)
	if err != nil {
		return nil, err
	}
	if err := connsm.CheckParamCount(paramCount); err != nil {
		return info, err
	}
	if info.PlaceholderCount != 0 && info.PlaceholderCount != paramCount {
		return info, fmt.Errorf("sqltext: statement references $%d but %d parameters were supplied", info.PlaceholderCount, paramCount)
	}
	return info, nil
}
