package substate

import "errors"

// ErrUnexpectedMessage tags sub-SM failures (§7
// UnexpectedBackendMessage). The connection state machine passes the
// wrapping error on to the failed query as it is, so callers match it
// with errors.Is.
var ErrUnexpectedMessage = errors.New("unexpected backend message")
