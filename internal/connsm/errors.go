package connsm

import (
	"errors"
	"fmt"
)

// Code distinguishes the protocol-level failure kinds named in §7.
// Casting errors are deliberately absent here: per-row decoding
// failures are local to the column read, not a connection error.
type Code int

const (
	CodeUnexpectedMessage Code = iota
	CodeUncleanShutdown
	CodeChannel
	CodeFailedToAddSSLHandler
	CodeTLSRequired
	CodeTooManyParameters
	CodeUnsupportedAuthMethod
	CodeAuthRequiresPassword
	CodeOperationUnsupported
)

func (c Code) String() string {
	switch c {
	case CodeUnexpectedMessage:
		return "UnexpectedBackendMessage"
	case CodeUncleanShutdown:
		return "UncleanShutdown"
	case CodeChannel:
		return "Channel"
	case CodeFailedToAddSSLHandler:
		return "FailedToAddSSLHandler"
	case CodeTLSRequired:
		return "TLSRequired"
	case CodeTooManyParameters:
		return "TooManyParameters"
	case CodeUnsupportedAuthMethod:
		return "UnsupportedAuthMethod"
	case CodeAuthRequiresPassword:
		return "AuthMechanismRequiresPassword"
	case CodeOperationUnsupported:
		return "OperationUnsupported"
	default:
		return "Unknown"
	}
}

// ProtocolError is pgflow's PSQLError (§7): a connection-fatal failure
// tagged with a Code so callers can branch with errors.Is/As without
// string matching.
type ProtocolError struct {
	Code  Code
	Cause error
}

func NewProtocolError(code Code, cause error) *ProtocolError {
	return &ProtocolError{Code: code, Cause: cause}
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("pgflow: %s: %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("pgflow: %s", e.Code)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

func (e *ProtocolError) Is(target error) bool {
	var pe *ProtocolError
	if errors.As(target, &pe) {
		return pe.Code == e.Code
	}
	return false
}

// ServerError decodes a backend ErrorResponse/NoticeResponse field set
// (§7 Server(fields)) into named accessors over the raw tag->value map.
type ServerError struct {
	Fields map[byte]string
}

func NewServerError(fields map[byte]string) *ServerError {
	return &ServerError{Fields: fields}
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("pgflow: server error: %s (%s): %s", e.Severity(), e.SQLState(), e.Message())
}

func (e *ServerError) Severity() string { return e.field('S') }
func (e *ServerError) SQLState() string { return e.field('C') }
func (e *ServerError) Message() string  { return e.field('M') }
func (e *ServerError) Detail() string   { return e.field('D') }
func (e *ServerError) Hint() string     { return e.field('H') }

func (e *ServerError) field(tag byte) string {
	if e.Fields == nil {
		return ""
	}
	return e.Fields[tag]
}

// ErrTooManyParameters is the synchronous boundary failure (§8): more
// than 32767 bind parameters.
var ErrTooManyParameters = errors.New("pgflow: more than 32767 bind parameters")

const MaxBindParameters = 32767

// CheckParamCount enforces the synchronous boundary of §8's
// TooManyParameters scenario. It is called by the channel glue before
// a Bind-carrying Task is ever built, so a caller that overruns the
// limit gets a synchronous error without touching connection state or
// the wire at all.
func CheckParamCount(n int) error {
	if n > MaxBindParameters {
		return NewProtocolError(CodeTooManyParameters, ErrTooManyParameters)
	}
	return nil
}
