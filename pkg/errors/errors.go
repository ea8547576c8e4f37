// Package errors defines the core's typed error taxonomy. Every boundary
// (tool, LLM, adapter, config, registry) wraps failures into an *Error
// carrying a machine-readable Kind plus a human message, so callers use
// errors.As/errors.Is idiomatically instead of switching on string content.
package errors

import "fmt"

// Kind is one of the closed set of error kinds the core can surface.
type Kind string

const (
	KindConfig            Kind = "ConfigError"
	KindConnect           Kind = "ConnectError"
	KindAuth              Kind = "AuthError"
	KindUnsupportedDialect Kind = "UnsupportedDialectError"
	KindQuery             Kind = "QueryError"
	KindTxState           Kind = "TxStateError"
	KindReadOnly          Kind = "ReadOnlyError"
	KindTimeout           Kind = "TimeoutError"
	KindCancelled         Kind = "CancelledError"
	KindInvalidToolCall   Kind = "InvalidToolCallError"
	KindToolExecution     Kind = "ToolExecutionError"
	KindRiskRejected      Kind = "RiskRejectedError"
	KindLLMTransport      Kind = "LLMTransportError"
	KindLLMProtocol       Kind = "LLMProtocolError"
	KindRateLimit         Kind = "RateLimitError"
	KindCompression       Kind = "CompressionError"
	KindInternal          Kind = "InternalError"
)

// Error is the core's uniform error shape: a kind, a human message, an
// optional structured detail, and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Detail  any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an *Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithDetail attaches a structured detail payload and returns the receiver
// for chaining.
func (e *Error) WithDetail(detail any) *Error {
	e.Detail = detail
	return e
}
