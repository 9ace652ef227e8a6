// Package tornado implements a two-sided point pipeline bridging a
// high-level process-variable registry (the User side) and a low-latency
// microcontroller carrying a SkifIO card (the Mcu side): a message
// dispatcher multiplexing DAC/ADC/discrete-I/O/keep-alive/diagnostic
// traffic over a length-framed binary protocol, and an Mcu control loop
// enforcing strict per-tick hardware ordering.
package tornado

import (
	"errors"
	"fmt"
)

// ErrorCode classifies the failure kinds this module can report.
type ErrorCode string

const (
	// CodeTimedOut marks an operation that exceeded its deadline, such as
	// a keep-alive delay or a hardware wait-ready call.
	CodeTimedOut ErrorCode = "timed out"
	// CodeInvalidInput marks a value rejected before being sent, such as a
	// Do value using bits outside DoBits.
	CodeInvalidInput ErrorCode = "invalid input"
	// CodeInvalidData marks a malformed frame received from the peer,
	// such as an unknown tag or an over-budget trailing vector length.
	CodeInvalidData ErrorCode = "invalid data"
	// CodeBadAlloc marks exhaustion of a fixed-capacity resource, such as
	// a buffer pool or ring with no room left.
	CodeBadAlloc ErrorCode = "allocation failed"
	// CodeDisconnected marks loss of the peer connection.
	CodeDisconnected ErrorCode = "disconnected"
	// CodeOther is used for conditions not covered by the above.
	CodeOther ErrorCode = "other"
)

// Error is the structured error type returned throughout this module.
type Error struct {
	Op    string    // the operation that failed, e.g. "user.dispatch.write"
	Code  ErrorCode // high-level category
	Msg   string    // human-readable detail
	Inner error     // wrapped cause, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		return fmt.Sprintf("tornado: %s: %s", e.Op, msg)
	}
	return fmt.Sprintf("tornado: %s", msg)
}

// Unwrap returns the wrapped error, for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is comparisons against another *Error by Code, and
// against a bare ErrorCode.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if code, ok := target.(ErrorCode); ok {
		return e.Code == code
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// Error implements the error interface so ErrorCode can itself be used as
// an errors.Is target.
func (c ErrorCode) Error() string { return string(c) }

// NewError creates a structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// WrapError wraps inner with operation context, preserving its code if it
// is already a *Error.
func WrapError(op string, code ErrorCode, inner error) *Error {
	if inner == nil {
		return nil
	}
	if te, ok := inner.(*Error); ok {
		return &Error{Op: op, Code: te.Code, Msg: te.Msg, Inner: te.Inner}
	}
	return &Error{Op: op, Code: code, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is a *Error (at any wrapping depth) with the
// given code.
func IsCode(err error, code ErrorCode) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}
