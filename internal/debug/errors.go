package debug

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable failure category. Codes surface verbatim
// in NDJSON error records, so they never change spelling.
type Code string

const (
	CodeWrongState          Code = "WRONG_STATE"
	CodeNotFound            Code = "NOT_FOUND"
	CodeBusy                Code = "BUSY"
	CodeTimeout             Code = "TIMEOUT"
	CodeNativeFailure       Code = "NATIVE_FAILURE"
	CodeEvalFailed          Code = "EVAL_FAILED"
	CodeEvalTimeout         Code = "EVAL_TIMEOUT"
	CodeVariableUnavailable Code = "VARIABLE_UNAVAILABLE"
)

// Error is the engine's failure type: a category code, the operation that
// failed, and an optional wrapped cause.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by code so callers can test categories with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && t.Op == "" && t.Message == ""
}

// errf builds a coded error with a formatted message.
func errf(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// wrapf wraps a cause under a coded error.
func wrapf(code Code, op string, err error, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the category of err, or NATIVE_FAILURE for anything the
// engine did not classify itself.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeNativeFailure
}

// IsCode reports whether err carries the given category.
func IsCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// wrongState is the precondition-violation constructor; the message always
// names current vs. required state.
func wrongState(op string, current, required string) *Error {
	return errf(CodeWrongState, op, "session is %s, requires %s", current, required)
}
