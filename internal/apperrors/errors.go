// Package apperrors provides coded application errors. Every fallible
// operation in the service returns one of these instead of a bare string so
// callers can branch on the code (retry decisions, HTTP status mapping)
// without parsing messages.
package apperrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers.
type Code string

const (
	// Validation / calculation errors. Never retryable; the request is wrong.
	CodeMissingMasterRep   Code = "MISSING_MASTER_REP"
	CodeInvalidRate        Code = "INVALID_RATE"
	CodeRateNotFound       Code = "RATE_NOT_FOUND"
	CodeInvalidInput       Code = "INVALID_INPUT"

	// State machine violations. Caller logic errors, not transient.
	CodeDuplicateStructure Code = "DUPLICATE_STRUCTURE"
	CodeInvalidTransition  Code = "INVALID_TRANSITION"
	CodeUnauthorized       Code = "UNAUTHORIZED"

	CodeNotFound Code = "NOT_FOUND"

	// Storage errors. Timeout is retryable, plain storage generally is not.
	CodeStorage        Code = "STORAGE"
	CodeStorageTimeout Code = "STORAGE_TIMEOUT"

	CodeInternal Code = "INTERNAL"
)

// Error is a coded error, optionally wrapping a cause.
type Error struct {
	code Code
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

// Unwrap exposes the cause for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.err }

// Code returns the error's classification code.
func (e *Error) Code() Code { return e.code }

// Message returns the human-readable message without code or cause.
func (e *Error) Message() string { return e.msg }

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{code: code, msg: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message. Returns nil when err is nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{code: code, msg: msg, err: err}
}

// NotFound creates a standard not-found error for a resource.
func NotFound(resource, id string) error {
	return Newf(CodeNotFound, "%s %q not found", resource, id)
}

// InvalidInput creates a standard invalid-input error for a field.
func InvalidInput(field, msg string) error {
	return Newf(CodeInvalidInput, "invalid %s: %s", field, msg)
}

// CodeOf returns the code of the outermost coded error in err's chain,
// or CodeInternal when err carries no code.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return CodeInternal
}

// HasCode reports whether err's chain contains a coded error with code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.code == code
	}
	return false
}
