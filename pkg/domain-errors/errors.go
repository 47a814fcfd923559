// Package errors provides coded domain errors shared across bounded contexts.
//
// Services return *DomainError values tagged with a Code; transport layers
// translate codes to HTTP statuses without inspecting error strings. Wrap
// preserves the cause chain so errors.Is/As keep working through the tag.
package errors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for propagation and transport mapping.
type Code string

const (
	// CodeValidation marks syntactically or semantically invalid input.
	CodeValidation Code = "validation"
	// CodeBadRequest marks a request that is well-formed but unusable.
	CodeBadRequest Code = "bad_request"
	// CodeNotFound marks a missing entity.
	CodeNotFound Code = "not_found"
	// CodeConflict marks a uniqueness or concurrent-modification conflict.
	CodeConflict Code = "conflict"
	// CodeInvariantViolation marks a broken domain invariant; these are
	// programming or state errors, never caller errors.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeUnavailable marks a dependency that could not be reached within
	// the retry budget (circuit open, retries exhausted).
	CodeUnavailable Code = "unavailable"
	// CodeTimeout marks a deadline exceeded inside our own processing.
	CodeTimeout Code = "timeout"
	// CodeInternal marks everything we cannot attribute to the caller.
	CodeInternal Code = "internal"
)

// DomainError carries a classification code alongside a message and an
// optional wrapped cause.
type DomainError struct {
	Code    Code
	Message string
	cause   error
}

func (e *DomainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error { return e.cause }

// New creates a coded domain error without a cause.
func New(code Code, message string) error {
	return &DomainError{Code: code, Message: message}
}

// Newf creates a coded domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a code and context message.
// Returns nil when err is nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &DomainError{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *DomainError
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		if err == nil {
			break
		}
	}
	return false
}

// CodeOf returns the code of the outermost DomainError in the chain, or
// CodeInternal when the error is untagged.
func CodeOf(err error) Code {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Is delegates to the standard library; exported here so call sites using
// the dErrors alias do not need a second errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

// As delegates to the standard library, mirroring Is.
func As(err error, target any) bool { return errors.As(err, target) }
