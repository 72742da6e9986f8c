// Package dErrors defines the domain error taxonomy. Services return these;
// the HTTP layer maps codes to statuses and stores stay on sentinel errors.
package dErrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for callers and the transport layer.
type Code string

const (
	// CodeValidation marks malformed or missing input. No mutation was
	// attempted.
	CodeValidation Code = "validation"

	// CodeBadRequest marks a structurally invalid request (unparseable
	// body, bad query parameter).
	CodeBadRequest Code = "bad_request"

	// CodeNotFound marks a missing ledger, batch, or request.
	CodeNotFound Code = "not_found"

	// CodeUnauthorized marks a caller without a valid identity.
	CodeUnauthorized Code = "unauthorized"

	// CodeForbidden marks an actor lacking the role or hospital
	// affiliation required for the action.
	CodeForbidden Code = "forbidden"

	// CodeConflict marks a state-machine transition not permitted from the
	// current status, or a uniqueness collision.
	CodeConflict Code = "conflict"

	// CodeInsufficientStock marks an availability check failure; the
	// message carries available vs requested units.
	CodeInsufficientStock Code = "insufficient_stock"

	// CodeConcurrentModification marks a lost race on a versioned write.
	// Callers should retry the whole operation.
	CodeConcurrentModification Code = "concurrent_modification"

	// CodeInconsistentState marks an authoritative shortage detected
	// mid-fulfillment despite a passing pre-check. Server-side fault.
	CodeInconsistentState Code = "inconsistent_state"

	// CodeInvariantViolation marks a domain invariant breach detected by a
	// model-level check. Services translate it before surfacing.
	CodeInvariantViolation Code = "invariant_violation"

	// CodeInternal marks an unexpected infrastructure failure.
	CodeInternal Code = "internal_error"
)

// Error is a coded domain error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a domain error with the given code and message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf builds a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err yields
// nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		de = nil
	}
	return false
}

// Is is an alias for HasCode kept for call-site readability.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// error carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the outermost domain message, or a generic one.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}
