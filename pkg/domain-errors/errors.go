// Package domainerrors defines the coded errors services return to callers.
//
// Stores and gateways return sentinel errors (pkg/platform/sentinel); services
// translate those into a *Error carrying a Code that transports map to a
// status. The Message is safe to show to callers; the wrapped cause is not.
package domainerrors

import (
	"errors"
	"fmt"
)

type Code string

const (
	// Registry outcomes.
	CodeUnauthorized       Code = "unauthorized"
	CodeNotFound           Code = "not_found"
	CodeAlreadyRegistered  Code = "already_registered"
	CodeDuplicateIdentity  Code = "duplicate_identity"
	CodeAlreadyIssued      Code = "already_issued"
	CodeAlreadyRevoked     Code = "already_revoked"
	CodeInvalidInput       Code = "invalid_input"
	CodeInvalidTarget      Code = "invalid_target"
	CodeGatewayUnavailable Code = "gateway_unavailable"

	// Generic outcomes.
	CodeBadRequest         Code = "bad_request"
	CodeConflict           Code = "conflict"
	CodeForbidden          Code = "forbidden"
	CodeTimeout            Code = "timeout"
	CodeInvariantViolation Code = "invariant_violation"
	CodeInternal           Code = "internal_error"
)

// Error is a domain error with a stable code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a domain error with the same code, so
// errors.Is(err, New(CodeNotFound, "")) matches any not-found error.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

func Wrap(err error, code Code, msg string) error {
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether any error in err's chain is a domain error with code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the code of the first domain error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the caller-safe message of err.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}

// IsRetryable reports whether the operation may be retried after the caller
// re-reads state. Only gateway unavailability qualifies.
func IsRetryable(err error) bool {
	return HasCode(err, CodeGatewayUnavailable)
}
