// Package dErrors provides code-carrying domain errors.
//
// Services return these so transports can map outcomes to responses without
// string matching. Stores return pkg/platform/sentinel errors instead;
// services translate at the boundary.
package dErrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error.
type Code string

const (
	// Generic codes.
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeInternal     Code = "internal"
	CodeUnavailable  Code = "unavailable"

	// Policy violations: expected, user-facing, non-retryable without a
	// state change on the caller's side.
	CodeNotVerified      Code = "not_verified"
	CodeSlotExhausted    Code = "slot_exhausted"
	CodeCategoryDisabled Code = "category_disabled"
	CodePermissionDenied Code = "permission_denied"

	// Input violations: caller bugs, surfaced verbatim.
	CodeEmptyContent   Code = "empty_content"
	CodeSelfMessage    Code = "self_message"
	CodeNotReceiver    Code = "not_receiver"
	CodeNotParticipant Code = "not_participant"

	// Idempotent-repeat signals: not failures, reported distinctly so
	// callers can treat them as success-no-op.
	CodeAlreadyProcessed Code = "already_processed"
	CodeAlreadyRevealed  Code = "already_revealed"
)

// Error is a domain error with a classification code.
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

// New creates a domain error with the given code and message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message, preserving the cause chain.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// Is reports whether err carries the given code. Alias of HasCode kept for
// call-site readability in conditionals.
func Is(err error, code Code) bool { return HasCode(err, code) }

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the code of err, or CodeInternal for unclassified errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to an HTTP status for transport layers.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInvalidInput, CodeEmptyContent, CodeSelfMessage:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodePermissionDenied, CodeNotVerified,
		CodeNotReceiver, CodeNotParticipant:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeSlotExhausted:
		return http.StatusTooManyRequests
	case CodeCategoryDisabled:
		return http.StatusUnprocessableEntity
	case CodeAlreadyProcessed, CodeAlreadyRevealed:
		return http.StatusOK
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
