// Package apperrors defines the typed error taxonomy shared by the ledger,
// idempotency store, and payout orchestrator. Every rejected operation maps
// to a stable code the transport layer can translate to an HTTP status.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes.
const (
	CodeValidation             = "validation_error"
	CodeInsufficientFunds      = "insufficient_funds"
	CodeIdempotencyKeyConflict = "idempotency_key_conflict"
	CodeRequestInProgress      = "request_in_progress"
	CodeNotFound               = "not_found"
	CodeProvider               = "provider_error"
	CodeIntegrity              = "integrity_error"
)

// Error is a caller-visible error with a stable code and a human-readable
// message.
type Error struct {
	Code    string
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

// Is makes two *Error values match when their codes match, so sentinel
// comparisons like errors.Is(err, apperrors.Validation("")) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus maps the error code to its HTTP-equivalent status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeInsufficientFunds:
		return http.StatusBadRequest
	case CodeIdempotencyKeyConflict, CodeRequestInProgress:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func InsufficientFunds(format string, args ...any) *Error {
	return &Error{Code: CodeInsufficientFunds, Message: fmt.Sprintf(format, args...)}
}

func IdempotencyKeyConflict(format string, args ...any) *Error {
	return &Error{Code: CodeIdempotencyKeyConflict, Message: fmt.Sprintf(format, args...)}
}

func RequestInProgress(format string, args ...any) *Error {
	return &Error{Code: CodeRequestInProgress, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func Provider(err error, format string, args ...any) *Error {
	return &Error{Code: CodeProvider, Message: fmt.Sprintf(format, args...), Err: err}
}

// Integrity signals a fatal ledger invariant violation (negative balance).
// It must never be caught-and-continued: the affected query refuses to
// serve rather than return a wrong number.
func Integrity(format string, args ...any) *Error {
	return &Error{Code: CodeIntegrity, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the stable code of err, or empty string for untyped errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
