package pto

import (
	"errors"
	"fmt"

	"github.com/warp/pto-service/record"
)

var (
	// ErrInvalidTransition is returned when a request is not in a state that
	// allows the action (approve/decline/edit on a non-pending request).
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidInput is returned when service input fails domain checks.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoCaller is returned when the directory cannot identify the caller.
	ErrNoCaller = errors.New("caller identity unavailable")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	RequestID string
	From      Status
	To        Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("request %s is %s, cannot move to %s", e.RequestID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// InputError names the offending input field.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

func invalid(field, format string, args ...any) error {
	return &InputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsClientError returns true if the error is due to invalid caller input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidTransition) ||
		record.IsConflict(err) ||
		record.IsValidation(err) ||
		record.IsUnknownCollection(err)
}

// =============================================================================
// RESULT ENVELOPE
// =============================================================================

// Error codes carried in Result.Code.
const (
	CodeNotFound          = "not_found"
	CodeValidation        = "validation"
	CodeInvalidTransition = "invalid_transition"
	CodeConflict          = "conflict"
	CodeUnknownCollection = "unknown_collection"
	CodeUnauthenticated   = "unauthenticated"
	CodeInternal          = "internal"
)

// Result is the uniform outcome handed to the frontend. Callers only ever see
// success plus a message or data; Code keeps the cause distinguishable for
// tests and logs.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// OK wraps data in a successful result.
func OK(data any) Result {
	return Result{Success: true, Data: data}
}

// Fail flattens err into an unsuccessful result.
func Fail(err error) Result {
	return Result{Success: false, Message: err.Error(), Code: ErrorCode(err)}
}

// ErrorCode classifies err.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case record.IsNotFound(err):
		return CodeNotFound
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case record.IsConflict(err):
		return CodeConflict
	case record.IsValidation(err), errors.Is(err, ErrInvalidInput):
		return CodeValidation
	case record.IsUnknownCollection(err):
		return CodeUnknownCollection
	case errors.Is(err, ErrNoCaller):
		return CodeUnauthenticated
	default:
		return CodeInternal
	}
}
