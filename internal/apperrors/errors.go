// Package apperrors defines the typed business errors used across the
// budget-approvals service. Handlers map codes to HTTP statuses; callers
// branch on codes, never on message text.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error category.
type Code string

const (
	// ErrCodeValidation covers malformed or out-of-policy input. Safe to
	// report verbatim to the caller.
	ErrCodeValidation Code = "validation_failed"

	// ErrCodeInvalidActorRole means the actor's role does not match the
	// role required by the current approval step.
	ErrCodeInvalidActorRole Code = "invalid_actor_role"

	// ErrCodeDuplicateDecision means the actor already recorded a decision
	// on this step.
	ErrCodeDuplicateDecision Code = "duplicate_decision"

	// ErrCodeWorkflowNotActive means the workflow is already approved or
	// rejected and accepts no further transitions.
	ErrCodeWorkflowNotActive Code = "workflow_not_active"

	// ErrCodeNoMatchingPolicy means no approval policy bracket covers the
	// request type and amount. A configuration gap, surfaced to the caller.
	ErrCodeNoMatchingPolicy Code = "no_matching_policy"

	// ErrCodeBatchNotFailed means a retry was requested for a batch that
	// has no failed items.
	ErrCodeBatchNotFailed Code = "batch_not_failed"

	// ErrCodeAuditWrite means the audit row could not be written. The
	// enclosing business mutation must roll back with it.
	ErrCodeAuditWrite Code = "audit_write_failure"

	ErrCodeNotFound    Code = "not_found"
	ErrCodeConflict    Code = "conflict"
	ErrCodeUnavailable Code = "store_unavailable"
	ErrCodeInternal    Code = "internal"
)

// Error carries a code, a human-readable message and an optional cause.
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

// New creates an error with the given code and message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message, preserving the cause.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// InvalidInput reports a validation failure on a named field.
func InvalidInput(field, message string) error {
	return &Error{Code: ErrCodeValidation, Message: fmt.Sprintf("%s: %s", field, message)}
}

// NotFound reports a missing entity.
func NotFound(entityType, id string) error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %q not found", entityType, id)}
}

// CodeOf returns the code of err, or ErrCodeInternal for untyped errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// MessageOf returns the business message of err, or err.Error() for
// untyped errors.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Retryable reports whether the caller may retry the operation with backoff.
// Only infrastructure failures qualify; precondition violations never do.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeAuditWrite, ErrCodeUnavailable:
		return true
	}
	return false
}

// HTTPStatus maps an error to the status code the HTTP layer should return.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeValidation, ErrCodeNoMatchingPolicy:
		return http.StatusBadRequest
	case ErrCodeInvalidActorRole:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeDuplicateDecision, ErrCodeWorkflowNotActive, ErrCodeBatchNotFailed, ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeAuditWrite, ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
