package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	err := New(ErrCodeDuplicateDecision, "actor already decided this step")
	assert.Equal(t, ErrCodeDuplicateDecision, CodeOf(err))

	wrapped := fmt.Errorf("processing step: %w", err)
	assert.Equal(t, ErrCodeDuplicateDecision, CodeOf(wrapped))

	assert.Equal(t, ErrCodeInternal, CodeOf(errors.New("plain")))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, ErrCodeUnavailable, "ledger store unreachable")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeUnavailable, CodeOf(err))
	assert.Nil(t, Wrap(nil, ErrCodeUnavailable, "no-op"))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(ErrCodeAuditWrite, "audit insert failed")))
	assert.True(t, Retryable(New(ErrCodeUnavailable, "timeout")))
	assert.False(t, Retryable(New(ErrCodeWorkflowNotActive, "terminal")))
	assert.False(t, Retryable(InvalidInput("amount", "must be positive")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		ErrCodeValidation:        http.StatusBadRequest,
		ErrCodeNoMatchingPolicy:  http.StatusBadRequest,
		ErrCodeInvalidActorRole:  http.StatusForbidden,
		ErrCodeNotFound:          http.StatusNotFound,
		ErrCodeDuplicateDecision: http.StatusConflict,
		ErrCodeWorkflowNotActive: http.StatusConflict,
		ErrCodeBatchNotFailed:    http.StatusConflict,
		ErrCodeAuditWrite:        http.StatusServiceUnavailable,
		ErrCodeInternal:          http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(New(code, "x")), string(code))
	}
}
