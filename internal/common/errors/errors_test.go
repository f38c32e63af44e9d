// internal/common/errors/errors_test.go
package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidationError(t *testing.T) {
	err := NewValidationError([]string{"name", "age"})

	assert.Equal(t, ErrCodeProfileIncomplete, err.Code)
	assert.Equal(t, []string{"name", "age"}, err.MissingFields)
	assert.False(t, err.Retryable)
	assert.Contains(t, err.Details, "name, age")
	assert.False(t, err.Timestamp.IsZero())
}

func TestDispatchErrorConstructors(t *testing.T) {
	tests := []struct {
		name      string
		err       *DispatchError
		code      ErrorCode
		retryable bool
	}{
		{
			name:      "network failure is retryable",
			err:       NewDispatchNetworkError(errors.New("connection refused")),
			code:      ErrCodeDispatchNetwork,
			retryable: true,
		},
		{
			name:      "rejection is terminal",
			err:       NewDispatchRejectedError("bad payload"),
			code:      ErrCodeDispatchRejected,
			retryable: false,
		},
		{
			name:      "auth failure is terminal",
			err:       NewDispatchAuthError("token invalid"),
			code:      ErrCodeDispatchAuthFailed,
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.retryable, tt.err.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	validation := NewValidationError([]string{"name"})
	conflict := NewConflictError("em-42")
	authExpired := NewAuthExpiredError("token expired")
	poll := NewPollError(errors.New("timeout"))

	assert.True(t, IsValidation(validation))
	assert.False(t, IsValidation(conflict))

	assert.True(t, IsConflict(conflict))
	assert.False(t, IsConflict(validation))

	assert.True(t, IsAuthExpired(authExpired))
	assert.False(t, IsAuthExpired(poll))

	assert.True(t, IsDispatchAuthFailure(NewDispatchAuthError("token invalid")))
	assert.False(t, IsDispatchAuthFailure(NewDispatchRejectedError("bad payload")))
	assert.False(t, IsDispatchAuthFailure(authExpired))

	assert.True(t, IsRetryable(poll))
	assert.False(t, IsRetryable(conflict))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestErrorHelpers_ThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("sending alert: %w", NewConflictError("em-42"))

	assert.True(t, IsConflict(wrapped))

	var cerr *ConflictError
	require.ErrorAs(t, wrapped, &cerr)
	assert.Contains(t, cerr.Details, "em-42")
}

func TestGetErrorCategory(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		category string
	}{
		{ErrCodeProfileIncomplete, "VALIDATION"},
		{ErrCodeDispatchNetwork, "DISPATCH"},
		{ErrCodeDispatchAuthFailed, "DISPATCH"},
		{ErrCodeAuthExpired, "AUTH"},
		{ErrCodePollFailed, "RECONCILE"},
		{ErrCodeRateLimited, "RECONCILE"},
		{ErrCodeCancelNotSynced, "CANCEL"},
		{ErrCodeAlertConflict, "OTHER"},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.category, GetErrorCategory(tt.code))
		})
	}
}
