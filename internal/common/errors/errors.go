// Package errors provides standardized error handling for the emergency agent.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeProfileIncomplete ErrorCode = "PROFILE_INCOMPLETE"

	ErrCodeDispatchNetwork    ErrorCode = "DISPATCH_NETWORK_FAILED"
	ErrCodeDispatchRejected   ErrorCode = "DISPATCH_REJECTED"
	ErrCodeDispatchAuthFailed ErrorCode = "DISPATCH_AUTH_FAILED"

	ErrCodePollFailed      ErrorCode = "POLL_FAILED"
	ErrCodeAuthExpired     ErrorCode = "AUTH_EXPIRED"
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrCodeAlertNotFound   ErrorCode = "ALERT_NOT_FOUND"
	ErrCodeAlertConflict   ErrorCode = "ALERT_ALREADY_ACTIVE"
	ErrCodeCancelNotSynced ErrorCode = "CANCEL_NOT_SYNCED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Taxonomy
// ==========================

// ValidationError is returned when the user profile misses required fields.
// It is never sent to the server; the caller redirects to profile completion.
type ValidationError struct {
	StandardError
	MissingFields []string `json:"missingFields"`
}

// DispatchError is returned when sending the alert to the backend failed.
// No local state is written; retry is user-initiated.
type DispatchError struct {
	StandardError
}

// PollError is a transient reconciliation failure. Never surfaced as a
// blocking error; polling continues.
type PollError struct {
	StandardError
}

// AuthExpiredError means the backend requires re-authentication. Local state
// is kept; polling is suspended until the caller re-authenticates.
type AuthExpiredError struct {
	StandardError
}

// ConflictError is returned when a second send is attempted while an
// emergency is already active. Rejected synchronously, zero network calls.
type ConflictError struct {
	StandardError
}

// ==========================
// 3. Error Constructors
// ==========================

// NewValidationError creates a non-retryable missing-fields error.
func NewValidationError(missing []string) *ValidationError {
	return &ValidationError{
		StandardError: StandardError{
			Code:      ErrCodeProfileIncomplete,
			Message:   "Missing required profile fields",
			Details:   fmt.Sprintf("missing: %s", strings.Join(missing, ", ")),
			Retryable: false,
			Timestamp: time.Now().UTC(),
		},
		MissingFields: missing,
	}
}

// NewDispatchNetworkError creates a retryable network dispatch error.
func NewDispatchNetworkError(err error) *DispatchError {
	return &DispatchError{
		StandardError: StandardError{
			Code:      ErrCodeDispatchNetwork,
			Message:   "Could not reach the emergency service",
			Details:   err.Error(),
			Retryable: true,
			Timestamp: time.Now().UTC(),
		},
	}
}

// NewDispatchRejectedError creates a non-retryable server rejection error.
func NewDispatchRejectedError(details string) *DispatchError {
	return &DispatchError{
		StandardError: StandardError{
			Code:      ErrCodeDispatchRejected,
			Message:   "The emergency service rejected the alert",
			Details:   details,
			Retryable: false,
			Timestamp: time.Now().UTC(),
		},
	}
}

// NewDispatchAuthError creates a non-retryable auth dispatch error.
func NewDispatchAuthError(details string) *DispatchError {
	return &DispatchError{
		StandardError: StandardError{
			Code:      ErrCodeDispatchAuthFailed,
			Message:   "Not authenticated, please log in first",
			Details:   details,
			Retryable: false,
			Timestamp: time.Now().UTC(),
		},
	}
}

// NewPollError creates a retryable transient poll error.
func NewPollError(err error) *PollError {
	return &PollError{
		StandardError: StandardError{
			Code:      ErrCodePollFailed,
			Message:   "Status check failed",
			Details:   err.Error(),
			Retryable: true,
			Timestamp: time.Now().UTC(),
		},
	}
}

// NewAuthExpiredError creates the auth-expired reconciliation error.
func NewAuthExpiredError(details string) *AuthExpiredError {
	return &AuthExpiredError{
		StandardError: StandardError{
			Code:      ErrCodeAuthExpired,
			Message:   "Authentication expired, polling suspended",
			Details:   details,
			Retryable: false,
			Timestamp: time.Now().UTC(),
		},
	}
}

// NewConflictError creates the second-send-while-active error.
func NewConflictError(activeID string) *ConflictError {
	return &ConflictError{
		StandardError: StandardError{
			Code:      ErrCodeAlertConflict,
			Message:   "An emergency alert is already active",
			Details:   fmt.Sprintf("emergencyId: %s", activeID),
			Retryable: false,
			Timestamp: time.Now().UTC(),
		},
	}
}

// ==========================
// 4. Utility Functions
// ==========================

// IsValidation reports whether err is a profile validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is a second-send conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsAuthExpired reports whether err signals required re-authentication.
func IsAuthExpired(err error) bool {
	var ae *AuthExpiredError
	return errors.As(err, &ae)
}

// IsDispatchAuthFailure reports whether a dispatch was refused because the
// caller is not authenticated. Unlike IsAuthExpired there is no local state
// to keep: the alert never left the device.
func IsDispatchAuthFailure(err error) bool {
	var de *DispatchError
	return errors.As(err, &de) && de.Code == ErrCodeDispatchAuthFailed
}

// IsRetryable reports whether the error is worth retrying automatically.
func IsRetryable(err error) bool {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Retryable
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Retryable
	}
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Retryable
	}
	var pe *PollError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "PROFILE"):
		return "VALIDATION"
	case strings.Contains(codeStr, "DISPATCH"):
		return "DISPATCH"
	case strings.Contains(codeStr, "AUTH"):
		return "AUTH"
	case strings.Contains(codeStr, "POLL") || strings.Contains(codeStr, "RATE"):
		return "RECONCILE"
	case strings.Contains(codeStr, "CANCEL"):
		return "CANCEL"
	default:
		return "OTHER"
	}
}
