package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. All packages use these constants instead of
// hardcoded strings so call sites can branch on error category.
const (
	// Validation
	ErrCodeValidationInvalidTimezone ErrorCode = "validation_invalid_timezone"
	ErrCodeValidationInvalidEnvelope ErrorCode = "validation_invalid_envelope"
	ErrCodeValidationInvalidDate     ErrorCode = "validation_invalid_date"

	// Configuration (fatal at startup or per run)
	ErrCodeConfigUnknownEventKind ErrorCode = "config_unknown_event_kind"
	ErrCodeConfigDuplicateHandler ErrorCode = "config_duplicate_handler"
	ErrCodeConfigRegistryFrozen   ErrorCode = "config_registry_frozen"

	// Conflict (expected races)
	ErrCodeConflictDuplicateSchedule ErrorCode = "conflict_duplicate_schedule"

	// Not found
	ErrCodeNotFoundEvent        ErrorCode = "not_found_event"
	ErrCodeNotFoundNotification ErrorCode = "not_found_notification"
	ErrCodeNotFoundUser         ErrorCode = "not_found_user"

	// Internal/Upstream
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamQueue       ErrorCode = "upstream_queue_unavailable"
	ErrCodeUpstreamDelivery    ErrorCode = "upstream_delivery_unavailable"
	ErrCodeUpstreamMetricsSink ErrorCode = "upstream_metrics_unavailable"
)

// AppError is the standard application error type. All domain errors are
// expressed as AppError to enable consistent categorization and error chain
// support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates an AppError wrapping an optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// IsCode reports whether err is (or wraps) an AppError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsDuplicateSchedule reports whether err is the expected unique-constraint
// race on a scheduling insert. Callers treat this as a successful
// idempotent no-op, never as a failure.
func IsDuplicateSchedule(err error) bool {
	return IsCode(err, ErrCodeConflictDuplicateSchedule)
}
