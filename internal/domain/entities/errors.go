package entities

import (
	"context"
	"errors"
	"fmt"
)

// Common errors
var (
	ErrReminderNotFound    = errors.New("reminder not found")
	ErrOccurrenceNotFound  = errors.New("occurrence not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrVersionConflict     = errors.New("reminder was modified concurrently")
	ErrReminderInactive    = errors.New("reminder is not active")
	ErrConcurrencyConflict = errors.New("occurrence already claimed")
	ErrRemoteEventNotFound = errors.New("remote event not found")
	ErrSyncLinkNotFound    = errors.New("sync link not found")
	ErrCalendarUnavailable = errors.New("calendar sync is not configured")
)

// ValidationError reports a malformed reminder definition, window or request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for the given field
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransientExternalError is a retryable failure of an external collaborator
// (timeout, rate limit, unavailable).
type TransientExternalError struct {
	Op  string
	Err error
}

func (e *TransientExternalError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientExternalError) Unwrap() error { return e.Err }

// PermanentExternalError is a non-retryable failure of an external collaborator
// (revoked credentials, rejected request).
type PermanentExternalError struct {
	Op  string
	Err error
}

func (e *PermanentExternalError) Error() string {
	return fmt.Sprintf("%s: permanent: %v", e.Op, e.Err)
}

func (e *PermanentExternalError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientExternalError
func Transient(op string, err error) error {
	return &TransientExternalError{Op: op, Err: err}
}

// Permanent wraps err as a PermanentExternalError
func Permanent(op string, err error) error {
	return &PermanentExternalError{Op: op, Err: err}
}

// IsTransient reports whether err should be retried. Deadline and
// cancellation errors count as transient: a call that timed out says
// nothing about the state of the remote resource.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientExternalError
	if errors.As(err, &te) {
		return true
	}
	var pe *PermanentExternalError
	if errors.As(err, &pe) {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// IsPermanent reports whether err is a PermanentExternalError
func IsPermanent(err error) bool {
	var pe *PermanentExternalError
	return errors.As(err, &pe)
}
