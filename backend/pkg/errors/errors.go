package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeResolution represents identity-resolution errors
	ErrorTypeResolution ErrorType = "resolution"
	// ErrorTypeCycle represents relationship validation errors
	ErrorTypeCycle ErrorType = "cycle"
	// ErrorTypeStore represents graph store errors
	ErrorTypeStore ErrorType = "store"
	// ErrorTypeSequence represents change log sequence errors
	ErrorTypeSequence ErrorType = "sequence"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// ErrType reports the error category. Promoted through every typed error
// that embeds BaseError, so IsErrorType works on wrappers too.
func (e *BaseError) ErrType() ErrorType {
	return e.Type
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Resolution Errors

// ErrResolutionConflict is returned when a dedup reservation cannot be
// acquired within the bounded wait. Callers should retry with backoff.
type ErrResolutionConflict struct {
	*BaseError
	Group   string
	Key     string
	Timeout time.Duration
}

func NewResolutionConflict(group, key string, timeout time.Duration) *ErrResolutionConflict {
	return &ErrResolutionConflict{
		BaseError: NewBaseError(ErrorTypeResolution, fmt.Sprintf("reservation timed out for key %s in group %s", key, group), nil),
		Group:     group,
		Key:       key,
		Timeout:   timeout,
	}
}

// Cycle Errors

// ErrCycleRejected is returned when a proposed relationship violates the
// active cycle policy. Terminal for that edge; do not retry verbatim.
type ErrCycleRejected struct {
	*BaseError
	SourceID string
	TargetID string
	RelType  string
	Reason   string
}

func NewCycleRejected(sourceID, targetID, relType, reason string) *ErrCycleRejected {
	return &ErrCycleRejected{
		BaseError: NewBaseError(ErrorTypeCycle, fmt.Sprintf("edge %s-[%s]->%s rejected: %s", sourceID, relType, targetID, reason), nil),
		SourceID:  sourceID,
		TargetID:  targetID,
		RelType:   relType,
		Reason:    reason,
	}
}

// Store Errors

// ErrStoreUnavailable is returned when the underlying store fails; the
// in-flight mutation is aborted with nothing partially visible.
type ErrStoreUnavailable struct {
	*BaseError
	Operation string
}

func NewStoreUnavailable(operation string, err error) *ErrStoreUnavailable {
	return &ErrStoreUnavailable{
		BaseError: NewBaseError(ErrorTypeStore, fmt.Sprintf("store operation failed: %s", operation), err),
		Operation: operation,
	}
}

// ErrEntityNotFound is returned when a referenced entity does not exist or
// is not live.
type ErrEntityNotFound struct {
	*BaseError
	EntityID string
}

func NewEntityNotFound(entityID string) *ErrEntityNotFound {
	return &ErrEntityNotFound{
		BaseError: NewBaseError(ErrorTypeStore, fmt.Sprintf("entity not found: %s", entityID), nil),
		EntityID:  entityID,
	}
}

// Sequence Errors

// ErrSequenceGap is returned when a consumer observes a discontinuity in
// change log sequence numbers. The consumer must re-sync from a full
// snapshot; missing data is never benign.
type ErrSequenceGap struct {
	*BaseError
	Expected uint64
	Got      uint64
}

func NewSequenceGap(expected, got uint64) *ErrSequenceGap {
	return &ErrSequenceGap{
		BaseError: NewBaseError(ErrorTypeSequence, fmt.Sprintf("sequence gap: expected %d, got %d", expected, got), nil),
		Expected:  expected,
		Got:       got,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// Context Errors

// ErrContextCancelled is returned when context is cancelled
type ErrContextCancelled struct {
	*BaseError
	Operation string
}

func NewContextCancelled(operation string, err error) *ErrContextCancelled {
	return &ErrContextCancelled{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context cancelled: %s", operation), err),
		Operation: operation,
	}
}

// Helper functions

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}
	if typed, ok := err.(interface{ ErrType() ErrorType }); ok {
		return typed.ErrType() == errType
	}
	// Check wrapped errors
	if wrapped, ok := err.(interface{ Unwrap() error }); ok && wrapped.Unwrap() != nil {
		return IsErrorType(wrapped.Unwrap(), errType)
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	// Context errors are not retryable
	if IsErrorType(err, ErrorTypeContext) {
		return false
	}
	// Reservation timeouts are retryable with backoff
	if _, ok := err.(*ErrResolutionConflict); ok {
		return true
	}
	// Cycle rejections are terminal for that edge
	if _, ok := err.(*ErrCycleRejected); ok {
		return false
	}
	// Store failures are retryable once the store recovers
	if IsErrorType(err, ErrorTypeStore) {
		return true
	}
	return false
}
