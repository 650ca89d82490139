// Package errors provides structured error types for the Larder system.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryStore      ErrorCategory = "STORE"
	ErrCategoryHub        ErrorCategory = "HUB"
	ErrCategorySync       ErrorCategory = "SYNC"
	ErrCategoryTransport  ErrorCategory = "TRANSPORT"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeUnknownEventType = "UNKNOWN_EVENT_TYPE"
	CodeInvalidPayload   = "INVALID_PAYLOAD"
	CodeIllegalEvent     = "ILLEGAL_EVENT"

	// Store codes
	CodeVersionConflict = "VERSION_CONFLICT"
	CodeStoreIO         = "STORE_IO"

	// Hub codes
	CodeNoValidator    = "NO_VALIDATOR"
	CodeContention     = "TOO_MUCH_CONTENTION"
	CodeEntityMismatch = "ENTITY_MISMATCH"

	// Sync codes
	CodeLocalCache    = "LOCAL_CACHE"
	CodeSerialization = "SERIALIZATION"

	// Transport codes
	CodeNotConnected   = "NOT_CONNECTED"
	CodeRequestTimeout = "REQUEST_TIMEOUT"
	CodeBadEnvelope    = "BAD_ENVELOPE"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// LarderError is the structured error type used throughout the system.
type LarderError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *LarderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *LarderError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *LarderError) Is(target error) bool {
	var t *LarderError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new LarderError.
func New(category ErrorCategory, code, message string) *LarderError {
	return &LarderError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new LarderError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *LarderError {
	return &LarderError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var le *LarderError
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}

// IsConflict reports whether the error chain contains a store version
// conflict. The hub's retry loop pattern-matches on this.
func IsConflict(err error) bool {
	return GetCode(err) == CodeVersionConflict
}

// IsValidation reports whether the error chain is a validation failure,
// terminal for the event that caused it.
func IsValidation(err error) bool {
	var le *LarderError
	if errors.As(err, &le) {
		return le.Category == ErrCategoryValidation
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a LarderError.
func GetCategory(err error) ErrorCategory {
	var le *LarderError
	if errors.As(err, &le) {
		return le.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a LarderError.
func GetCode(err error) string {
	var le *LarderError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStore && code == CodeVersionConflict:
		return true
	case category == ErrCategoryTransport && code == CodeRequestTimeout:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *LarderError {
	return New(ErrCategoryValidation, code, message)
}

func NewConflictError(entityID string, version int) *LarderError {
	return New(ErrCategoryStore, CodeVersionConflict,
		fmt.Sprintf("event conflict - %s version %d", entityID, version))
}

func NewStoreError(message string, cause error) *LarderError {
	return Wrap(ErrCategoryStore, CodeStoreIO, message, cause)
}

func NewSyncError(code, message string, cause error) *LarderError {
	return Wrap(ErrCategorySync, code, message, cause)
}

func NewTransportError(code, message string) *LarderError {
	return New(ErrCategoryTransport, code, message)
}

func NewInternalError(message string, cause error) *LarderError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
