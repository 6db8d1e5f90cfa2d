// Package errors provides structured error types for the respool resource
// pool. It defines the error taxonomy shared by the pool manager, the
// background reaper, and the resource factories.
//
// This package provides:
//   - Sentinel errors for every pool failure condition
//   - Error codes for categorizing failures at API boundaries
//   - Error wrapping with context preservation
package errors

import (
	"errors"
	"fmt"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Error codes for categorizing pool errors.
const (
	// CodeInternal is an unclassified internal error.
	CodeInternal = 1
	// CodeConfiguration is an invalid pool or backend configuration.
	CodeConfiguration = 2
	// CodeCreation means the factory failed to create a resource.
	CodeCreation = 3
	// CodeValidation means a resource failed validation after bounded retries.
	CodeValidation = 4
	// CodeTimeout means no resource became available within the checkout timeout.
	CodeTimeout = 5
	// CodeExhausted means the pool is saturated and the caller did not wait.
	CodeExhausted = 6
	// CodeInvalidHandle is a double-release or use-after-release.
	CodeInvalidHandle = 7
	// CodeClosed means the pool has been drained and closed.
	CodeClosed = 8
	// CodeState is an illegal pooled-object state transition.
	CodeState = 9
)

// Sentinel errors for pool failure conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrCreation indicates the factory failed to create a resource.
	// Creation failures are surfaced to the caller, not retried automatically.
	ErrCreation = errors.New("resource creation failed")

	// ErrValidation indicates a resource failed validation and the bounded
	// retry budget was exhausted.
	ErrValidation = errors.New("resource validation failed")

	// ErrPoolTimeout indicates no resource became available before the
	// checkout timeout elapsed. The caller may retry.
	ErrPoolTimeout = errors.New("pool checkout timed out")

	// ErrPoolExhausted indicates the pool is at capacity with every resource
	// taken, and the operation does not wait.
	ErrPoolExhausted = errors.New("pool exhausted")

	// ErrInvalidHandle indicates a handle was released twice or used after
	// release. This is a caller bug and is always surfaced.
	ErrInvalidHandle = errors.New("invalid checkout handle")

	// ErrPoolClosed indicates an operation was attempted after the pool
	// was drained.
	ErrPoolClosed = errors.New("pool is closed")

	// ErrInvalidState indicates an illegal pooled-object state transition.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrConfiguration indicates an invalid configuration.
	ErrConfiguration = errors.New("configuration error")

	// ErrInternal indicates an internal error.
	ErrInternal = errors.New("internal error")
)

// Factory-boundary errors.
var (
	// ErrFactoryRequired indicates a pool was constructed without a factory.
	ErrFactoryRequired = fmt.Errorf("factory: %w", ErrConfiguration)

	// ErrProbeUnavailable indicates the factory could not build its
	// validation probe.
	ErrProbeUnavailable = errors.New("factory: validation probe unavailable")
)

// Error is a structured error with a code and message. It implements the
// error interface and preserves the underlying cause for errors.Is/As.
type Error struct {
	// Code is the error code for categorization
	Code int `json:"code"`
	// Message describes the failure
	Message string `json:"message"`
	// Err is the underlying error
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new structured error with the given code and message.
func New(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, err error) *Error {
	if err != nil {
		log.WithField("code", code).WithError(err).Debug("wrapping error")
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// FromSentinel creates a structured error from a sentinel error.
// It assigns the error code matching the sentinel.
func FromSentinel(err error) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:    codeFromError(err),
		Message: err.Error(),
		Err:     err,
	}
}

// codeFromError maps sentinel errors to error codes.
func codeFromError(err error) int {
	switch {
	case errors.Is(err, ErrCreation):
		return CodeCreation
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrPoolTimeout):
		return CodeTimeout
	case errors.Is(err, ErrPoolExhausted):
		return CodeExhausted
	case errors.Is(err, ErrInvalidHandle):
		return CodeInvalidHandle
	case errors.Is(err, ErrPoolClosed):
		return CodeClosed
	case errors.Is(err, ErrInvalidState):
		return CodeState
	case errors.Is(err, ErrConfiguration):
		return CodeConfiguration
	default:
		return CodeInternal
	}
}

// IsCreation returns true if the error indicates a factory creation failure.
func IsCreation(err error) bool {
	return errors.Is(err, ErrCreation)
}

// IsValidation returns true if the error indicates a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsTimeout returns true if the error indicates a checkout timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrPoolTimeout)
}

// IsExhausted returns true if the error indicates the pool is saturated.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrPoolExhausted)
}

// IsInvalidHandle returns true if the error indicates handle misuse.
func IsInvalidHandle(err error) bool {
	return errors.Is(err, ErrInvalidHandle)
}

// IsClosed returns true if the error indicates the pool is closed.
func IsClosed(err error) bool {
	return errors.Is(err, ErrPoolClosed)
}

// IsInvalidState returns true if the error indicates an illegal transition.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// Join combines multiple errors into a single error.
// Returns nil if all errors are nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target,
// and if so, sets target to that error value and returns true.
func As(err error, target any) bool {
	return errors.As(err, target)
}
