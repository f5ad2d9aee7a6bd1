package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err is already an *Error, the wrapper keeps its code and details.
// A context deadline maps to CONNECTION_TIMEOUT; anything else becomes INTERNAL_ERROR.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var pErr *Error
	if errors.As(err, &pErr) {
		wrapped := &Error{
			code:      pErr.code,
			category:  pErr.category,
			message:   message,
			cause:     err,
			details:   pErr.Details(),
			retryable: pErr.retryable,
			timestamp: pErr.timestamp,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeConnectionTimeout, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// As extracts a ProtocolError from an error chain.
// Returns nil if no *Error is found.
func As(err error) *Error {
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr
	}
	return nil
}

// Is checks if the outermost *Error in the chain has the given code.
func Is(err error, code ErrorCode) bool {
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr.code == code
	}
	return false
}

// IsCategory checks if the outermost *Error in the chain has the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr.category == category
	}
	return false
}

// IsRetryable checks if the error is retryable.
func IsRetryable(err error) bool {
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr.Retryable()
	}
	return false
}

// Code extracts the error code from an error.
// Returns empty string if err carries no *Error.
func Code(err error) ErrorCode {
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr.code
	}
	return ""
}

// Join combines multiple errors into a single error.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
