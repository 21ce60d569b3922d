package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the chain.
// If err is already a structured Error its code and category carry over;
// context errors map to their codes; anything else becomes internal.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var structured *Error
	if errors.As(err, &structured) {
		wrapped := &Error{
			code:      structured.code,
			category:  structured.category,
			message:   message,
			cause:     err,
			queue:     structured.queue,
			taskID:    structured.taskID,
			messageID: structured.messageID,
			retryable: structured.retryable,
			timestamp: structured.timestamp,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...any) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// Code extracts the error code, or empty if err is not structured.
func Code(err error) ErrorCode {
	var structured *Error
	if errors.As(err, &structured) {
		return structured.code
	}
	return ""
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	return Code(err) == code && code != ""
}

// IsRetryable checks if the error is retryable. Non-structured errors
// default to not retryable.
func IsRetryable(err error) bool {
	var structured *Error
	if errors.As(err, &structured) {
		return structured.Retryable()
	}
	return false
}

// IsTransient checks if the error is transient.
func IsTransient(err error) bool {
	var structured *Error
	if errors.As(err, &structured) {
		return structured.category == CategoryTransient
	}
	return false
}

// IsPermanent checks if the error is permanent.
func IsPermanent(err error) bool {
	var structured *Error
	if errors.As(err, &structured) {
		return structured.category == CategoryPermanent
	}
	return false
}

// Cause returns the root cause of the error chain.
func Cause(err error) error {
	for {
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		inner := unwrapper.Unwrap()
		if inner == nil {
			return err
		}
		err = inner
	}
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered any) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message)
}
