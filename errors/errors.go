package errors

import (
	"fmt"
	"time"
)

// Error is a structured error with a code, category, and context.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	queue     string
	taskID    string
	messageID string
	retryable *bool // nil means derive from category
	timestamp time.Time
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Retryable returns whether the failed operation may succeed on retry.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Queue returns the related queue name, if set.
func (e *Error) Queue() string {
	return e.queue
}

// TaskID returns the related task id, if set.
func (e *Error) TaskID() string {
	return e.taskID
}

// MessageID returns the related broker message id, if set.
func (e *Error) MessageID() string {
	return e.messageID
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) { e.cause = cause }
}

// WithQueue records the queue the failure relates to.
func WithQueue(queue string) Option {
	return func(e *Error) { e.queue = queue }
}

// WithTaskID records the task the failure relates to.
func WithTaskID(id string) Option {
	return func(e *Error) { e.taskID = id }
}

// WithMessageID records the broker message id the failure relates to.
func WithMessageID(id string) Option {
	return func(e *Error) { e.messageID = id }
}

// WithRetryable explicitly overrides the category-derived retryability.
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.retryable = &retryable }
}

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) { e.category = cat }
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// ConnectionFailed creates a connection-exhaustion error.
func ConnectionFailed(attempts int, cause error) *Error {
	return New(ErrCodeConnectionFailed,
		fmt.Sprintf("broker connection failed after %d attempts", attempts),
		WithCause(cause))
}

// Unconfirmed creates a publish-unconfirmed error for a queue.
func Unconfirmed(queue string, opts ...Option) *Error {
	opts = append([]Option{WithQueue(queue)}, opts...)
	return New(ErrCodeUnconfirmed,
		fmt.Sprintf("publish to %s not confirmed", queue), opts...)
}

// Malformed creates a malformed-message error.
func Malformed(queue string, cause error) *Error {
	return New(ErrCodeMalformed,
		fmt.Sprintf("malformed message on %s", queue),
		WithQueue(queue), WithCause(cause))
}

// HandlerFailed creates a handler-failure error.
func HandlerFailed(queue string, cause error, opts ...Option) *Error {
	opts = append([]Option{WithQueue(queue), WithCause(cause)}, opts...)
	return New(ErrCodeHandlerFailed,
		fmt.Sprintf("handler failed for %s", queue), opts...)
}

// RollbackFailed creates a rollback-failure error.
func RollbackFailed(cause error, opts ...Option) *Error {
	opts = append([]Option{WithCause(cause)}, opts...)
	return New(ErrCodeRollbackFailed, "rollback failed", opts...)
}
