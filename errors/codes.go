package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates failures where retry may succeed.
	// Examples: broker connection loss, handler failure before rollback.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: malformed message bodies, unknown message types.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected errors, bugs, or corrupted
	// state, including a rollback that itself failed.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific failure types within categories.
type ErrorCode string

const (
	// Transient: broker and handler failures.
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED" // dial retries exhausted
	ErrCodeChannelFault     ErrorCode = "CHANNEL_FAULT"     // consumer channel/connection fault
	ErrCodeUnconfirmed      ErrorCode = "PUBLISH_UNCONFIRMED" // broker never confirmed delivery
	ErrCodeHandlerFailed    ErrorCode = "HANDLER_FAILED"    // handler failure, rolled back and requeued
	ErrCodeTimeout          ErrorCode = "TIMEOUT"           // operation timed out

	// Permanent: drop, do not requeue.
	ErrCodeMalformed    ErrorCode = "MALFORMED_MESSAGE" // body is not a valid envelope
	ErrCodeUnknownType  ErrorCode = "UNKNOWN_TYPE"      // unroutable message_type
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"     // bad configuration or arguments
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"         // entity does not exist
	ErrCodeCanceled     ErrorCode = "CANCELED"          // context canceled

	// Internal.
	ErrCodeInternal       ErrorCode = "INTERNAL"        // unexpected internal error
	ErrCodeRollbackFailed ErrorCode = "ROLLBACK_FAILED" // ledger replay left partial state
	ErrCodePanic          ErrorCode = "PANIC"           // recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeConnectionFailed, ErrCodeChannelFault, ErrCodeUnconfirmed,
		ErrCodeHandlerFailed, ErrCodeTimeout:
		return CategoryTransient
	case ErrCodeMalformed, ErrCodeUnknownType, ErrCodeInvalidInput,
		ErrCodeNotFound, ErrCodeCanceled:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeConnectionFailed: "broker connection failed",
	ErrCodeChannelFault:     "channel or connection fault",
	ErrCodeUnconfirmed:      "publish not confirmed by broker",
	ErrCodeHandlerFailed:    "message handler failed",
	ErrCodeTimeout:          "operation timed out",
	ErrCodeMalformed:        "malformed message body",
	ErrCodeUnknownType:      "unknown message type",
	ErrCodeInvalidInput:     "invalid input provided",
	ErrCodeNotFound:         "entity not found",
	ErrCodeCanceled:         "operation canceled",
	ErrCodeInternal:         "internal error",
	ErrCodeRollbackFailed:   "rollback failed",
	ErrCodePanic:            "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
