// Package errors provides structured errors for the messaging core.
//
// Every failure carries an ErrorCode and an ErrorCategory. The category
// decides handling: transient errors are retried (reconnect, requeue),
// permanent errors are dropped, internal errors indicate bugs. Retryability
// is derived from the category unless explicitly overridden.
//
// The taxonomy mirrors how failures propagate: connection faults are
// retried inside the connection manager, handler faults are rolled back
// and requeued by the updater, malformed messages are dropped, and
// unconfirmed publishes are reported synchronously to the caller.
package errors
