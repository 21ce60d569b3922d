// Package dispatch routes decoded messages to their store effects.
//
// One Dispatcher serves one process identity. Handler(queue) produces a
// broker.Handler that decodes the delivery, applies the message's effects
// in a single transaction, and maps the result to an outcome: commit acks,
// a malformed or unroutable body drops, and a failed handler rolls back
// and requeues so the broker redelivers.
//
// Effects are idempotent. Redelivered messages find their writes already
// applied and converge without erroring, so requeue-after-failure is safe
// even when the failure hit after a partial commit elsewhere.
package dispatch
