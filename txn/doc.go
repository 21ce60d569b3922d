// Package txn provides all-or-nothing state updates for message handlers.
//
// A handler's writes go through a recording facade that captures, before
// each mutation, the snapshot needed to undo it. When the handler returns
// an error the ledger is replayed in reverse, restoring the store to its
// pre-message state so the broker can safely redeliver. On success the
// ledger is discarded.
//
// The facade implements state.Store, so handlers are written against the
// plain store contract and never see the ledger.
package txn
