// Package state provides the persistent store for tasks, agent states,
// the activity log, and work requests.
//
// The Store interface is the single shared mutable resource in the system.
// Two implementations are provided: MemoryStore for tests and single-process
// use, and SQLiteStore for durable storage. Both serialize concurrent writes
// to the same entity, so independent consumer loops may race on related
// records without corrupting them.
//
// Creates are idempotent by key: CreateTaskIfAbsent and CreateWorkRequest
// return the existing record instead of failing on a duplicate, which is
// what makes message redelivery safe after a crash between a store commit
// and the broker ack.
package state
