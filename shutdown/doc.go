// Package shutdown coordinates ordered teardown of a messaging process.
//
// Teardown order matters here: consumer loops stop first so no new
// deliveries arrive, then the heartbeat writer, then the broker
// connection, and the state store last so late rollbacks still have
// somewhere to write. Components register with a phase constant; lower
// phases stop first, and components in the same phase stop concurrently.
package shutdown
