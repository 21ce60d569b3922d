// Package heartbeat keeps agent liveness current in the state store.
//
// A Writer runs inside each agent process and periodically refreshes that
// agent's last_heartbeat through the store. A Monitor runs wherever
// liveness decisions are made, polls all agent states, and reports agents
// whose heartbeat has gone stale.
//
// Liveness flows through the store rather than a side channel, so the
// monitor sees the same record the messaging core updates and an agent
// that is alive but wedged mid-task still goes stale.
package heartbeat
