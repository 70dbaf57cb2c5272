// Package store provides the durable storage adapters the alert engine writes
// through.
//
// Every adapter satisfies alert.Store: LoadActive returns the unresolved
// alerts of one hospital, and Persist records an alert state unless a newer
// version is already stored.
//
//	Memory     in-process map with retention-based eviction of resolved alerts
//	postgres   database/sql adapter (subpackage postgres)
//	redisstore Redis hash adapter (subpackage redisstore)
//	Retrying   wraps any adapter with a circuit breaker and a background
//	           retry queue, so a failed write is retried without replaying the
//	           state machine transition
package store
