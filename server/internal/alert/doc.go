// Package alert implements the alert lifecycle state machine.
//
// Engine owns every alert that is open or recently resolved. Each alert is
// guarded by its own mutex, so acknowledge, resolve and scheduler-driven
// escalation on the same alert are serialised while different alerts proceed
// in parallel.
//
// Transitions:
//
//	active ──ack──▶ acknowledged ──resolve──▶ resolved
//	active ──timeout──▶ escalated(n+1) ──timeout──▶ escalated(n+2) …
//	escalated ──ack──▶ acknowledged
//	any non-resolved ──resolve──▶ resolved
//
// Every accepted transition emits an Event to the configured Publishers while
// the alert lock is still held, then the new state is written through the
// Store after the lock is released. Publishers must only enqueue.
package alert
