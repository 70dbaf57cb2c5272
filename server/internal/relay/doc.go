// Package relay forwards alert lifecycle events to systems outside the
// server: a NATS subject tree consumed by the push-notification service and
// plain HTTP webhooks (Slack, Microsoft Teams, generic JSON).
//
// The engine publishes into a bounded queue and never waits on a sink. A
// single goroutine (Run) drains the queue and hands each event to every sink
// in turn. When the queue is full the event is dropped and counted; the
// WebSocket path is unaffected.
package relay
