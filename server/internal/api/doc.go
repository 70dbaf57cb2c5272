// Package api implements the HTTP command surface of wardwatch-server.
//
// New(svc, opts) returns a chi router that serves:
//
//	POST /api/v1/alerts                   create an alert (201)
//	POST /api/v1/alerts/{id}/acknowledge  acknowledge an alert
//	POST /api/v1/alerts/{id}/resolve      resolve an alert
//	GET  /api/v1/alerts/{id}              current state of one alert
//	GET  /api/v1/alerts?hospital_id=H     alerts held for a hospital
//	GET  /api/v1/health                   liveness plus backlog counters
//	GET  /ws                              WebSocket subscriptions (opts.WebSocket)
//	GET  /metrics                         Prometheus exposition (opts.Metrics)
//
// Engine errors map to status codes: validation 400, forbidden 403, not found
// 404, invalid state 409 and persistence 503. A 503 body carries the alert
// state that was applied in memory with "retryable": true.
package api
