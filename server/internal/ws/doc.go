// Package ws implements the real-time distribution layer of wardwatch-server:
// the Broadcast Hub and one Session per WebSocket connection.
//
// NewHub(registry, authenticator, options) creates a Hub.
// Hub.ServeHTTP authenticates and upgrades a connection, then runs the
// session's read and write pumps until the connection closes.
// Hub.PublishAlertEvent and Hub.PublishMetricsTick fan a message out to the
// sessions subscribed to one hospital. Publishing only enqueues into each
// session's bounded send buffer; network writes happen in the write pump.
// Hub.Run(ctx, source) drives the periodic metrics tick and closes every
// session when ctx is cancelled.
//
// Client → server messages:
//
//	{"type":"subscribe","request_id":"r1","hospital_id":"H1","kind":"alerts","token":"optional"}
//	{"type":"unsubscribe","request_id":"r2","hospital_id":"H1","kind":"alerts"}
//	{"type":"ping"}
//
// Server → client messages:
//
//	{"type":"subscribed","request_id":"r1","hospital_id":"H1","kind":"alerts","token":"…"}
//	{"type":"alert","token":"…","data":{"event":"created","alert":{…},"server_time":"…"}}
//	{"type":"metrics","token":"…","data":{"active_alert_count":2,"staff_online":5,…}}
//	{"type":"error","request_id":"r1","error":"…"}
//	{"type":"pong"}
//	{"type":"resync","hospital_id":"H1","kind":"alerts","token":"…","data":{"missed":3,…}}
//
// Liveness uses WebSocket ping/pong control frames. A session whose peer stops
// answering within PongWait is closed and removed from the registry.
//
// Alert events wait in a bounded per-session queue. A full queue does not close
// the session; it triggers an extra ping that must be answered within
// PongDeadline. Events that did not fit are counted and reported in one
// "resync" message ahead of the hospital's next event. Metrics ticks are
// coalesced to the newest per subscription.
package ws
