package api

import "github.com/wardwatch/wardwatch/server/internal/alert"

// AcknowledgeRequest is the body of POST /api/v1/alerts/{id}/acknowledge.
// Both fields are ignored when the request carries an authenticated
// principal.
type AcknowledgeRequest struct {
	Responder string `json:"responder"`
	Role      string `json:"role"`
}

// ResolveRequest is the body of POST /api/v1/alerts/{id}/resolve.
type ResolveRequest struct {
	Resolver string `json:"resolver"`
}

// ListResponse is the payload for GET /api/v1/alerts.
type ListResponse struct {
	HospitalID string        `json:"hospital_id"`
	Alerts     []alert.Alert `json:"alerts"`
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status             string `json:"status"`
	Sessions           int    `json:"sessions"`
	PendingEscalations int    `json:"pending_escalations"`
	PersistBacklog     int    `json:"persist_backlog"`
	Uptime             string `json:"uptime"`
}

// errorResponse is the JSON error body.
type errorResponse struct {
	Error     string       `json:"error"`
	Code      string       `json:"code,omitempty"`
	Retryable bool         `json:"retryable,omitempty"`
	Alert     *alert.Alert `json:"alert,omitempty"`
}
