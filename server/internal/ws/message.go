package ws

import (
	"encoding/json"
	"time"

	"github.com/wardwatch/wardwatch/server/internal/alert"
)

// Message types.
const (
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypePing         = "ping"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeAlert        = "alert"
	TypeMetrics      = "metrics"
	TypeError        = "error"
	TypePong         = "pong"
	TypeResync       = "resync"
)

// Request is a client → server message.
type Request struct {
	Type       string `json:"type"`
	RequestID  string `json:"request_id,omitempty"`
	HospitalID string `json:"hospital_id,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Token      string `json:"token,omitempty"`
}

// Envelope is a server → client message.
type Envelope struct {
	Type       string          `json:"type"`
	RequestID  string          `json:"request_id,omitempty"`
	HospitalID string          `json:"hospital_id,omitempty"`
	Kind       string          `json:"kind,omitempty"`
	Token      string          `json:"token,omitempty"`
	Error      string          `json:"error,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// AlertPayload is the data of an "alert" message.
type AlertPayload struct {
	Event      alert.EventType `json:"event"`
	Alert      alert.Alert     `json:"alert"`
	Renotify   bool            `json:"renotify,omitempty"`
	ServerTime time.Time       `json:"server_time"`
}

// Metrics is the data of a "metrics" message.
type Metrics struct {
	HospitalID             string    `json:"hospital_id"`
	ActiveAlertCount       int       `json:"active_alert_count"`
	StaffOnline            int       `json:"staff_online"`
	AvgResponseTimeSeconds float64   `json:"avg_response_time_seconds"`
	CriticalAlertCount     int       `json:"critical_alert_count"`
	ServerTime             time.Time `json:"server_time"`
}

// Resync is the data of a "resync" message. Missed alert events for the
// hospital were not delivered; the client should reload its alert list
// (GET /api/v1/alerts?hospital_id=H) before applying further events.
type Resync struct {
	Missed     int       `json:"missed"`
	ServerTime time.Time `json:"server_time"`
}
