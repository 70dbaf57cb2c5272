package alert

import (
	"time"
	"unicode/utf8"
)

// Type is the clinical category of an alert.
type Type string

const (
	TypeCardiacArrest Type = "cardiac-arrest"
	TypeCodeBlue      Type = "code-blue"
	TypeSecurity      Type = "security"
	TypeGeneral       Type = "general"
)

// Valid reports whether t is a known alert type.
func (t Type) Valid() bool {
	switch t {
	case TypeCardiacArrest, TypeCodeBlue, TypeSecurity, TypeGeneral:
		return true
	}
	return false
}

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusActive       Status = "active"
	StatusEscalated    Status = "escalated"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Rank orders statuses so that an accepted transition never lowers it.
func (s Status) Rank() int {
	switch s {
	case StatusActive:
		return 1
	case StatusEscalated:
		return 2
	case StatusAcknowledged:
		return 3
	case StatusResolved:
		return 4
	}
	return 0
}

// Alert is the public state of one emergency alert.
type Alert struct {
	ID          string    `json:"id"`
	HospitalID  string    `json:"hospital_id"`
	Room        string    `json:"room"`
	Type        Type      `json:"type"`
	Urgency     int       `json:"urgency"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`

	Tier          int       `json:"tier"`
	TierEnteredAt time.Time `json:"tier_entered_at"`
	Status        Status    `json:"status"`

	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`

	// Version increases by one on every accepted transition. Stores use it
	// to drop out-of-order writes.
	Version int64 `json:"version"`
}

// Open reports whether the alert has not been resolved.
func (a Alert) Open() bool { return a.Status != StatusResolved }

// Escalating reports whether the scheduler may still advance the alert.
func (a Alert) Escalating() bool {
	return a.Status == StatusActive || a.Status == StatusEscalated
}

// Critical reports whether the alert carries the highest urgency.
func (a Alert) Critical() bool { return a.Urgency == 1 }

// CreateRequest carries the caller-supplied attributes of a new alert.
type CreateRequest struct {
	HospitalID  string `json:"hospital_id"`
	Room        string `json:"room"`
	Type        Type   `json:"type"`
	Urgency     int    `json:"urgency"`
	Description string `json:"description,omitempty"`
	CreatedBy   string `json:"created_by"`
	CreatorRole string `json:"creator_role,omitempty"`
}

func (r CreateRequest) validate(tiers, maxDescription int) error {
	switch {
	case r.HospitalID == "":
		return validationError("hospital_id is required")
	case r.Room == "":
		return validationError("room is required")
	case !r.Type.Valid():
		return validationError("unknown alert type %q", r.Type)
	case r.Urgency < 1 || r.Urgency > tiers:
		return validationError("urgency %d out of range [1, %d]", r.Urgency, tiers)
	case maxDescription > 0 && utf8.RuneCountInString(r.Description) > maxDescription:
		return validationError("description exceeds %d characters", maxDescription)
	case r.CreatedBy == "":
		return validationError("created_by is required")
	}
	return nil
}

// EventType names a lifecycle transition.
type EventType string

const (
	EventCreated      EventType = "created"
	EventAcknowledged EventType = "acknowledged"
	EventEscalated    EventType = "escalated"
	EventResolved     EventType = "resolved"
)

// Event is emitted once per accepted transition, carrying the alert state as
// it was at the moment of the transition.
type Event struct {
	Type  EventType `json:"event"`
	Alert Alert     `json:"alert"`

	// Renotify is set on an escalated event produced by a last-tier timeout;
	// the tier did not change.
	Renotify bool      `json:"renotify,omitempty"`
	At       time.Time `json:"at"`
}

// Stats summarises one hospital's alerts for the metrics stream.
type Stats struct {
	Active   int
	Critical int

	// AvgResponse is the mean creation-to-acknowledgment time over alerts
	// still held by the engine. Zero when none were acknowledged.
	AvgResponse time.Duration
}
