package emergency

import (
	"time"

	"github.com/google/uuid"
)

type Priority string

const (
	PriorityImmediate Priority = "immediate"
	PriorityUrgent    Priority = "urgent"
	PriorityStandard  Priority = "standard"
)

func (p Priority) Valid() bool {
	return p == PriorityImmediate || p == PriorityUrgent || p == PriorityStandard
}

// rank orders the active feed: lower comes first.
func (p Priority) rank() int {
	switch p {
	case PriorityImmediate:
		return 0
	case PriorityUrgent:
		return 1
	default:
		return 2
	}
}

type Status string

const (
	StatusReported   Status = "reported"
	StatusTriaged    Status = "triaged"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusReferred   Status = "referred"
)

func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusReferred
}

// Record maps to the emergency_records table.
type Record struct {
	ID          uuid.UUID  `json:"id"`
	PatientID   uuid.UUID  `json:"patient_id"`
	ReportedAt  time.Time  `json:"reported_at"`
	Type        string     `json:"type"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	PainLevel   int        `json:"pain_level"`
	Symptoms    string     `json:"symptoms"`
	Location    string     `json:"location"`
	DutyRelated bool       `json:"duty_related"`
	HandledBy   *string    `json:"handled_by,omitempty"`
	Resolution  *string    `json:"resolution,omitempty"`
	FollowUp    *string    `json:"follow_up,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type ReportInput struct {
	Type        string
	Priority    Priority
	PainLevel   int
	Symptoms    string
	Location    string
	DutyRelated bool
}

// Change is the set of fields a transition writes alongside the new status.
// Nil fields are left untouched.
type Change struct {
	To         Status
	Priority   *Priority
	HandledBy  *string
	Resolution *string
	FollowUp   *string
	ResolvedAt *time.Time
}
