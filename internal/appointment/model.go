package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled || s == StatusCompleted
}

// HoldsSlot reports whether an appointment in this status occupies its (date, slot).
func (s Status) HoldsSlot() bool {
	return s == StatusPending || s == StatusApproved
}

type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	Service   string
	// Date is the clinic-local calendar day, stored as midnight UTC.
	Date         time.Time
	TimeSlot     string
	Status       Status
	Notes        string
	StatusReason *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type CreateInput struct {
	PatientID uuid.UUID
	Service   string
	Date      time.Time
	TimeSlot  string
	Notes     string
}

// ListFilter narrows a patient's appointment list. Upcoming nil lists
// everything, true lists pending/approved from today on, false the rest.
type ListFilter struct {
	Status   Status
	Upcoming *bool
	Limit    int
	Offset   int
}

const dateLayout = "2006-01-02"

// ParseDate parses YYYY-MM-DD into a calendar day.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

func FormatDate(d time.Time) string {
	return d.Format(dateLayout)
}

// Day truncates t to its calendar day in loc, returned as midnight UTC.
func Day(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// normalizeDate drops any time or zone component a caller left on a calendar day.
func normalizeDate(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}
