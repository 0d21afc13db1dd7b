package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the appointment store. Create and Reschedule verify the slot
// and write in one atomic step; Transition is a conditional update.
type Repository interface {
	// Create inserts a pending appointment, or fails with apperr.ErrSlotConflict
	// when a pending/approved appointment already holds (Date, TimeSlot).
	Create(ctx context.Context, in CreateInput) (*Appointment, error)

	// Reschedule moves a pending appointment to a free (date, slot). It fails with
	// apperr.ErrInvalidTransition if the appointment is no longer pending.
	Reschedule(ctx context.Context, id uuid.UUID, date time.Time, slot string) (*Appointment, error)

	// Transition sets status to `to` only if it is still `from`; zero rows
	// affected yields apperr.ErrInvalidTransition.
	Transition(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, filter ListFilter, today time.Time) ([]Appointment, error)

	// TakenSlots lists slot labels held by pending/approved appointments on date.
	TakenSlots(ctx context.Context, date time.Time) ([]string, error)

	// FindStalePending returns pending appointments dated before the given day.
	FindStalePending(ctx context.Context, before time.Time) ([]Appointment, error)
}
