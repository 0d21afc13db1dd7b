package emergency

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]Record, error)

	// ListActive returns non-terminal records, most severe first, then oldest first.
	ListActive(ctx context.Context, limit int) ([]Record, error)

	// Transition applies c only if the record is still in status from; zero
	// rows affected yields apperr.ErrInvalidTransition.
	Transition(ctx context.Context, id uuid.UUID, from Status, c Change) (*Record, error)
}
