// Package identity describes who is calling a lifecycle operation.
package identity

import (
	"context"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleAdmin   Role = "admin"
	RoleSystem  Role = "system"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleAdmin || r == RoleSystem
}

// Actor is the verified caller. Patients carry their patient id.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// System is the actor used by background jobs.
var System = Actor{Role: RoleSystem}

// IsStaff reports whether the actor acts for the clinic rather than a patient.
func (a Actor) IsStaff() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Owns reports whether a patient actor is the given patient.
func (a Actor) Owns(patientID uuid.UUID) bool {
	return a.Role == RolePatient && a.ID == patientID
}

type ctxKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok
}
