package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeAppointmentCreated     Type = "appointment_created"
	TypeAppointmentApproved    Type = "appointment_approved"
	TypeAppointmentRejected    Type = "appointment_rejected"
	TypeAppointmentCancelled   Type = "appointment_cancelled"
	TypeAppointmentCompleted   Type = "appointment_completed"
	TypeAppointmentRescheduled Type = "appointment_rescheduled"
	TypeEmergencyUpdate        Type = "emergency_update"
)

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Notification is the persisted in-app record. Only the read flag and the
// per-channel delivery fields change after insert.
type Notification struct {
	ID             uuid.UUID `json:"id"`
	PatientID      uuid.UUID `json:"patient_id"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	Type           Type      `json:"type"`
	Read           bool      `json:"read"`
	SMSSent        bool      `json:"sms_sent"`
	SMSMessageID   *string   `json:"sms_message_id,omitempty"`
	EmailSent      bool      `json:"email_sent"`
	EmailMessageID *string   `json:"email_message_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Contact is what the dispatcher needs to reach a patient outside the app.
type Contact struct {
	Name  string
	Phone string
	Email string
}

// ContactDirectory resolves patient contact details owned by the patient registry.
type ContactDirectory interface {
	Contact(ctx context.Context, patientID uuid.UUID) (Contact, error)
}

// Repository persists notifications.
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]Notification, error)

	// MarkChannelSent records a successful delivery. It is a no-op when the
	// channel was already recorded.
	MarkChannelSent(ctx context.Context, id uuid.UUID, ch Channel, messageID string) error

	MarkRead(ctx context.Context, id, patientID uuid.UUID) (*Notification, error)
	UnreadCount(ctx context.Context, patientID uuid.UUID) (int, error)
}

// Publisher fans a freshly stored notification out to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}
