package notification

import (
	"time"

	"github.com/google/uuid"
)

// Delivery selects the out-of-app channels an event may use.
type Delivery struct {
	SMS   bool
	Email bool
}

var (
	InAppOnly   = Delivery{}
	AllChannels = Delivery{SMS: true, Email: true}
)

// Event is one of AppointmentEvent or EmergencyEvent.
type Event interface {
	recipient() uuid.UUID
	channels() Delivery
	kind() Type
}

type AppointmentEvent struct {
	Type          Type
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	Service       string
	Date          time.Time
	Slot          string

	// Set for reschedules.
	PreviousDate time.Time
	PreviousSlot string

	Reason   string
	Channels Delivery
}

func (e AppointmentEvent) recipient() uuid.UUID { return e.PatientID }
func (e AppointmentEvent) channels() Delivery   { return e.Channels }
func (e AppointmentEvent) kind() Type           { return e.Type }

type EmergencyEvent struct {
	EmergencyID   uuid.UUID
	PatientID     uuid.UUID
	EmergencyType string
	Priority      string
	Status        string
	Note          string
	Channels      Delivery
}

func (e EmergencyEvent) recipient() uuid.UUID { return e.PatientID }
func (e EmergencyEvent) channels() Delivery   { return e.Channels }
func (e EmergencyEvent) kind() Type           { return TypeEmergencyUpdate }
