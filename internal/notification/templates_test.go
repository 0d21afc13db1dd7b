package notification

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_AppointmentTypes(t *testing.T) {
	date := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		ev      AppointmentEvent
		title   string
		message string
	}{
		{
			name:    "rejected with reason",
			ev:      AppointmentEvent{Type: TypeAppointmentRejected, Service: "Dental", Date: date, Slot: "09:30", Reason: "doctor unavailable"},
			title:   "Appointment not approved",
			message: "Your Dental request for Friday, August 1, 2025 at 09:30 was not approved. Reason: doctor unavailable.",
		},
		{
			name:    "cancelled without reason",
			ev:      AppointmentEvent{Type: TypeAppointmentCancelled, Service: "Dental", Date: date, Slot: "09:30"},
			title:   "Appointment cancelled",
			message: "Your Dental appointment on Friday, August 1, 2025 at 09:30 has been cancelled.",
		},
		{
			name: "rescheduled",
			ev: AppointmentEvent{
				Type: TypeAppointmentRescheduled, Service: "Dental", Date: date.AddDate(0, 0, 1), Slot: "14:00",
				PreviousDate: date, PreviousSlot: "09:30",
			},
			title:   "Appointment rescheduled",
			message: "Your Dental appointment moved from Friday, August 1, 2025 at 09:30 to Saturday, August 2, 2025 at 14:00.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.ev.PatientID = uuid.New()
			msg, err := render(tt.ev, Contact{Name: "Farah"})
			require.NoError(t, err)
			assert.Equal(t, tt.ev.Type, msg.Type)
			assert.Equal(t, tt.title, msg.Title)
			assert.Equal(t, tt.message, msg.Message)
			assert.NotContains(t, msg.SMS, "{{")
			assert.NotContains(t, msg.HTML, "{{")
			assert.Contains(t, msg.Text, "Dear Farah,")
		})
	}
}

func TestRender_EscapesHTMLAndDoesNotReexpand(t *testing.T) {
	ev := AppointmentEvent{
		Type:    TypeAppointmentRejected,
		Service: "Dental",
		Date:    time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
		Slot:    "09:30",
		Reason:  "<b>{{slot}}</b>",
	}

	msg, err := render(ev, Contact{Name: "O'Neil & Co"})
	require.NoError(t, err)

	assert.Contains(t, msg.Message, "<b>{{slot}}</b>")
	assert.Contains(t, msg.HTML, "&lt;b&gt;{{slot}}&lt;/b&gt;")
	assert.Contains(t, msg.HTML, "O&#39;Neil &amp; Co")
}

func TestRender_UnknownAppointmentType(t *testing.T) {
	_, err := render(AppointmentEvent{Type: TypeEmergencyUpdate}, Contact{})
	assert.Error(t, err)
}
