package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointments/internal/appointment"
)

type CreateAppointmentRequest struct {
	PatientID       string `json:"patient_id"`
	Service         string `json:"service"`
	AppointmentDate string `json:"appointment_date"`
	TimeSlot        string `json:"time_slot"`
	Notes           string `json:"notes"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type RescheduleRequest struct {
	AppointmentDate string `json:"appointment_date"`
	TimeSlot        string `json:"time_slot"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	Service         string    `json:"service"`
	AppointmentDate string    `json:"appointment_date"`
	TimeSlot        string    `json:"time_slot"`
	Status          string    `json:"status"`
	Notes           string    `json:"notes,omitempty"`
	StatusReason    *string   `json:"status_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		Service:         a.Service,
		AppointmentDate: appointment.FormatDate(a.Date),
		TimeSlot:        a.TimeSlot,
		Status:          string(a.Status),
		Notes:           a.Notes,
		StatusReason:    a.StatusReason,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type SlotsResponse struct {
	Date  string   `json:"date"`
	Slots []string `json:"slots"`
}

type UnreadCountResponse struct {
	Count int `json:"count"`
}

type ReportEmergencyRequest struct {
	PatientID   string `json:"patient_id"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	PainLevel   int    `json:"pain_level"`
	Symptoms    string `json:"symptoms"`
	Location    string `json:"location"`
	DutyRelated bool   `json:"duty_related"`
}

type TriageRequest struct {
	Priority string `json:"priority"`
}

type StartRequest struct {
	HandledBy string `json:"handled_by"`
}

type ResolveRequest struct {
	Resolution string `json:"resolution"`
	FollowUp   string `json:"follow_up"`
}

type ReferRequest struct {
	Note string `json:"note"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func newList[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
