package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointments/internal/apperr"
	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/identity"
)

type AppointmentHandler struct {
	svc *appointment.Service
}

func NewAppointmentHandler(svc *appointment.Service) *AppointmentHandler {
	return &AppointmentHandler{svc: svc}
}

// targetPatient resolves whose data a request is about. Patients are pinned
// to themselves; staff must name a patient explicitly.
func targetPatient(w http.ResponseWriter, actor identity.Actor, raw string) (uuid.UUID, bool) {
	if actor.Role == identity.RolePatient {
		if raw != "" && raw != actor.ID.String() {
			writeError(w, http.StatusForbidden, "forbidden", "patients may only act for themselves")
			return uuid.Nil, false
		}
		return actor.ID, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *AppointmentHandler) FreeSlots(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("date")
	date, err := appointment.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	slots, err := h.svc.FreeSlots(r.Context(), date)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if slots == nil {
		slots = []string{}
	}
	writeJSON(w, http.StatusOK, SlotsResponse{Date: appointment.FormatDate(date), Slots: slots})
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if actor.Role != identity.RolePatient {
		writeError(w, http.StatusForbidden, "forbidden", "only patients book appointments")
		return
	}

	var req CreateAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	patientID, ok := targetPatient(w, actor, req.PatientID)
	if !ok {
		return
	}
	date, err := appointment.ParseDate(req.AppointmentDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "appointment_date must be YYYY-MM-DD")
		return
	}

	appt, err := h.svc.Create(r.Context(), appointment.CreateInput{
		PatientID: patientID,
		Service:   req.Service,
		Date:      date,
		TimeSlot:  req.TimeSlot,
		Notes:     req.Notes,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	patientID, ok := targetPatient(w, actor, q.Get("patient_id"))
	if !ok {
		return
	}

	filter := appointment.ListFilter{Status: appointment.Status(q.Get("status"))}
	if raw := q.Get("upcoming"); raw != "" {
		upcoming, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_upcoming", "upcoming must be true or false")
			return
		}
		filter.Upcoming = &upcoming
	}
	if filter.Limit, ok = intQuery(w, r, "limit"); !ok {
		return
	}
	if filter.Offset, ok = intQuery(w, r, "offset"); !ok {
		return
	}

	list, err := h.svc.ListByPatient(r.Context(), patientID, filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]AppointmentResponse, 0, len(list))
	for i := range list {
		out = append(out, toAppointmentResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, newList(out))
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.svc.Get(r.Context(), id, actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID, actor identity.Actor, _ string) (*appointment.Appointment, error) {
		return h.svc.Approve(r.Context(), id, actor)
	})
}

func (h *AppointmentHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID, actor identity.Actor, reason string) (*appointment.Appointment, error) {
		return h.svc.Reject(r.Context(), id, actor, reason)
	})
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID, actor identity.Actor, reason string) (*appointment.Appointment, error) {
		return h.svc.Cancel(r.Context(), id, actor, reason)
	})
}

func (h *AppointmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID, actor identity.Actor, _ string) (*appointment.Appointment, error) {
		return h.svc.Complete(r.Context(), id, actor)
	})
}

func (h *AppointmentHandler) transition(w http.ResponseWriter, r *http.Request,
	apply func(id uuid.UUID, actor identity.Actor, reason string) (*appointment.Appointment, error)) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req ReasonRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	appt, err := apply(id, actor, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req RescheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	date, err := appointment.ParseDate(req.AppointmentDate)
	if err != nil {
		writeServiceError(w, r, apperr.Invalid("appointment_date must be YYYY-MM-DD"))
		return
	}

	appt, err := h.svc.Reschedule(r.Context(), id, actor, date, req.TimeSlot)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) SendConfirmation(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	n, err := h.svc.SendConfirmation(r.Context(), id, actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, n)
}
