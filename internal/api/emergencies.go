package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointments/internal/emergency"
	"github.com/hackgods/clinic-appointments/internal/identity"
)

type EmergencyHandler struct {
	svc *emergency.Service
}

func NewEmergencyHandler(svc *emergency.Service) *EmergencyHandler {
	return &EmergencyHandler{svc: svc}
}

func (h *EmergencyHandler) Report(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req ReportEmergencyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	patientID, ok := targetPatient(w, actor, req.PatientID)
	if !ok {
		return
	}

	rec, err := h.svc.Report(r.Context(), patientID, actor, emergency.ReportInput{
		Type:        req.Type,
		Priority:    emergency.Priority(req.Priority),
		PainLevel:   req.PainLevel,
		Symptoms:    req.Symptoms,
		Location:    req.Location,
		DutyRelated: req.DutyRelated,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// List shows a patient their own reports and staff the active triage feed.
func (h *EmergencyHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	limit, ok := intQuery(w, r, "limit")
	if !ok {
		return
	}

	var (
		list []emergency.Record
		err  error
	)
	if actor.Role == identity.RolePatient {
		list, err = h.svc.ListByPatient(r.Context(), actor.ID, limit)
	} else {
		list, err = h.svc.ActiveFeed(r.Context(), actor, limit)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(list))
}

func (h *EmergencyHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	rec, err := h.svc.Get(r.Context(), id, actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *EmergencyHandler) Triage(w http.ResponseWriter, r *http.Request) {
	var req TriageRequest
	h.transition(w, r, &req, func(id uuid.UUID, actor identity.Actor) (*emergency.Record, error) {
		return h.svc.Triage(r.Context(), id, actor, emergency.Priority(req.Priority))
	})
}

func (h *EmergencyHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	h.transition(w, r, &req, func(id uuid.UUID, actor identity.Actor) (*emergency.Record, error) {
		return h.svc.Start(r.Context(), id, actor, req.HandledBy)
	})
}

func (h *EmergencyHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	h.transition(w, r, &req, func(id uuid.UUID, actor identity.Actor) (*emergency.Record, error) {
		return h.svc.Resolve(r.Context(), id, actor, req.Resolution, req.FollowUp)
	})
}

func (h *EmergencyHandler) Refer(w http.ResponseWriter, r *http.Request) {
	var req ReferRequest
	h.transition(w, r, &req, func(id uuid.UUID, actor identity.Actor) (*emergency.Record, error) {
		return h.svc.Refer(r.Context(), id, actor, req.Note)
	})
}

// transition decodes body into req before apply runs, so apply may read it.
func (h *EmergencyHandler) transition(w http.ResponseWriter, r *http.Request, req any,
	apply func(id uuid.UUID, actor identity.Actor) (*emergency.Record, error)) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if !decodeJSON(w, r, req) {
		return
	}

	rec, err := apply(id, actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
