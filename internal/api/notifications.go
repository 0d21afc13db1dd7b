package api

import (
	"net/http"

	"github.com/hackgods/clinic-appointments/internal/identity"
	"github.com/hackgods/clinic-appointments/internal/notification"
)

type NotificationHandler struct {
	dispatcher *notification.Dispatcher
}

func NewNotificationHandler(d *notification.Dispatcher) *NotificationHandler {
	return &NotificationHandler{dispatcher: d}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	patientID, ok := targetPatient(w, actor, r.URL.Query().Get("patient_id"))
	if !ok {
		return
	}
	limit, ok := intQuery(w, r, "limit")
	if !ok {
		return
	}

	list, err := h.dispatcher.ListNotifications(r.Context(), patientID, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(list))
}

func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	patientID, ok := targetPatient(w, actor, r.URL.Query().Get("patient_id"))
	if !ok {
		return
	}

	n, err := h.dispatcher.UnreadCount(r.Context(), patientID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UnreadCountResponse{Count: n})
}

// MarkRead is patient only: the read flag belongs to the recipient.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if actor.Role != identity.RolePatient {
		writeError(w, http.StatusForbidden, "forbidden", "only the recipient can mark a notification read")
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	n, err := h.dispatcher.MarkRead(r.Context(), id, actor.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}
