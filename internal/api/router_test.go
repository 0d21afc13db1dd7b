package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/config"
	"github.com/hackgods/clinic-appointments/internal/emergency"
	"github.com/hackgods/clinic-appointments/internal/identity"
	"github.com/hackgods/clinic-appointments/internal/notification"
)

var (
	testSecret = []byte("test-secret")
	testNow    = time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
)

type testServer struct {
	handler  http.Handler
	dispatch *notification.Dispatcher
	patient  identity.Actor
	admin    identity.Actor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	dispatch := notification.NewDispatcher(
		notification.NewMemoryRepository(),
		notification.NewMemoryContacts(),
		&notification.RecordingSMSSender{},
		&notification.RecordingEmailSender{},
		zerolog.Nop(),
	)
	t.Cleanup(dispatch.Wait)

	clock := func() time.Time { return testNow }
	appts := appointment.NewService(appointment.NewMemoryRepository(), dispatch,
		config.Config{ClinicTimezone: "UTC"}, zerolog.Nop(), appointment.WithClock(clock))
	emerg := emergency.NewService(emergency.NewMemoryRepository(), dispatch, zerolog.Nop(), emergency.WithClock(clock))

	return &testServer{
		handler: NewRouter(RouterConfig{
			Appointments:  appts,
			Emergencies:   emerg,
			Notifications: dispatch,
			Postgres:      PingFunc(func(context.Context) error { return nil }),
			Logger:        zerolog.Nop(),
			JWTSecret:     testSecret,
			Env:           "test",
			Version:       "dev",
		}),
		dispatch: dispatch,
		patient:  identity.Actor{ID: uuid.New(), Role: identity.RolePatient},
		admin:    identity.Actor{ID: uuid.New(), Role: identity.RoleAdmin},
	}
}

func (s *testServer) do(t *testing.T, actor *identity.Actor, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		token, err := IssueToken(testSecret, *actor, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, nil, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = s.do(t, nil, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "ok", ready.Status)
	assert.Equal(t, "disabled", ready.Dependencies["redis"])
}

func TestReadiness_PostgresDownIsUnavailable(t *testing.T) {
	h := NewHealthHandler(PingFunc(func(context.Context) error { return errors.New("refused") }), nil, "test", "dev")
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuth_RejectsMissingAndBadTokens(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, nil, http.MethodGet, "/slots?date=2025-08-01", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/slots?date=2025-08-01", nil)
	token, err := IssueToken([]byte("other-secret"), s.patient, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	_, err = parseToken(testSecret, "not-a-token")
	assert.Error(t, err)
}

func TestAppointmentFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, &s.patient, http.MethodPost, "/appointments", CreateAppointmentRequest{
		Service:         "Dental check",
		AppointmentDate: "2025-08-01",
		TimeSlot:        "09:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[AppointmentResponse](t, rec)
	assert.Equal(t, s.patient.ID, created.PatientID)
	assert.Equal(t, "2025-08-01", created.AppointmentDate)
	assert.Equal(t, "pending", created.Status)

	rec = s.do(t, &s.patient, http.MethodPost, "/appointments", CreateAppointmentRequest{
		Service: "Dental check", AppointmentDate: "2025-08-01", TimeSlot: "09:00",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_conflict", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, &s.patient, http.MethodGet, "/slots?date=2025-08-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decode[SlotsResponse](t, rec)
	assert.NotContains(t, slots.Slots, "09:00")
	assert.Len(t, slots.Slots, len(appointment.DefaultCatalog)-1)

	path := "/appointments/" + created.ID.String()

	rec = s.do(t, &s.patient, http.MethodPost, path+"/approve", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &s.admin, http.MethodPost, path+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", decode[AppointmentResponse](t, rec).Status)

	rec = s.do(t, &s.admin, http.MethodPost, path+"/approve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, &s.admin, http.MethodPost, path+"/cancel", ReasonRequest{Reason: "doctor unavailable"})
	require.Equal(t, http.StatusOK, rec.Code)
	cancelled := decode[AppointmentResponse](t, rec)
	require.NotNil(t, cancelled.StatusReason)
	assert.Equal(t, "doctor unavailable", *cancelled.StatusReason)

	rec = s.do(t, &s.patient, http.MethodGet, "/appointments?upcoming=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListResponse[AppointmentResponse]](t, rec)
	assert.Equal(t, 1, list.Count)

	s.dispatch.Wait()
	rec = s.do(t, &s.patient, http.MethodGet, "/notifications/unread-count", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[UnreadCountResponse](t, rec).Count)
}

func TestAppointments_PatientCannotActForOthers(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, &s.patient, http.MethodPost, "/appointments", CreateAppointmentRequest{
		PatientID: uuid.NewString(), Service: "X-ray", AppointmentDate: "2025-08-01", TimeSlot: "10:00",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &s.patient, http.MethodGet, "/appointments?patient_id="+uuid.NewString(), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &s.admin, http.MethodGet, "/appointments", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "staff must name a patient")
}

func TestAppointments_OnlyPatientsBook(t *testing.T) {
	s := newTestServer(t)
	system := identity.Actor{ID: uuid.New(), Role: identity.RoleSystem}

	tests := []struct {
		name  string
		actor identity.Actor
	}{
		{"admin", s.admin},
		{"system", system},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, &tt.actor, http.MethodPost, "/appointments", CreateAppointmentRequest{
				PatientID: s.patient.ID.String(), Service: "X-ray", AppointmentDate: "2025-08-01", TimeSlot: "10:00",
			})
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}

	rec := s.do(t, &s.patient, http.MethodGet, "/slots?date=2025-08-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[SlotsResponse](t, rec).Slots, "10:00")
}

func TestAppointments_OtherPatientsAppointmentIsHidden(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, &s.patient, http.MethodPost, "/appointments", CreateAppointmentRequest{
		Service: "Dental check", AppointmentDate: "2025-08-01", TimeSlot: "09:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	path := "/appointments/" + decode[AppointmentResponse](t, rec).ID.String()

	stranger := identity.Actor{ID: uuid.New(), Role: identity.RolePatient}
	rec = s.do(t, &stranger, http.MethodPost, path+"/cancel", ReasonRequest{Reason: "not mine"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, &stranger, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAppointments_BadInput(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"bad date", "/appointments", CreateAppointmentRequest{Service: "X", AppointmentDate: "01/08/2025", TimeSlot: "09:00"}, http.StatusBadRequest},
		{"unknown slot", "/appointments", CreateAppointmentRequest{Service: "X", AppointmentDate: "2025-08-01", TimeSlot: "09:15"}, http.StatusBadRequest},
		{"past date", "/appointments", CreateAppointmentRequest{Service: "X", AppointmentDate: "2025-06-30", TimeSlot: "09:00"}, http.StatusBadRequest},
		{"unknown field", "/appointments", map[string]string{"slot": "09:00"}, http.StatusBadRequest},
		{"bad id", "/appointments/not-a-uuid/cancel", nil, http.StatusBadRequest},
		{"missing appointment", "/appointments/" + uuid.NewString() + "/cancel", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, &s.patient, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestNotifications_MarkRead(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, &s.patient, http.MethodPost, "/appointments", CreateAppointmentRequest{
		Service: "Physio", AppointmentDate: "2025-08-02", TimeSlot: "11:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, &s.patient, http.MethodGet, "/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListResponse[notification.Notification]](t, rec)
	require.Equal(t, 1, list.Count)
	id := list.Items[0].ID.String()

	rec = s.do(t, &s.admin, http.MethodPost, "/notifications/"+id+"/read", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &s.patient, http.MethodPost, "/notifications/"+id+"/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[notification.Notification](t, rec).Read)

	rec = s.do(t, &s.patient, http.MethodGet, "/notifications/unread-count", nil)
	assert.Equal(t, 0, decode[UnreadCountResponse](t, rec).Count)
}

func TestEmergencyFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, &s.patient, http.MethodPost, "/emergencies", ReportEmergencyRequest{
		Type: "chest pain", PainLevel: 8, Symptoms: "tightness",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reported := decode[emergency.Record](t, rec)
	assert.Equal(t, emergency.StatusReported, reported.Status)

	rec = s.do(t, &s.patient, http.MethodPost, "/emergencies", ReportEmergencyRequest{Type: "burn", PainLevel: 12})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	path := "/emergencies/" + reported.ID.String()

	rec = s.do(t, &s.patient, http.MethodPost, path+"/triage", TriageRequest{Priority: "immediate"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &s.admin, http.MethodPost, path+"/triage", TriageRequest{Priority: "immediate"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, emergency.PriorityImmediate, decode[emergency.Record](t, rec).Priority)

	rec = s.do(t, &s.admin, http.MethodGet, "/emergencies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	feed := decode[ListResponse[emergency.Record]](t, rec)
	require.Equal(t, 1, feed.Count)
	assert.Equal(t, reported.ID, feed.Items[0].ID)

	rec = s.do(t, &s.admin, http.MethodPost, path+"/start", StartRequest{HandledBy: "Dr. Aziz"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, &s.admin, http.MethodPost, path+"/resolve", ResolveRequest{Resolution: "stabilised"})
	require.Equal(t, http.StatusOK, rec.Code)
	resolved := decode[emergency.Record](t, rec)
	assert.Equal(t, emergency.StatusResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)

	rec = s.do(t, &s.admin, http.MethodPost, path+"/refer", ReferRequest{Note: "cardiology"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, &s.patient, http.MethodGet, "/emergencies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[ListResponse[emergency.Record]](t, rec).Count)

	stranger := identity.Actor{ID: uuid.New(), Role: identity.RolePatient}
	rec = s.do(t, &stranger, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
