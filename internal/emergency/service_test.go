package emergency

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointments/internal/apperr"
	"github.com/hackgods/clinic-appointments/internal/identity"
	"github.com/hackgods/clinic-appointments/internal/notification"
)

var (
	reportedAt = time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)
	admin      = identity.Actor{ID: uuid.New(), Role: identity.RoleAdmin}
)

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	notes    *notification.MemoryRepository
	contacts *notification.MemoryContacts
	sms      *notification.RecordingSMSSender
	email    *notification.RecordingEmailSender
	dispatch *notification.Dispatcher
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:     NewMemoryRepository(),
		notes:    notification.NewMemoryRepository(),
		contacts: notification.NewMemoryContacts(),
		sms:      &notification.RecordingSMSSender{},
		email:    &notification.RecordingEmailSender{},
		clock:    reportedAt,
	}
	f.dispatch = notification.NewDispatcher(f.notes, f.contacts, f.sms, f.email, zerolog.Nop())
	f.svc = NewService(f.repo, f.dispatch, zerolog.Nop(), WithClock(func() time.Time { return f.clock }))
	t.Cleanup(f.dispatch.Wait)
	return f
}

func (f *fixture) report(t *testing.T, patientID uuid.UUID, in ReportInput) *Record {
	t.Helper()
	rec, err := f.svc.Report(context.Background(), patientID, identity.Actor{ID: patientID, Role: identity.RolePatient}, in)
	require.NoError(t, err)
	return rec
}

func TestReport_DefaultsAndValidation(t *testing.T) {
	f := newFixture(t)
	patient := uuid.New()

	rec := f.report(t, patient, ReportInput{Type: " chest pain ", PainLevel: 7, Symptoms: "tightness"})
	assert.Equal(t, StatusReported, rec.Status)
	assert.Equal(t, PriorityStandard, rec.Priority)
	assert.Equal(t, "chest pain", rec.Type)
	assert.Equal(t, reportedAt, rec.ReportedAt)
	assert.Nil(t, rec.ResolvedAt)

	self := identity.Actor{ID: patient, Role: identity.RolePatient}
	tests := []struct {
		name string
		in   ReportInput
	}{
		{"missing type", ReportInput{PainLevel: 3}},
		{"pain too high", ReportInput{Type: "burn", PainLevel: 11}},
		{"negative pain", ReportInput{Type: "burn", PainLevel: -1}},
		{"unknown priority", ReportInput{Type: "burn", Priority: "whenever"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Report(context.Background(), patient, self, tt.in)
			assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
		})
	}
}

func TestReport_OnlyForSelfUnlessAdmin(t *testing.T) {
	f := newFixture(t)
	patient := uuid.New()
	other := identity.Actor{ID: uuid.New(), Role: identity.RolePatient}

	_, err := f.svc.Report(context.Background(), patient, other, ReportInput{Type: "fall"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	rec, err := f.svc.Report(context.Background(), patient, admin, ReportInput{Type: "fall", Priority: PriorityUrgent})
	require.NoError(t, err)
	assert.Equal(t, patient, rec.PatientID)
}

func TestLifecycle_ResolveSetsResolvedAt(t *testing.T) {
	f := newFixture(t)
	patient := uuid.New()
	f.contacts.Put(patient, notification.Contact{Name: "Sana", Phone: "+15550300", Email: "sana@example.com"})
	rec := f.report(t, patient, ReportInput{Type: "chest pain", PainLevel: 8})
	ctx := context.Background()

	triaged, err := f.svc.Triage(ctx, rec.ID, admin, PriorityImmediate)
	require.NoError(t, err)
	assert.Equal(t, StatusTriaged, triaged.Status)
	assert.Equal(t, PriorityImmediate, triaged.Priority)

	started, err := f.svc.Start(ctx, rec.ID, admin, "Dr. Malik")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)
	require.NotNil(t, started.HandledBy)
	assert.Equal(t, "Dr. Malik", *started.HandledBy)
	assert.Nil(t, started.ResolvedAt)

	f.clock = reportedAt.Add(2 * time.Hour)
	resolved, err := f.svc.Resolve(ctx, rec.ID, admin, "stabilised", "cardiology review in a week")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, f.clock, *resolved.ResolvedAt)
	require.NotNil(t, resolved.FollowUp)
	assert.Equal(t, "cardiology review in a week", *resolved.FollowUp)

	_, err = f.svc.Refer(ctx, rec.ID, admin, "too late")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	f.dispatch.Wait()
	list, err := f.notes.ListByPatient(ctx, patient, 0)
	require.NoError(t, err)
	assert.Len(t, list, 4, "report plus three transitions")
	for _, n := range list {
		assert.Equal(t, notification.TypeEmergencyUpdate, n.Type)
	}
	assert.Len(t, f.sms.Calls(), 3, "report is in-app only")
	assert.Len(t, f.email.Calls(), 3)
}

func TestRefer_StoresNoteAndLeavesResolvedAtEmpty(t *testing.T) {
	f := newFixture(t)
	patient := uuid.New()
	rec := f.report(t, patient, ReportInput{Type: "fracture", PainLevel: 6})
	ctx := context.Background()

	_, err := f.svc.Triage(ctx, rec.ID, admin, PriorityUrgent)
	require.NoError(t, err)

	referred, err := f.svc.Refer(ctx, rec.ID, admin, "Orthopaedics at City Hospital")
	require.NoError(t, err)
	assert.Equal(t, StatusReferred, referred.Status)
	assert.Nil(t, referred.ResolvedAt)
	require.NotNil(t, referred.FollowUp)
	assert.Equal(t, "Orthopaedics at City Hospital", *referred.FollowUp)

	f.dispatch.Wait()
	list, err := f.notes.ListByPatient(ctx, patient, 0)
	require.NoError(t, err)
	var referral *notification.Notification
	for i := range list {
		if strings.Contains(list[i].Message, "now referred") {
			referral = &list[i]
		}
	}
	require.NotNil(t, referral)
	assert.Contains(t, referral.Message, "Orthopaedics at City Hospital")
}

func TestTransitions_Matrix(t *testing.T) {
	tests := []struct {
		name    string
		setup   []Status
		to      Status
		allowed bool
	}{
		{"triage reported", nil, StatusTriaged, true},
		{"start reported", nil, StatusInProgress, true},
		{"resolve reported", nil, StatusResolved, false},
		{"refer reported", nil, StatusReferred, false},
		{"start triaged", []Status{StatusTriaged}, StatusInProgress, true},
		{"triage twice", []Status{StatusTriaged}, StatusTriaged, false},
		{"resolve triaged", []Status{StatusTriaged}, StatusResolved, true},
		{"triage in progress", []Status{StatusInProgress}, StatusTriaged, false},
		{"refer in progress", []Status{StatusInProgress}, StatusReferred, true},
		{"start referred", []Status{StatusTriaged, StatusReferred}, StatusInProgress, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.report(t, uuid.New(), ReportInput{Type: "burn"})
			for _, s := range tt.setup {
				_, err := apply(f.svc, rec.ID, s)
				require.NoError(t, err)
			}

			_, err := apply(f.svc, rec.ID, tt.to)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
			}
		})
	}
}

func apply(svc *Service, id uuid.UUID, to Status) (*Record, error) {
	ctx := context.Background()
	switch to {
	case StatusTriaged:
		return svc.Triage(ctx, id, admin, PriorityUrgent)
	case StatusInProgress:
		return svc.Start(ctx, id, admin, "nurse on duty")
	case StatusResolved:
		return svc.Resolve(ctx, id, admin, "treated", "")
	case StatusReferred:
		return svc.Refer(ctx, id, admin, "specialist")
	}
	panic("unexpected status " + string(to))
}

func TestTransitions_AdminOnly(t *testing.T) {
	f := newFixture(t)
	patient := uuid.New()
	rec := f.report(t, patient, ReportInput{Type: "cut"})

	_, err := f.svc.Triage(context.Background(), rec.ID, identity.Actor{ID: patient, Role: identity.RolePatient}, PriorityUrgent)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.Start(context.Background(), rec.ID, identity.System, "robot")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	got, err := f.svc.Get(context.Background(), rec.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, StatusReported, got.Status)
}

func TestTransitions_InputValidation(t *testing.T) {
	f := newFixture(t)
	rec := f.report(t, uuid.New(), ReportInput{Type: "cut"})
	ctx := context.Background()

	_, err := f.svc.Triage(ctx, rec.ID, admin, "later")
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)

	_, err = f.svc.Start(ctx, rec.ID, admin, "  ")
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)

	_, err = f.svc.Triage(ctx, uuid.New(), admin, PriorityUrgent)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGet_HidesOtherPatientsRecords(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	rec := f.report(t, owner, ReportInput{Type: "allergy"})

	_, err := f.svc.Get(context.Background(), rec.ID, identity.Actor{ID: uuid.New(), Role: identity.RolePatient})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	got, err := f.svc.Get(context.Background(), rec.ID, identity.Actor{ID: owner, Role: identity.RolePatient})
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}

func TestActiveFeed_OrdersBySeverityThenAge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	at := func(minutes int, p Priority) *Record {
		f.clock = reportedAt.Add(time.Duration(minutes) * time.Minute)
		return f.report(t, uuid.New(), ReportInput{Type: "case", Priority: p})
	}

	standardOld := at(0, PriorityStandard)
	urgentNew := at(10, PriorityUrgent)
	immediateNew := at(20, PriorityImmediate)
	urgentOld := at(5, PriorityUrgent)
	done := at(1, PriorityImmediate)

	_, err := f.svc.Start(ctx, done.ID, admin, "Dr. Noor")
	require.NoError(t, err)
	_, err = f.svc.Resolve(ctx, done.ID, admin, "treated", "")
	require.NoError(t, err)

	feed, err := f.svc.ActiveFeed(ctx, admin, 0)
	require.NoError(t, err)

	var ids []uuid.UUID
	for _, r := range feed {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []uuid.UUID{immediateNew.ID, urgentOld.ID, urgentNew.ID, standardOld.ID}, ids)

	_, err = f.svc.ActiveFeed(ctx, identity.Actor{ID: uuid.New(), Role: identity.RolePatient}, 0)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestListByPatient_NewestFirst(t *testing.T) {
	f := newFixture(t)
	patient := uuid.New()

	first := f.report(t, patient, ReportInput{Type: "first"})
	f.clock = reportedAt.Add(time.Hour)
	second := f.report(t, patient, ReportInput{Type: "second"})
	f.report(t, uuid.New(), ReportInput{Type: "someone else"})

	list, err := f.svc.ListByPatient(context.Background(), patient, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultListLimit, clampLimit(0))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, maxListLimit, clampLimit(10_000))
}

type cancelAfterCommit struct {
	*MemoryRepository
	cancel context.CancelFunc
}

func (r *cancelAfterCommit) Create(ctx context.Context, rec *Record) error {
	err := r.MemoryRepository.Create(ctx, rec)
	r.cancel()
	return err
}

func (r *cancelAfterCommit) Transition(ctx context.Context, id uuid.UUID, from Status, c Change) (*Record, error) {
	rec, err := r.MemoryRepository.Transition(ctx, id, from, c)
	r.cancel()
	return rec, err
}

// ctxAwareNotes fails writes on a finished context like a pgx pool does.
type ctxAwareNotes struct {
	*notification.MemoryRepository
}

func (r ctxAwareNotes) Create(ctx context.Context, n *notification.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.MemoryRepository.Create(ctx, n)
}

func TestCommittedChangeNotifiesAfterCallerCancels(t *testing.T) {
	notes := notification.NewMemoryRepository()
	dispatch := notification.NewDispatcher(ctxAwareNotes{notes}, notification.NewMemoryContacts(),
		&notification.RecordingSMSSender{}, &notification.RecordingEmailSender{}, zerolog.Nop())
	t.Cleanup(dispatch.Wait)

	repo := &cancelAfterCommit{MemoryRepository: NewMemoryRepository()}
	svc := NewService(repo, dispatch, zerolog.Nop(), WithClock(func() time.Time { return reportedAt }))
	patient := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	repo.cancel = cancel
	rec, err := svc.Report(ctx, patient, identity.Actor{ID: patient, Role: identity.RolePatient}, ReportInput{Type: "burn", PainLevel: 4})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	repo.cancel = cancel
	_, err = svc.Triage(ctx, rec.ID, admin, PriorityUrgent)
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	dispatch.Wait()
	list, err := notes.ListByPatient(context.Background(), patient, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
