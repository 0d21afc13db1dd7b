package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointments/internal/apperr"
)

type mockContacts struct {
	mock.Mock
}

func (m *mockContacts) Contact(ctx context.Context, patientID uuid.UUID) (Contact, error) {
	args := m.Called(ctx, patientID)
	return args.Get(0).(Contact), args.Error(1)
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []Notification
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, n Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, n)
	return p.err
}

type failingRepo struct {
	*MemoryRepository
}

func (failingRepo) Create(context.Context, *Notification) error {
	return errors.New("database unavailable")
}

var fixedNow = time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

func approvedEvent(patientID uuid.UUID) AppointmentEvent {
	return AppointmentEvent{
		Type:          TypeAppointmentApproved,
		AppointmentID: uuid.New(),
		PatientID:     patientID,
		Service:       "General consultation",
		Date:          time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
		Slot:          "10:00",
		Channels:      AllChannels,
	}
}

func newTestDispatcher(repo Repository, contacts ContactDirectory, sms *RecordingSMSSender, email *RecordingEmailSender, opts ...Option) *Dispatcher {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewDispatcher(repo, contacts, sms, email, zerolog.Nop(), opts...)
}

func TestDispatch_AllChannelsSucceed(t *testing.T) {
	patientID := uuid.New()
	contacts := new(mockContacts)
	contacts.On("Contact", mock.Anything, patientID).
		Return(Contact{Name: "Amina", Phone: "+15550001", Email: "amina@example.com"}, nil)

	repo := NewMemoryRepository()
	sms := &RecordingSMSSender{}
	email := &RecordingEmailSender{}
	pub := &recordingPublisher{}
	d := newTestDispatcher(repo, contacts, sms, email, WithPublisher(pub))

	n, err := d.Dispatch(context.Background(), approvedEvent(patientID))
	require.NoError(t, err)
	d.Wait()

	assert.Equal(t, TypeAppointmentApproved, n.Type)
	assert.Equal(t, "Appointment approved", n.Title)
	assert.Contains(t, n.Message, "Friday, August 1, 2025 at 10:00")
	assert.Equal(t, fixedNow, n.CreatedAt)

	stored, err := repo.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.True(t, stored.SMSSent)
	require.NotNil(t, stored.SMSMessageID)
	assert.Equal(t, "SM0001", *stored.SMSMessageID)
	assert.True(t, stored.EmailSent)
	require.NotNil(t, stored.EmailMessageID)
	assert.Equal(t, "em_0001", *stored.EmailMessageID)

	require.Len(t, sms.Calls(), 1)
	assert.Equal(t, "+15550001", sms.Calls()[0].To)
	require.Len(t, email.Calls(), 1)
	assert.Equal(t, "Your appointment is confirmed", email.Calls()[0].Subject)
	assert.Contains(t, email.Calls()[0].Text, "Dear Amina,")

	require.Len(t, pub.published, 1)
	assert.Equal(t, n.ID, pub.published[0].ID)
	contacts.AssertExpectations(t)
}

func TestDispatch_ChannelFailureDoesNotFail(t *testing.T) {
	patientID := uuid.New()
	contacts := NewMemoryContacts()
	contacts.Put(patientID, Contact{Name: "Bilal", Phone: "+15550002", Email: "bilal@example.com"})

	repo := NewMemoryRepository()
	sms := &RecordingSMSSender{ShouldFail: true, FailError: "carrier rejected"}
	email := &RecordingEmailSender{}
	d := newTestDispatcher(repo, contacts, sms, email)

	n, err := d.Dispatch(context.Background(), approvedEvent(patientID))
	require.NoError(t, err)
	d.Wait()

	stored, err := repo.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.False(t, stored.SMSSent)
	assert.Nil(t, stored.SMSMessageID)
	assert.True(t, stored.EmailSent)
}

func TestDispatch_SkipsUnconfiguredAndMissingContact(t *testing.T) {
	patientID := uuid.New()
	contacts := NewMemoryContacts()
	contacts.Put(patientID, Contact{Name: "Chen", Email: "chen@example.com"})

	repo := NewMemoryRepository()
	sms := &RecordingSMSSender{}
	email := &RecordingEmailSender{Unconfigured: true}
	d := newTestDispatcher(repo, contacts, sms, email)

	n, err := d.Dispatch(context.Background(), approvedEvent(patientID))
	require.NoError(t, err)
	d.Wait()

	assert.Empty(t, sms.Calls(), "no phone on file")
	assert.Empty(t, email.Calls(), "email sender not configured")

	stored, err := repo.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.False(t, stored.SMSSent)
	assert.False(t, stored.EmailSent)
}

func TestDispatch_InAppOnlyEvent(t *testing.T) {
	patientID := uuid.New()
	contacts := NewMemoryContacts()
	contacts.Put(patientID, Contact{Name: "Dana", Phone: "+15550004", Email: "dana@example.com"})

	sms := &RecordingSMSSender{}
	email := &RecordingEmailSender{}
	d := newTestDispatcher(NewMemoryRepository(), contacts, sms, email)

	ev := approvedEvent(patientID)
	ev.Type = TypeAppointmentCreated
	ev.Channels = InAppOnly

	n, err := d.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	d.Wait()

	assert.Equal(t, TypeAppointmentCreated, n.Type)
	assert.Empty(t, sms.Calls())
	assert.Empty(t, email.Calls())
}

func TestDispatch_UnknownContactStillStoresInApp(t *testing.T) {
	repo := NewMemoryRepository()
	sms := &RecordingSMSSender{}
	d := newTestDispatcher(repo, NewMemoryContacts(), sms, &RecordingEmailSender{})

	patientID := uuid.New()
	n, err := d.Dispatch(context.Background(), approvedEvent(patientID))
	require.NoError(t, err)
	d.Wait()

	assert.Contains(t, n.Message, "approved")
	assert.Empty(t, sms.Calls())

	count, err := d.UnreadCount(context.Background(), patientID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDispatch_StoreFailureIsReturned(t *testing.T) {
	sms := &RecordingSMSSender{}
	d := newTestDispatcher(failingRepo{NewMemoryRepository()}, NewMemoryContacts(), sms, &RecordingEmailSender{})

	_, err := d.Dispatch(context.Background(), approvedEvent(uuid.New()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store notification")
	assert.Empty(t, sms.Calls())
}

func TestDispatch_CancelledCallerDoesNotAbortSends(t *testing.T) {
	patientID := uuid.New()
	contacts := NewMemoryContacts()
	contacts.Put(patientID, Contact{Phone: "+15550005"})

	sms := &RecordingSMSSender{}
	repo := NewMemoryRepository()
	d := newTestDispatcher(repo, contacts, sms, &RecordingEmailSender{})

	ctx, cancel := context.WithCancel(context.Background())
	n, err := d.Dispatch(ctx, approvedEvent(patientID))
	require.NoError(t, err)
	cancel()
	d.Wait()

	stored, err := repo.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.True(t, stored.SMSSent)
}

func TestDispatch_EmergencyEvent(t *testing.T) {
	patientID := uuid.New()
	contacts := NewMemoryContacts()
	contacts.Put(patientID, Contact{Name: "Eve", Phone: "+15550006"})
	sms := &RecordingSMSSender{}
	d := newTestDispatcher(NewMemoryRepository(), contacts, sms, &RecordingEmailSender{})

	n, err := d.Dispatch(context.Background(), EmergencyEvent{
		EmergencyID:   uuid.New(),
		PatientID:     patientID,
		EmergencyType: "injury",
		Priority:      "urgent",
		Status:        "in_progress",
		Channels:      Delivery{SMS: true},
	})
	require.NoError(t, err)
	d.Wait()

	assert.Equal(t, TypeEmergencyUpdate, n.Type)
	assert.Equal(t, "Your injury report is now in progress. Priority: urgent.", n.Message)
	require.Len(t, sms.Calls(), 1)
}

func TestMarkReadAndUnreadCount(t *testing.T) {
	patientID := uuid.New()
	d := newTestDispatcher(NewMemoryRepository(), NewMemoryContacts(), &RecordingSMSSender{}, &RecordingEmailSender{})

	first, err := d.Dispatch(context.Background(), approvedEvent(patientID))
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), approvedEvent(patientID))
	require.NoError(t, err)

	count, err := d.UnreadCount(context.Background(), patientID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	read, err := d.MarkRead(context.Background(), first.ID, patientID)
	require.NoError(t, err)
	assert.True(t, read.Read)

	_, err = d.MarkRead(context.Background(), first.ID, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	count, err = d.UnreadCount(context.Background(), patientID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	list, err := d.ListNotifications(context.Background(), patientID, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

type lateSMSSender struct {
	delay time.Duration
}

func (s lateSMSSender) Configured() bool { return true }

func (s lateSMSSender) SendSMS(ctx context.Context, _, _ string) (string, error) {
	select {
	case <-time.After(s.delay):
		return "SM-delivered", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type slowMarkRepo struct {
	*MemoryRepository
	delay time.Duration
}

func (r slowMarkRepo) MarkChannelSent(ctx context.Context, id uuid.UUID, ch Channel, messageID string) error {
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.MemoryRepository.MarkChannelSent(ctx, id, ch, messageID)
}

func TestDispatch_LateProviderAnswerIsStillRecorded(t *testing.T) {
	patientID := uuid.New()
	contacts := NewMemoryContacts()
	contacts.Put(patientID, Contact{Phone: "+15550007"})

	mem := NewMemoryRepository()
	repo := slowMarkRepo{MemoryRepository: mem, delay: 20 * time.Millisecond}
	d := NewDispatcher(repo, contacts, lateSMSSender{delay: 190 * time.Millisecond}, &RecordingEmailSender{}, zerolog.Nop(),
		WithClock(func() time.Time { return fixedNow }),
		WithChannelTimeout(200*time.Millisecond),
	)

	ev := approvedEvent(patientID)
	ev.Channels = Delivery{SMS: true}
	n, err := d.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	d.Wait()

	stored, err := mem.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.True(t, stored.SMSSent)
	require.NotNil(t, stored.SMSMessageID)
	assert.Equal(t, "SM-delivered", *stored.SMSMessageID)
}

type blockingPublisher struct {
	release chan struct{}
	mu      sync.Mutex
	got     []uuid.UUID
}

func (p *blockingPublisher) Publish(ctx context.Context, n Notification) error {
	select {
	case <-p.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, n.ID)
	return nil
}

func TestDispatch_SlowPublisherDoesNotBlockCaller(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	d := newTestDispatcher(NewMemoryRepository(), NewMemoryContacts(), &RecordingSMSSender{}, &RecordingEmailSender{},
		WithPublisher(pub))

	done := make(chan *Notification, 1)
	go func() {
		n, err := d.Dispatch(context.Background(), approvedEvent(uuid.New()))
		assert.NoError(t, err)
		done <- n
	}()

	var n *Notification
	select {
	case n = <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch waited on the publisher")
	}
	require.NotNil(t, n)

	close(pub.release)
	d.Wait()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, []uuid.UUID{n.ID}, pub.got)
}

func TestDispatch_PublishIsBoundedByChannelTimeout(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	d := newTestDispatcher(NewMemoryRepository(), NewMemoryContacts(), &RecordingSMSSender{}, &RecordingEmailSender{},
		WithPublisher(pub), WithChannelTimeout(50*time.Millisecond))

	_, err := d.Dispatch(context.Background(), approvedEvent(uuid.New()))
	require.NoError(t, err)
	d.Wait()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Empty(t, pub.got)
}
