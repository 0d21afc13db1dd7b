package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-appointments/internal/apperr"
	"github.com/hackgods/clinic-appointments/internal/config"
	"github.com/hackgods/clinic-appointments/internal/identity"
	"github.com/hackgods/clinic-appointments/internal/notification"
	redisclient "github.com/hackgods/clinic-appointments/internal/redis"
	"github.com/hackgods/clinic-appointments/internal/telemetry"
)

// StaleReason is recorded on pending appointments nobody reviewed in time.
const StaleReason = "not reviewed before the appointment date"

// Notifier is the slice of the notification dispatcher the service needs.
type Notifier interface {
	Dispatch(ctx context.Context, ev notification.Event) (*notification.Notification, error)
}

// edges lists the legal transitions out of each non-terminal status.
var edges = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved: {StatusCompleted, StatusCancelled},
}

func canTransition(from, to Status) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

var transitionNotice = map[Status]notification.Type{
	StatusApproved:  notification.TypeAppointmentApproved,
	StatusRejected:  notification.TypeAppointmentRejected,
	StatusCancelled: notification.TypeAppointmentCancelled,
	StatusCompleted: notification.TypeAppointmentCompleted,
}

var operationName = map[Status]string{
	StatusApproved:  "approve",
	StatusRejected:  "reject",
	StatusCancelled: "cancel",
	StatusCompleted: "complete",
}

type Service struct {
	repo     Repository
	resolver *Resolver
	catalog  Catalog
	locker   redisclient.Locker
	notifier Notifier
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
	loc      *time.Location
	now      func() time.Time
}

type Option func(*Service)

// WithLocker adds a Redis lock in front of the store's own slot check.
func WithLocker(l redisclient.Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithCatalog(c Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, notifier Notifier, cfg config.Config, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		catalog:  DefaultCatalog,
		notifier: notifier,
		logger:   logger.With().Str("component", "appointment_service").Logger(),
		loc:      cfg.Location(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = NewResolver(s.catalog, repo)
	return s
}

// Today is the clinic-local calendar day.
func (s *Service) Today() time.Time {
	return Day(s.now(), s.loc)
}

// FreeSlots lists the unheld catalog slots for date.
func (s *Service) FreeSlots(ctx context.Context, date time.Time) ([]string, error) {
	return s.resolver.FreeSlots(ctx, date)
}

func (s *Service) validateSlot(date time.Time, slot string) error {
	if date.Before(s.Today()) {
		return apperr.Invalid("date %s is in the past", FormatDate(date))
	}
	if !inCatalog(s.catalog, date, slot) {
		return apperr.Invalid("unknown time slot %q", slot)
	}
	return nil
}

// withSlotLock takes the optional Redis lock for (date, slot). Redis being
// unreachable is not fatal since the store enforces the invariant itself.
func (s *Service) withSlotLock(ctx context.Context, date time.Time, slot string, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}

	key := fmt.Sprintf("slot:%s:%s", FormatDate(date), slot)
	ran := false
	err := s.locker.WithLock(ctx, key, func(lockCtx context.Context) error {
		ran = true
		return fn(lockCtx)
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return fmt.Errorf("%w: slot is being booked by another request", apperr.ErrSlotConflict)
	case err != nil && !ran:
		s.logger.Warn().Err(err).Str("lock_key", key).Msg("slot lock unavailable, relying on store")
		return fn(ctx)
	}
	return err
}

// Create books a pending appointment for a patient.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Appointment, error) {
	ctx, span := telemetry.StartSpan(ctx, "appointment.Create",
		attribute.String("time_slot", in.TimeSlot))
	defer span.End()

	in.Service = strings.TrimSpace(in.Service)
	in.Notes = strings.TrimSpace(in.Notes)
	in.Date = normalizeDate(in.Date)

	if in.PatientID == uuid.Nil {
		return nil, apperr.Invalid("patient_id is required")
	}
	if in.Service == "" {
		return nil, apperr.Invalid("service is required")
	}
	if in.Date.IsZero() {
		return nil, apperr.Invalid("appointment_date is required")
	}
	if err := s.validateSlot(in.Date, in.TimeSlot); err != nil {
		return nil, err
	}

	var created *Appointment
	err := s.withSlotLock(ctx, in.Date, in.TimeSlot, func(lockCtx context.Context) error {
		appt, err := s.repo.Create(lockCtx, in)
		if err != nil {
			return err
		}
		created = appt
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		s.metrics.Transition(ctx, string(StatusPending), outcome(err))
		if errors.Is(err, apperr.ErrSlotConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.metrics.Transition(ctx, string(StatusPending), "ok")
	s.logger.Info().
		Str("appointment_id", created.ID.String()).
		Str("patient_id", created.PatientID.String()).
		Str("date", FormatDate(created.Date)).
		Str("time_slot", created.TimeSlot).
		Msg("appointment created")

	s.notify(ctx, created, notification.TypeAppointmentCreated, notification.InAppOnly, nil)

	return created, nil
}

// Approve moves a pending appointment to approved.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, actor identity.Actor) (*Appointment, error) {
	return s.transition(ctx, id, actor, StatusApproved, "")
}

// Reject moves a pending appointment to rejected, keeping the reason if given.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, actor identity.Actor, reason string) (*Appointment, error) {
	return s.transition(ctx, id, actor, StatusRejected, reason)
}

// Cancel is open to staff from pending or approved, and to the owning
// patient while the appointment is still pending.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor identity.Actor, reason string) (*Appointment, error) {
	return s.transition(ctx, id, actor, StatusCancelled, reason)
}

// Complete moves an approved appointment to completed.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor identity.Actor) (*Appointment, error) {
	return s.transition(ctx, id, actor, StatusCompleted, "")
}

func (s *Service) authorize(actor identity.Actor, appt *Appointment, to Status) error {
	if actor.IsStaff() {
		if actor.Role == identity.RoleSystem && to != StatusCancelled {
			return apperr.Forbidden("system actor may only cancel")
		}
		return nil
	}
	if actor.Role != identity.RolePatient {
		return apperr.Forbidden("unknown role")
	}
	if actor.ID != appt.PatientID {
		return apperr.NotFound("appointment")
	}
	if to != StatusCancelled {
		return apperr.Forbidden(operationName[to] + " requires an admin")
	}
	return nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, actor identity.Actor, to Status, reason string) (*Appointment, error) {
	op := operationName[to]
	ctx, span := telemetry.StartSpan(ctx, "appointment."+op,
		attribute.String("appointment_id", id.String()),
		attribute.String("actor_role", string(actor.Role)))
	defer span.End()

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if err := s.authorize(actor, appt, to); err != nil {
		s.metrics.Transition(ctx, string(to), "forbidden")
		return nil, err
	}

	// Patients may only withdraw a request nobody has approved yet.
	allowed := canTransition(appt.Status, to)
	if actor.Role == identity.RolePatient && appt.Status != StatusPending {
		allowed = false
	}
	if !allowed {
		s.metrics.Transition(ctx, string(to), "invalid_transition")
		return nil, apperr.Transition("appointment", string(appt.Status), op)
	}

	var reasonPtr *string
	if r := strings.TrimSpace(reason); r != "" {
		reasonPtr = &r
	}

	updated, err := s.repo.Transition(ctx, id, appt.Status, to, reasonPtr)
	if err != nil {
		telemetry.RecordError(span, err)
		s.metrics.Transition(ctx, string(to), outcome(err))
		if errors.Is(err, apperr.ErrInvalidTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("%s appointment: %w", op, err)
	}

	s.metrics.Transition(ctx, string(to), "ok")
	s.logger.Info().
		Str("appointment_id", updated.ID.String()).
		Str("from", string(appt.Status)).
		Str("to", string(to)).
		Str("actor_role", string(actor.Role)).
		Msg("appointment status changed")

	s.notify(ctx, updated, transitionNotice[to], notification.AllChannels, nil)

	return updated, nil
}

// Reschedule moves a pending appointment to another free (date, slot).
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, actor identity.Actor, date time.Time, slot string) (*Appointment, error) {
	ctx, span := telemetry.StartSpan(ctx, "appointment.reschedule",
		attribute.String("appointment_id", id.String()))
	defer span.End()

	date = normalizeDate(date)
	if err := s.validateSlot(date, slot); err != nil {
		return nil, err
	}

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !actor.IsStaff() && actor.ID != appt.PatientID {
		return nil, apperr.NotFound("appointment")
	}
	if actor.Role == identity.RoleSystem {
		return nil, apperr.Forbidden("system actor may only cancel")
	}
	if appt.Status != StatusPending {
		return nil, apperr.Transition("appointment", string(appt.Status), "reschedule")
	}

	previous := *appt
	var moved *Appointment
	err = s.withSlotLock(ctx, date, slot, func(lockCtx context.Context) error {
		m, err := s.repo.Reschedule(lockCtx, id, date, slot)
		if err != nil {
			return err
		}
		moved = m
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		s.metrics.Transition(ctx, "rescheduled", outcome(err))
		if errors.Is(err, apperr.ErrSlotConflict) || errors.Is(err, apperr.ErrInvalidTransition) || errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("reschedule appointment: %w", err)
	}

	s.metrics.Transition(ctx, "rescheduled", "ok")
	s.logger.Info().
		Str("appointment_id", moved.ID.String()).
		Str("date", FormatDate(moved.Date)).
		Str("time_slot", moved.TimeSlot).
		Msg("appointment rescheduled")

	s.notify(ctx, moved, notification.TypeAppointmentRescheduled, notification.AllChannels, &previous)

	return moved, nil
}

// SendConfirmation re-sends the booking notice over every channel.
func (s *Service) SendConfirmation(ctx context.Context, id uuid.UUID, actor identity.Actor) (*notification.Notification, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !actor.IsStaff() && actor.ID != appt.PatientID {
		return nil, apperr.NotFound("appointment")
	}
	if !appt.Status.HoldsSlot() {
		return nil, apperr.Transition("appointment", string(appt.Status), "confirm")
	}

	n, err := s.notifier.Dispatch(context.WithoutCancel(ctx), s.event(appt, notification.TypeAppointmentCreated, notification.AllChannels, nil))
	if err != nil {
		return nil, fmt.Errorf("send confirmation: %w", err)
	}
	return n, nil
}

// Get returns one appointment. Patients only see their own.
func (s *Service) Get(ctx context.Context, id uuid.UUID, actor identity.Actor) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if !actor.IsStaff() && actor.ID != appt.PatientID {
		// Same answer as a missing id, so other patients' ids stay hidden.
		return nil, apperr.NotFound("appointment")
	}
	return appt, nil
}

// ListByPatient returns a page of a patient's appointments.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, filter ListFilter) ([]Appointment, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20 // default
	}
	if filter.Limit > 100 {
		filter.Limit = 100 // max
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.Invalid("unknown status %q", filter.Status)
	}

	list, err := s.repo.ListByPatient(ctx, patientID, filter, s.Today())
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return list, nil
}

// ExpireStalePending cancels pending appointments whose day has passed
// without review. It returns how many were cancelled.
func (s *Service) ExpireStalePending(ctx context.Context) (int, error) {
	stale, err := s.repo.FindStalePending(ctx, s.Today())
	if err != nil {
		return 0, fmt.Errorf("find stale pending appointments: %w", err)
	}

	cancelled := 0
	for _, appt := range stale {
		_, err := s.Cancel(ctx, appt.ID, identity.System, StaleReason)
		if err != nil {
			if errors.Is(err, apperr.ErrInvalidTransition) {
				// Reviewed between the scan and the update.
				continue
			}
			s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to expire appointment")
			continue
		}
		cancelled++
	}

	return cancelled, nil
}

func (s *Service) event(appt *Appointment, typ notification.Type, channels notification.Delivery, previous *Appointment) notification.AppointmentEvent {
	ev := notification.AppointmentEvent{
		Type:          typ,
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		Service:       appt.Service,
		Date:          appt.Date,
		Slot:          appt.TimeSlot,
		Channels:      channels,
	}
	if appt.StatusReason != nil && (typ == notification.TypeAppointmentRejected || typ == notification.TypeAppointmentCancelled) {
		ev.Reason = *appt.StatusReason
	}
	if previous != nil {
		ev.PreviousDate = previous.Date
		ev.PreviousSlot = previous.TimeSlot
	}
	return ev
}

// notify dispatches after a committed change. Failures are logged only; the
// status change already stands, so the caller's cancellation is not passed on.
func (s *Service) notify(ctx context.Context, appt *Appointment, typ notification.Type, channels notification.Delivery, previous *Appointment) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Dispatch(context.WithoutCancel(ctx), s.event(appt, typ, channels, previous)); err != nil {
		s.logger.Error().Err(err).
			Str("appointment_id", appt.ID.String()).
			Str("type", string(typ)).
			Msg("failed to dispatch notification")
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrSlotConflict):
		return "slot_conflict"
	case errors.Is(err, apperr.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
