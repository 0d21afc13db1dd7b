// Package emergency tracks urgent patient reports from intake to resolution
// and keeps the clinic's active triage feed.
package emergency

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
	"github.com/hackgods/clinic-appointments/internal/identity"
	"github.com/hackgods/clinic-appointments/internal/notification"
	"github.com/hackgods/clinic-appointments/internal/telemetry"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type Notifier interface {
	Dispatch(ctx context.Context, ev notification.Event) (*notification.Notification, error)
}

// sources lists the statuses each target may be entered from.
var sources = map[Status][]Status{
	StatusTriaged:    {StatusReported},
	StatusInProgress: {StatusReported, StatusTriaged},
	StatusResolved:   {StatusTriaged, StatusInProgress},
	StatusReferred:   {StatusTriaged, StatusInProgress},
}

var operationName = map[Status]string{
	StatusTriaged:    "triage",
	StatusInProgress: "start",
	StatusResolved:   "resolve",
	StatusReferred:   "refer",
}

func canEnter(from, to Status) bool {
	for _, s := range sources[to] {
		if s == from {
			return true
		}
	}
	return false
}

type Service struct {
	repo     Repository
	notifier Notifier
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, notifier Notifier, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger.With().Str("component", "emergency_service").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report records a new emergency. Patients report for themselves; admins may
// report on a patient's behalf.
func (s *Service) Report(ctx context.Context, patientID uuid.UUID, actor identity.Actor, in ReportInput) (*Record, error) {
	ctx, span := telemetry.StartSpan(ctx, "emergency.report")
	defer span.End()

	if patientID == uuid.Nil {
		return nil, apperr.Invalid("patient_id is required")
	}
	if !actor.IsAdmin() && !actor.Owns(patientID) {
		return nil, apperr.Forbidden("patients may only report for themselves")
	}

	in.Type = strings.TrimSpace(in.Type)
	if in.Type == "" {
		return nil, apperr.Invalid("type is required")
	}
	if in.PainLevel < 0 || in.PainLevel > 10 {
		return nil, apperr.Invalid("pain_level must be between 0 and 10, got %d", in.PainLevel)
	}
	if in.Priority == "" {
		in.Priority = PriorityStandard
	}
	if !in.Priority.Valid() {
		return nil, apperr.Invalid("unknown priority %q", in.Priority)
	}

	rec := &Record{
		PatientID:   patientID,
		ReportedAt:  s.now().UTC(),
		Type:        in.Type,
		Priority:    in.Priority,
		Status:      StatusReported,
		PainLevel:   in.PainLevel,
		Symptoms:    strings.TrimSpace(in.Symptoms),
		Location:    strings.TrimSpace(in.Location),
		DutyRelated: in.DutyRelated,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		telemetry.RecordError(span, err)
		s.metrics.EmergencyUpdate(ctx, string(StatusReported), "error")
		return nil, fmt.Errorf("create emergency record: %w", err)
	}

	s.metrics.EmergencyUpdate(ctx, string(StatusReported), "ok")
	s.logger.Info().
		Str("emergency_id", rec.ID.String()).
		Str("patient_id", rec.PatientID.String()).
		Str("priority", string(rec.Priority)).
		Msg("emergency reported")

	s.notify(ctx, rec, "", notification.InAppOnly)

	return rec, nil
}

// Triage sets the priority of a reported emergency.
func (s *Service) Triage(ctx context.Context, id uuid.UUID, actor identity.Actor, priority Priority) (*Record, error) {
	if !priority.Valid() {
		return nil, apperr.Invalid("unknown priority %q", priority)
	}
	return s.transition(ctx, id, actor, Change{To: StatusTriaged, Priority: &priority}, "")
}

// Start marks the emergency as being handled by handledBy.
func (s *Service) Start(ctx context.Context, id uuid.UUID, actor identity.Actor, handledBy string) (*Record, error) {
	handledBy = strings.TrimSpace(handledBy)
	if handledBy == "" {
		return nil, apperr.Invalid("handled_by is required")
	}
	return s.transition(ctx, id, actor, Change{To: StatusInProgress, HandledBy: &handledBy}, "")
}

func (s *Service) Resolve(ctx context.Context, id uuid.UUID, actor identity.Actor, resolution, followUp string) (*Record, error) {
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return nil, apperr.Invalid("resolution is required")
	}
	resolvedAt := s.now().UTC()
	c := Change{To: StatusResolved, Resolution: &resolution, ResolvedAt: &resolvedAt}
	if f := strings.TrimSpace(followUp); f != "" {
		c.FollowUp = &f
	}
	return s.transition(ctx, id, actor, c, "")
}

// Refer hands the emergency to an outside provider. The note lands in follow_up.
func (s *Service) Refer(ctx context.Context, id uuid.UUID, actor identity.Actor, note string) (*Record, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, apperr.Invalid("referral note is required")
	}
	return s.transition(ctx, id, actor, Change{To: StatusReferred, FollowUp: &note}, note)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, actor identity.Actor, c Change, note string) (*Record, error) {
	op := operationName[c.To]
	ctx, span := telemetry.StartSpan(ctx, "emergency."+op,
		attribute.String("emergency_id", id.String()),
		attribute.String("actor_role", string(actor.Role)))
	defer span.End()

	if !actor.IsAdmin() {
		s.metrics.EmergencyUpdate(ctx, string(c.To), "forbidden")
		return nil, apperr.Forbidden(op + " requires an admin")
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("load emergency record: %w", err)
	}
	if !canEnter(rec.Status, c.To) {
		s.metrics.EmergencyUpdate(ctx, string(c.To), "invalid_transition")
		return nil, apperr.Transition("emergency record", string(rec.Status), op)
	}

	updated, err := s.repo.Transition(ctx, id, rec.Status, c)
	if err != nil {
		telemetry.RecordError(span, err)
		if errors.Is(err, apperr.ErrInvalidTransition) {
			s.metrics.EmergencyUpdate(ctx, string(c.To), "invalid_transition")
			return nil, err
		}
		s.metrics.EmergencyUpdate(ctx, string(c.To), "error")
		return nil, fmt.Errorf("%s emergency: %w", op, err)
	}

	s.metrics.EmergencyUpdate(ctx, string(c.To), "ok")
	s.logger.Info().
		Str("emergency_id", updated.ID.String()).
		Str("from", string(rec.Status)).
		Str("to", string(updated.Status)).
		Msg("emergency status changed")

	s.notify(ctx, updated, note, notification.AllChannels)

	return updated, nil
}

// Get returns one record. Patients only see their own.
func (s *Service) Get(ctx context.Context, id uuid.UUID, actor identity.Actor) (*Record, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get emergency record: %w", err)
	}
	if !actor.IsStaff() && !actor.Owns(rec.PatientID) {
		return nil, apperr.NotFound("emergency record")
	}
	return rec, nil
}

// ListByPatient returns a patient's reports, newest first.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]Record, error) {
	list, err := s.repo.ListByPatient(ctx, patientID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list emergency records: %w", err)
	}
	return list, nil
}

// ActiveFeed returns unresolved emergencies, most severe first, then oldest first.
func (s *Service) ActiveFeed(ctx context.Context, actor identity.Actor, limit int) ([]Record, error) {
	if !actor.IsStaff() {
		return nil, apperr.Forbidden("the triage feed is staff only")
	}
	list, err := s.repo.ListActive(ctx, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list active emergencies: %w", err)
	}
	return list, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func (s *Service) notify(ctx context.Context, rec *Record, note string, channels notification.Delivery) {
	if s.notifier == nil {
		return
	}
	ev := notification.EmergencyEvent{
		EmergencyID:   rec.ID,
		PatientID:     rec.PatientID,
		EmergencyType: rec.Type,
		Priority:      string(rec.Priority),
		Status:        string(rec.Status),
		Note:          note,
		Channels:      channels,
	}
	// The change is committed; a cancelled caller must not drop the notice.
	if _, err := s.notifier.Dispatch(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Error().Err(err).
			Str("emergency_id", rec.ID.String()).
			Msg("failed to dispatch notification")
	}
}
