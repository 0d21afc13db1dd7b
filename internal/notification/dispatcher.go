// Package notification persists in-app notifications and fans them out to
// SMS and email on a best-effort basis.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointments/internal/telemetry"
)

const (
	defaultChannelTimeout = 5 * time.Second
	recordTimeout         = 5 * time.Second
)

type Dispatcher struct {
	repo      Repository
	contacts  ContactDirectory
	sms       SMSSender
	email     EmailSender
	publisher Publisher
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
	timeout   time.Duration
	now       func() time.Time

	wg sync.WaitGroup
}

type Option func(*Dispatcher)

func WithPublisher(p Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithChannelTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(repo Repository, contacts ContactDirectory, sms SMSSender, email EmailSender, logger zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		repo:     repo,
		contacts: contacts,
		sms:      sms,
		email:    email,
		logger:   logger.With().Str("component", "notification_dispatcher").Logger(),
		timeout:  defaultChannelTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch stores the in-app notification and starts the enabled channel
// sends in the background. Only a failure to store is returned; channel
// outcomes are logged and recorded on the row.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (*Notification, error) {
	ctx, span := telemetry.StartSpan(ctx, "notification.Dispatch")
	defer span.End()

	patientID := ev.recipient()
	logger := d.logger.With().
		Str("patient_id", patientID.String()).
		Str("type", string(ev.kind())).
		Logger()

	contact, err := d.contacts.Contact(ctx, patientID)
	if err != nil {
		logger.Warn().Err(err).Msg("contact lookup failed, continuing in-app only")
		contact = Contact{}
	}

	msg, err := render(ev, contact)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("render notification: %w", err)
	}

	n := &Notification{
		ID:        uuid.New(),
		PatientID: patientID,
		Title:     msg.Title,
		Message:   msg.Message,
		Type:      msg.Type,
		CreatedAt: d.now().UTC(),
	}

	if err := d.repo.Create(ctx, n); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("store notification: %w", err)
	}
	logger = logger.With().Str("notification_id", n.ID.String()).Logger()

	if d.publisher != nil {
		d.publish(ctx, logger, *n)
	}

	channels := ev.channels()
	if channels.SMS && contact.Phone != "" && d.sms != nil && d.sms.Configured() {
		d.send(ctx, logger, n.ID, ChannelSMS, func(ctx context.Context) (string, error) {
			return d.sms.SendSMS(ctx, contact.Phone, msg.SMS)
		})
	}
	if channels.Email && contact.Email != "" && d.email != nil && d.email.Configured() {
		d.send(ctx, logger, n.ID, ChannelEmail, func(ctx context.Context) (string, error) {
			return d.email.SendEmail(ctx, contact.Email, msg.Subject, msg.HTML, msg.Text)
		})
	}

	return n, nil
}

// publish hands the stored row to live subscribers off the request path,
// bounded by the channel timeout.
func (d *Dispatcher) publish(ctx context.Context, logger zerolog.Logger, n Notification) {
	base := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		pubCtx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()

		if err := d.publisher.Publish(pubCtx, n); err != nil {
			logger.Warn().Err(err).Msg("publish notification failed")
		}
	}()
}

// send runs one channel attempt detached from the caller's cancellation.
// Only the provider call is bounded by the channel timeout; the outcome is
// written on its own deadline so a late answer is still recorded.
func (d *Dispatcher) send(ctx context.Context, logger zerolog.Logger, id uuid.UUID, ch Channel, fn func(context.Context) (string, error)) {
	base := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		logger := logger.With().Str("channel", string(ch)).Logger()

		sendCtx, cancelSend := context.WithTimeout(base, d.timeout)
		messageID, err := fn(sendCtx)
		cancelSend()
		switch {
		case errors.Is(err, ErrNotConfigured):
			d.metrics.Delivery(base, string(ch), "skipped")
			logger.Debug().Msg("channel not configured")
			return
		case err != nil:
			d.metrics.Delivery(base, string(ch), "failed")
			logger.Warn().Err(err).Msg("channel delivery failed")
			return
		}

		recordCtx, cancelRecord := context.WithTimeout(base, recordTimeout)
		defer cancelRecord()

		if err := d.repo.MarkChannelSent(recordCtx, id, ch, messageID); err != nil {
			d.metrics.Delivery(base, string(ch), "record_failed")
			logger.Error().Err(err).Str("message_id", messageID).Msg("record channel delivery failed")
			return
		}
		d.metrics.Delivery(base, string(ch), "sent")
		logger.Info().Str("message_id", messageID).Msg("channel delivered")
	}()
}

// Wait blocks until every in-flight publish and channel send has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// ListNotifications returns a patient's notifications, newest first.
func (d *Dispatcher) ListNotifications(ctx context.Context, patientID uuid.UUID, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	list, err := d.repo.ListByPatient(ctx, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return list, nil
}

// MarkRead flips the read flag on a notification the patient owns.
func (d *Dispatcher) MarkRead(ctx context.Context, id, patientID uuid.UUID) (*Notification, error) {
	n, err := d.repo.MarkRead(ctx, id, patientID)
	if err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return n, nil
}

func (d *Dispatcher) UnreadCount(ctx context.Context, patientID uuid.UUID) (int, error) {
	count, err := d.repo.UnreadCount(ctx, patientID)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}
