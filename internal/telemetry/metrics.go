package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the counters recorded by the scheduling and notification code.
type Metrics struct {
	ChannelDeliveries     metric.Int64Counter
	AppointmentTransition metric.Int64Counter
	EmergencyTransition   metric.Int64Counter
}

// NewMetrics registers the instruments on the global meter.
func NewMetrics() (*Metrics, error) {
	meter := Meter()

	deliveries, err := meter.Int64Counter(
		"notification.channel.deliveries",
		metric.WithDescription("SMS and email delivery attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		"appointment.transitions",
		metric.WithDescription("Appointment status transitions by target status and outcome"),
	)
	if err != nil {
		return nil, err
	}

	emergency, err := meter.Int64Counter(
		"emergency.transitions",
		metric.WithDescription("Emergency record status transitions by target status and outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ChannelDeliveries:     deliveries,
		AppointmentTransition: transitions,
		EmergencyTransition:   emergency,
	}, nil
}

// Delivery records one channel attempt. Safe on a nil receiver.
func (m *Metrics) Delivery(ctx context.Context, channel, outcome string) {
	if m == nil {
		return
	}
	m.ChannelDeliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("outcome", outcome),
	))
}

// Transition records an appointment transition attempt. Safe on a nil receiver.
func (m *Metrics) Transition(ctx context.Context, to, outcome string) {
	if m == nil {
		return
	}
	m.AppointmentTransition.Add(ctx, 1, metric.WithAttributes(
		attribute.String("to", to),
		attribute.String("outcome", outcome),
	))
}

// EmergencyUpdate records an emergency transition attempt. Safe on a nil receiver.
func (m *Metrics) EmergencyUpdate(ctx context.Context, to, outcome string) {
	if m == nil {
		return
	}
	m.EmergencyTransition.Add(ctx, 1, metric.WithAttributes(
		attribute.String("to", to),
		attribute.String("outcome", outcome),
	))
}
