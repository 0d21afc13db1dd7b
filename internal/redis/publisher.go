package redisclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-appointments/internal/notification"
)

// NotificationChannel is the Pub/Sub channel a patient's live clients subscribe to.
func NotificationChannel(patientID string) string {
	return "notifications:" + patientID
}

// NotificationPublisher publishes stored notifications as JSON.
type NotificationPublisher struct {
	client *redis.Client
}

func NewNotificationPublisher(client *redis.Client) *NotificationPublisher {
	return &NotificationPublisher{client: client}
}

func (p *NotificationPublisher) Publish(ctx context.Context, n notification.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if err := p.client.Publish(ctx, NotificationChannel(n.PatientID.String()), data).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
