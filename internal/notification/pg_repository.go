package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-appointments/internal/apperr"
)

var notificationColumns = []any{
	"id", "patient_id", "title", "message", "type", "is_read",
	"sms_sent", "sms_message_id", "email_sent", "email_message_id", "created_at",
}

const returningColumns = `id, patient_id, title, message, type, is_read,
	sms_sent, sms_message_id, email_sent, email_message_id, created_at`

type PgRepository struct {
	pool    *pgxpool.Pool
	dialect goqu.DialectWrapper
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, dialect: goqu.Dialect("postgres")}
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification

	err := row.Scan(
		&n.ID,
		&n.PatientID,
		&n.Title,
		&n.Message,
		&n.Type,
		&n.Read,
		&n.SMSSent,
		&n.SMSMessageID,
		&n.EmailSent,
		&n.EmailMessageID,
		&n.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("notification")
		}
		return nil, err
	}

	return &n, nil
}

func (r *PgRepository) Create(ctx context.Context, n *Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (id, patient_id, title, message, type, is_read, sms_sent, email_sent, created_at)
		VALUES ($1, $2, $3, $4, $5, false, false, false, $6)
	`, n.ID, n.PatientID, n.Title, n.Message, n.Type, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+returningColumns+`
		FROM notifications
		WHERE id = $1
	`, id)
	return scanNotification(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]Notification, error) {
	ds := r.dialect.From("notifications").
		Prepared(true).
		Select(notificationColumns...).
		Where(goqu.Ex{"patient_id": patientID}).
		Order(goqu.I("created_at").Desc())

	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build notification list query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var result []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *n)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) MarkChannelSent(ctx context.Context, id uuid.UUID, ch Channel, messageID string) error {
	var query string
	switch ch {
	case ChannelSMS:
		query = `UPDATE notifications SET sms_sent = true, sms_message_id = $2 WHERE id = $1 AND sms_sent = false`
	case ChannelEmail:
		query = `UPDATE notifications SET email_sent = true, email_message_id = $2 WHERE id = $1 AND email_sent = false`
	default:
		return fmt.Errorf("unknown channel %q", ch)
	}

	if _, err := r.pool.Exec(ctx, query, id, messageID); err != nil {
		return fmt.Errorf("record %s delivery: %w", ch, err)
	}
	return nil
}

func (r *PgRepository) MarkRead(ctx context.Context, id, patientID uuid.UUID) (*Notification, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE notifications
		SET is_read = true
		WHERE id = $1
		  AND patient_id = $2
		RETURNING `+returningColumns, id, patientID)
	return scanNotification(row)
}

func (r *PgRepository) UnreadCount(ctx context.Context, patientID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM notifications
		WHERE patient_id = $1
		  AND is_read = false
	`, patientID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// PgContacts reads contact details from the patients table.
type PgContacts struct {
	pool *pgxpool.Pool
}

func NewPgContacts(pool *pgxpool.Pool) *PgContacts {
	return &PgContacts{pool: pool}
}

func (c *PgContacts) Contact(ctx context.Context, patientID uuid.UUID) (Contact, error) {
	var (
		contact      Contact
		phone, email *string
	)

	err := c.pool.QueryRow(ctx, `
		SELECT name, phone, email
		FROM patients
		WHERE id = $1
	`, patientID).Scan(&contact.Name, &phone, &email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, apperr.NotFound("patient")
		}
		return Contact{}, fmt.Errorf("load patient contact: %w", err)
	}

	if phone != nil {
		contact.Phone = *phone
	}
	if email != nil {
		contact.Email = *email
	}
	return contact, nil
}
