package emergency

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

const recordColumns = `id, patient_id, reported_at, type, priority, status, pain_level, symptoms, location,
	duty_related, handled_by, resolution, follow_up, resolved_at, created_at, updated_at`

var feedColumns = []any{
	"id", "patient_id", "reported_at", "type", "priority", "status", "pain_level", "symptoms", "location",
	"duty_related", "handled_by", "resolution", "follow_up", "resolved_at", "created_at", "updated_at",
}

// priorityRank mirrors Priority.rank for ORDER BY.
var priorityRank = goqu.L("CASE priority WHEN 'immediate' THEN 0 WHEN 'urgent' THEN 1 ELSE 2 END")

type PgRepository struct {
	pool    *pgxpool.Pool
	dialect goqu.DialectWrapper
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, dialect: goqu.Dialect("postgres")}
}

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record

	err := row.Scan(
		&r.ID,
		&r.PatientID,
		&r.ReportedAt,
		&r.Type,
		&r.Priority,
		&r.Status,
		&r.PainLevel,
		&r.Symptoms,
		&r.Location,
		&r.DutyRelated,
		&r.HandledBy,
		&r.Resolution,
		&r.FollowUp,
		&r.ResolvedAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("emergency record")
		}
		return nil, err
	}
	return &r, nil
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()

	var result []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) Create(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO emergency_records (id, patient_id, reported_at, type, priority, status, pain_level,
			symptoms, location, duty_related, created_at, updated_at)
		VALUES ($1, $2, COALESCE($3, now()), $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+recordColumns,
		rec.ID, rec.PatientID, nullTime(rec), rec.Type, string(rec.Priority), string(rec.Status),
		rec.PainLevel, rec.Symptoms, rec.Location, rec.DutyRelated)

	created, err := scanRecord(row)
	if err != nil {
		return fmt.Errorf("insert emergency record: %w", err)
	}
	*rec = *created
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM emergency_records
		WHERE id = $1
	`, id)
	return scanRecord(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM emergency_records
		WHERE patient_id = $1
		ORDER BY reported_at DESC
		LIMIT $2
	`, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list emergency records: %w", err)
	}
	return scanRecords(rows)
}

func (r *PgRepository) ListActive(ctx context.Context, limit int) ([]Record, error) {
	ds := r.dialect.From("emergency_records").
		Prepared(true).
		Select(feedColumns...).
		Where(goqu.C("status").In(
			string(StatusReported), string(StatusTriaged), string(StatusInProgress),
		)).
		Order(priorityRank.Asc(), goqu.I("reported_at").Asc())

	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build emergency feed query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active emergencies: %w", err)
	}
	return scanRecords(rows)
}

func (r *PgRepository) Transition(ctx context.Context, id uuid.UUID, from Status, c Change) (*Record, error) {
	var priority *string
	if c.Priority != nil {
		p := string(*c.Priority)
		priority = &p
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE emergency_records
		SET status = $3,
		    priority = COALESCE($4, priority),
		    handled_by = COALESCE($5, handled_by),
		    resolution = COALESCE($6, resolution),
		    follow_up = COALESCE($7, follow_up),
		    resolved_at = COALESCE($8, resolved_at),
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+recordColumns,
		id, string(from), string(c.To), priority, c.HandledBy, c.Resolution, c.FollowUp, c.ResolvedAt)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Transition("emergency record", string(from), "move to "+string(c.To))
		}
		return nil, fmt.Errorf("update emergency status: %w", err)
	}
	return rec, nil
}

func nullTime(rec *Record) any {
	if rec.ReportedAt.IsZero() {
		return nil
	}
	return rec.ReportedAt
}
