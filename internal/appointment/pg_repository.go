package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-appointments/internal/apperr"
)

const uniqueViolation = "23505"

const appointmentColumns = `id, patient_id, service, appointment_date, time_slot, status, notes, status_reason, created_at, updated_at`

var listColumns = []any{
	"id", "patient_id", "service", "appointment_date", "time_slot",
	"status", "notes", "status_reason", "created_at", "updated_at",
}

type PgRepository struct {
	pool    *pgxpool.Pool
	dialect goqu.DialectWrapper
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, dialect: goqu.Dialect("postgres")}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.Service,
		&a.Date,
		&a.TimeSlot,
		&a.Status,
		&a.Notes,
		&a.StatusReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("appointment")
		}
		return nil, err
	}

	a.Date = normalizeDate(a.Date)
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// withSlotLock runs fn in a transaction holding an advisory lock scoped to
// (date, slot), so the held check and the write cannot interleave with
// another writer for the same slot.
func (r *PgRepository) withSlotLock(ctx context.Context, date time.Time, slot string, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	key := FormatDate(date) + "|" + slot
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("lock slot: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func slotHeld(ctx context.Context, tx pgx.Tx, date time.Time, slot string, exclude uuid.UUID) (bool, error) {
	var held bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE appointment_date = $1
			  AND time_slot = $2
			  AND status IN ('pending', 'approved')
			  AND id <> $3
		)
	`, date, slot, exclude).Scan(&held)
	if err != nil {
		return false, fmt.Errorf("check slot: %w", err)
	}
	return held, nil
}

// mapConflict turns a partial unique index violation into ErrSlotConflict.
func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return apperr.ErrSlotConflict
	}
	return err
}

// Interface methods

func (r *PgRepository) Create(ctx context.Context, in CreateInput) (*Appointment, error) {
	date := normalizeDate(in.Date)
	var created *Appointment

	err := r.withSlotLock(ctx, date, in.TimeSlot, func(tx pgx.Tx) error {
		held, err := slotHeld(ctx, tx, date, in.TimeSlot, uuid.Nil)
		if err != nil {
			return err
		}
		if held {
			return apperr.ErrSlotConflict
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO appointments (id, patient_id, service, appointment_date, time_slot, status, notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 'pending', $6, now(), now())
			RETURNING `+appointmentColumns,
			uuid.New(), in.PatientID, in.Service, date, in.TimeSlot, in.Notes)

		created, err = scanAppointment(row)
		if err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, mapConflict(err)
	}

	return created, nil
}

func (r *PgRepository) Reschedule(ctx context.Context, id uuid.UUID, date time.Time, slot string) (*Appointment, error) {
	date = normalizeDate(date)
	var moved *Appointment

	err := r.withSlotLock(ctx, date, slot, func(tx pgx.Tx) error {
		var status Status
		err := tx.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.NotFound("appointment")
			}
			return fmt.Errorf("load appointment: %w", err)
		}
		if status != StatusPending {
			return apperr.Transition("appointment", string(status), "reschedule")
		}

		held, err := slotHeld(ctx, tx, date, slot, id)
		if err != nil {
			return err
		}
		if held {
			return apperr.ErrSlotConflict
		}

		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET appointment_date = $2,
			    time_slot = $3,
			    updated_at = now()
			WHERE id = $1
			  AND status = 'pending'
			RETURNING `+appointmentColumns, id, date, slot)

		moved, err = scanAppointment(row)
		if err != nil {
			return fmt.Errorf("reschedule appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, mapConflict(err)
	}

	return moved, nil
}

func (r *PgRepository) Transition(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    status_reason = COALESCE($4, status_reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns, id, to, from, reason)

	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Transition("appointment", string(from), "move to "+string(to))
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	return a, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, filter ListFilter, today time.Time) ([]Appointment, error) {
	today = normalizeDate(today)
	holding := []string{string(StatusPending), string(StatusApproved)}

	ds := r.dialect.From("appointments").
		Prepared(true).
		Select(listColumns...).
		Where(goqu.Ex{"patient_id": patientID})

	if filter.Status != "" {
		ds = ds.Where(goqu.Ex{"status": string(filter.Status)})
	}

	ascending := false
	if filter.Upcoming != nil {
		if *filter.Upcoming {
			ascending = true
			ds = ds.Where(
				goqu.C("status").In(holding),
				goqu.C("appointment_date").Gte(today),
			)
		} else {
			ds = ds.Where(goqu.Or(
				goqu.C("status").NotIn(holding),
				goqu.C("appointment_date").Lt(today),
			))
		}
	}

	if ascending {
		ds = ds.Order(goqu.I("appointment_date").Asc(), goqu.I("time_slot").Asc())
	} else {
		ds = ds.Order(goqu.I("appointment_date").Desc(), goqu.I("time_slot").Desc())
	}

	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}
	if filter.Offset > 0 {
		ds = ds.Offset(uint(filter.Offset))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build appointment list query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return scanAppointments(rows)
}

func (r *PgRepository) TakenSlots(ctx context.Context, date time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT time_slot
		FROM appointments
		WHERE appointment_date = $1
		  AND status IN ('pending', 'approved')
		ORDER BY time_slot
	`, normalizeDate(date))
	if err != nil {
		return nil, fmt.Errorf("query taken slots: %w", err)
	}

	slots, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan taken slots: %w", err)
	}
	return slots, nil
}

func (r *PgRepository) FindStalePending(ctx context.Context, before time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending'
		  AND appointment_date < $1
		ORDER BY appointment_date
	`, normalizeDate(before))
	if err != nil {
		return nil, fmt.Errorf("find stale pending appointments: %w", err)
	}
	return scanAppointments(rows)
}
