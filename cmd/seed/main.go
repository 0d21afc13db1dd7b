package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-appointments/internal/app"
	"github.com/hackgods/clinic-appointments/internal/apperr"
	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/config"
	"github.com/hackgods/clinic-appointments/internal/logging"
)

var services = []string{
	"General consultation",
	"Dental check",
	"Physiotherapy",
	"Vaccination",
	"Blood test",
	"Eye examination",
	"Dermatology review",
	"Prenatal visit",
}

func main() {
	var patients, bookings, days int

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the database with fake patients and bookings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(patients, bookings, days)
		},
	}
	cmd.Flags().IntVar(&patients, "patients", 500, "patients to insert")
	cmd.Flags().IntVar(&bookings, "bookings", 200, "booking attempts spread over the coming days")
	cmd.Flags().IntVar(&days, "days", 14, "how many days ahead bookings may land")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(patients, bookings, days int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Env, "seed")

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	ids, err := seedPatients(ctx, logger, a.Pool, patients)
	if err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}
	if len(ids) == 0 || bookings == 0 {
		return nil
	}

	booked, conflicts := 0, 0
	today := a.Appointments.Today()
	for i := 0; i < bookings; i++ {
		date := today.AddDate(0, 0, gofakeit.Number(1, max(days, 1)))
		_, err := a.Appointments.Create(ctx, appointment.CreateInput{
			PatientID: ids[gofakeit.Number(0, len(ids)-1)],
			Service:   services[gofakeit.Number(0, len(services)-1)],
			Date:      date,
			TimeSlot:  appointment.DefaultCatalog[gofakeit.Number(0, len(appointment.DefaultCatalog)-1)],
		})
		switch {
		case errors.Is(err, apperr.ErrSlotConflict):
			conflicts++
		case err != nil:
			return fmt.Errorf("book appointment: %w", err)
		default:
			booked++
		}
	}

	logger.Info().Int("booked", booked).Int("conflicts", conflicts).Msg("seed complete")
	return nil
}

func seedPatients(ctx context.Context, logger zerolog.Logger, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, phone, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, gofakeit.Name(), gofakeit.Email(), "+1"+gofakeit.Phone())
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}

		logger.Info().Int("seeded", end).Int("total", count).Msg("patients batch committed")
	}

	return ids, nil
}
