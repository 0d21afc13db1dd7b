// Package app wires configuration into the concrete stores, channels and
// services shared by the binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/config"
	"github.com/hackgods/clinic-appointments/internal/db"
	"github.com/hackgods/clinic-appointments/internal/emergency"
	"github.com/hackgods/clinic-appointments/internal/notification"
	redisclient "github.com/hackgods/clinic-appointments/internal/redis"
	"github.com/hackgods/clinic-appointments/internal/telemetry"
)

type App struct {
	Config        config.Config
	Logger        zerolog.Logger
	Pool          *pgxpool.Pool
	Redis         *redis.Client // nil when Redis is disabled
	Dispatcher    *notification.Dispatcher
	Appointments  *appointment.Service
	Emergencies   *emergency.Service
	shutdownTrace func(context.Context) error
}

// New connects Postgres, optionally Redis and the OTLP exporters, and builds
// the services. Close releases everything New acquired.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	shutdown, err := telemetry.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry setup: %w", err)
	}
	a.shutdownTrace = shutdown

	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	a.Pool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("postgres connection: %w", err)
	}
	logger.Info().Msg("connected to Postgres")

	a.Redis, err = redisclient.NewClient(ctx, cfg)
	if err != nil {
		// The slot lock and live feed are optional; the store still holds the invariant.
		logger.Warn().Err(err).Msg("redis unavailable, continuing without it")
		a.Redis = nil
	} else if a.Redis != nil {
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	}

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("metrics: %w", err)
	}

	dispatchOpts := []notification.Option{
		notification.WithMetrics(metrics),
		notification.WithChannelTimeout(cfg.ChannelTimeout),
	}
	apptOpts := []appointment.Option{appointment.WithMetrics(metrics)}
	if a.Redis != nil {
		dispatchOpts = append(dispatchOpts, notification.WithPublisher(redisclient.NewNotificationPublisher(a.Redis)))
		apptOpts = append(apptOpts, appointment.WithLocker(redisclient.NewRedisLocker(a.Redis, cfg.LockTTL)))
	}

	sms := notification.NewTwilioSMSSender(cfg.SMS, cfg.ChannelTimeout)
	email := notification.NewHTTPEmailSender(cfg.Email, cfg.ChannelTimeout)
	if !sms.Configured() {
		logger.Warn().Msg("SMS channel not configured")
	}
	if !email.Configured() {
		logger.Warn().Msg("email channel not configured")
	}

	a.Dispatcher = notification.NewDispatcher(
		notification.NewPgRepository(a.Pool),
		notification.NewPgContacts(a.Pool),
		sms, email, logger, dispatchOpts...,
	)
	a.Appointments = appointment.NewService(appointment.NewPgRepository(a.Pool), a.Dispatcher, cfg, logger, apptOpts...)
	a.Emergencies = emergency.NewService(emergency.NewPgRepository(a.Pool), a.Dispatcher, logger,
		emergency.WithMetrics(metrics))

	return a, nil
}

// Close waits for in-flight channel sends, then releases connections and
// flushes telemetry.
func (a *App) Close(ctx context.Context) {
	if a.Dispatcher != nil {
		a.Dispatcher.Wait()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("error closing redis")
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.shutdownTrace != nil {
		if err := a.shutdownTrace(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("error flushing telemetry")
		}
	}
}
