package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/emergency"
	"github.com/hackgods/clinic-appointments/internal/notification"
)

type RouterConfig struct {
	Appointments  *appointment.Service
	Emergencies   *emergency.Service
	Notifications *notification.Dispatcher
	Postgres      Pinger
	Redis         Pinger // nil when Redis is disabled
	Logger        zerolog.Logger
	JWTSecret     []byte
	Env           string
	Version       string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	appts := NewAppointmentHandler(cfg.Appointments)
	notes := NewNotificationHandler(cfg.Notifications)
	emerg := NewEmergencyHandler(cfg.Emergencies)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.Get("/slots", appts.FreeSlots)

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", appts.Create)
			r.Get("/", appts.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", appts.Get)
				r.Post("/approve", appts.Approve)
				r.Post("/reject", appts.Reject)
				r.Post("/cancel", appts.Cancel)
				r.Post("/complete", appts.Complete)
				r.Post("/reschedule", appts.Reschedule)
				r.Post("/confirmation", appts.SendConfirmation)
			})
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", notes.List)
			r.Get("/unread-count", notes.UnreadCount)
			r.Post("/{id}/read", notes.MarkRead)
		})

		r.Route("/emergencies", func(r chi.Router) {
			r.Post("/", emerg.Report)
			r.Get("/", emerg.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", emerg.Get)
				r.Post("/triage", emerg.Triage)
				r.Post("/start", emerg.Start)
				r.Post("/resolve", emerg.Resolve)
				r.Post("/refer", emerg.Refer)
			})
		})
	})

	return r
}
