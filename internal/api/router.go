package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/neuroclinic/scheduling/internal/appointment"
	"github.com/neuroclinic/scheduling/internal/availability"
	"github.com/neuroclinic/scheduling/internal/slots"
)

type RouterConfig struct {
	Appointments *appointment.Service
	Availability *availability.Service
	Slots        *slots.Generator
	SlotMinutes  int
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Logger       zerolog.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Provider availability and slot listing
	r.Route("/providers/{id}", func(r chi.Router) {
		r.Get("/slots", listSlotsHandler(cfg.Slots, cfg.SlotMinutes))
		r.Put("/availability", setAvailabilityHandler(cfg.Availability))
		r.Get("/availability", getAvailabilityHandler(cfg.Availability))
		r.Post("/blocked-dates", blockDateHandler(cfg.Availability))
		r.Delete("/blocked-dates/{date}", unblockDateHandler(cfg.Availability))
	})

	// Appointment lifecycle
	r.Post("/appointments", bookAppointmentHandler(cfg.Appointments))
	r.Get("/appointments", listAppointmentsHandler(cfg.Appointments))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments))
	r.Patch("/appointments/{id}", mutateAppointmentHandler(cfg.Appointments))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Appointments))

	return r
}
