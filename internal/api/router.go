package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

type RouterConfig struct {
	Service      *appointment.Service
	Dependencies []Dependency
	Logger       zerolog.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Route("/slots", func(r chi.Router) {
			r.Get("/", listSlotsHandler(cfg.Service))
			r.Post("/", createSlotHandler(cfg.Service))
			r.Get("/{id}", getSlotHandler(cfg.Service))
		})

		r.Route("/availabilities", func(r chi.Router) {
			r.Get("/", listAvailabilitiesHandler(cfg.Service))
			r.Post("/", createAvailabilityHandler(cfg.Service))
			r.Get("/{id}", getAvailabilityHandler(cfg.Service))
			r.Put("/{id}", updateAvailabilityHandler(cfg.Service))
			r.Delete("/{id}", deleteAvailabilityHandler(cfg.Service))
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Get("/", listAppointmentsHandler(cfg.Service))
			r.Post("/", createAppointmentHandler(cfg.Service))
			r.Get("/{id}", getAppointmentHandler(cfg.Service))
			r.Delete("/{id}", cancelAppointmentHandler(cfg.Service))
			r.Put("/{id}/status", updateAppointmentStatusHandler(cfg.Service))
			r.Put("/{id}/cancel", cancelAppointmentHandler(cfg.Service))
		})
	})

	return r
}
