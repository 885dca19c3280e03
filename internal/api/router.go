package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Booking   BookingService
	Reader    AppointmentReader
	Schedules SchedulePreviewer
	Notifier  Notifier
	Chat      ChatEngine
	Webhook   InboundProcessor

	WebhookAuth WebhookConfig
	JWTSecret   string

	Postgres Pinger
	Redis    Pinger
	Metrics  http.Handler

	Logger  zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	logger := cfg.Logger

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}
	if cfg.Webhook != nil {
		r.Post("/webhooks/whatsapp", whatsappWebhookHandler(cfg.Webhook, cfg.WebhookAuth, logger))
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.Post("/appointments", createAppointmentHandler(cfg.Booking, logger))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Reader, logger))
		r.Post("/appointments/{id}/actions", appointmentActionHandler(cfg.Booking, logger))
		r.Get("/appointments/{id}/actions", listActionsHandler(cfg.Reader, logger))
		r.Patch("/appointments/{id}/outcome", setOutcomeHandler(cfg.Reader, logger))
		r.Post("/appointments/{id}/reminders", sendReminderHandler(cfg.Reader, cfg.Notifier, logger))
		r.Get("/patients/{id}/appointments", listPatientAppointmentsHandler(cfg.Reader, logger))
		r.Get("/schedules", listSchedulesHandler(cfg.Schedules, logger))

		if cfg.Chat != nil {
			r.Route("/chat/sessions", func(r chi.Router) {
				r.Post("/", createSessionHandler(cfg.Chat, logger))
				r.Get("/", listSessionsHandler(cfg.Chat, logger))
				r.Get("/{id}", getSessionHandler(cfg.Chat, logger))
				r.Post("/{id}/messages", sendMessageHandler(cfg.Chat, logger))
				r.Get("/{id}/messages", listMessagesHandler(cfg.Chat, logger))
				r.Get("/{id}/action-logs", listActionLogsHandler(cfg.Chat, logger))
			})
		}
	})

	return r
}
