package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/voice-appointment-booking/pkg/logging"
)

type RouterConfig struct {
	Calls        CallStarter
	Tools        ToolInvoker
	Participants ParticipantLookup
	Dashboard    DashboardService

	PostgresPing Pinger
	RedisPing    Pinger
	Gatherer     prometheus.Gatherer

	AdminJWTSecret string
	Logger         *logging.Logger
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PostgresPing, cfg.RedisPing, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	// Telephony and conversational engine
	r.Post("/calls", startCallHandler(cfg.Calls))
	r.Post("/calls/{callID}/tools/{tool}", invokeToolHandler(cfg.Tools))
	r.Get("/participants/{id}/call", participantCallHandler(cfg.Participants))

	// Admin dashboard
	r.Route("/dashboard", func(r chi.Router) {
		r.Use(AdminJWT(cfg.AdminJWTSecret))
		r.Get("/", dashboardHandler(cfg.Dashboard))
		r.Put("/patients", savePatientHandler(cfg.Dashboard))
		r.Put("/patients/{id}", savePatientHandler(cfg.Dashboard))
		r.Delete("/patients/{id}", deletePatientHandler(cfg.Dashboard))
		r.Put("/appointments", saveAppointmentHandler(cfg.Dashboard))
		r.Put("/appointments/{id}", saveAppointmentHandler(cfg.Dashboard))
		r.Delete("/appointments/{id}", deleteAppointmentHandler(cfg.Dashboard))
	})

	return r
}
