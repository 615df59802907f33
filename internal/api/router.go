package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Service   BookingService
	PgPool    *pgxpool.Pool
	Redis     *redis.Client // nil when the cache is disabled
	Logger    *zap.Logger
	Location  *time.Location
	Now       func() time.Time
	Env       string
	Version   string
	RateLimit int // requests per second per client IP; 0 disables
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-Match", "X-Request-ID"},
		ExposedHeaders:   []string{"ETag", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimit, time.Second))
	}
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/api/v1", func(r chi.Router) {
		// Availability and slot discovery
		r.Get("/doctors/{id}/slots", freeSlotsHandler(cfg.Service, cfg.Location, cfg.Now))
		r.Get("/doctors/{id}/dates", workingDatesHandler(cfg.Service, cfg.Location, cfg.Now))
		r.Get("/doctors/{id}/availability", getAvailabilityHandler(cfg.Service))
		r.Put("/doctors/{id}/availability", replaceAvailabilityHandler(cfg.Service, cfg.Now))
		r.Get("/doctors/{id}/appointments", doctorDayHandler(cfg.Service, cfg.Location))

		// Bookings
		r.Post("/appointments", bookAppointmentHandler(cfg.Service, cfg.Location, cfg.Now))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
		r.Patch("/appointments/{id}/status", updateStatusHandler(cfg.Service))
		r.Delete("/appointments/{id}", cancelAppointmentHandler(cfg.Service))

		r.Get("/patients/{id}/appointments", patientAppointmentsHandler(cfg.Service))
	})

	return r
}
