// Package http assembles the application router.
package http

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	authhandler "perroquet/internal/auth/handler"
	"perroquet/internal/platform/health"
	"perroquet/internal/platform/middleware"
	reminderhandler "perroquet/internal/reminder/handler"
)

// RouterConfig bundles the handlers and cross-cutting dependencies the router
// wires together.
type RouterConfig struct {
	Auth      *authhandler.Handler
	Reminders *reminderhandler.Handler
	Health    *health.Handler
	Verifier  middleware.AccessTokenVerifier
	Logger    *slog.Logger
}

// NewRouter builds the chi router with the standard middleware stack, the
// public auth routes, and the token-protected API.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ContentTypeJSON)

	cfg.Health.Register(r)
	r.Handle("/metrics", promhttp.Handler())

	cfg.Auth.Register(r)

	r.Group(func(protected chi.Router) {
		protected.Use(middleware.Auth(cfg.Verifier))
		cfg.Auth.RegisterProtected(protected)
		cfg.Reminders.Register(protected)
	})

	return r
}
