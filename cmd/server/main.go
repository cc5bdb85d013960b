package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"perroquet/internal/auth/apple"
	authhandler "perroquet/internal/auth/handler"
	authservice "perroquet/internal/auth/service"
	sessionstore "perroquet/internal/auth/store/session"
	userstore "perroquet/internal/auth/store/user"
	"perroquet/internal/auth/token"
	"perroquet/internal/mail"
	"perroquet/internal/platform/config"
	"perroquet/internal/platform/credcache"
	"perroquet/internal/platform/database"
	"perroquet/internal/platform/health"
	"perroquet/internal/platform/httpserver"
	"perroquet/internal/platform/logger"
	"perroquet/internal/platform/metrics"
	"perroquet/internal/platform/tracer"
	"perroquet/internal/push/fcm"
	reminderhandler "perroquet/internal/reminder/handler"
	"perroquet/internal/reminder/scheduler"
	reminderservice "perroquet/internal/reminder/service"
	reminderstore "perroquet/internal/reminder/store/reminder"
	httptransport "perroquet/internal/transport/http"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	log.Info("initializing perroquet",
		"addr", cfg.Addr,
		"scheduler_enabled", cfg.SchedulerEnabled,
	)

	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.DatabaseURL
	pool, err := database.New(dbCfg)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close() //nolint:errcheck // process exit

	var (
		users     authservice.UserStore
		sessions  sessionStore
		reminders reminderStore
	)
	if pool != nil {
		db := pool.DB()
		users = userstore.NewPostgres(db)
		sessions = sessionstore.NewPostgres(db)
		reminders = reminderstore.NewPostgres(db)
	} else {
		// In-memory stores keep local development working without Postgres.
		log.Warn("no database configured, using in-memory stores")
		users = userstore.New()
		sessions = sessionstore.New()
		reminders = reminderstore.New()
	}

	tokens := token.NewService(cfg.JWTSigningKey, cfg.TokenTTL)
	tr := tracer.NewOTel()

	appleClient := apple.NewClient(cfg.Apple, apple.WithTracer(tr))
	appleCache := credcache.New("apple",
		countRefreshes(m, "apple", appleClient.Refresh),
		credcache.WithTTL[apple.Data](cfg.CredentialTTL),
		credcache.WithLogger[apple.Data](log),
		credcache.WithErrorReporter[apple.Data](func(provider string, _ error) {
			m.IncrementCredentialStale(provider)
		}),
	)
	verifier := apple.NewVerifier(appleClient, appleCache)

	fcmClient := fcm.NewClient(cfg.FCM, fcm.WithTracer(tr))
	fcmCache := credcache.New("fcm",
		countRefreshes(m, "fcm", fcmClient.Refresh),
		credcache.WithTTL[fcm.Data](cfg.CredentialTTL),
		credcache.WithLogger[fcm.Data](log),
		credcache.WithErrorReporter[fcm.Data](func(provider string, _ error) {
			m.IncrementCredentialStale(provider)
		}),
	)
	dispatcher := fcm.NewDispatcher(fcmClient, fcmCache)

	mailer := mail.NewSMTP(cfg.SMTP)

	authSvc := authservice.New(users, sessions, verifier, tokens, mailer,
		authservice.WithLogger(log),
		authservice.WithMetrics(m),
	)
	reminderSvc := reminderservice.New(reminders, reminderservice.WithLogger(log))

	healthHandler := health.New(os.Getenv("PERROQUET_ENV"))
	if pool != nil {
		healthHandler.RegisterCheck("database", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Health(ctx)
		})
	}

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Auth:      authhandler.New(authSvc, log),
		Reminders: reminderhandler.New(reminderSvc, log),
		Health:    healthHandler,
		Verifier:  tokens,
		Logger:    log,
	})

	sched := scheduler.New(reminders, sessions, dispatcher,
		scheduler.WithLogger(log),
		scheduler.WithMetrics(m),
		scheduler.WithInterval(cfg.PollInterval),
	)
	if cfg.SchedulerEnabled {
		sched.Start(context.Background())
	}

	srv := httpserver.New(cfg.Addr, router)
	log.Info("starting http server", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down gracefully")

	if cfg.SchedulerEnabled {
		sched.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

// sessionStore is the union of what the auth service and the scheduler need
// from session persistence; both store implementations satisfy it.
type sessionStore interface {
	authservice.SessionStore
	scheduler.TargetSource
}

// reminderStore is the union of the reminder service's and the scheduler's
// persistence needs.
type reminderStore interface {
	reminderservice.Store
	scheduler.ReminderSource
}

// countRefreshes wraps a credential refresh so every attempt lands in the
// refresh counter with its outcome.
func countRefreshes[T any](m *metrics.Metrics, provider string, refresh credcache.RefreshFunc[T]) credcache.RefreshFunc[T] {
	return func(ctx context.Context) (T, error) {
		data, err := refresh(ctx)
		if err != nil {
			m.IncrementCredentialRefreshes(provider, "failure")
			return data, err
		}
		m.IncrementCredentialRefreshes(provider, "success")
		return data, nil
	}
}
