// Package main is the entrypoint for the Domainpulse agent daemon.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/domainpulse/domainpulse-agent/internal/backend"
	"github.com/domainpulse/domainpulse-agent/internal/config"
	"github.com/domainpulse/domainpulse-agent/internal/exclusion"
	"github.com/domainpulse/domainpulse-agent/internal/handler"
	"github.com/domainpulse/domainpulse-agent/internal/metrics"
	"github.com/domainpulse/domainpulse-agent/internal/middleware"
	"github.com/domainpulse/domainpulse-agent/internal/queue"
	"github.com/domainpulse/domainpulse-agent/internal/server"
	"github.com/domainpulse/domainpulse-agent/internal/stats"
	"github.com/domainpulse/domainpulse-agent/internal/storage"
	"github.com/domainpulse/domainpulse-agent/internal/tracking"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	agentID := cfg.AgentID
	if agentID == "" {
		agentID = uuid.New().String()
		logger.Warn("AGENT_ID not set, generated ephemeral identity", "agent_id", agentID)
	}

	store, err := openStore(ctx, cfg, agentID)
	if err != nil {
		logger.Error("failed to open snapshot store",
			slog.String("driver", cfg.StorageDriver),
			slog.String("error", sanitizeError(err, cfg.RedisURL, cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("snapshot store ready", "driver", cfg.StorageDriver)

	recorder := metrics.NewInMemory()

	backendClient := backend.NewClient(cfg.BackendURL, cfg.BackendAPIKey, cfg.BackendRefresh, agentID, logger, recorder)
	backendClient.SetHealthMinInterval(cfg.HealthMinInterval)

	// A backend URL swapped at runtime through the control API overrides
	// the environment on the next boot.
	var savedURL string
	if err := store.Load(ctx, storage.KeyBackendURL, &savedURL); err == nil && savedURL != "" {
		backendClient.SetBaseURL(savedURL)
		logger.Info("restored backend url", "url", redactURL(savedURL))
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Warn("failed to load saved backend url", "error", err)
	}

	exclusions := exclusion.NewSet(logger)
	collector := stats.NewCollector()
	trackingCtrl := tracking.NewController(store, logger)

	q, err := queue.New(queue.Config{
		MaxQueueSize:         cfg.MaxQueueSize,
		BatchSize:            cfg.BatchSize,
		OverflowTrimFraction: cfg.OverflowTrimFraction,
		RetryDelay:           cfg.RetryDelay,
		HealthPollInterval:   cfg.HealthPollInterval,
		MaxFailures:          cfg.MaxFailures,
	}, queue.Deps{
		Backend:    backendClient,
		Store:      store,
		Exclusions: exclusions,
		Stats:      collector,
		Disable:    trackingCtrl.Disable,
		Logger:     logger,
		Metrics:    recorder,
	})
	if err != nil {
		logger.Error("failed to build event queue", "error", err)
		os.Exit(1)
	}

	if err := trackingCtrl.Restore(ctx); err != nil {
		logger.Warn("failed to restore tracking flag", "error", err)
	}
	if err := q.Restore(ctx); err != nil {
		logger.Warn("failed to restore queue", "error", err)
	}

	processor := queue.NewBatchProcessor(cfg.BatchInterval, q.Size, q.ProcessQueue, logger)

	// Flipping tracking pauses or resumes the batch timer. Re-enabling
	// also clears the breaker so delivery restarts cleanly. The stop runs
	// in its own goroutine because the breaker can trip from inside the
	// processor's own tick, and Stop waits for the tick to finish.
	trackingCtrl.OnDisable(func() { go processor.Stop() })
	trackingCtrl.OnEnable(func() {
		q.ResetFailureState()
		processor.Start()
	})
	if trackingCtrl.IsEnabled() {
		processor.Start()
	}

	if cfg.ControlTokenHash == "" {
		logger.Warn("CONTROL_TOKEN_HASH not set, control api auth is disabled")
	}

	r := setupRouter(cfg, store, q, trackingCtrl, backendClient, collector, logger)

	srv := server.New(r, cfg.AppPort, cfg.ReadTimeout, cfg.WriteTimeout, cfg.ShutdownTimeout, logger)
	srv.OnShutdown("event queue", func(ctx context.Context) error {
		q.Close()
		return nil
	})
	srv.OnShutdown("batch processor", func(ctx context.Context) error {
		processor.Stop()
		return nil
	})

	logger.Info("starting agent",
		"port", cfg.AppPort,
		"agent_id", agentID,
		"backend_url", redactURL(backendClient.BaseURL()),
		"env", cfg.AppEnv,
	)

	if err := srv.Run(); err != nil {
		logger.Error("agent error", "error", err)
		os.Exit(1)
	}
}

// openStore builds the snapshot store selected by STORAGE_DRIVER.
func openStore(ctx context.Context, cfg *config.Config, agentID string) (storage.Store, error) {
	switch cfg.StorageDriver {
	case "redis":
		return storage.NewRedis(ctx, cfg.RedisURL)
	case "postgres":
		return storage.NewPostgres(ctx, cfg.DatabaseURL, agentID)
	case "memory":
		return storage.NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver " + cfg.StorageDriver)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(
	cfg *config.Config,
	store storage.Store,
	q *queue.EventQueue,
	trackingCtrl *tracking.Controller,
	backendClient *backend.Client,
	collector *stats.Collector,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))

	healthHandler := handler.NewHealthHandler(store)
	eventsHandler := handler.NewEventsHandler(q, trackingCtrl, logger)
	settingsHandler := handler.NewSettingsHandler(q, trackingCtrl, backendClient, store, logger)
	statusHandler := handler.NewStatusHandler(q, trackingCtrl, backendClient, collector)

	// Probes stay unauthenticated.
	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/readyz", healthHandler.Readyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ControlAuth(cfg.ControlTokenHash, logger))

		r.Post("/events", eventsHandler.Track)
		r.Get("/status", statusHandler.Status)
		r.Get("/stats", statusHandler.Stats)
		r.Put("/tracking", settingsHandler.SetTracking)
		r.Put("/exceptions", settingsHandler.SetExceptions)
		r.Put("/backend", settingsHandler.SetBackend)
		r.Put("/online", settingsHandler.SetOnline)
	})

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
