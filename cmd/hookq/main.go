package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/hookq/pkg/email"
	"github.com/mihaimyh/hookq/pkg/hookq"
	zerologadapter "github.com/mihaimyh/hookq/pkg/hookq/logger/zerolog"
	prommetrics "github.com/mihaimyh/hookq/pkg/hookq/metrics/prometheus"
	"github.com/mihaimyh/hookq/pkg/jobs"
	"github.com/mihaimyh/hookq/pkg/supervisor"
	"github.com/mihaimyh/hookq/pkg/webhook"
	memorystore "github.com/mihaimyh/hookq/store/memory"
	pgstore "github.com/mihaimyh/hookq/store/postgres"
)

func main() {
	zl := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger := zerologadapter.NewLogger(zl)

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, using process environment")
	}

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid configuration", hookq.Field{Key: "error", Value: err.Error()})
		os.Exit(1)
	}

	os.Exit(run(cfg, logger))
}

// buildEmailSender returns nil unless both EMAIL_API_KEY and EMAIL_FROM are
// configured. The deletion handler degrades to counted skips on a nil
// sender, so incomplete email configuration never blocks startup.
func buildEmailSender(cfg appConfig, logger hookq.Logger) jobs.EmailSender {
	switch {
	case cfg.EmailAPIKey == "":
		logger.Warn("EMAIL_API_KEY not set, reminder emails disabled")
		return nil
	case cfg.EmailFrom == "":
		logger.Warn("EMAIL_FROM not set, reminder emails disabled")
		return nil
	}
	client, err := email.New(email.Config{APIKey: cfg.EmailAPIKey, From: cfg.EmailFrom})
	if err != nil {
		logger.Warn("failed to create email client, reminder emails disabled",
			hookq.Field{Key: "error", Value: err.Error()},
		)
		return nil
	}
	return client
}

func run(cfg appConfig, logger hookq.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("invalid REDIS_URL", hookq.Field{Key: "error", Value: err.Error()})
		return 1
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("redis unreachable", hookq.Field{Key: "error", Value: err.Error()})
		return 1
	}

	var store hookq.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", hookq.Field{Key: "error", Value: err.Error()})
			return 1
		}
		defer pool.Close()
		store, err = pgstore.New(pool)
		if err != nil {
			logger.Error("failed to create store", hookq.Field{Key: "error", Value: err.Error()})
			return 1
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		store = memorystore.New()
	}

	sender := buildEmailSender(cfg, logger)

	engine, err := jobs.NewHTTPRulesEngine(cfg.AppBaseURL, nil)
	if err != nil {
		logger.Error("failed to create rules engine", hookq.Field{Key: "error", Value: err.Error()})
		return 1
	}

	registry := prometheus.NewRegistry()
	metrics := prommetrics.NewMetrics(registry, "hookq")

	sup, err := supervisor.New(supervisor.Config{
		Redis:               redisClient,
		Store:               store,
		Engine:              engine,
		Email:               sender,
		AppBaseURL:          cfg.AppBaseURL,
		WorkflowConcurrency: cfg.WorkflowConcurrency,
		HeartbeatURL:        cfg.HeartbeatURL,
		Logger:              logger,
		Metrics:             metrics,
	})
	if err != nil {
		logger.Error("failed to create supervisor", hookq.Field{Key: "error", Value: err.Error()})
		return 1
	}

	emitter, err := hookq.NewEmitter(sup.Queue(hookq.QueueWorkflow), logger)
	if err != nil {
		logger.Error("failed to create emitter", hookq.Field{Key: "error", Value: err.Error()})
		return 1
	}
	router, err := webhook.NewRouter(webhook.RouterConfig{
		Secrets: webhook.Secrets{
			Stripe: cfg.StripeSecret,
			Asaas:  cfg.AsaasSecret,
			Custom: cfg.CustomSecret,
		},
		Emitter:       emitter,
		Organizations: store,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		logger.Error("failed to create webhook router", hookq.Field{Key: "error", Value: err.Error()})
		return 1
	}

	mux := chi.NewRouter()
	mux.Mount("/webhooks", webhook.NewHandler(router, logger).Routes())
	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if sup.State() != supervisor.StateRunning {
			http.Error(w, sup.State().String(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		logger.Info("http server listening", hookq.Field{Key: "addr", Value: server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", hookq.Field{Key: "error", Value: err.Error()})
		}
	}()

	runErr := sup.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", hookq.Field{Key: "error", Value: err.Error()})
	}

	if runErr != nil {
		// In-flight work outlived the shutdown budget; exit non-zero so
		// the platform restarts the process promptly.
		logger.Error("forced exit", hookq.Field{Key: "error", Value: runErr.Error()})
		return 1
	}
	return 0
}
