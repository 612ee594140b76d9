package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"social-token-chat/internal/config"
	"social-token-chat/internal/handler"
	"social-token-chat/internal/messaging"
	"social-token-chat/internal/middleware"
	"social-token-chat/internal/observability"
	"social-token-chat/internal/repository/postgres"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	prefetch          = 32
	dbStatsInterval   = 15 * time.Second
	connectionTimeout = 60 * time.Second
)

func main() {
	cfg := config.Load()
	observability.InitLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting stats worker")

	if cfg.RabbitMQURL == "" {
		slog.Error("RABBITMQ_URL is required for the stats worker")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connCtx, connCancel := context.WithTimeout(ctx, connectionTimeout)
	defer connCancel()

	db, err := config.NewPostgresConnection(connCtx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to postgresql")

	repo := postgres.NewStatsRepository(db)
	if err := repo.EnsureSchema(connCtx); err != nil {
		slog.Error("failed to ensure schema", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rmq, err := messaging.NewRabbitMQWithRetry(connCtx, cfg.RabbitMQURL)
	if err != nil {
		slog.Error("failed to connect to rabbitmq", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer rmq.Close()

	msgs, err := rmq.ConsumeChatMessages(prefetch)
	if err != nil {
		slog.Error("failed to start consuming", slog.String("error", err.Error()))
		os.Exit(1)
	}

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		messaging.NewStatsConsumer(repo, postgres.IsTransient).Run(ctx, msgs)
	}()

	go recordDBStats(ctx, db)

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Metrics())
	r.Get("/health", handler.Health)
	r.Get("/health/ready", handler.Ready(map[string]handler.HealthCheck{
		"database": handler.DatabaseCheck(db),
		"rabbitmq": handler.RabbitMQCheck(rmq),
	}))
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.StatsPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("stats worker listening", slog.String("port", cfg.StatsPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	failed := false
	select {
	case <-sigChan:
		slog.Info("shutting down stats worker")
	case <-consumerDone:
		// Broker closed the channel
		slog.Error("stats consumer stopped unexpectedly")
		failed = true
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
	}

	cancel()
	<-consumerDone

	slog.Info("stats worker stopped")
	if failed {
		os.Exit(1)
	}
}

func recordDBStats(ctx context.Context, db *sql.DB) {
	ticker := time.NewTicker(dbStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.RecordDBStats(db)
		}
	}
}
