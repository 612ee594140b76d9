package main

import (
	"context"
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
	"social-token-chat/internal/oracle"
	"social-token-chat/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()
	observability.InitLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting chat server",
		slog.String("environment", cfg.Environment),
		slog.String("ledger_mode", cfg.LedgerMode))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledger := newLedger(cfg)
	checker := oracle.NewChecker(ledger, cfg.AccessThreshold, cfg.AccessTimeout)
	slog.Info("access oracle configured",
		slog.String("ledger", ledger.Name()),
		slog.Float64("threshold_usd", checker.Threshold()),
		slog.Duration("timeout", cfg.AccessTimeout))

	hubCfg := websocket.HubConfig{
		MaxMessageLength: cfg.MaxMessageLength,
		MessageRetention: cfg.MessageRetention,
		RecheckInterval:  cfg.AccessRecheckInterval,
		SendRate:         cfg.SendRate,
		SendBurst:        cfg.SendBurst,
	}

	readyChecks := map[string]handler.HealthCheck{}

	// The broker is optional; without it messages are only delivered live
	if cfg.RabbitMQURL != "" {
		rmqCtx, rmqCancel := context.WithTimeout(ctx, 60*time.Second)
		rmq, err := messaging.NewRabbitMQWithRetry(rmqCtx, cfg.RabbitMQURL)
		rmqCancel()
		if err != nil {
			slog.Error("failed to connect to rabbitmq", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer rmq.Close()

		hubCfg.Sink = rmq
		readyChecks["rabbitmq"] = handler.RabbitMQCheck(rmq)
		slog.Info("publishing chat messages to rabbitmq", slog.String("exchange", messaging.ChatExchange))
	}

	hub := websocket.NewHub(checker, hubCfg)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("hub error", slog.String("error", err.Error()))
		}
	}()
	slog.Info("websocket hub started")

	wsHandler := handler.NewWebSocketHandler(hub, cfg.AllowedOrigins)
	roomHandler := handler.NewRoomHandler(hub)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Metrics())

	r.Get("/health", handler.Health)
	r.Get("/health/ready", handler.Ready(readyChecks))
	r.Handle("/metrics", promhttp.Handler())

	// Access is decided per join-room event, not at the handshake
	r.Get("/ws", wsHandler.HandleConnection)

	r.Route("/api/v1", func(r chi.Router) {
		apiLimiter := middleware.NewRateLimiter(ctx, 20, 50)

		r.Use(middleware.CORS(middleware.ParseOrigins(cfg.AllowedOrigins)))
		r.Use(apiLimiter.Middleware())
		r.Use(middleware.OpenAPIValidator(middleware.DefaultOpenAPIValidatorConfig(cfg.Environment)))

		r.Get("/rooms/{tokenId}/presence", roomHandler.Presence)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("chat server listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Hijacked WebSocket connections are not tracked by Shutdown; stopping
	// the hub closes their send channels and the write pumps hang up.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
	}

	cancel()
	<-hubDone

	slog.Info("server stopped gracefully")
}

func newLedger(cfg *config.Config) oracle.Ledger {
	if cfg.LedgerMode == config.LedgerModeRPC {
		return oracle.NewRPCLedger(cfg.LedgerURL, cfg.NativeUSDPrice)
	}
	return oracle.NewHTTPLedger(cfg.LedgerURL)
}
