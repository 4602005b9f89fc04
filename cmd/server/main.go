// SPC - Prompt Injection Exchange Server
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/mossfit/spc/internal/api"
	"github.com/mossfit/spc/internal/board"
	"github.com/mossfit/spc/internal/bus"
	"github.com/mossfit/spc/internal/config"
	"github.com/mossfit/spc/internal/dashboard"
	"github.com/mossfit/spc/internal/detect"
	"github.com/mossfit/spc/internal/judge"
	"github.com/mossfit/spc/internal/middleware"
	"github.com/mossfit/spc/internal/settle"
	"github.com/mossfit/spc/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"award_amount", cfg.AwardAmount,
		"allow_negative_balance", cfg.AllowNegativeBalance,
	)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath, cfg.AllowNegativeBalance)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	broadcast := bus.New(cfg.BusQueueSize)
	defer broadcast.Close()

	var evaluator judge.Evaluator
	if cfg.Evaluator.URL != "" {
		evaluator = judge.NewLLMEvaluator(judge.LLMConfig{
			Endpoint: cfg.Evaluator.URL,
			Model:    cfg.Evaluator.Model,
			APIKey:   cfg.Evaluator.APIKey,
			Timeout:  cfg.Evaluator.Timeout,
		})
		slog.Info("Using language-model evaluator", "endpoint", cfg.Evaluator.URL, "model", cfg.Evaluator.Model)
	} else {
		evaluator = judge.NewRuleEvaluator()
		slog.Info("EVALUATOR_URL not set, using rule-based evaluator")
	}

	detector := detect.NewHeuristicClassifier()

	// Initialize services.
	settlement := settle.NewService(repo, evaluator, detector, broadcast, settle.Config{
		AwardAmount:      cfg.AwardAmount,
		EvaluatorTimeout: cfg.Evaluator.Timeout,
		DetectorTimeout:  cfg.DetectorTimeout,
	})
	projector := board.NewProjector(repo)

	// Initialize handlers.
	apiHandler := api.NewHandler(settlement, projector, repo, cfg.StartingBalance)
	wsHandler := dashboard.NewHandler(broadcast, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	corsOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		corsOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(corsOrigins))

	apiHandler.RegisterRoutes(r)

	// WebSocket endpoint for dashboard observers.
	r.Get("/ws/dashboard", wsHandler.ServeHTTP)

	// Operational metrics.
	r.Handle("/metrics", promhttp.Handler())

	// Create server.
	// WriteTimeout stays 0: dashboard WebSocket connections are long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
