// HireCode - Interview Session Orchestrator
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
	"github.com/hirecode/hirecode/internal/anticheat"
	"github.com/hirecode/hirecode/internal/api"
	"github.com/hirecode/hirecode/internal/catalog"
	"github.com/hirecode/hirecode/internal/config"
	"github.com/hirecode/hirecode/internal/interviewer"
	"github.com/hirecode/hirecode/internal/judge"
	"github.com/hirecode/hirecode/internal/middleware"
	"github.com/hirecode/hirecode/internal/progression"
	"github.com/hirecode/hirecode/internal/scoring"
	"github.com/hirecode/hirecode/internal/session"
	"github.com/hirecode/hirecode/internal/store"
	"github.com/hirecode/hirecode/web"
	"github.com/joho/godotenv"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
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

	cat, err := catalog.Load(cfg.TasksDir)
	if err != nil {
		slog.Error("Failed to load task catalog", "error", err)
		os.Exit(1)
	}
	if cat.Len() == 0 {
		slog.Warn("Task catalog is empty, sessions cannot start until tasks are added", "dir", cfg.TasksDir)
	}

	// The Docker judge is optional: without a reachable daemon the platform
	// runs with the degraded stub so everything else stays exercisable.
	var jdg judge.Judge
	if dockerJudge, err := judge.NewDockerJudge(cfg.Judge); err != nil {
		slog.Warn("Docker judge unavailable, using degraded stub", "error", err)
		jdg = judge.NewStubJudge()
	} else {
		jdg = dockerJudge
		slog.Info("Docker judge initialized")
	}

	// The AI interviewer is optional too.
	var ai interviewer.Interviewer
	if client, err := interviewer.NewClient(cfg.AI); err != nil {
		if errors.Is(err, interviewer.ErrDisabled) {
			slog.Info("AI interviewer disabled (OPENAI_API_KEY not set)")
		} else {
			slog.Warn("AI interviewer unavailable", "error", err)
		}
		ai = interviewer.Disabled{}
	} else {
		ai = client
		slog.Info("AI interviewer initialized", "model", cfg.AI.Model)
	}

	// Initialize the orchestrator.
	mgr := session.NewManager(
		cfg,
		repo,
		cat,
		progression.NewController(cat, cfg.CompletionPolicy),
		anticheat.NewEngine(cfg.AntiCheat),
		jdg,
		ai,
		scoring.NewAggregator(cfg.Scoring),
	)

	// Initialize handlers.
	channelHandler := session.NewChannelHandler(mgr, cfg.FrontendURL, cfg.IsDevelopment())
	interviewHandler := api.NewInterviewHandler(mgr, channelHandler)
	adminHandler := api.NewAdminHandler(repo, cat)
	healthHandler := api.NewHealthHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	healthHandler.RegisterHealth(r)
	interviewHandler.RegisterRoutes(r)
	adminHandler.RegisterRoutes(r)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WebSocket channels stay open for the whole session, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session.StartDeadlineSweeper(ctx, repo, mgr, cfg.SweepInterval)

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
