package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/model-arena/model-arena/internal/api"
	"github.com/model-arena/model-arena/internal/arena"
	"github.com/model-arena/model-arena/internal/backend"
	"github.com/model-arena/model-arena/internal/config"
	"github.com/model-arena/model-arena/internal/fallback"
	"github.com/model-arena/model-arena/internal/health"
	"github.com/model-arena/model-arena/internal/logging"
	"github.com/model-arena/model-arena/internal/metrics"
	"github.com/model-arena/model-arena/internal/rating"
	"github.com/model-arena/model-arena/internal/registry"
	"github.com/model-arena/model-arena/internal/router"
	"github.com/model-arena/model-arena/internal/scheduler"
	"github.com/model-arena/model-arena/internal/storage"
	"github.com/model-arena/model-arena/pkg/models"
)

// poolProbers adapts the client pool to the health monitor's prober lookup
type poolProbers struct {
	pool *backend.Pool
}

func (p poolProbers) Prober(backendID string) (health.Prober, bool) {
	return p.pool.Get(backendID)
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize logging
	logger := logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	logger.Info("starting arena server",
		slog.String("version", "0.1.0"),
		slog.Int("port", cfg.Server.Port),
		slog.Int("backends", len(cfg.Backends)),
		slog.Int("gpu_slots", cfg.Scheduler.SlotCount))

	// Initialize database
	db, err := storage.New(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to initialize database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	voteStore := storage.NewVoteStore(db)
	ratingStore := storage.NewRatingStore(db)

	// Register the backend catalog. Any duplicate or invalid entry is fatal.
	reg := registry.New()
	catalog := make([]models.Backend, 0, len(cfg.Backends))
	for _, bc := range cfg.Backends {
		b := bc.ToModel()
		if err := reg.Register(b); err != nil {
			logger.Error("failed to register backend",
				slog.String("backend", b.ID),
				slog.String("error", err.Error()))
			os.Exit(1)
		}
		catalog = append(catalog, b)
	}

	backendInfos := make([]metrics.BackendInfo, len(catalog))
	for i, b := range catalog {
		backendInfos[i] = metrics.BackendInfo{ID: b.ID, Tier: string(b.Tier)}
	}
	metrics.InitializeBackendMetrics(backendInfos)

	// Generation clients, one per backend
	pool := backend.BuildPool(catalog)

	// GPU slot scheduler
	sched := scheduler.New(cfg.Scheduler.SlotCount, reg,
		scheduler.WithLogger(logger))

	// Health monitor
	monitor := health.New(reg, poolProbers{pool},
		health.WithLogger(logger),
		health.WithProbeInterval(cfg.Health.ProbeInterval),
		health.WithProbeTimeout(cfg.Health.ProbeTimeout),
		health.WithFailureThreshold(cfg.Health.FailureThreshold),
		health.WithRecoveryThreshold(cfg.Health.RecoveryThreshold))

	// Rating store: replay unapplied votes, then start the applier
	ratingSvc := rating.New(voteStore, ratingStore,
		rating.WithLogger(logger),
		rating.WithKFactor(cfg.Rating.KFactor),
		rating.WithApplyRetries(cfg.Rating.ApplyRetries))
	if err := ratingSvc.Start(ctx); err != nil {
		logger.Error("failed to start rating store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Fallback policy over registry + scheduler
	policy := fallback.New(reg, sched,
		fallback.WithLogger(logger),
		fallback.WithAcquireBudget(cfg.Scheduler.AcquireTimeout))

	// Arena session manager. The tool provider never competes.
	arenaOpts := []arena.Option{
		arena.WithLogger(logger),
		arena.WithSessionTTL(cfg.Arena.SessionTTL),
		arena.WithMaxSessions(cfg.Arena.MaxSessions),
		arena.WithGenerationTimeout(cfg.Arena.GenerationTimeout),
	}
	if cfg.Router.ToolProvider != "" {
		arenaOpts = append(arenaOpts, arena.WithExcludedBackends(cfg.Router.ToolProvider))
	}
	arenaMgr := arena.New(reg, policy, pool, voteStore, ratingSvc, arenaOpts...)

	// Query router
	routerOpts := []router.Option{
		router.WithLogger(logger),
		router.WithToolTimeout(cfg.Arena.GenerationTimeout),
	}
	if cfg.Router.ToolProvider != "" {
		routerOpts = append(routerOpts, router.WithToolProvider(cfg.Router.ToolProvider))
	}
	queryRouter := router.New(arenaMgr, policy, pool, routerOpts...)

	// Initialize API server (not ready yet)
	server := api.New(queryRouter, arenaMgr, reg, ratingSvc, sched,
		api.WithLogger(logger),
		api.WithHost(cfg.Server.Host),
		api.WithPort(cfg.Server.Port))

	// Probe the whole catalog once before accepting traffic, then start the
	// recurring monitor
	logger.Info("running initial health probe cycle")
	monitor.ProbeNow(ctx)

	if err := monitor.Start(ctx); err != nil {
		logger.Error("failed to start health monitor", slog.String("error", err.Error()))
		os.Exit(1)
	}

	server.SetReady(true)

	// Handle shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down...")

		// Stop accepting new requests first
		server.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Drain in-flight HTTP requests, then stop background services:
		// the rating drain must run after the last vote handler finishes.
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", slog.String("error", err.Error()))
		}

		ratingSvc.Stop()
		monitor.Stop()

		if err := db.Close(); err != nil {
			logger.Error("database close error", slog.String("error", err.Error()))
		}
		os.Exit(0)
	}()

	// Start server
	if err := server.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
