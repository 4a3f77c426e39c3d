// Package main provides the entry point for the citation crawler control
// server. It serves the control API without driving the iteration loop:
// papers are added on demand and the store is inspected between runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/citescope/citation-crawler/internal/config"
	"github.com/citescope/citation-crawler/internal/crawl"
	"github.com/citescope/citation-crawler/internal/database"
	"github.com/citescope/citation-crawler/internal/observability"
	"github.com/citescope/citation-crawler/internal/progress"
	"github.com/citescope/citation-crawler/internal/provider/openalex"
	"github.com/citescope/citation-crawler/internal/provider/semanticscholar"
	"github.com/citescope/citation-crawler/internal/retraction"
	"github.com/citescope/citation-crawler/internal/sampler"
	httpserver "github.com/citescope/citation-crawler/internal/server/http"
	"github.com/citescope/citation-crawler/internal/snapshot"
	"github.com/citescope/citation-crawler/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(cfg.Logging.Observability())
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("citation crawler control server starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics("citation_crawler")
	}

	// Connect to PostgreSQL when the snapshot backend needs it.
	var db *database.DB
	needDB := cfg.Snapshot.Backend == config.SnapshotBackendPostgres ||
		cfg.Snapshot.Backend == config.SnapshotBackendBoth
	if needDB {
		db, err = database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		logger.Info().Msg("database connection established")

		// Run migrations if configured.
		if cfg.Database.MigrationAutoRun {
			migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
			if err != nil {
				return fmt.Errorf("create migrator: %w", err)
			}
			defer func() {
				if closeErr := migrator.Close(); closeErr != nil {
					logger.Error().Err(closeErr).Msg("failed to close migrator")
				}
			}()

			if err := migrator.Up(); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}
	}

	// The record store, resumed from the run's latest final snapshot when
	// one exists.
	st := store.New(cfg.Store.Store(), logger)
	if db != nil {
		state, err := snapshot.LoadLatest(ctx, db, cfg.Crawl.RunName)
		switch {
		case err == nil:
			st.Restore(state)
			logger.Info().Str("run_name", cfg.Crawl.RunName).Msg("restored latest snapshot")
		case errors.Is(err, snapshot.ErrNoSnapshot):
			logger.Info().Str("run_name", cfg.Crawl.RunName).Msg("no snapshot found, starting empty")
		default:
			return fmt.Errorf("load latest snapshot: %w", err)
		}
	}

	// Build the provider the control API retrieves papers through.
	var paperProvider crawl.PaperProvider
	switch cfg.Provider.Name {
	case "openalex":
		paperProvider = openalex.New(cfg.Provider.OpenAlex, metrics, logger)
	case "semanticscholar":
		paperProvider = semanticscholar.New(cfg.Provider.SemanticScholar, metrics, logger)
	default:
		return fmt.Errorf("unknown provider: %s", cfg.Provider.Name)
	}

	var retractionFilter crawl.RetractionFilter
	if cfg.Retraction.BaseURL != "" {
		retractionFilter = retraction.New(cfg.Retraction, logger)
	}

	// The orchestrator handles AddUserPapers and AddKeyAuthorPapers for the
	// control API. Crawl is never called here; the crawler binary owns the
	// iteration loop.
	orchestrator, err := crawl.New(cfg.Crawl, crawl.Deps{
		Store:      st,
		Provider:   paperProvider,
		Sampler:    sampler.New(cfg.Sampler, logger),
		Retraction: retractionFilter,
		Sink:       progress.NewLogSink(logger),
		Metrics:    metrics,
	}, logger)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	httpCfg := httpserver.Config{
		Address:      cfg.Server.HTTPAddress(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  2 * time.Minute,
	}
	httpSrv := httpserver.NewServer(httpCfg, orchestrator, st, db, logger)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 2)

	go func() {
		logger.Info().
			Str("address", httpCfg.Address).
			Msg("HTTP control API starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().Str("http_address", httpCfg.Address)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("citation crawler control server is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down control server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("control server shutdown complete")
	return nil
}
