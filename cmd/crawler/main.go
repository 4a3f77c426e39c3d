// Package main runs one citation crawl: seed pass, sample-retrieve-merge
// iterations until a stopping condition fires, then the final snapshot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"hash/fnv"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

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
	resumePath := flag.String("resume", "", "Resume from a snapshot file written by a previous run")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging.Observability())
	logger = logger.With().Str("component", "crawler").Logger()
	logger.Info().Str("run_name", cfg.Crawl.RunName).Msg("citation crawler starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics("citation_crawler")
	}

	// The record store, optionally resumed from an earlier snapshot.
	st := store.New(cfg.Store.Store(), logger)
	if *resumePath != "" {
		state, err := snapshot.LoadFile(*resumePath)
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		st.Restore(state)
		logger.Info().Str("path", *resumePath).Msg("resumed from snapshot")
	}

	provider, err := buildProvider(cfg, metrics, logger)
	if err != nil {
		return err
	}

	frontier := sampler.New(cfg.Sampler, logger)

	var retractionFilter crawl.RetractionFilter
	if cfg.Retraction.BaseURL != "" {
		retractionFilter = retraction.New(cfg.Retraction, logger)
	}

	runID := uuid.NewString()

	// PostgreSQL is only needed when snapshots go there. The advisory lock
	// keyed by run name keeps two crawlers from writing the same run.
	var db *database.DB
	needDB := cfg.Snapshot.Backend == config.SnapshotBackendPostgres ||
		cfg.Snapshot.Backend == config.SnapshotBackendBoth
	if needDB {
		db, err = database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		if cfg.Database.MigrationAutoRun {
			if err := runMigrations(db, cfg.Database.MigrationPath, logger); err != nil {
				return err
			}
		}

		lockKey := advisoryKey(cfg.Crawl.RunName)
		acquired, err := db.AcquireAdvisoryLock(ctx, lockKey)
		if err != nil {
			return fmt.Errorf("acquire run lock: %w", err)
		}
		if !acquired {
			return fmt.Errorf("another crawl for run %q is already active", cfg.Crawl.RunName)
		}
		defer func() {
			if err := db.ReleaseAdvisoryLock(context.Background(), lockKey); err != nil {
				logger.Warn().Err(err).Msg("failed to release run lock")
			}
		}()
	}

	snapshots, err := buildSnapshotWriter(cfg, db, runID, logger)
	if err != nil {
		return err
	}

	sinks := []progress.Sink{progress.NewLogSink(logger)}
	if metrics != nil {
		sinks = append(sinks, progress.NewMetricsSink(metrics))
	}
	if cfg.Progress.KafkaEnabled {
		sinks = append(sinks, progress.NewKafkaSink(cfg.Progress.Kafka, logger))
	}
	sink := progress.NewMultiSink(sinks...)
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close progress sinks")
		}
	}()

	crawlCfg := cfg.Crawl
	crawlCfg.RunID = runID

	orchestrator, err := crawl.New(crawlCfg, crawl.Deps{
		Store:      st,
		Provider:   provider,
		Sampler:    frontier,
		Retraction: retractionFilter,
		Snapshots:  snapshots,
		Sink:       sink,
		Metrics:    metrics,
	}, logger)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	// Control API and metrics run alongside the crawl for monitoring.
	errCh := make(chan error, 2)

	httpSrv := httpserver.NewServer(httpserver.Config{
		Address:      cfg.Server.HTTPAddress(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  2 * time.Minute,
	}, orchestrator, st, db, logger)
	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

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
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	result, crawlErr := orchestrator.Crawl(ctx)
	if crawlErr != nil {
		logger.Error().Err(crawlErr).Msg("crawl failed")
	} else {
		logger.Info().
			Str("stop_reason", result.StopReason).
			Int("iterations", result.Iterations).
			Int("papers", result.Papers).
			Int("processed", result.Processed).
			Str("snapshot_path", result.SnapshotPath).
			Msg("crawl finished")
	}

	// Drain any server startup failure before shutting down.
	select {
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error during crawl")
	default:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("metrics server shutdown error")
		}
	}

	return crawlErr
}

// buildProvider constructs the configured paper provider.
func buildProvider(cfg *config.Config, metrics *observability.Metrics, logger zerolog.Logger) (crawl.PaperProvider, error) {
	switch cfg.Provider.Name {
	case "openalex":
		return openalex.New(cfg.Provider.OpenAlex, metrics, logger), nil
	case "semanticscholar":
		return semanticscholar.New(cfg.Provider.SemanticScholar, metrics, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider.Name)
	}
}

// buildSnapshotWriter constructs the configured snapshot writer, or nil when
// snapshots are disabled.
func buildSnapshotWriter(cfg *config.Config, db *database.DB, runID string, logger zerolog.Logger) (crawl.SnapshotWriter, error) {
	switch cfg.Snapshot.Backend {
	case config.SnapshotBackendNone:
		return nil, nil
	case config.SnapshotBackendFS:
		return snapshot.NewFSWriter(cfg.Snapshot.Dir, runID, logger)
	case config.SnapshotBackendPostgres:
		return snapshot.NewPostgresWriter(db, runID, cfg.Crawl.RunName, logger), nil
	case config.SnapshotBackendBoth:
		fsWriter, err := snapshot.NewFSWriter(cfg.Snapshot.Dir, runID, logger)
		if err != nil {
			return nil, err
		}
		pgWriter := snapshot.NewPostgresWriter(db, runID, cfg.Crawl.RunName, logger)
		return snapshot.NewMultiWriter(fsWriter, pgWriter), nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend: %s", cfg.Snapshot.Backend)
	}
}

// runMigrations applies pending schema migrations.
func runMigrations(db *database.DB, path string, logger zerolog.Logger) error {
	migrator, err := database.NewMigrator(db, path, logger)
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
	return nil
}

// advisoryKey derives a stable lock key from the run name.
func advisoryKey(runName string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("citecrawl:" + runName))
	return int64(h.Sum64())
}
