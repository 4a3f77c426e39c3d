package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/citescope/citation-crawler/internal/database"
	"github.com/citescope/citation-crawler/internal/store"
)

// ErrNoSnapshot is returned by LoadLatest when a run has no final snapshot.
var ErrNoSnapshot = errors.New("no snapshot found")

// PostgresWriter stores snapshots in the crawl_runs and crawl_snapshots
// tables. State is stored as a JSONB column rather than normalized rows;
// the record store is the source of truth and snapshots are opaque images.
type PostgresWriter struct {
	db      database.DBTX
	runID   string
	runName string
	logger  zerolog.Logger
}

// NewPostgresWriter creates a PostgreSQL snapshot writer for one run.
func NewPostgresWriter(db database.DBTX, runID, runName string, logger zerolog.Logger) *PostgresWriter {
	return &PostgresWriter{
		db:      db,
		runID:   runID,
		runName: runName,
		logger:  logger.With().Str("component", "snapshot_pg").Logger(),
	}
}

// SaveIntermediate persists the state after one completed iteration.
func (w *PostgresWriter) SaveIntermediate(ctx context.Context, state store.State, iteration int) error {
	if err := w.ensureRun(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling snapshot state: %w", err)
	}

	_, err = w.db.Exec(ctx, `
		INSERT INTO crawl_snapshots (run_id, kind, iteration, state, created_at)
		VALUES ($1, 'intermediate', $2, $3, now())
		ON CONFLICT (run_id, kind, iteration) DO UPDATE
		SET state = EXCLUDED.state, created_at = EXCLUDED.created_at`,
		w.runID, iteration, payload)
	if err != nil {
		return fmt.Errorf("inserting intermediate snapshot: %w", err)
	}

	w.logger.Debug().Int("iteration", iteration).Msg("intermediate snapshot written")
	return nil
}

// SaveFinal persists the state of a finished run, marks the run finished,
// and returns the snapshot location and write time.
func (w *PostgresWriter) SaveFinal(ctx context.Context, state store.State, runName string) (string, time.Time, error) {
	if err := w.ensureRun(ctx); err != nil {
		return "", time.Time{}, err
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("marshaling snapshot state: %w", err)
	}

	var savedAt time.Time
	err = w.db.QueryRow(ctx, `
		INSERT INTO crawl_snapshots (run_id, kind, iteration, state, created_at)
		VALUES ($1, 'final', NULL, $2, now())
		RETURNING created_at`,
		w.runID, payload).Scan(&savedAt)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("inserting final snapshot: %w", err)
	}

	if _, err := w.db.Exec(ctx,
		`UPDATE crawl_runs SET finished_at = $2 WHERE run_id = $1`,
		w.runID, savedAt); err != nil {
		return "", time.Time{}, fmt.Errorf("marking run finished: %w", err)
	}

	location := fmt.Sprintf("postgres://crawl_snapshots/%s", w.runID)
	w.logger.Info().Str("run_name", runName).Str("location", location).Msg("final snapshot written")
	return location, savedAt, nil
}

// ensureRun inserts the run row if this is the first snapshot of the run.
func (w *PostgresWriter) ensureRun(ctx context.Context) error {
	_, err := w.db.Exec(ctx, `
		INSERT INTO crawl_runs (run_id, run_name, started_at)
		VALUES ($1, $2, now())
		ON CONFLICT (run_id) DO NOTHING`,
		w.runID, w.runName)
	if err != nil {
		return fmt.Errorf("upserting crawl run: %w", err)
	}
	return nil
}

// LoadLatest returns the most recent final snapshot state for a run name.
func LoadLatest(ctx context.Context, db database.DBTX, runName string) (store.State, error) {
	var payload []byte
	err := db.QueryRow(ctx, `
		SELECT s.state
		FROM crawl_snapshots s
		JOIN crawl_runs r ON r.run_id = s.run_id
		WHERE r.run_name = $1 AND s.kind = 'final'
		ORDER BY s.created_at DESC
		LIMIT 1`,
		runName).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.State{}, ErrNoSnapshot
	}
	if err != nil {
		return store.State{}, fmt.Errorf("loading latest snapshot: %w", err)
	}

	var state store.State
	if err := json.Unmarshal(payload, &state); err != nil {
		return store.State{}, fmt.Errorf("decoding snapshot state: %w", err)
	}
	return state, nil
}
