// Package snapshot persists record store state between and after crawl
// iterations, to the filesystem or to PostgreSQL. Snapshots make a crashed
// run resumable and give downstream analysis a stable artifact.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/citescope/citation-crawler/internal/store"
)

// envelope wraps a store state with run metadata.
type envelope struct {
	RunID     string      `json:"run_id"`
	RunName   string      `json:"run_name,omitempty"`
	Iteration *int        `json:"iteration,omitempty"`
	SavedAt   time.Time   `json:"saved_at"`
	State     store.State `json:"state"`
}

// FSWriter writes snapshots as JSON files under a per-run directory.
type FSWriter struct {
	dir    string
	runID  string
	logger zerolog.Logger
}

// NewFSWriter creates a filesystem snapshot writer rooted at dir. Each run
// gets its own subdirectory keyed by run ID.
func NewFSWriter(dir, runID string, logger zerolog.Logger) (*FSWriter, error) {
	runDir := filepath.Join(dir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	return &FSWriter{
		dir:    runDir,
		runID:  runID,
		logger: logger.With().Str("component", "snapshot_fs").Logger(),
	}, nil
}

// SaveIntermediate writes the state after one completed iteration. Each
// iteration gets its own file so a crash never clobbers the previous one.
func (w *FSWriter) SaveIntermediate(ctx context.Context, state store.State, iteration int) error {
	path := filepath.Join(w.dir, fmt.Sprintf("iteration_%04d.json", iteration))
	env := envelope{
		RunID:     w.runID,
		Iteration: &iteration,
		SavedAt:   time.Now().UTC(),
		State:     state,
	}
	if err := w.writeFile(ctx, path, env); err != nil {
		return err
	}
	w.logger.Debug().Int("iteration", iteration).Str("path", path).Msg("intermediate snapshot written")
	return nil
}

// SaveFinal writes the state of a finished run and returns the file path and
// write time.
func (w *FSWriter) SaveFinal(ctx context.Context, state store.State, runName string) (string, time.Time, error) {
	savedAt := time.Now().UTC()
	path := filepath.Join(w.dir, fmt.Sprintf("%s_%s.json", runName, savedAt.Format("20060102T150405Z")))
	env := envelope{
		RunID:   w.runID,
		RunName: runName,
		SavedAt: savedAt,
		State:   state,
	}
	if err := w.writeFile(ctx, path, env); err != nil {
		return "", time.Time{}, err
	}
	w.logger.Info().Str("run_name", runName).Str("path", path).Msg("final snapshot written")
	return path, savedAt, nil
}

// writeFile marshals env and writes it atomically via a temp file rename.
func (w *FSWriter) writeFile(ctx context.Context, path string, env envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming snapshot file: %w", err)
	}
	return nil
}

// LoadFile reads a snapshot file previously written by an FSWriter and
// returns the store state it carries, for resuming a crawl.
func LoadFile(path string) (store.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return store.State{}, fmt.Errorf("reading snapshot file: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return store.State{}, fmt.Errorf("decoding snapshot file: %w", err)
	}
	return env.State, nil
}
