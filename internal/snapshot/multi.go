package snapshot

import (
	"context"
	"time"

	"github.com/citescope/citation-crawler/internal/crawl"
	"github.com/citescope/citation-crawler/internal/store"
)

// MultiWriter fans snapshots out to several writers, typically filesystem
// plus PostgreSQL. SaveFinal reports the first writer's location.
type MultiWriter struct {
	writers []crawl.SnapshotWriter
}

// NewMultiWriter creates a writer that persists to every given writer.
func NewMultiWriter(writers ...crawl.SnapshotWriter) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// SaveIntermediate writes to every writer and returns the first error.
func (m *MultiWriter) SaveIntermediate(ctx context.Context, state store.State, iteration int) error {
	var firstErr error
	for _, w := range m.writers {
		if err := w.SaveIntermediate(ctx, state, iteration); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SaveFinal writes to every writer. The returned location and time come from
// the first writer; later errors still fail the call.
func (m *MultiWriter) SaveFinal(ctx context.Context, state store.State, runName string) (string, time.Time, error) {
	var (
		location string
		savedAt  time.Time
		firstErr error
	)
	for i, w := range m.writers {
		loc, ts, err := w.SaveFinal(ctx, state, runName)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if i == 0 {
			location, savedAt = loc, ts
		}
	}
	if firstErr != nil {
		return "", time.Time{}, firstErr
	}
	return location, savedAt, nil
}
