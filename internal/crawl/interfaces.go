package crawl

import (
	"context"
	"time"

	"github.com/citescope/citation-crawler/internal/domain"
	"github.com/citescope/citation-crawler/internal/store"
)

// PaperProvider retrieves paper records from a bibliographic source.
//
// Retrieve blocks until the batch completes or fails as a whole; per-ID
// failures are not errors, they are reported through FailedIDs. A returned
// error means the entire batch failed and is fatal to the crawl. Retry and
// timeout policy is the provider's own concern.
type PaperProvider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Retrieve fetches full records for the given paper IDs.
	Retrieve(ctx context.Context, ids []string) ([]domain.ProviderPaperRecord, error)

	// FailedIDs lists the per-ID failures of the most recent Retrieve call.
	FailedIDs() []string

	// InconsistentPairs lists retrievals from the most recent Retrieve call
	// where the provider returned a different canonical ID than requested.
	InconsistentPairs() []domain.InconsistentPair
}

// Sampler chooses the next batch of paper IDs to retrieve. It is a pure
// function of the store snapshot and may legitimately return an empty list.
type Sampler interface {
	Sample(view store.ReadView, keywordFilters []string) []string
}

// RetractionFilter reports which of the given DOIs are retracted.
type RetractionFilter interface {
	Check(ctx context.Context, dois []string) ([]string, error)
}

// SnapshotWriter persists orchestrator and store state for crash recovery
// and post-run analysis. The format is the writer's concern.
type SnapshotWriter interface {
	// SaveIntermediate persists the state after one completed iteration.
	SaveIntermediate(ctx context.Context, state store.State, iteration int) error

	// SaveFinal persists the state of a finished run and returns where and
	// when it was written.
	SaveFinal(ctx context.Context, state store.State, runName string) (string, time.Time, error)
}
