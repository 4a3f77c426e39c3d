package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/citescope/citation-crawler/internal/domain"
)

// DefaultConcurrency bounds the fan-out of one batch retrieval.
const DefaultConcurrency = 4

// FetchFunc retrieves one paper record by ID.
type FetchFunc func(ctx context.Context, id string) (domain.ProviderPaperRecord, error)

// Batcher fans a batch of IDs out over a bounded worker pool and keeps the
// failure and inconsistency bookkeeping the crawl loop reads back after each
// Retrieve call.
//
// Per-ID errors are folded into the failure list and never abort the batch.
// The batch as a whole fails only on context cancellation or when every
// single ID failed with a service-level error, which the crawl loop treats
// as fatal.
type Batcher struct {
	name        string
	concurrency int
	logger      zerolog.Logger

	mu           sync.Mutex
	failed       []string
	inconsistent []domain.InconsistentPair
}

// NewBatcher creates a Batcher for the named provider.
func NewBatcher(name string, concurrency int, logger zerolog.Logger) *Batcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Batcher{
		name:        name,
		concurrency: concurrency,
		logger:      logger.With().Str("provider", name).Logger(),
	}
}

// Retrieve fetches all IDs via fetch, bounded by the configured concurrency.
// Results keep no particular order. The failure and inconsistency lists are
// reset at the start of each call and reflect only this batch.
func (b *Batcher) Retrieve(ctx context.Context, ids []string, fetch FetchFunc) ([]domain.ProviderPaperRecord, error) {
	b.mu.Lock()
	b.failed = nil
	b.inconsistent = nil
	b.mu.Unlock()

	if len(ids) == 0 {
		return nil, nil
	}

	var (
		recordsMu   sync.Mutex
		records     []domain.ProviderPaperRecord
		serviceErrs int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			rec, err := fetch(gctx, id)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				b.recordFailure(id, err)
				if errors.Is(err, domain.ErrServiceUnavailable) || errors.Is(err, domain.ErrRateLimited) {
					recordsMu.Lock()
					serviceErrs++
					recordsMu.Unlock()
				}
				return nil
			}
			if rec.ID != "" && rec.ID != id {
				b.recordInconsistency(id, rec.ID)
			}
			recordsMu.Lock()
			records = append(records, rec)
			recordsMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%s: batch aborted: %w", b.name, err)
	}

	// All IDs failing with service errors means the provider itself is
	// down, not that these particular papers are bad.
	if len(records) == 0 && serviceErrs == len(ids) {
		return nil, fmt.Errorf("%s: all %d retrievals failed: %w", b.name, len(ids), domain.ErrServiceUnavailable)
	}
	return records, nil
}

// FailedIDs returns the per-ID failures of the most recent Retrieve call.
func (b *Batcher) FailedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.failed...)
}

// InconsistentPairs returns the ID mismatches of the most recent Retrieve
// call.
func (b *Batcher) InconsistentPairs() []domain.InconsistentPair {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.InconsistentPair(nil), b.inconsistent...)
}

func (b *Batcher) recordFailure(id string, err error) {
	b.logger.Warn().Str("paper_id", id).Err(err).Msg("paper retrieval failed")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failed = append(b.failed, id)
}

func (b *Batcher) recordInconsistency(requested, returned string) {
	b.logger.Warn().
		Str("requested_id", requested).
		Str("returned_id", returned).
		Msg("provider returned different canonical id")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inconsistent = append(b.inconsistent, domain.InconsistentPair{RequestedID: requested, ReturnedID: returned})
}
