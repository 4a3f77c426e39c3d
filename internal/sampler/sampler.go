// Package sampler implements the default frontier sampler: it picks the
// next batch of paper IDs to retrieve from the unprocessed, not-yet-selected
// rows of the store, ranked by citation in-degree.
//
// The sampler is deterministic on purpose. Replacing it with a weighted or
// probabilistic policy only requires implementing the crawl.Sampler
// interface; nothing in the loop assumes this ranking.
package sampler

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/citescope/citation-crawler/internal/domain"
	"github.com/citescope/citation-crawler/internal/store"
)

// DefaultBatchSize caps the batch when the configuration leaves it unset.
const DefaultBatchSize = 50

// Config holds frontier sampler configuration.
type Config struct {
	// BatchSize caps how many IDs one Sample call returns.
	BatchSize int `mapstructure:"batch_size" validate:"gte=0"`
}

// Frontier is the default citation-frontier sampler.
type Frontier struct {
	batchSize int
	logger    zerolog.Logger
}

// New creates a Frontier sampler.
func New(cfg Config, logger zerolog.Logger) *Frontier {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Frontier{
		batchSize: batchSize,
		logger:    logger.With().Str("component", "frontier_sampler").Logger(),
	}
}

// Sample returns up to BatchSize candidate IDs: stub rows never selected
// before, excluding sampler-forbidden papers, ranked by citation in-degree
// with store order as the tie-break. Keyword filters, when given, restrict
// titled candidates to those whose title or concepts contain any keyword;
// untitled stubs cannot be evaluated and stay eligible.
func (f *Frontier) Sample(view store.ReadView, keywordFilters []string) []string {
	forbidden := forbiddenKeys(view)
	inDegree := view.CitationInDegree()

	type candidate struct {
		id       string
		inDegree int
		order    int
	}
	var candidates []candidate
	for i, row := range view.Papers() {
		if row.Processed || row.Selected || row.Retracted {
			continue
		}
		if _, hit := forbidden[row.ID]; hit {
			continue
		}
		if _, hit := forbidden[row.DOI]; row.DOI != "" && hit {
			continue
		}
		if !matchesKeywords(row, keywordFilters) {
			continue
		}
		candidates = append(candidates, candidate{id: row.ID, inDegree: inDegree[row.ID], order: i})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].inDegree != candidates[j].inDegree {
			return candidates[i].inDegree > candidates[j].inDegree
		}
		return candidates[i].order < candidates[j].order
	})

	if len(candidates) > f.batchSize {
		candidates = candidates[:f.batchSize]
	}
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.id)
	}

	f.logger.Debug().
		Int("candidates", len(ids)).
		Int("batch_size", f.batchSize).
		Msg("sampled crawl frontier")
	return ids
}

// forbiddenKeys collects the keys of entries flagged for sampler exclusion.
func forbiddenKeys(view store.ReadView) map[string]struct{} {
	keys := make(map[string]struct{})
	for _, entry := range view.ForbiddenEntries() {
		if entry.Sampler {
			keys[entry.Key] = struct{}{}
		}
	}
	return keys
}

// matchesKeywords reports whether the row passes the keyword filter. Rows
// without a title pass unconditionally.
func matchesKeywords(row domain.Paper, keywords []string) bool {
	if len(keywords) == 0 || row.Title == "" {
		return true
	}
	title := strings.ToLower(row.Title)
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if strings.Contains(title, kw) {
			return true
		}
		for _, concept := range row.Concepts {
			if strings.Contains(strings.ToLower(concept), kw) {
				return true
			}
		}
	}
	return false
}
