// Package validate implements the diagnostic checks run around each merge:
// per-record validation, retrieval cross-checks, and store consistency
// checks. Every check is diagnostic only; findings are logged and counted
// but never raised as errors.
package validate

import (
	"github.com/rs/zerolog"

	"github.com/citescope/citation-crawler/internal/domain"
	"github.com/citescope/citation-crawler/internal/store"
)

// Validator runs merge-time and post-merge diagnostics.
type Validator struct {
	logger zerolog.Logger
}

// New creates a Validator.
func New(logger zerolog.Logger) *Validator {
	return &Validator{
		logger: logger.With().Str("component", "validator").Logger(),
	}
}

// FilterValid splits records into mergeable ones and a dropped count.
// A record is mergeable when it carries both an ID and a title; anything
// else is dropped with a log line and never propagated as an error.
func (v *Validator) FilterValid(records []domain.ProviderPaperRecord) ([]domain.ProviderPaperRecord, int) {
	valid := make([]domain.ProviderPaperRecord, 0, len(records))
	dropped := 0
	for i := range records {
		rec := &records[i]
		if rec.ID == "" || rec.Title == "" {
			dropped++
			v.logger.Warn().
				Str("paper_id", rec.ID).
				Str("doi", rec.DOI).
				Msg("dropping provider record with missing id or title")
			continue
		}
		valid = append(valid, *rec)
	}
	return valid, dropped
}

// CrossCheckRetrieval reconciles what was requested against what came back.
// Silent drops are requested IDs that appear in neither the retrieved set,
// the provider's failure list, nor its inconsistent-pair list. They are
// logged for operator investigation, never auto-corrected.
func (v *Validator) CrossCheckRetrieval(
	requested []string,
	retrieved []domain.ProviderPaperRecord,
	failed []string,
	inconsistent []domain.InconsistentPair,
) []string {
	accounted := make(map[string]struct{}, len(retrieved)+len(failed)+len(inconsistent))
	for i := range retrieved {
		accounted[retrieved[i].ID] = struct{}{}
	}
	for _, id := range failed {
		accounted[id] = struct{}{}
	}
	for _, pair := range inconsistent {
		accounted[pair.RequestedID] = struct{}{}
		v.logger.Warn().
			Str("requested_id", pair.RequestedID).
			Str("returned_id", pair.ReturnedID).
			Msg("provider returned different canonical id than requested")
	}

	var silent []string
	for _, id := range requested {
		if _, ok := accounted[id]; !ok {
			silent = append(silent, id)
		}
	}
	if len(silent) > 0 {
		v.logger.Warn().
			Strs("paper_ids", silent).
			Int("requested", len(requested)).
			Int("retrieved", len(retrieved)).
			Int("failed", len(failed)).
			Msg("silent drops detected in retrieval")
	}
	return silent
}

// CheckProcessedConsistency verifies that every selected paper ended up
// either processed or explicitly failed. Returns the IDs of selected rows
// still unprocessed after the tick's merges; these indicate a merge or
// provider bookkeeping bug, not a normal condition.
func (v *Validator) CheckProcessedConsistency(view store.ReadView, failedIDs []string) []string {
	failed := make(map[string]struct{}, len(failedIDs))
	for _, id := range failedIDs {
		failed[id] = struct{}{}
	}

	var violations []string
	for _, row := range view.Papers() {
		if !row.Selected || row.Processed {
			continue
		}
		if _, ok := failed[row.ID]; ok {
			continue
		}
		violations = append(violations, row.ID)
	}
	if len(violations) > 0 {
		v.logger.Warn().
			Strs("paper_ids", violations).
			Msg("selected papers left unprocessed without a recorded failure")
	}
	return violations
}

// CheckSamplerConsistency verifies the sampler only returned IDs that exist
// in the store as unprocessed rows. Returns the offending IDs.
func (v *Validator) CheckSamplerConsistency(view store.ReadView, sampled []string) []string {
	var violations []string
	for _, id := range sampled {
		row, ok := view.Paper(id)
		if !ok {
			violations = append(violations, id)
			v.logger.Warn().Str("paper_id", id).Msg("sampler returned unknown paper id")
			continue
		}
		if row.Processed {
			violations = append(violations, id)
			v.logger.Warn().Str("paper_id", id).Msg("sampler returned already-processed paper")
		}
	}
	return violations
}
