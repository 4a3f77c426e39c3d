// Package store implements the incremental relational record store backing a
// crawl: papers, authors, paper-author links, citation and reference edges,
// abstracts, and exclusion entries, together with the derived aggregates
// recomputed from them.
//
// A RecordStore is exclusively owned by one crawl at a time and is not safe
// for concurrent use. Merging the same provider record twice is idempotent
// apart from last-write-wins field updates: no duplicate rows, no duplicate
// edges.
package store

import (
	"github.com/rs/zerolog"

	"github.com/citescope/citation-crawler/internal/domain"
)

// DefaultMinAbstractLength is the minimum abstract length, in bytes, below
// which abstracts are not stored.
const DefaultMinAbstractLength = 30

// Config holds RecordStore configuration.
type Config struct {
	// MinAbstractLength is the minimum length for stored abstracts.
	// Zero selects DefaultMinAbstractLength.
	MinAbstractLength int

	// ForbidRetractedInSampler sets the sampler flag on exclusion entries
	// produced for retracted papers.
	ForbidRetractedInSampler bool

	// ForbidRetractedInReporting sets the reporting flag on exclusion
	// entries produced for retracted papers.
	ForbidRetractedInReporting bool
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.MinAbstractLength == 0 {
		c.MinAbstractLength = DefaultMinAbstractLength
	}
}

// RecordStore owns all crawl tables. Paper rows are created at most once per
// ID and only ever updated, never deleted, except by an explicit
// PruneOrphans pass.
type RecordStore struct {
	cfg    Config
	logger zerolog.Logger

	papers     map[string]*domain.Paper
	paperOrder []string

	authors     map[string]*domain.Author
	authorOrder []string

	paperAuthors    map[domain.PaperAuthorLink]struct{}
	paperAuthorList []domain.PaperAuthorLink

	// citations holds edges (paper, paper it is cited by);
	// references holds edges (paper, paper it cites).
	citations     map[domain.Edge]struct{}
	citationList  []domain.Edge
	references    map[domain.Edge]struct{}
	referenceList []domain.Edge

	abstracts map[string]string

	forbidden     []domain.ForbiddenEntry
	forbiddenKeys map[string]struct{}

	authorFeatures map[string]*domain.AuthorFeature
	venueFeatures  map[string]*domain.VenueFeature
}

// New creates an empty RecordStore.
func New(cfg Config, logger zerolog.Logger) *RecordStore {
	cfg.applyDefaults()
	return &RecordStore{
		cfg:            cfg,
		logger:         logger.With().Str("component", "record_store").Logger(),
		papers:         make(map[string]*domain.Paper),
		authors:        make(map[string]*domain.Author),
		paperAuthors:   make(map[domain.PaperAuthorLink]struct{}),
		citations:      make(map[domain.Edge]struct{}),
		references:     make(map[domain.Edge]struct{}),
		abstracts:      make(map[string]string),
		forbiddenKeys:  make(map[string]struct{}),
		authorFeatures: make(map[string]*domain.AuthorFeature),
		venueFeatures:  make(map[string]*domain.VenueFeature),
	}
}

// MergePapers inserts or updates one paper row per record. Records missing an
// ID or title are skipped with a log line. On duplicate IDs within the same
// call the later record wins. Existing rows are updated field by field with
// non-empty incoming values; a processed merge upgrades a stub row to
// processed, while an unprocessed merge never downgrades one.
func (s *RecordStore) MergePapers(records []domain.ProviderPaperRecord, processed bool) {
	for i := range records {
		rec := &records[i]
		if rec.ID == "" || rec.Title == "" {
			s.logger.Warn().
				Str("paper_id", rec.ID).
				Bool("processed", processed).
				Msg("skipping paper record with missing id or title")
			continue
		}
		s.upsertPaper(rec, processed)
	}
}

// upsertPaper inserts a new row or updates the existing row for rec.ID.
func (s *RecordStore) upsertPaper(rec *domain.ProviderPaperRecord, processed bool) {
	row, ok := s.papers[rec.ID]
	if !ok {
		row = &domain.Paper{ID: rec.ID}
		s.papers[rec.ID] = row
		s.paperOrder = append(s.paperOrder, rec.ID)
	}

	if rec.Title != "" {
		row.Title = rec.Title
	}
	if rec.DOI != "" {
		row.DOI = domain.NormalizeDOI(rec.DOI)
	}
	if rec.Venue != "" {
		row.Venue = rec.Venue
	}
	if rec.Year != 0 {
		row.Year = rec.Year
	}
	if rec.URL != "" {
		row.URL = rec.URL
	}
	if len(rec.Concepts) > 0 {
		row.Concepts = append([]string(nil), rec.Concepts...)
	}
	// Upgrade only; downgrades go through MarkFailed.
	if processed {
		row.Processed = true
	}
}

// MergeAuthorsAndLinks derives (paper, author) pairs from each record's
// author list and from the authors of every nested citation and reference,
// so stub papers get their authors recorded too. Pairs are deduplicated
// silently.
func (s *RecordStore) MergeAuthorsAndLinks(records []domain.ProviderPaperRecord) {
	for i := range records {
		rec := &records[i]
		s.mergeRecordAuthors(rec)
		for j := range rec.Citations {
			s.mergeRecordAuthors(&rec.Citations[j])
		}
		for j := range rec.References {
			s.mergeRecordAuthors(&rec.References[j])
		}
	}
}

// mergeRecordAuthors inserts author rows and paper-author links for one record.
func (s *RecordStore) mergeRecordAuthors(rec *domain.ProviderPaperRecord) {
	if rec.ID == "" {
		return
	}
	for _, a := range rec.Authors {
		if a.ID == "" {
			continue
		}
		row, ok := s.authors[a.ID]
		if !ok {
			row = &domain.Author{ID: a.ID}
			s.authors[a.ID] = row
			s.authorOrder = append(s.authorOrder, a.ID)
		}
		if a.Name != "" {
			row.Name = a.Name
		}

		link := domain.PaperAuthorLink{PaperID: rec.ID, AuthorID: a.ID}
		if _, dup := s.paperAuthors[link]; !dup {
			s.paperAuthors[link] = struct{}{}
			s.paperAuthorList = append(s.paperAuthorList, link)
		}
	}
}

// MergeEdges inserts one citation edge per nested citation and one reference
// edge per nested reference. The stub paper for each endpoint is merged into
// the paper table with processed=false, so every edge's endpoints exist as
// rows after the call returns.
func (s *RecordStore) MergeEdges(records []domain.ProviderPaperRecord) {
	for i := range records {
		rec := &records[i]
		if rec.ID == "" {
			continue
		}
		// The parent is normally present from MergePapers of the same
		// batch; a stub upsert keeps the endpoint invariant regardless.
		if _, ok := s.papers[rec.ID]; !ok {
			s.upsertStub(rec)
		}

		for j := range rec.Citations {
			cit := &rec.Citations[j]
			if cit.ID == "" {
				continue
			}
			s.mergeStub(cit)
			s.addEdge(&s.citations, &s.citationList, domain.Edge{From: rec.ID, To: cit.ID})
		}
		for j := range rec.References {
			ref := &rec.References[j]
			if ref.ID == "" {
				continue
			}
			s.mergeStub(ref)
			s.addEdge(&s.references, &s.referenceList, domain.Edge{From: rec.ID, To: ref.ID})
		}
	}
}

// mergeStub merges one nested record as a stub paper row. Stubs missing a
// title still get a row so the edge-endpoint invariant holds.
func (s *RecordStore) mergeStub(rec *domain.ProviderPaperRecord) {
	if rec.Title != "" {
		s.MergePapers([]domain.ProviderPaperRecord{*rec}, false)
		return
	}
	s.upsertStub(rec)
}

// upsertStub inserts a bare stub row for rec.ID if absent.
func (s *RecordStore) upsertStub(rec *domain.ProviderPaperRecord) {
	if _, ok := s.papers[rec.ID]; ok {
		return
	}
	s.upsertPaper(rec, false)
}

// addEdge inserts e into the given edge set if not already present.
func (s *RecordStore) addEdge(set *map[domain.Edge]struct{}, list *[]domain.Edge, e domain.Edge) {
	if _, dup := (*set)[e]; dup {
		return
	}
	(*set)[e] = struct{}{}
	*list = append(*list, e)
}

// MergeAbstracts stores (id, abstract) rows for records whose abstract is
// present, non-empty, and at least the configured minimum length.
func (s *RecordStore) MergeAbstracts(records []domain.ProviderPaperRecord) {
	for i := range records {
		rec := &records[i]
		if rec.ID == "" || rec.Abstract == "" {
			continue
		}
		if len(rec.Abstract) < s.cfg.MinAbstractLength {
			s.logger.Debug().
				Str("paper_id", rec.ID).
				Int("length", len(rec.Abstract)).
				Msg("abstract below minimum length, not stored")
			continue
		}
		s.abstracts[rec.ID] = rec.Abstract
	}
}

// SetSeedFlags marks the given rows is_seed=true and selected=true.
// IDs without a row are logged and skipped; this is expected when a seed has
// not yet been retrieved.
func (s *RecordStore) SetSeedFlags(paperIDs []string) {
	for _, id := range paperIDs {
		row, ok := s.papers[id]
		if !ok {
			s.logger.Info().Str("paper_id", id).Msg("seed flag requested for unknown paper")
			continue
		}
		row.IsSeed = true
		row.Selected = true
	}
}

// SetKeyAuthorFlags marks the given rows is_key_author_pick=true and
// selected=true. IDs without a row are logged and skipped.
func (s *RecordStore) SetKeyAuthorFlags(paperIDs []string) {
	for _, id := range paperIDs {
		row, ok := s.papers[id]
		if !ok {
			s.logger.Info().Str("paper_id", id).Msg("key-author flag requested for unknown paper")
			continue
		}
		row.IsKeyAuthorPick = true
		row.Selected = true
	}
}

// SetSelectedFlags marks the given rows selected=true, recording the
// sampler's picks for the current tick. Unknown IDs are skipped silently;
// the sampler only emits IDs it read from the store.
func (s *RecordStore) SetSelectedFlags(paperIDs []string) {
	for _, id := range paperIDs {
		if row, ok := s.papers[id]; ok {
			row.Selected = true
		}
	}
}

// ApplyRetractionFlags marks papers whose DOI appears in retractedDOIs as
// retracted and appends one exclusion entry per newly retracted DOI. The
// returned slices list the newly retracted rows and the new entries; entries
// are informational for callers, the store itself never filters reads by
// them. No rows are removed.
func (s *RecordStore) ApplyRetractionFlags(retractedDOIs []string) ([]domain.Paper, []domain.ForbiddenEntry) {
	retractedSet := make(map[string]struct{}, len(retractedDOIs))
	for _, doi := range retractedDOIs {
		if n := domain.NormalizeDOI(doi); n != "" {
			retractedSet[n] = struct{}{}
		}
	}

	var retractedRows []domain.Paper
	var newEntries []domain.ForbiddenEntry

	for _, id := range s.paperOrder {
		row := s.papers[id]
		if row.DOI == "" {
			continue
		}
		if _, hit := retractedSet[row.DOI]; !hit {
			continue
		}
		if !row.Retracted {
			row.Retracted = true
			retractedRows = append(retractedRows, *row)
			s.logger.Warn().
				Str("paper_id", row.ID).
				Str("doi", row.DOI).
				Msg("paper flagged as retracted")
		}
		if _, dup := s.forbiddenKeys[row.DOI]; dup {
			continue
		}
		entry := domain.ForbiddenEntry{
			Key:       row.DOI,
			Reason:    "retracted",
			Sampler:   s.cfg.ForbidRetractedInSampler,
			Reporting: s.cfg.ForbidRetractedInReporting,
		}
		s.forbidden = append(s.forbidden, entry)
		s.forbiddenKeys[row.DOI] = struct{}{}
		newEntries = append(newEntries, entry)
	}

	return retractedRows, newEntries
}

// MarkFailed downgrades rows whose retrieval failed to processed=false.
// Unknown IDs are logged and skipped. This never upgrades a row.
func (s *RecordStore) MarkFailed(paperIDs []string) {
	for _, id := range paperIDs {
		row, ok := s.papers[id]
		if !ok {
			s.logger.Info().Str("paper_id", id).Msg("failure recorded for unknown paper")
			continue
		}
		row.Processed = false
	}
}
