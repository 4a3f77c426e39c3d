package store

import (
	"github.com/citescope/citation-crawler/internal/domain"
)

// ReadView is the read-only store surface consumed by samplers, reporting,
// and the control API. All accessors return copies in insertion order;
// mutating a returned slice never touches the store.
type ReadView interface {
	Papers() []domain.Paper
	Paper(id string) (domain.Paper, bool)
	Authors() []domain.Author
	PaperAuthorLinks() []domain.PaperAuthorLink
	CitationEdges() []domain.Edge
	ReferenceEdges() []domain.Edge
	Abstracts() []domain.Abstract
	ForbiddenEntries() []domain.ForbiddenEntry
	AuthorFeatures() []domain.AuthorFeature
	VenueFeatures() []domain.VenueFeature
	CitationInDegree() map[string]int
	DOIs() []string
	ShapeSummary() map[string]Shape
	ProcessedCounts() (processed, stubs int)
}

// Shape describes one table's dimensions for progress reporting.
type Shape struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Column counts for ShapeSummary. These track the exported field counts of
// the corresponding row types.
const (
	paperCols     = 12
	authorCols    = 2
	linkCols      = 2
	edgeCols      = 2
	abstractCols  = 2
	forbiddenCols = 4
	authorFtCols  = 4
	venueFtCols   = 5
)

// Papers returns all paper rows in insertion order.
func (s *RecordStore) Papers() []domain.Paper {
	out := make([]domain.Paper, 0, len(s.paperOrder))
	for _, id := range s.paperOrder {
		out = append(out, *s.papers[id])
	}
	return out
}

// Paper returns the row for id, if present.
func (s *RecordStore) Paper(id string) (domain.Paper, bool) {
	row, ok := s.papers[id]
	if !ok {
		return domain.Paper{}, false
	}
	return *row, true
}

// Authors returns all author rows in insertion order.
func (s *RecordStore) Authors() []domain.Author {
	out := make([]domain.Author, 0, len(s.authorOrder))
	for _, id := range s.authorOrder {
		out = append(out, *s.authors[id])
	}
	return out
}

// PaperAuthorLinks returns all paper-author links in insertion order.
func (s *RecordStore) PaperAuthorLinks() []domain.PaperAuthorLink {
	return append([]domain.PaperAuthorLink(nil), s.paperAuthorList...)
}

// CitationEdges returns the citation table: (paper, paper it is cited by).
func (s *RecordStore) CitationEdges() []domain.Edge {
	return append([]domain.Edge(nil), s.citationList...)
}

// ReferenceEdges returns the reference table: (paper, paper it cites).
func (s *RecordStore) ReferenceEdges() []domain.Edge {
	return append([]domain.Edge(nil), s.referenceList...)
}

// Abstracts returns all abstract rows in paper insertion order.
func (s *RecordStore) Abstracts() []domain.Abstract {
	out := make([]domain.Abstract, 0, len(s.abstracts))
	for _, id := range s.paperOrder {
		if text, ok := s.abstracts[id]; ok {
			out = append(out, domain.Abstract{PaperID: id, Text: text})
		}
	}
	return out
}

// ForbiddenEntries returns all exclusion entries in append order.
func (s *RecordStore) ForbiddenEntries() []domain.ForbiddenEntry {
	return append([]domain.ForbiddenEntry(nil), s.forbidden...)
}

// AuthorFeatures returns the derived author aggregates in author insertion
// order. Empty until the first RecomputeDerivedFeatures call.
func (s *RecordStore) AuthorFeatures() []domain.AuthorFeature {
	out := make([]domain.AuthorFeature, 0, len(s.authorFeatures))
	for _, id := range s.authorOrder {
		if feat, ok := s.authorFeatures[id]; ok {
			out = append(out, *feat)
		}
	}
	return out
}

// VenueFeatures returns the derived venue aggregates, ordered by first paper
// sighting of each venue. Empty until the first RecomputeDerivedFeatures call.
func (s *RecordStore) VenueFeatures() []domain.VenueFeature {
	seen := make(map[string]struct{}, len(s.venueFeatures))
	out := make([]domain.VenueFeature, 0, len(s.venueFeatures))
	for _, id := range s.paperOrder {
		v := s.papers[id].Venue
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		if feat, ok := s.venueFeatures[v]; ok {
			out = append(out, *feat)
		}
	}
	return out
}

// DOIs returns the normalized DOIs of every paper that has one, in paper
// insertion order with duplicates removed.
func (s *RecordStore) DOIs() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, id := range s.paperOrder {
		doi := s.papers[id].DOI
		if doi == "" {
			continue
		}
		if _, dup := seen[doi]; dup {
			continue
		}
		seen[doi] = struct{}{}
		out = append(out, doi)
	}
	return out
}

// ShapeSummary reports the row and column counts of every table, keyed by
// table name.
func (s *RecordStore) ShapeSummary() map[string]Shape {
	return map[string]Shape{
		"papers":          {Rows: len(s.papers), Cols: paperCols},
		"authors":         {Rows: len(s.authors), Cols: authorCols},
		"paper_authors":   {Rows: len(s.paperAuthorList), Cols: linkCols},
		"citations":       {Rows: len(s.citationList), Cols: edgeCols},
		"references":      {Rows: len(s.referenceList), Cols: edgeCols},
		"abstracts":       {Rows: len(s.abstracts), Cols: abstractCols},
		"forbidden":       {Rows: len(s.forbidden), Cols: forbiddenCols},
		"author_features": {Rows: len(s.authorFeatures), Cols: authorFtCols},
		"venue_features":  {Rows: len(s.venueFeatures), Cols: venueFtCols},
	}
}

// PaperCount returns the number of paper rows. The crawl size cap is checked
// against this value.
func (s *RecordStore) PaperCount() int {
	return len(s.papers)
}

// ProcessedCounts returns how many paper rows are fully processed and how
// many remain stubs.
func (s *RecordStore) ProcessedCounts() (processed, stubs int) {
	for _, row := range s.papers {
		if row.Processed {
			processed++
		} else {
			stubs++
		}
	}
	return processed, stubs
}

// PruneOrphans removes stub papers that participate in no edge and no
// author link. Seeds, key-author picks, and processed rows are always kept.
// Dependent abstract rows are removed with their paper. Returns the number
// of rows removed. Derived features are stale afterwards until the next
// recompute.
func (s *RecordStore) PruneOrphans() int {
	referenced := make(map[string]struct{}, len(s.papers))
	for _, e := range s.citationList {
		referenced[e.From] = struct{}{}
		referenced[e.To] = struct{}{}
	}
	for _, e := range s.referenceList {
		referenced[e.From] = struct{}{}
		referenced[e.To] = struct{}{}
	}
	for _, link := range s.paperAuthorList {
		referenced[link.PaperID] = struct{}{}
	}

	kept := s.paperOrder[:0]
	removed := 0
	for _, id := range s.paperOrder {
		row := s.papers[id]
		_, ref := referenced[id]
		if ref || row.Processed || row.IsSeed || row.IsKeyAuthorPick {
			kept = append(kept, id)
			continue
		}
		delete(s.papers, id)
		delete(s.abstracts, id)
		removed++
	}
	s.paperOrder = kept

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("pruned orphan stub papers")
	}
	return removed
}
