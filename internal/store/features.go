package store

import (
	"github.com/citescope/citation-crawler/internal/domain"
)

// citingEdge is a citation-graph edge in canonical citing -> cited direction.
type citingEdge struct {
	Citing string
	Cited  string
}

// RecomputeDerivedFeatures rebuilds the author and venue aggregate tables
// from the current papers, links, and edges. The previous aggregates are
// discarded; the recompute is always from scratch, never incremental.
func (s *RecordStore) RecomputeDerivedFeatures() {
	edges := s.combinedEdges()
	s.recomputeAuthorFeatures(edges)
	s.recomputeVenueFeatures(edges)

	s.logger.Debug().
		Int("edges", len(edges)).
		Int("author_features", len(s.authorFeatures)).
		Int("venue_features", len(s.venueFeatures)).
		Msg("derived features recomputed")
}

// combinedEdges merges the citation and reference tables into one
// deduplicated set of citing -> cited edges. A citation row (From, To) means
// From is cited by To; a reference row (From, To) means From cites To.
func (s *RecordStore) combinedEdges() []citingEdge {
	seen := make(map[citingEdge]struct{}, len(s.citationList)+len(s.referenceList))
	edges := make([]citingEdge, 0, len(s.citationList)+len(s.referenceList))

	add := func(e citingEdge) {
		if _, dup := seen[e]; dup {
			return
		}
		seen[e] = struct{}{}
		edges = append(edges, e)
	}

	for _, e := range s.citationList {
		add(citingEdge{Citing: e.To, Cited: e.From})
	}
	for _, e := range s.referenceList {
		add(citingEdge{Citing: e.From, Cited: e.To})
	}
	return edges
}

// recomputeAuthorFeatures rebuilds per-author paper counts and citation
// totals. An author's citation total is the sum of incoming citations over
// every paper linked to them.
func (s *RecordStore) recomputeAuthorFeatures(edges []citingEdge) {
	inDegree := make(map[string]int, len(s.papers))
	for _, e := range edges {
		inDegree[e.Cited]++
	}

	s.authorFeatures = make(map[string]*domain.AuthorFeature, len(s.authors))
	for _, link := range s.paperAuthorList {
		feat, ok := s.authorFeatures[link.AuthorID]
		if !ok {
			feat = &domain.AuthorFeature{AuthorID: link.AuthorID}
			if a, known := s.authors[link.AuthorID]; known {
				feat.Name = a.Name
			}
			s.authorFeatures[link.AuthorID] = feat
		}
		feat.PaperCount++
		feat.CitationTotal += inDegree[link.PaperID]
	}
}

// recomputeVenueFeatures rebuilds per-venue paper counts and the
// self/in/out citation split. Papers without a venue contribute nothing.
func (s *RecordStore) recomputeVenueFeatures(edges []citingEdge) {
	s.venueFeatures = make(map[string]*domain.VenueFeature)

	venueOf := func(paperID string) string {
		if row, ok := s.papers[paperID]; ok {
			return row.Venue
		}
		return ""
	}
	feature := func(venue string) *domain.VenueFeature {
		feat, ok := s.venueFeatures[venue]
		if !ok {
			feat = &domain.VenueFeature{Venue: venue}
			s.venueFeatures[venue] = feat
		}
		return feat
	}

	for _, id := range s.paperOrder {
		if v := s.papers[id].Venue; v != "" {
			feature(v).Papers++
		}
	}

	for _, e := range edges {
		citing := venueOf(e.Citing)
		cited := venueOf(e.Cited)
		switch {
		case citing == "" && cited == "":
			// Neither endpoint is attributed; nothing to count.
		case citing == cited:
			feature(citing).SelfCitations++
		default:
			if citing != "" {
				feature(citing).CitationsOut++
			}
			if cited != "" {
				feature(cited).CitationsIn++
			}
		}
	}
}

// CitationInDegree returns the number of distinct papers citing each paper,
// computed over the combined citation and reference tables. Papers nobody
// cites are absent from the map.
func (s *RecordStore) CitationInDegree() map[string]int {
	inDegree := make(map[string]int)
	for _, e := range s.combinedEdges() {
		inDegree[e.Cited]++
	}
	return inDegree
}
