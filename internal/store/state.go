package store

import (
	"github.com/citescope/citation-crawler/internal/domain"
)

// State is the serializable image of a RecordStore, used by snapshot writers
// and for resuming a crawl from a saved snapshot.
type State struct {
	Papers           []domain.Paper           `json:"papers"`
	Authors          []domain.Author          `json:"authors"`
	PaperAuthorLinks []domain.PaperAuthorLink `json:"paper_author_links"`
	CitationEdges    []domain.Edge            `json:"citation_edges"`
	ReferenceEdges   []domain.Edge            `json:"reference_edges"`
	Abstracts        []domain.Abstract        `json:"abstracts"`
	Forbidden        []domain.ForbiddenEntry  `json:"forbidden"`
	AuthorFeatures   []domain.AuthorFeature   `json:"author_features"`
	VenueFeatures    []domain.VenueFeature    `json:"venue_features"`
}

// Export captures the full store contents as a State.
func (s *RecordStore) Export() State {
	return State{
		Papers:           s.Papers(),
		Authors:          s.Authors(),
		PaperAuthorLinks: s.PaperAuthorLinks(),
		CitationEdges:    s.CitationEdges(),
		ReferenceEdges:   s.ReferenceEdges(),
		Abstracts:        s.Abstracts(),
		Forbidden:        s.ForbiddenEntries(),
		AuthorFeatures:   s.AuthorFeatures(),
		VenueFeatures:    s.VenueFeatures(),
	}
}

// Restore replaces the store contents with the given state. Row order in the
// state becomes the new insertion order.
func (s *RecordStore) Restore(state State) {
	s.papers = make(map[string]*domain.Paper, len(state.Papers))
	s.paperOrder = make([]string, 0, len(state.Papers))
	for i := range state.Papers {
		row := state.Papers[i]
		if _, dup := s.papers[row.ID]; dup {
			continue
		}
		s.papers[row.ID] = &row
		s.paperOrder = append(s.paperOrder, row.ID)
	}

	s.authors = make(map[string]*domain.Author, len(state.Authors))
	s.authorOrder = make([]string, 0, len(state.Authors))
	for i := range state.Authors {
		row := state.Authors[i]
		if _, dup := s.authors[row.ID]; dup {
			continue
		}
		s.authors[row.ID] = &row
		s.authorOrder = append(s.authorOrder, row.ID)
	}

	s.paperAuthors = make(map[domain.PaperAuthorLink]struct{}, len(state.PaperAuthorLinks))
	s.paperAuthorList = s.paperAuthorList[:0]
	for _, link := range state.PaperAuthorLinks {
		if _, dup := s.paperAuthors[link]; dup {
			continue
		}
		s.paperAuthors[link] = struct{}{}
		s.paperAuthorList = append(s.paperAuthorList, link)
	}

	s.citations = make(map[domain.Edge]struct{}, len(state.CitationEdges))
	s.citationList = s.citationList[:0]
	for _, e := range state.CitationEdges {
		s.addEdge(&s.citations, &s.citationList, e)
	}
	s.references = make(map[domain.Edge]struct{}, len(state.ReferenceEdges))
	s.referenceList = s.referenceList[:0]
	for _, e := range state.ReferenceEdges {
		s.addEdge(&s.references, &s.referenceList, e)
	}

	s.abstracts = make(map[string]string, len(state.Abstracts))
	for _, a := range state.Abstracts {
		s.abstracts[a.PaperID] = a.Text
	}

	s.forbidden = append([]domain.ForbiddenEntry(nil), state.Forbidden...)
	s.forbiddenKeys = make(map[string]struct{}, len(state.Forbidden))
	for _, entry := range state.Forbidden {
		s.forbiddenKeys[entry.Key] = struct{}{}
	}

	s.authorFeatures = make(map[string]*domain.AuthorFeature, len(state.AuthorFeatures))
	for i := range state.AuthorFeatures {
		feat := state.AuthorFeatures[i]
		s.authorFeatures[feat.AuthorID] = &feat
	}
	s.venueFeatures = make(map[string]*domain.VenueFeature, len(state.VenueFeatures))
	for i := range state.VenueFeatures {
		feat := state.VenueFeatures[i]
		s.venueFeatures[feat.Venue] = &feat
	}

	s.logger.Info().
		Int("papers", len(s.papers)).
		Int("edges", len(s.citationList)+len(s.referenceList)).
		Msg("store restored from snapshot")
}
