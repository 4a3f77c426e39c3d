// Package domain provides the row types and shared vocabulary of the
// citation crawler: papers, authors, citation edges, abstracts, exclusion
// entries, and the derived aggregates recomputed from them.
package domain

import (
	"strings"
)

// doiPrefix is the URL prefix some providers prepend to DOIs.
const doiPrefix = "https://doi.org/"

// NormalizeDOI strips URL and "doi:" prefixes from a DOI and lowercases it.
// Returns an empty string for empty input.
func NormalizeDOI(doi string) string {
	if doi == "" {
		return ""
	}
	doi = strings.TrimSpace(doi)
	doi = strings.TrimPrefix(doi, doiPrefix)
	doi = strings.TrimPrefix(doi, "http://doi.org/")
	doi = strings.TrimPrefix(doi, "doi:")
	return strings.ToLower(strings.TrimSpace(doi))
}

// Paper is one row of the paper table. Rows are created at most once per ID;
// later sightings of the same ID update fields in place.
type Paper struct {
	// ID is the provider-native identifier and the table key.
	ID string

	// DOI is optional and not guaranteed unique across rows; providers
	// occasionally return the same DOI for distinct records.
	DOI string

	Title string
	Venue string
	Year  int
	URL   string

	// Concepts holds provider classification tags. The crawler core treats
	// them as opaque strings.
	Concepts []string

	// Processed reports whether full metadata was retrieved for this row.
	// False means the row is a stub created as a citation/reference endpoint.
	Processed bool

	// IsSeed marks papers supplied as crawl starting points.
	IsSeed bool

	// IsKeyAuthorPick marks papers added via an author-investigation pass.
	IsKeyAuthorPick bool

	// Selected marks papers chosen by the sampler for retrieval this run.
	Selected bool

	// Retracted is false by default and mutated only by retraction flagging.
	Retracted bool
}

// IsStub reports whether the row is a citation/reference stand-in whose full
// metadata has not been fetched.
func (p *Paper) IsStub() bool {
	return !p.Processed
}

// Author is one row of the author table.
type Author struct {
	ID   string
	Name string
}

// PaperAuthorLink associates a paper with one of its authors.
// The link table is a deduplicated set of these pairs.
type PaperAuthorLink struct {
	PaperID  string
	AuthorID string
}

// Edge is a directed citation-graph edge. In the citations table From is
// cited by To; in the references table From cites To.
type Edge struct {
	From string
	To   string
}

// Abstract is one row of the abstract table. Only non-empty abstracts of a
// minimum length are stored.
type Abstract struct {
	PaperID string
	Text    string
}

// ForbiddenEntry marks a paper or DOI as excluded from sampling and/or
// reporting. Entries are append-only; consumers filter at read time and
// check only the flag relevant to them.
type ForbiddenEntry struct {
	// Key is the paper ID or DOI the exclusion applies to.
	Key string

	// Reason describes why the entry exists (e.g. "retracted").
	Reason string

	// Sampler excludes the paper from sampler candidate pools.
	Sampler bool

	// Reporting excludes the paper from analysis and report output.
	Reporting bool
}

// AuthorFeature holds the derived aggregates for one author. These are fully
// recomputed from the current snapshot, never incrementally updated.
type AuthorFeature struct {
	AuthorID      string
	Name          string
	PaperCount    int
	CitationTotal int
}

// VenueFeature holds the derived aggregates for one venue, fully recomputed
// from the current paper/edge snapshot.
type VenueFeature struct {
	Venue string

	// Papers is the number of paper rows attributed to the venue.
	Papers int

	// SelfCitations counts edges whose endpoints both belong to the venue.
	SelfCitations int

	// CitationsIn counts edges from other venues into this one.
	CitationsIn int

	// CitationsOut counts edges from this venue into other venues.
	CitationsOut int
}
