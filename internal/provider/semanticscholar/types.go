// Package semanticscholar implements the Semantic Scholar paper provider on
// top of the Graph API. A single paper request carries the nested citation
// and reference lists, so one retrieval needs one HTTP call.
//
// API documentation: https://api.semanticscholar.org/api-docs/
package semanticscholar

// PaperResponse is the subset of a Graph API paper the crawler consumes.
type PaperResponse struct {
	// PaperID is the Semantic Scholar unique identifier.
	PaperID string `json:"paperId"`

	Title string `json:"title"`

	Abstract string `json:"abstract"`

	Year int `json:"year"`

	// Venue is the publication venue (conference or journal name).
	Venue string `json:"venue"`

	// URL is the Semantic Scholar page for the paper.
	URL string `json:"url"`

	// FieldsOfStudy holds coarse classification tags.
	FieldsOfStudy []string `json:"fieldsOfStudy"`

	// ExternalIDs contains external identifiers (DOI, ArXiv, etc.).
	ExternalIDs *ExternalIDs `json:"externalIds,omitempty"`

	Authors []Author `json:"authors"`

	// Citations lists papers citing this one.
	Citations []PaperStub `json:"citations"`

	// References lists papers this one cites.
	References []PaperStub `json:"references"`
}

// PaperStub is the nested shape carried in citation and reference lists.
type PaperStub struct {
	PaperID string `json:"paperId"`
	Title   string `json:"title"`
	Year    int    `json:"year"`
	Venue   string `json:"venue"`

	ExternalIDs *ExternalIDs `json:"externalIds,omitempty"`

	Authors []Author `json:"authors"`
}

// ExternalIDs contains external identifiers for a paper.
type ExternalIDs struct {
	DOI   string `json:"DOI,omitempty"`
	ArXiv string `json:"ArXiv,omitempty"`
}

// Author represents a paper author in the Graph API.
type Author struct {
	AuthorID string `json:"authorId,omitempty"`
	Name     string `json:"name"`
}

// ErrorResponse represents an error payload from the Graph API.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}
