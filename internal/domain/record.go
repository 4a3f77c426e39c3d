package domain

// AuthorRef is the author shape carried inside a provider record.
type AuthorRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProviderPaperRecord is the typed record a paper provider returns for one
// retrieved paper. Nested citations and references carry only the fields
// needed to become stub paper rows; providers do not populate their nested
// citation lists, which keeps retrieval depth bounded.
type ProviderPaperRecord struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Abstract string   `json:"abstract,omitempty"`
	Venue    string   `json:"venue,omitempty"`
	Year     int      `json:"year,omitempty"`
	DOI      string   `json:"doi,omitempty"`
	URL      string   `json:"url,omitempty"`
	Concepts []string `json:"concepts,omitempty"`

	Authors []AuthorRef `json:"authors,omitempty"`

	// Citations lists papers that cite this record.
	Citations []ProviderPaperRecord `json:"citations,omitempty"`

	// References lists papers this record cites.
	References []ProviderPaperRecord `json:"references,omitempty"`
}

// InconsistentPair records a retrieval where the provider returned a
// different canonical ID than the one requested. Common with DOI/ID
// normalization mismatches; the returned record is still merged under its
// actual ID.
type InconsistentPair struct {
	RequestedID string `json:"requested_id"`
	ReturnedID  string `json:"returned_id"`
}
