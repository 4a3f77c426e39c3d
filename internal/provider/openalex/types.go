package openalex

// ListResponse is the envelope of OpenAlex list endpoints.
type ListResponse struct {
	Meta    Meta   `json:"meta"`
	Results []Work `json:"results"`
}

// Meta carries list pagination metadata.
type Meta struct {
	Count   int `json:"count"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// Work is the subset of an OpenAlex work the crawler consumes.
type Work struct {
	// ID is the full OpenAlex URL (https://openalex.org/W...).
	ID string `json:"id"`

	// DisplayName is usually the cleaner of the two title fields.
	DisplayName string `json:"display_name"`
	Title       string `json:"title"`

	// DOI is the full DOI URL when present.
	DOI string `json:"doi"`

	PublicationYear int `json:"publication_year"`

	PrimaryLocation *Location `json:"primary_location,omitempty"`

	Authorships []Authorship `json:"authorships,omitempty"`

	Concepts []Concept `json:"concepts,omitempty"`

	// AbstractInvertedIndex maps words to their positions in the abstract.
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index,omitempty"`

	// ReferencedWorks lists the full OpenAlex URLs of works this one cites.
	ReferencedWorks []string `json:"referenced_works,omitempty"`

	CitedByCount int `json:"cited_by_count"`

	IDs WorkIDs `json:"ids"`
}

// WorkIDs holds the alternative identifiers of a work.
type WorkIDs struct {
	OpenAlex string `json:"openalex,omitempty"`
	DOI      string `json:"doi,omitempty"`
}

// Location describes where a work was published or hosted.
type Location struct {
	Source         *Source `json:"source,omitempty"`
	LandingPageURL string  `json:"landing_page_url,omitempty"`
}

// Source is a journal, conference, or repository.
type Source struct {
	DisplayName string `json:"display_name,omitempty"`
}

// Authorship links a work to one author.
type Authorship struct {
	Author AuthorRef `json:"author"`
}

// AuthorRef identifies an author within an authorship.
type AuthorRef struct {
	// ID is the full OpenAlex author URL.
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Concept is one classification tag on a work.
type Concept struct {
	DisplayName string  `json:"display_name,omitempty"`
	Score       float64 `json:"score,omitempty"`
}
