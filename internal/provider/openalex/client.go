// Package openalex implements the OpenAlex paper provider. Each retrieved
// work is fetched directly by ID; its citing works come from a second list
// request filtered by cites:, and its references come from the work's
// referenced_works list.
package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/citescope/citation-crawler/internal/domain"
	"github.com/citescope/citation-crawler/internal/observability"
	"github.com/citescope/citation-crawler/internal/provider"
)

const (
	// DefaultBaseURL is the default OpenAlex API base URL.
	DefaultBaseURL = "https://api.openalex.org"

	// DefaultRateLimit is the default rate limit for requests per second.
	// OpenAlex polite pool (with email) allows higher rates.
	DefaultRateLimit = 10.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 10

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxCitations caps how many citing works are fetched per paper.
	// The OpenAlex per-page maximum is 200.
	DefaultMaxCitations = 50

	// doiPrefix is the URL prefix OpenAlex uses for DOIs.
	doiPrefix = "https://doi.org/"

	// openAlexIDPrefix is the URL prefix for OpenAlex IDs.
	openAlexIDPrefix = "https://openalex.org/"
)

// Config holds configuration for the OpenAlex provider.
type Config struct {
	// BaseURL is the OpenAlex API base URL.
	BaseURL string `mapstructure:"base_url"`

	// Email is the contact email for the polite pool, which grants higher
	// rate limits.
	Email string `mapstructure:"email"`

	// Timeout is the per-request timeout.
	Timeout time.Duration `mapstructure:"timeout"`

	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int `mapstructure:"burst_size"`

	// MaxCitations caps how many citing works are fetched per paper.
	MaxCitations int `mapstructure:"max_citations"`

	// Concurrency bounds the per-batch fan-out.
	Concurrency int `mapstructure:"concurrency"`
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.MaxCitations == 0 {
		c.MaxCitations = DefaultMaxCitations
	}
	if c.MaxCitations > 200 {
		c.MaxCitations = 200
	}
}

// Client retrieves paper records from OpenAlex.
type Client struct {
	config     Config
	httpClient *provider.HTTPClient
	batcher    *provider.Batcher
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// New creates an OpenAlex client. metrics may be nil.
func New(cfg Config, metrics *observability.Metrics, logger zerolog.Logger) *Client {
	cfg.applyDefaults()

	httpClient := provider.NewHTTPClient(provider.HTTPClientConfig{
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		BurstSize: cfg.BurstSize,
		UserAgent: "CiteScope-CitationCrawler/1.0 (mailto:" + cfg.Email + ")",
	})
	return NewWithHTTPClient(cfg, httpClient, metrics, logger)
}

// NewWithHTTPClient creates an OpenAlex client with a custom HTTP client.
// Useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *provider.HTTPClient, metrics *observability.Metrics, logger zerolog.Logger) *Client {
	cfg.applyDefaults()

	return &Client{
		config:     cfg,
		httpClient: httpClient,
		batcher:    provider.NewBatcher("openalex", cfg.Concurrency, logger),
		metrics:    metrics,
		logger:     logger.With().Str("provider", "openalex").Logger(),
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string { return "openalex" }

// Retrieve fetches full records for the given work IDs or DOIs.
func (c *Client) Retrieve(ctx context.Context, ids []string) ([]domain.ProviderPaperRecord, error) {
	return c.batcher.Retrieve(ctx, ids, c.fetchOne)
}

// FailedIDs lists the per-ID failures of the most recent Retrieve call.
func (c *Client) FailedIDs() []string { return c.batcher.FailedIDs() }

// InconsistentPairs lists ID mismatches of the most recent Retrieve call.
func (c *Client) InconsistentPairs() []domain.InconsistentPair { return c.batcher.InconsistentPairs() }

// fetchOne retrieves one work plus its citing works.
func (c *Client) fetchOne(ctx context.Context, id string) (domain.ProviderPaperRecord, error) {
	work, err := c.getWork(ctx, id)
	if err != nil {
		return domain.ProviderPaperRecord{}, err
	}
	rec := workToRecord(work)

	citing, err := c.getCitingWorks(ctx, rec.ID)
	if err != nil {
		// The work itself is usable; missing citations only thin the graph.
		c.logger.Warn().Str("paper_id", rec.ID).Err(err).Msg("fetching citing works failed")
	} else {
		for i := range citing {
			rec.Citations = append(rec.Citations, workToStub(&citing[i]))
		}
	}

	for _, ref := range work.ReferencedWorks {
		if refID := normalizeOpenAlexID(ref); refID != "" {
			rec.References = append(rec.References, domain.ProviderPaperRecord{ID: refID})
		}
	}
	return rec, nil
}

// getWork fetches a single work by OpenAlex ID or DOI.
func (c *Client) getWork(ctx context.Context, id string) (*Work, error) {
	fetchURL, err := c.buildWorkURL(id)
	if err != nil {
		return nil, fmt.Errorf("building work URL: %w", err)
	}

	var work Work
	if err := c.getJSON(ctx, fetchURL, "works", id, &work); err != nil {
		return nil, err
	}
	return &work, nil
}

// getCitingWorks fetches works citing the given work ID.
func (c *Client) getCitingWorks(ctx context.Context, workID string) ([]Work, error) {
	listURL, err := c.buildCitingURL(workID)
	if err != nil {
		return nil, fmt.Errorf("building citing URL: %w", err)
	}

	var list ListResponse
	if err := c.getJSON(ctx, listURL, "cites", workID, &list); err != nil {
		return nil, err
	}
	return list.Results, nil
}

// getJSON executes one GET and decodes the body into out. The body is capped
// at 10MB against resource exhaustion.
func (c *Client) getJSON(ctx context.Context, rawURL, endpoint, id string, out any) error {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordProviderRequestFailed("openalex", endpoint, "transport")
		}
		return fmt.Errorf("executing request: %w: %w", domain.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if c.metrics != nil {
		c.metrics.RecordProviderRequest("openalex", endpoint, time.Since(start).Seconds())
	}

	if resp.StatusCode == http.StatusNotFound {
		if c.metrics != nil {
			c.metrics.RecordProviderRequestFailed("openalex", endpoint, "not_found")
		}
		return domain.NewNotFoundError("work", id)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if c.metrics != nil {
			c.metrics.RecordProviderRequestFailed("openalex", endpoint, strconv.Itoa(resp.StatusCode))
		}
		return domain.NewExternalAPIError("OpenAlex", resp.StatusCode, string(body), nil)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// buildWorkURL constructs the URL for fetching a work by ID. OpenAlex
// accepts OpenAlex IDs and DOIs in several spellings.
func (c *Client) buildWorkURL(id string) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}

	var workID string
	switch {
	case strings.HasPrefix(id, openAlexIDPrefix):
		workID = strings.TrimPrefix(id, openAlexIDPrefix)
	case strings.HasPrefix(id, "W"):
		workID = id
	case strings.HasPrefix(id, doiPrefix):
		workID = id
	case strings.HasPrefix(id, "10."):
		workID = doiPrefix + id
	case strings.HasPrefix(id, "doi:"):
		workID = doiPrefix + strings.TrimPrefix(id, "doi:")
	default:
		workID = id
	}

	// OpenAlex expects the DOI as-is in the path and decodes on its side.
	baseURL.Path = "/works/" + workID

	if c.config.Email != "" {
		query := url.Values{}
		query.Set("mailto", c.config.Email)
		baseURL.RawQuery = query.Encode()
	}
	return baseURL.String(), nil
}

// buildCitingURL constructs the list URL for works citing workID.
func (c *Client) buildCitingURL(workID string) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = "/works"

	query := url.Values{}
	query.Set("filter", "cites:"+normalizeOpenAlexID(workID))
	query.Set("per-page", strconv.Itoa(c.config.MaxCitations))
	if c.config.Email != "" {
		query.Set("mailto", c.config.Email)
	}
	baseURL.RawQuery = query.Encode()
	return baseURL.String(), nil
}

// workToRecord converts a full work into a provider record.
func workToRecord(work *Work) domain.ProviderPaperRecord {
	rec := workToStub(work)
	rec.Abstract = reconstructAbstract(work.AbstractInvertedIndex)
	return rec
}

// workToStub converts a work into a record without the abstract, the shape
// used for nested citation entries.
func workToStub(work *Work) domain.ProviderPaperRecord {
	title := work.DisplayName
	if title == "" {
		title = work.Title
	}

	doi := normalizeDOI(work.DOI)
	if doi == "" {
		doi = normalizeDOI(work.IDs.DOI)
	}

	var venue, pageURL string
	if work.PrimaryLocation != nil {
		if work.PrimaryLocation.Source != nil {
			venue = work.PrimaryLocation.Source.DisplayName
		}
		pageURL = work.PrimaryLocation.LandingPageURL
	}
	if pageURL == "" {
		pageURL = work.ID
	}

	authors := make([]domain.AuthorRef, 0, len(work.Authorships))
	for _, authorship := range work.Authorships {
		authors = append(authors, domain.AuthorRef{
			ID:   normalizeOpenAlexID(authorship.Author.ID),
			Name: authorship.Author.DisplayName,
		})
	}

	var concepts []string
	for _, concept := range work.Concepts {
		if concept.DisplayName != "" {
			concepts = append(concepts, concept.DisplayName)
		}
	}

	return domain.ProviderPaperRecord{
		ID:       normalizeOpenAlexID(work.ID),
		Title:    title,
		Venue:    venue,
		Year:     work.PublicationYear,
		DOI:      doi,
		URL:      pageURL,
		Concepts: concepts,
		Authors:  authors,
	}
}

// normalizeDOI strips the https://doi.org/ prefix and lowercases.
func normalizeDOI(doi string) string {
	return domain.NormalizeDOI(doi)
}

// normalizeOpenAlexID extracts the short ID from full OpenAlex URLs.
func normalizeOpenAlexID(id string) string {
	if id == "" {
		return ""
	}
	id = strings.TrimPrefix(id, openAlexIDPrefix)
	return strings.TrimSpace(id)
}

// reconstructAbstract rebuilds abstract text from OpenAlex's inverted index,
// which maps words to their positions.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	const maxAbstractWords = 100_000
	totalPairs := 0
	for _, positions := range invertedIndex {
		totalPairs += len(positions)
	}
	// Guard against malicious payloads with excessive position entries.
	if totalPairs > maxAbstractWords {
		return ""
	}

	pairs := make([]posWord, 0, totalPairs)
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].pos < pairs[j].pos })

	words := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		words = append(words, pair.word)
	}
	return strings.Join(words, " ")
}
