package semanticscholar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/citescope/citation-crawler/internal/domain"
	"github.com/citescope/citation-crawler/internal/observability"
	"github.com/citescope/citation-crawler/internal/provider"
)

const (
	// DefaultBaseURL is the default Semantic Scholar Graph API base URL.
	DefaultBaseURL = "https://api.semanticscholar.org"

	// DefaultRateLimit is the default rate limit for requests per second.
	// Without an API key the shared pool allows roughly 1 req/sec.
	DefaultRateLimit = 1.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 1

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// apiKeyHeader is the header Semantic Scholar reads API keys from.
	apiKeyHeader = "x-api-key"

	// paperFields selects the response fields, including the nested
	// citation and reference lists.
	paperFields = "paperId,title,abstract,year,venue,url,fieldsOfStudy,externalIds," +
		"authors.authorId,authors.name," +
		"citations.paperId,citations.title,citations.year,citations.venue,citations.externalIds,citations.authors," +
		"references.paperId,references.title,references.year,references.venue,references.externalIds,references.authors"
)

// Config holds configuration for the Semantic Scholar provider.
type Config struct {
	// BaseURL is the Graph API base URL.
	BaseURL string `mapstructure:"base_url"`

	// APIKey unlocks higher rate limits when set.
	APIKey string `mapstructure:"api_key"`

	// Timeout is the per-request timeout.
	Timeout time.Duration `mapstructure:"timeout"`

	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int `mapstructure:"burst_size"`

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
}

// Client retrieves paper records from Semantic Scholar.
type Client struct {
	config     Config
	httpClient *provider.HTTPClient
	batcher    *provider.Batcher
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// New creates a Semantic Scholar client. metrics may be nil.
func New(cfg Config, metrics *observability.Metrics, logger zerolog.Logger) *Client {
	cfg.applyDefaults()

	httpClient := provider.NewHTTPClient(provider.HTTPClientConfig{
		Timeout:      cfg.Timeout,
		RateLimit:    cfg.RateLimit,
		BurstSize:    cfg.BurstSize,
		APIKey:       cfg.APIKey,
		APIKeyHeader: apiKeyHeader,
	})
	return NewWithHTTPClient(cfg, httpClient, metrics, logger)
}

// NewWithHTTPClient creates a client with a custom HTTP client, for tests.
func NewWithHTTPClient(cfg Config, httpClient *provider.HTTPClient, metrics *observability.Metrics, logger zerolog.Logger) *Client {
	cfg.applyDefaults()

	return &Client{
		config:     cfg,
		httpClient: httpClient,
		batcher:    provider.NewBatcher("semanticscholar", cfg.Concurrency, logger),
		metrics:    metrics,
		logger:     logger.With().Str("provider", "semanticscholar").Logger(),
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string { return "semanticscholar" }

// Retrieve fetches full records for the given paper IDs or DOIs.
func (c *Client) Retrieve(ctx context.Context, ids []string) ([]domain.ProviderPaperRecord, error) {
	return c.batcher.Retrieve(ctx, ids, c.fetchOne)
}

// FailedIDs lists the per-ID failures of the most recent Retrieve call.
func (c *Client) FailedIDs() []string { return c.batcher.FailedIDs() }

// InconsistentPairs lists ID mismatches of the most recent Retrieve call.
func (c *Client) InconsistentPairs() []domain.InconsistentPair { return c.batcher.InconsistentPairs() }

// fetchOne retrieves one paper with its nested citation and reference lists.
func (c *Client) fetchOne(ctx context.Context, id string) (domain.ProviderPaperRecord, error) {
	start := time.Now()
	fetchURL, err := c.buildPaperURL(id)
	if err != nil {
		return domain.ProviderPaperRecord{}, fmt.Errorf("building paper URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return domain.ProviderPaperRecord{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordProviderRequestFailed("semanticscholar", "paper", "transport")
		}
		return domain.ProviderPaperRecord{}, fmt.Errorf("executing request: %w: %w", domain.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if c.metrics != nil {
		c.metrics.RecordProviderRequest("semanticscholar", "paper", time.Since(start).Seconds())
	}

	if resp.StatusCode == http.StatusNotFound {
		if c.metrics != nil {
			c.metrics.RecordProviderRequestFailed("semanticscholar", "paper", "not_found")
		}
		return domain.ProviderPaperRecord{}, domain.NewNotFoundError("paper", id)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if c.metrics != nil {
			c.metrics.RecordProviderRequestFailed("semanticscholar", "paper", strconv.Itoa(resp.StatusCode))
		}
		return domain.ProviderPaperRecord{}, domain.NewExternalAPIError("SemanticScholar", resp.StatusCode, string(body), nil)
	}

	var paper PaperResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&paper); err != nil {
		return domain.ProviderPaperRecord{}, fmt.Errorf("decoding response: %w", err)
	}
	return paperToRecord(&paper), nil
}

// buildPaperURL constructs the Graph API URL for one paper. Semantic Scholar
// accepts its own IDs, DOI:-prefixed DOIs, and ARXIV:-prefixed IDs.
func (c *Client) buildPaperURL(id string) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}

	paperID := id
	switch {
	case strings.HasPrefix(id, "10."):
		paperID = "DOI:" + id
	case strings.HasPrefix(id, "doi:"):
		paperID = "DOI:" + strings.TrimPrefix(id, "doi:")
	}

	baseURL.Path = "/graph/v1/paper/" + paperID
	query := url.Values{}
	query.Set("fields", paperFields)
	baseURL.RawQuery = query.Encode()
	return baseURL.String(), nil
}

// paperToRecord converts a Graph API paper into a provider record.
func paperToRecord(paper *PaperResponse) domain.ProviderPaperRecord {
	rec := domain.ProviderPaperRecord{
		ID:       paper.PaperID,
		Title:    paper.Title,
		Abstract: paper.Abstract,
		Venue:    paper.Venue,
		Year:     paper.Year,
		URL:      paper.URL,
		Concepts: paper.FieldsOfStudy,
		Authors:  convertAuthors(paper.Authors),
	}
	if paper.ExternalIDs != nil {
		rec.DOI = domain.NormalizeDOI(paper.ExternalIDs.DOI)
	}
	for i := range paper.Citations {
		rec.Citations = append(rec.Citations, stubToRecord(&paper.Citations[i]))
	}
	for i := range paper.References {
		rec.References = append(rec.References, stubToRecord(&paper.References[i]))
	}
	return rec
}

// stubToRecord converts a nested citation or reference entry.
func stubToRecord(stub *PaperStub) domain.ProviderPaperRecord {
	rec := domain.ProviderPaperRecord{
		ID:      stub.PaperID,
		Title:   stub.Title,
		Venue:   stub.Venue,
		Year:    stub.Year,
		Authors: convertAuthors(stub.Authors),
	}
	if stub.ExternalIDs != nil {
		rec.DOI = domain.NormalizeDOI(stub.ExternalIDs.DOI)
	}
	return rec
}

func convertAuthors(authors []Author) []domain.AuthorRef {
	if len(authors) == 0 {
		return nil
	}
	out := make([]domain.AuthorRef, 0, len(authors))
	for _, a := range authors {
		out = append(out, domain.AuthorRef{ID: a.AuthorID, Name: a.Name})
	}
	return out
}
