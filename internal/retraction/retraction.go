// Package retraction implements the retraction lookup used to flag papers
// after each merge: given DOIs, it reports the subset known to be retracted.
package retraction

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/citescope/citation-crawler/internal/domain"
	"github.com/citescope/citation-crawler/internal/provider"
)

const (
	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit for requests per second.
	DefaultRateLimit = 5.0

	// DefaultBatchSize caps how many DOIs one lookup request carries, to
	// keep the query string within URL length limits.
	DefaultBatchSize = 100
)

// Config holds retraction service configuration.
type Config struct {
	// BaseURL is the retraction lookup service base URL. Empty disables
	// retraction checking.
	BaseURL string `mapstructure:"base_url"`

	// APIKey is an optional API key.
	APIKey string `mapstructure:"api_key"`

	// Timeout is the per-request timeout.
	Timeout time.Duration `mapstructure:"timeout"`

	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`

	// BatchSize caps DOIs per lookup request.
	BatchSize int `mapstructure:"batch_size"`
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
}

// lookupResponse is the lookup service's response payload.
type lookupResponse struct {
	Retracted []string `json:"retracted"`
}

// Client queries an HTTP retraction lookup service.
type Client struct {
	config     Config
	httpClient *provider.HTTPClient
	logger     zerolog.Logger
}

// New creates a retraction lookup client.
func New(cfg Config, logger zerolog.Logger) *Client {
	cfg.applyDefaults()

	httpClient := provider.NewHTTPClient(provider.HTTPClientConfig{
		Timeout:      cfg.Timeout,
		RateLimit:    cfg.RateLimit,
		BurstSize:    int(cfg.RateLimit) + 1,
		APIKey:       cfg.APIKey,
		APIKeyHeader: "x-api-key",
	})
	return &Client{
		config:     cfg,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "retraction").Logger(),
	}
}

// Check returns the subset of dois known to be retracted. DOIs are looked up
// in batches; a failing batch fails the whole check so the caller can skip
// flag refresh for this tick rather than work from partial data.
func (c *Client) Check(ctx context.Context, dois []string) ([]string, error) {
	var retracted []string
	for start := 0; start < len(dois); start += c.config.BatchSize {
		end := min(start+c.config.BatchSize, len(dois))
		batch, err := c.checkBatch(ctx, dois[start:end])
		if err != nil {
			return nil, err
		}
		retracted = append(retracted, batch...)
	}
	return retracted, nil
}

// checkBatch looks up one batch of DOIs.
func (c *Client) checkBatch(ctx context.Context, dois []string) ([]string, error) {
	lookupURL, err := c.buildLookupURL(dois)
	if err != nil {
		return nil, fmt.Errorf("building lookup URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w: %w", domain.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError("RetractionLookup", resp.StatusCode, string(body), nil)
	}

	var payload lookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	normalized := make([]string, 0, len(payload.Retracted))
	for _, doi := range payload.Retracted {
		if n := domain.NormalizeDOI(doi); n != "" {
			normalized = append(normalized, n)
		}
	}
	return normalized, nil
}

// buildLookupURL constructs the lookup URL for one batch of DOIs.
func (c *Client) buildLookupURL(dois []string) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = "/v1/retractions"

	query := url.Values{}
	query.Set("dois", strings.Join(dois, ","))
	baseURL.RawQuery = query.Encode()
	return baseURL.String(), nil
}

// Static is an in-memory retraction filter for tests and offline runs.
type Static struct {
	retracted map[string]struct{}
}

// NewStatic creates a Static filter over a fixed DOI list.
func NewStatic(dois []string) *Static {
	set := make(map[string]struct{}, len(dois))
	for _, doi := range dois {
		if n := domain.NormalizeDOI(doi); n != "" {
			set[n] = struct{}{}
		}
	}
	return &Static{retracted: set}
}

// Check returns the subset of dois present in the static list.
func (s *Static) Check(_ context.Context, dois []string) ([]string, error) {
	var out []string
	for _, doi := range dois {
		if _, ok := s.retracted[domain.NormalizeDOI(doi)]; ok {
			out = append(out, domain.NormalizeDOI(doi))
		}
	}
	return out, nil
}
