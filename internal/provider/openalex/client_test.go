package openalex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citescope/citation-crawler/internal/domain"
	"github.com/citescope/citation-crawler/internal/provider"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	httpClient := provider.NewHTTPClient(provider.HTTPClientConfig{
		Timeout:    5 * time.Second,
		RateLimit:  1000,
		BurstSize:  1000,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	})
	return NewWithHTTPClient(Config{BaseURL: serverURL, Concurrency: 1}, httpClient, nil, zerolog.Nop())
}

func sampleWork() map[string]any {
	return map[string]any{
		"id":               "https://openalex.org/W100",
		"display_name":     "Graph Crawling at Scale",
		"doi":              "https://doi.org/10.1/W100",
		"publication_year": 2022,
		"cited_by_count":   2,
		"primary_location": map[string]any{
			"source":           map[string]any{"display_name": "Journal of Graphs"},
			"landing_page_url": "https://example.org/w100",
		},
		"authorships": []map[string]any{
			{"author": map[string]any{"id": "https://openalex.org/A7", "display_name": "Ada Example"}},
		},
		"concepts": []map[string]any{
			{"display_name": "Citation analysis", "score": 0.9},
		},
		"abstract_inverted_index": map[string][]int{
			"crawls": {1}, "Paper": {0}, "graphs": {2},
		},
		"referenced_works": []string{"https://openalex.org/W200", "https://openalex.org/W201"},
	}
}

func TestRetrieve_FullRecord(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/works/W100":
			_ = json.NewEncoder(w).Encode(sampleWork())
		case "/works":
			assert.Equal(t, "cites:W100", r.URL.Query().Get("filter"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"meta": map[string]any{"count": 1},
				"results": []map[string]any{
					{
						"id":           "https://openalex.org/W300",
						"display_name": "A Citing Work",
						"authorships": []map[string]any{
							{"author": map[string]any{"id": "https://openalex.org/A9", "display_name": "Cite Author"}},
						},
					},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	records, err := client.Retrieve(context.Background(), []string{"W100"})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "W100", rec.ID)
	assert.Equal(t, "Graph Crawling at Scale", rec.Title)
	assert.Equal(t, "10.1/w100", rec.DOI)
	assert.Equal(t, "Journal of Graphs", rec.Venue)
	assert.Equal(t, 2022, rec.Year)
	assert.Equal(t, "https://example.org/w100", rec.URL)
	assert.Equal(t, []string{"Citation analysis"}, rec.Concepts)
	assert.Equal(t, "Paper crawls graphs", rec.Abstract)

	require.Len(t, rec.Authors, 1)
	assert.Equal(t, domain.AuthorRef{ID: "A7", Name: "Ada Example"}, rec.Authors[0])

	require.Len(t, rec.Citations, 1)
	assert.Equal(t, "W300", rec.Citations[0].ID)
	assert.Equal(t, "A Citing Work", rec.Citations[0].Title)

	require.Len(t, rec.References, 2)
	assert.Equal(t, "W200", rec.References[0].ID)
	assert.Equal(t, "W201", rec.References[1].ID)

	assert.Empty(t, client.FailedIDs())
	assert.Empty(t, client.InconsistentPairs())
}

func TestRetrieve_NotFoundIsPerIDFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	records, err := client.Retrieve(context.Background(), []string{"W404"})
	require.NoError(t, err)

	assert.Empty(t, records)
	assert.Equal(t, []string{"W404"}, client.FailedIDs())
}

func TestRetrieve_DOIRequestReportsInconsistency(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/works/https:/doi.org/10.1/W100" || r.URL.Path == "/works/https://doi.org/10.1/W100" {
			_ = json.NewEncoder(w).Encode(sampleWork())
			return
		}
		if r.URL.Path == "/works" {
			_ = json.NewEncoder(w).Encode(map[string]any{"meta": map[string]any{"count": 0}, "results": []any{}})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	records, err := client.Retrieve(context.Background(), []string{"10.1/W100"})
	require.NoError(t, err)
	require.Len(t, records, 1)

	// The canonical OpenAlex ID differs from the requested DOI.
	require.Len(t, client.InconsistentPairs(), 1)
	assert.Equal(t, "10.1/W100", client.InconsistentPairs()[0].RequestedID)
	assert.Equal(t, "W100", client.InconsistentPairs()[0].ReturnedID)
}

func TestRetrieve_CitingFetchFailureKeepsWork(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/works/W100" {
			_ = json.NewEncoder(w).Encode(sampleWork())
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	records, err := client.Retrieve(context.Background(), []string{"W100"})
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Empty(t, records[0].Citations)
	assert.Len(t, records[0].References, 2)
	assert.Empty(t, client.FailedIDs())
}

func TestReconstructAbstract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		index    map[string][]int
		expected string
	}{
		{
			name:     "empty index",
			index:    nil,
			expected: "",
		},
		{
			name:     "single word",
			index:    map[string][]int{"hello": {0}},
			expected: "hello",
		},
		{
			name:     "repeated word",
			index:    map[string][]int{"the": {0, 2}, "cat": {1}},
			expected: "the cat the",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, reconstructAbstract(tt.index))
		})
	}
}

func TestBuildWorkURL(t *testing.T) {
	t.Parallel()

	client := NewWithHTTPClient(Config{BaseURL: "https://api.openalex.org", Email: "ops@example.org"}, nil, nil, zerolog.Nop())

	tests := []struct {
		id   string
		path string
	}{
		{"W123", "/works/W123"},
		{"https://openalex.org/W123", "/works/W123"},
		{"10.1/abc", "/works/https://doi.org/10.1/abc"},
		{"doi:10.1/abc", "/works/https://doi.org/10.1/abc"},
	}
	for _, tt := range tests {
		u, err := client.buildWorkURL(tt.id)
		require.NoError(t, err)
		assert.Contains(t, u, tt.path)
		assert.Contains(t, u, "mailto=ops%40example.org")
	}
}
