package sampler

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citescope/citation-crawler/internal/domain"
	"github.com/citescope/citation-crawler/internal/store"
)

func newStoreWithStubs(t *testing.T, stubs ...domain.ProviderPaperRecord) *store.RecordStore {
	t.Helper()
	s := store.New(store.Config{ForbidRetractedInSampler: true}, zerolog.Nop())
	s.MergePapers(stubs, false)
	return s
}

func TestSample_SkipsProcessedSelectedAndRetracted(t *testing.T) {
	t.Parallel()

	s := newStoreWithStubs(t,
		domain.ProviderPaperRecord{ID: "stub", Title: "open frontier"},
		domain.ProviderPaperRecord{ID: "done", Title: "already processed"},
		domain.ProviderPaperRecord{ID: "picked", Title: "already selected"},
		domain.ProviderPaperRecord{ID: "pulled", Title: "retracted paper", DOI: "10.1/pulled"},
	)
	s.MergePapers([]domain.ProviderPaperRecord{{ID: "done", Title: "already processed"}}, true)
	s.SetSelectedFlags([]string{"picked"})
	s.ApplyRetractionFlags([]string{"10.1/pulled"})

	ids := New(Config{}, zerolog.Nop()).Sample(s, nil)

	assert.Equal(t, []string{"stub"}, ids)
}

func TestSample_SkipsForbiddenEntries(t *testing.T) {
	t.Parallel()

	s := newStoreWithStubs(t,
		domain.ProviderPaperRecord{ID: "ok", Title: "fine"},
		domain.ProviderPaperRecord{ID: "banned", Title: "excluded", DOI: "10.1/banned"},
	)
	s.ApplyRetractionFlags([]string{"10.1/banned"})

	ids := New(Config{}, zerolog.Nop()).Sample(s, nil)
	assert.Equal(t, []string{"ok"}, ids)
}

func TestSample_RanksByCitationInDegree(t *testing.T) {
	t.Parallel()

	s := store.New(store.Config{}, zerolog.Nop())
	// "hot" is cited by two processed papers, "warm" by one, "cold" by none.
	a := domain.ProviderPaperRecord{
		ID: "A", Title: "a",
		References: []domain.ProviderPaperRecord{
			{ID: "hot", Title: "hot stub"},
			{ID: "warm", Title: "warm stub"},
			{ID: "cold", Title: "cold stub"},
		},
	}
	b := domain.ProviderPaperRecord{
		ID: "B", Title: "b",
		References: []domain.ProviderPaperRecord{{ID: "hot", Title: "hot stub"}},
	}
	s.MergePapers([]domain.ProviderPaperRecord{a, b}, true)
	s.MergeEdges([]domain.ProviderPaperRecord{a, b})

	ids := New(Config{}, zerolog.Nop()).Sample(s, nil)

	require.Len(t, ids, 3)
	assert.Equal(t, "hot", ids[0])
	assert.Equal(t, "warm", ids[1])
	assert.Equal(t, "cold", ids[2])
}

func TestSample_BatchSizeCap(t *testing.T) {
	t.Parallel()

	var stubs []domain.ProviderPaperRecord
	for i := 0; i < 10; i++ {
		stubs = append(stubs, domain.ProviderPaperRecord{ID: fmt.Sprintf("W%d", i), Title: "stub"})
	}
	s := newStoreWithStubs(t, stubs...)

	ids := New(Config{BatchSize: 4}, zerolog.Nop()).Sample(s, nil)
	assert.Len(t, ids, 4)
}

func TestSample_KeywordFilters(t *testing.T) {
	t.Parallel()

	s := newStoreWithStubs(t,
		domain.ProviderPaperRecord{ID: "match-title", Title: "Deep Learning for Protein Folding"},
		domain.ProviderPaperRecord{ID: "match-concept", Title: "Unrelated Title", Concepts: []string{"protein structure"}},
		domain.ProviderPaperRecord{ID: "no-match", Title: "Quantum Chromodynamics"},
	)
	// A title-less stub created as an edge endpoint stays eligible.
	parent := domain.ProviderPaperRecord{
		ID: "parent", Title: "parent",
		References: []domain.ProviderPaperRecord{{ID: "untitled"}},
	}
	s.MergePapers([]domain.ProviderPaperRecord{parent}, true)
	s.MergeEdges([]domain.ProviderPaperRecord{parent})

	ids := New(Config{}, zerolog.Nop()).Sample(s, []string{"protein"})

	assert.ElementsMatch(t, []string{"match-title", "match-concept", "untitled"}, ids)
}

func TestSample_EmptyStore(t *testing.T) {
	t.Parallel()

	s := store.New(store.Config{}, zerolog.Nop())
	ids := New(Config{}, zerolog.Nop()).Sample(s, nil)
	assert.Empty(t, ids)
}
