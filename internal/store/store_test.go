package store

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citescope/citation-crawler/internal/domain"
)

func newTestStore(t *testing.T) *RecordStore {
	t.Helper()
	return New(Config{
		ForbidRetractedInSampler:   true,
		ForbidRetractedInReporting: true,
	}, zerolog.Nop())
}

func fullRecord(id string) domain.ProviderPaperRecord {
	return domain.ProviderPaperRecord{
		ID:    id,
		Title: "Title of " + id,
		Venue: "Venue A",
		Year:  2021,
		DOI:   "10.1/" + id,
		Authors: []domain.AuthorRef{
			{ID: "A-" + id, Name: "Author of " + id},
		},
	}
}

func TestMergePapers_Idempotent(t *testing.T) {
	t.Parallel()

	records := []domain.ProviderPaperRecord{fullRecord("W1"), fullRecord("W2")}

	s := newTestStore(t)
	s.MergePapers(records, true)
	once := s.Papers()

	s.MergePapers(records, true)
	twice := s.Papers()

	assert.Equal(t, once, twice)
	assert.Equal(t, 2, s.PaperCount())
}

func TestMergePapers_DropsInvalidRecords(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.MergePapers([]domain.ProviderPaperRecord{
		{ID: "", Title: "no id"},
		{ID: "W1", Title: ""},
		{ID: "W2", Title: "kept"},
	}, true)

	assert.Equal(t, 1, s.PaperCount())
	_, ok := s.Paper("W2")
	assert.True(t, ok)
}

func TestMergePapers_StubThenUpgrade(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.MergePapers([]domain.ProviderPaperRecord{{ID: "X", Title: "stub title"}}, false)

	row, ok := s.Paper("X")
	require.True(t, ok)
	assert.True(t, row.IsStub())

	full := fullRecord("X")
	s.MergePapers([]domain.ProviderPaperRecord{full}, true)

	require.Equal(t, 1, s.PaperCount())
	row, ok = s.Paper("X")
	require.True(t, ok)
	assert.True(t, row.Processed)
	assert.Equal(t, full.Title, row.Title)
	assert.Equal(t, "Venue A", row.Venue)
	assert.Equal(t, 2021, row.Year)
}

func TestMergePapers_NeverDowngradesProcessed(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.MergePapers([]domain.ProviderPaperRecord{fullRecord("W1")}, true)
	s.MergePapers([]domain.ProviderPaperRecord{{ID: "W1", Title: "later stub sighting"}}, false)

	row, ok := s.Paper("W1")
	require.True(t, ok)
	assert.True(t, row.Processed)
}

func TestMergePapers_NormalizesDOI(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.MergePapers([]domain.ProviderPaperRecord{
		{ID: "W1", Title: "t", DOI: "https://doi.org/10.1/ABC"},
	}, true)

	row, ok := s.Paper("W1")
	require.True(t, ok)
	assert.Equal(t, "10.1/abc", row.DOI)
}

func TestMergeEdges_EndpointExistence(t *testing.T) {
	t.Parallel()

	rec := fullRecord("W1")
	rec.Citations = []domain.ProviderPaperRecord{{ID: "W2", Title: "citing paper"}}
	rec.References = []domain.ProviderPaperRecord{{ID: "W3"}} // title-less stub

	s := newTestStore(t)
	s.MergePapers([]domain.ProviderPaperRecord{rec}, true)
	s.MergeEdges([]domain.ProviderPaperRecord{rec})

	for _, e := range s.CitationEdges() {
		_, fromOK := s.Paper(e.From)
		_, toOK := s.Paper(e.To)
		assert.True(t, fromOK, "citation edge endpoint %s missing", e.From)
		assert.True(t, toOK, "citation edge endpoint %s missing", e.To)
	}
	for _, e := range s.ReferenceEdges() {
		_, fromOK := s.Paper(e.From)
		_, toOK := s.Paper(e.To)
		assert.True(t, fromOK, "reference edge endpoint %s missing", e.From)
		assert.True(t, toOK, "reference edge endpoint %s missing", e.To)
	}
}

func TestMergeEdges_SeedScenario(t *testing.T) {
	t.Parallel()

	rec := fullRecord("W1")
	rec.Citations = []domain.ProviderPaperRecord{{ID: "W2", Title: "cited by"}}
	rec.References = []domain.ProviderPaperRecord{{ID: "W3", Title: "cites"}}

	s := newTestStore(t)
	s.MergePapers([]domain.ProviderPaperRecord{rec}, true)
	s.MergeAuthorsAndLinks([]domain.ProviderPaperRecord{rec})
	s.MergeEdges([]domain.ProviderPaperRecord{rec})
	s.SetSeedFlags([]string{"W1"})

	require.Equal(t, 3, s.PaperCount())

	w1, ok := s.Paper("W1")
	require.True(t, ok)
	assert.True(t, w1.Processed)
	assert.True(t, w1.IsSeed)

	w2, ok := s.Paper("W2")
	require.True(t, ok)
	assert.False(t, w2.Processed)

	w3, ok := s.Paper("W3")
	require.True(t, ok)
	assert.False(t, w3.Processed)

	assert.Equal(t, []domain.Edge{{From: "W1", To: "W2"}}, s.CitationEdges())
	assert.Equal(t, []domain.Edge{{From: "W1", To: "W3"}}, s.ReferenceEdges())
}

func TestMergeEdges_Idempotent(t *testing.T) {
	t.Parallel()

	rec := fullRecord("W1")
	rec.Citations = []domain.ProviderPaperRecord{{ID: "W2", Title: "cited by"}}

	s := newTestStore(t)
	s.MergePapers([]domain.ProviderPaperRecord{rec}, true)
	s.MergeEdges([]domain.ProviderPaperRecord{rec})
	s.MergeEdges([]domain.ProviderPaperRecord{rec})

	assert.Len(t, s.CitationEdges(), 1)
}

func TestMergeAuthorsAndLinks(t *testing.T) {
	t.Parallel()

	rec := fullRecord("W1")
	rec.Citations = []domain.ProviderPaperRecord{{
		ID:      "W2",
		Title:   "cited by",
		Authors: []domain.AuthorRef{{ID: "A-2", Name: "Stub Author"}},
	}}

	s := newTestStore(t)
	s.MergeAuthorsAndLinks([]domain.ProviderPaperRecord{rec, rec})

	assert.Len(t, s.Authors(), 2)
	assert.ElementsMatch(t, []domain.PaperAuthorLink{
		{PaperID: "W1", AuthorID: "A-W1"},
		{PaperID: "W2", AuthorID: "A-2"},
	}, s.PaperAuthorLinks())
}

func TestMergeAbstracts(t *testing.T) {
	t.Parallel()

	long := "This abstract is comfortably longer than the minimum length."

	s := newTestStore(t)
	s.MergePapers([]domain.ProviderPaperRecord{fullRecord("W1"), fullRecord("W2")}, true)
	s.MergeAbstracts([]domain.ProviderPaperRecord{
		{ID: "W1", Abstract: long},
		{ID: "W2", Abstract: "too short"},
		{ID: "W3", Abstract: ""},
	})

	abstracts := s.Abstracts()
	require.Len(t, abstracts, 1)
	assert.Equal(t, "W1", abstracts[0].PaperID)
	assert.Equal(t, long, abstracts[0].Text)
}

func TestSetSeedFlags_IdempotentAndAdditive(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.MergePapers([]domain.ProviderPaperRecord{
		fullRecord("a"), fullRecord("b"), fullRecord("c"), fullRecord("d"),
	}, true)

	s.SetSeedFlags([]string{"a", "b"})
	s.SetSeedFlags([]string{"b", "c"})

	for _, id := range []string{"a", "b", "c"} {
		row, ok := s.Paper(id)
		require.True(t, ok)
		assert.True(t, row.IsSeed, "paper %s", id)
		assert.True(t, row.Selected, "paper %s", id)
	}
	d, _ := s.Paper("d")
	assert.False(t, d.IsSeed)
}

func TestSetSeedFlags_UnknownIDSkipped(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.SetSeedFlags([]string{"missing"})
	assert.Equal(t, 0, s.PaperCount())
}

func TestApplyRetractionFlags(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.MergePapers([]domain.ProviderPaperRecord{
		{ID: "W1", Title: "t1", DOI: "10.1/abc"},
		{ID: "W2", Title: "t2", DOI: "10.1/def"},
	}, true)

	rows, entries := s.ApplyRetractionFlags([]string{"10.1/abc"})

	require.Len(t, rows, 1)
	assert.Equal(t, "W1", rows[0].ID)
	assert.True(t, rows[0].Retracted)

	require.Len(t, entries, 1)
	assert.Equal(t, "10.1/abc", entries[0].Key)
	assert.Equal(t, "retracted", entries[0].Reason)
	assert.True(t, entries[0].Sampler)
	assert.True(t, entries[0].Reporting)

	// No rows removed, other rows untouched.
	assert.Equal(t, 2, s.PaperCount())
	w2, _ := s.Paper("W2")
	assert.False(t, w2.Retracted)

	// Repeating the call adds no new entries.
	rows, entries = s.ApplyRetractionFlags([]string{"10.1/abc"})
	assert.Empty(t, rows)
	assert.Empty(t, entries)
	assert.Len(t, s.ForbiddenEntries(), 1)
}

func TestApplyRetractionFlags_NormalizesDOI(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.MergePapers([]domain.ProviderPaperRecord{
		{ID: "W1", Title: "t1", DOI: "10.1/abc"},
	}, true)

	rows, _ := s.ApplyRetractionFlags([]string{"https://doi.org/10.1/ABC"})
	require.Len(t, rows, 1)
	assert.Equal(t, "W1", rows[0].ID)
}

func TestMarkFailed(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.MergePapers([]domain.ProviderPaperRecord{fullRecord("W1")}, true)
	s.MarkFailed([]string{"W1", "unknown"})

	row, ok := s.Paper("W1")
	require.True(t, ok)
	assert.False(t, row.Processed)
}

func TestShapeSummaryAndProcessedCounts(t *testing.T) {
	t.Parallel()

	rec := fullRecord("W1")
	rec.Citations = []domain.ProviderPaperRecord{{ID: "W2", Title: "cited by"}}

	s := newTestStore(t)
	s.MergePapers([]domain.ProviderPaperRecord{rec}, true)
	s.MergeEdges([]domain.ProviderPaperRecord{rec})

	shapes := s.ShapeSummary()
	assert.Equal(t, 2, shapes["papers"].Rows)
	assert.Equal(t, 1, shapes["citations"].Rows)
	assert.Equal(t, 0, shapes["references"].Rows)

	processed, stubs := s.ProcessedCounts()
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, stubs)
}

func TestPruneOrphans(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	// Orphan stub with no edges or links.
	s.MergePapers([]domain.ProviderPaperRecord{{ID: "orphan", Title: "stub"}}, false)
	// Stub kept by an edge.
	rec := fullRecord("W1")
	rec.Citations = []domain.ProviderPaperRecord{{ID: "W2", Title: "cited by"}}
	s.MergePapers([]domain.ProviderPaperRecord{rec}, true)
	s.MergeEdges([]domain.ProviderPaperRecord{rec})
	// Seed stub kept despite having no edges.
	s.MergePapers([]domain.ProviderPaperRecord{{ID: "seed-stub", Title: "seed"}}, false)
	s.SetSeedFlags([]string{"seed-stub"})

	removed := s.PruneOrphans()

	assert.Equal(t, 1, removed)
	_, ok := s.Paper("orphan")
	assert.False(t, ok)
	_, ok = s.Paper("W2")
	assert.True(t, ok)
	_, ok = s.Paper("seed-stub")
	assert.True(t, ok)
}

func TestExportRestore_RoundTrip(t *testing.T) {
	t.Parallel()

	rec := fullRecord("W1")
	rec.Citations = []domain.ProviderPaperRecord{{ID: "W2", Title: "cited by"}}
	rec.Abstract = "An abstract long enough to clear the storage threshold."

	s := newTestStore(t)
	s.MergePapers([]domain.ProviderPaperRecord{rec}, true)
	s.MergeAuthorsAndLinks([]domain.ProviderPaperRecord{rec})
	s.MergeEdges([]domain.ProviderPaperRecord{rec})
	s.MergeAbstracts([]domain.ProviderPaperRecord{rec})
	s.SetSeedFlags([]string{"W1"})
	s.RecomputeDerivedFeatures()

	state := s.Export()

	restored := newTestStore(t)
	restored.Restore(state)

	assert.Equal(t, s.Papers(), restored.Papers())
	assert.Equal(t, s.Authors(), restored.Authors())
	assert.Equal(t, s.PaperAuthorLinks(), restored.PaperAuthorLinks())
	assert.Equal(t, s.CitationEdges(), restored.CitationEdges())
	assert.Equal(t, s.ReferenceEdges(), restored.ReferenceEdges())
	assert.Equal(t, s.Abstracts(), restored.Abstracts())
	assert.Equal(t, s.AuthorFeatures(), restored.AuthorFeatures())
	assert.Equal(t, s.VenueFeatures(), restored.VenueFeatures())
}
