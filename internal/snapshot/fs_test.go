package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citescope/citation-crawler/internal/domain"
	"github.com/citescope/citation-crawler/internal/store"
)

func sampleState() store.State {
	return store.State{
		Papers: []domain.Paper{
			{ID: "W1", Title: "Graph Crawling", Processed: true, IsSeed: true},
			{ID: "W2", Title: "Frontier Sampling"},
		},
		CitationEdges: []domain.Edge{{From: "W1", To: "W2"}},
	}
}

func TestFSWriter_SaveIntermediate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writer, err := NewFSWriter(dir, "run-1", zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, writer.SaveIntermediate(context.Background(), sampleState(), 0))
	require.NoError(t, writer.SaveIntermediate(context.Background(), sampleState(), 1))

	// One file per iteration, no temp files left behind.
	entries, err := os.ReadDir(filepath.Join(dir, "run-1"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "iteration_0000.json", entries[0].Name())
	assert.Equal(t, "iteration_0001.json", entries[1].Name())

	data, err := os.ReadFile(filepath.Join(dir, "run-1", "iteration_0001.json"))
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "run-1", env.RunID)
	require.NotNil(t, env.Iteration)
	assert.Equal(t, 1, *env.Iteration)
	assert.Len(t, env.State.Papers, 2)
}

func TestFSWriter_SaveFinal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writer, err := NewFSWriter(dir, "run-2", zerolog.Nop())
	require.NoError(t, err)

	path, savedAt, err := writer.SaveFinal(context.Background(), sampleState(), "deep-learning-survey")
	require.NoError(t, err)
	assert.False(t, savedAt.IsZero())
	assert.Contains(t, path, "deep-learning-survey_")

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleState(), loaded)
}

func TestFSWriter_SaveCanceledContext(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writer, err := NewFSWriter(dir, "run-3", zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = writer.SaveIntermediate(ctx, sampleState(), 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadFile_Missing(t *testing.T) {
	t.Parallel()

	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoadFile_RestoresStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writer, err := NewFSWriter(dir, "run-4", zerolog.Nop())
	require.NoError(t, err)

	path, _, err := writer.SaveFinal(context.Background(), sampleState(), "resume-me")
	require.NoError(t, err)

	state, err := LoadFile(path)
	require.NoError(t, err)

	st := store.New(store.Config{}, zerolog.Nop())
	st.Restore(state)
	assert.Equal(t, 2, st.PaperCount())
	assert.Len(t, st.CitationEdges(), 1)
}
