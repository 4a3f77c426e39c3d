package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citescope/citation-crawler/internal/domain"
)

func TestBatcher_Retrieve(t *testing.T) {
	t.Parallel()

	b := NewBatcher("fake", 2, zerolog.Nop())
	fetch := func(_ context.Context, id string) (domain.ProviderPaperRecord, error) {
		return domain.ProviderPaperRecord{ID: id, Title: "Title of " + id}, nil
	}

	records, err := b.Retrieve(context.Background(), []string{"W1", "W2", "W3"}, fetch)
	require.NoError(t, err)

	assert.Len(t, records, 3)
	assert.Empty(t, b.FailedIDs())
	assert.Empty(t, b.InconsistentPairs())
}

func TestBatcher_PerIDFailures(t *testing.T) {
	t.Parallel()

	b := NewBatcher("fake", 2, zerolog.Nop())
	fetch := func(_ context.Context, id string) (domain.ProviderPaperRecord, error) {
		if id == "bad" {
			return domain.ProviderPaperRecord{}, domain.NewNotFoundError("paper", id)
		}
		return domain.ProviderPaperRecord{ID: id, Title: "t"}, nil
	}

	records, err := b.Retrieve(context.Background(), []string{"W1", "bad", "W2"}, fetch)
	require.NoError(t, err)

	assert.Len(t, records, 2)
	assert.Equal(t, []string{"bad"}, b.FailedIDs())
}

func TestBatcher_InconsistentPairs(t *testing.T) {
	t.Parallel()

	b := NewBatcher("fake", 1, zerolog.Nop())
	fetch := func(_ context.Context, id string) (domain.ProviderPaperRecord, error) {
		return domain.ProviderPaperRecord{ID: "canonical-" + id, Title: "t"}, nil
	}

	records, err := b.Retrieve(context.Background(), []string{"W1"}, fetch)
	require.NoError(t, err)

	assert.Len(t, records, 1)
	require.Len(t, b.InconsistentPairs(), 1)
	assert.Equal(t, domain.InconsistentPair{RequestedID: "W1", ReturnedID: "canonical-W1"}, b.InconsistentPairs()[0])
}

func TestBatcher_WholeBatchServiceFailure(t *testing.T) {
	t.Parallel()

	b := NewBatcher("fake", 2, zerolog.Nop())
	fetch := func(_ context.Context, id string) (domain.ProviderPaperRecord, error) {
		return domain.ProviderPaperRecord{}, fmt.Errorf("fetch %s: %w", id, domain.ErrServiceUnavailable)
	}

	_, err := b.Retrieve(context.Background(), []string{"W1", "W2"}, fetch)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestBatcher_PartialServiceFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	b := NewBatcher("fake", 1, zerolog.Nop())
	fetch := func(_ context.Context, id string) (domain.ProviderPaperRecord, error) {
		if id == "down" {
			return domain.ProviderPaperRecord{}, domain.ErrServiceUnavailable
		}
		return domain.ProviderPaperRecord{ID: id, Title: "t"}, nil
	}

	records, err := b.Retrieve(context.Background(), []string{"W1", "down"}, fetch)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, []string{"down"}, b.FailedIDs())
}

func TestBatcher_ContextCancellationIsFatal(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBatcher("fake", 1, zerolog.Nop())
	fetch := func(ctx context.Context, _ string) (domain.ProviderPaperRecord, error) {
		return domain.ProviderPaperRecord{}, ctx.Err()
	}

	_, err := b.Retrieve(ctx, []string{"W1"}, fetch)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBatcher_ResetsBetweenCalls(t *testing.T) {
	t.Parallel()

	b := NewBatcher("fake", 1, zerolog.Nop())
	failing := func(_ context.Context, id string) (domain.ProviderPaperRecord, error) {
		return domain.ProviderPaperRecord{}, errors.New("boom")
	}
	ok := func(_ context.Context, id string) (domain.ProviderPaperRecord, error) {
		return domain.ProviderPaperRecord{ID: id, Title: "t"}, nil
	}

	_, err := b.Retrieve(context.Background(), []string{"W1"}, failing)
	require.NoError(t, err)
	assert.Equal(t, []string{"W1"}, b.FailedIDs())

	_, err = b.Retrieve(context.Background(), []string{"W2"}, ok)
	require.NoError(t, err)
	assert.Empty(t, b.FailedIDs())
}
