package collab_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coscribe/internal/collab"
	"coscribe/store"
)

type failingSink struct{}

func (failingSink) Append(context.Context, collab.HistoryEntry) error { return errors.New("db down") }
func (failingSink) List(context.Context, string, int, int) ([]collab.HistoryEntry, error) {
	return nil, errors.New("db down")
}

func TestRecorderAppendAndListNewestFirst(t *testing.T) {
	mem := store.NewMemory()
	rec := collab.NewRecorder(mem)
	ctx := context.Background()

	first, err := rec.Append(ctx, "doc-1", "alice", json.RawMessage(`"v1"`))
	require.NoError(t, err)
	second, err := rec.Append(ctx, "doc-1", "bob", json.RawMessage(`"v2"`))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	entries, err := rec.List(ctx, "doc-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second.ID, entries[0].ID, "newest entry must come first")
	assert.Equal(t, "bob", entries[0].AuthorID)
	assert.Equal(t, first.ID, entries[1].ID)

	// Pagination.
	page, err := rec.List(ctx, "doc-1", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, first.ID, page[0].ID)

	// Non-positive limit returns everything past the offset.
	all, err := rec.List(ctx, "doc-1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	rest, err := rec.List(ctx, "doc-1", -1, 1)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, first.ID, rest[0].ID)
}

func TestRecorderAppendSinkFailure(t *testing.T) {
	rec := collab.NewRecorder(failingSink{})

	entry, err := rec.Append(context.Background(), "doc-1", "alice", json.RawMessage(`"v1"`))
	assert.Nil(t, entry)
	assert.ErrorIs(t, err, collab.ErrPersistenceUnavailable)
}
