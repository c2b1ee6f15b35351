package persist

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yasinhessnawi1/hideme-go/internal/geom"
	"github.com/yasinhessnawi1/hideme-go/internal/highlight"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "highlights.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	orig := geom.Rect{X: 1, Y: 2, W: 3, H: 4}
	rec := &highlight.Record{
		ID:        "entity-1",
		FileKey:   "file-a",
		Page:      2,
		Type:      highlight.TypeEntity,
		Rect:      geom.Rect{X: 10, Y: 20, W: 30, H: 8},
		Original:  &orig,
		Color:     "#ffd771",
		Opacity:   0.4,
		Text:      "John Smith",
		Entity:    "PERSON",
		Model:     "presidio",
		Timestamp: time.Now().Truncate(time.Second),
	}
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.GetByFile(ctx, "file-a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)
	assert.Equal(t, rec.Type, got[0].Type)
	assert.Equal(t, rec.Entity, got[0].Entity)
	assert.InDelta(t, rec.Rect.X, got[0].Rect.X, 1e-9)
	require.NotNil(t, got[0].Original)
	assert.InDelta(t, orig.W, got[0].Original.W, 1e-9)
}

func TestSQLiteStorePutUpserts(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	rec := &highlight.Record{ID: "manual-1", FileKey: "file-a", Page: 1, Type: highlight.TypeManual, Rect: geom.Rect{W: 1, H: 1}}
	require.NoError(t, s.Put(ctx, rec))

	rec.Text = "updated"
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.GetByFile(ctx, "file-a")
	require.NoError(t, err)
	require.Len(t, got, 1, "same ID must upsert, not duplicate")
	assert.Equal(t, "updated", got[0].Text)
}

func TestSQLiteStoreDeleteAndClear(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		rec := &highlight.Record{ID: id, FileKey: "file-a", Page: 1, Type: highlight.TypeSearch, Rect: geom.Rect{W: 1, H: 1}}
		require.NoError(t, s.Put(ctx, rec))
	}

	require.NoError(t, s.Delete(ctx, "b"))
	require.NoError(t, s.Delete(ctx, "b"), "deleting an absent ID is a no-op")

	got, err := s.GetByType(ctx, highlight.TypeSearch)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, s.Clear(ctx))
	got, err = s.GetByFile(ctx, "file-a")
	require.NoError(t, err)
	assert.Empty(t, got)
}
