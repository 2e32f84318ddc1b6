package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waypost/waypost/internal/clock"
	"github.com/waypost/waypost/pkg/types"
)

type staticSource struct {
	entries []types.FailedEvent
}

func (s *staticSource) TakeExhausted() []types.FailedEvent {
	out := s.entries
	s.entries = nil
	return out
}

func exhausted(names ...string) []types.FailedEvent {
	var out []types.FailedEvent
	for _, n := range names {
		out = append(out, types.FailedEvent{
			Event:      types.EnrichedEvent{EventName: n},
			RetryCount: 6,
		})
	}
	return out
}

func TestExport_WritesCompressedBatch(t *testing.T) {
	ctx := context.Background()
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	fake := clock.NewFake(time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC))
	a := NewArchiver(store, &staticSource{entries: exhausted("guide_completed", "step_completed")}, fake)

	path, n, err := a.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "dead-letter/20260901T120000Z_2.json.snappy", path)

	batch, err := a.ReadBatch(ctx, path)
	require.NoError(t, err)
	require.Len(t, batch.Entries, 2)
	assert.Equal(t, "guide_completed", batch.Entries[0].Event.EventName)
	assert.Equal(t, 6, batch.Entries[0].RetryCount)
	assert.True(t, batch.ArchivedAt.Equal(fake.Now()))
}

func TestExport_NothingToArchive(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)
	a := NewArchiver(store, &staticSource{}, clock.Real{})

	path, n, err := a.Export(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, path)

	batches, err := a.ListBatches(context.Background())
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestListBatches_ReturnsExportedObjects(t *testing.T) {
	ctx := context.Background()
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	fake := clock.NewFake(time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC))
	src := &staticSource{entries: exhausted("error_occurred")}
	a := NewArchiver(store, src, fake)

	first, _, err := a.Export(ctx)
	require.NoError(t, err)

	fake.Advance(time.Hour)
	src.entries = exhausted("page_view")
	second, _, err := a.Export(ctx)
	require.NoError(t, err)

	batches, err := a.ListBatches(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first, second}, batches)
}

func TestDirStore_GetMissingObject(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "dead-letter/nope.json.snappy")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestDirStore_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "a/b.txt", []byte("one")))
	require.NoError(t, store.Put(ctx, "a/b.txt", []byte("two")))

	data, err := store.Get(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)
}
