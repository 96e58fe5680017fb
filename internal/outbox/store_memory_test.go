package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func seedEntry(t *testing.T, store *InMemoryStore, createdAt time.Time) *Entry {
	t.Helper()
	entry := NewEntry(1, uuid.New(), KindAuditAppended, []byte(`{}`))
	entry.CreatedAt = createdAt
	require.NoError(t, store.Append(context.Background(), entry))
	return entry
}

func TestInMemoryStoreFetchUnprocessed(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	newest := seedEntry(t, store, base.Add(2*time.Hour))
	oldest := seedEntry(t, store, base)
	middle := seedEntry(t, store, base.Add(time.Hour))

	entries, err := store.FetchUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, oldest.ID, entries[0].ID)
	require.Equal(t, middle.ID, entries[1].ID)
	require.Equal(t, newest.ID, entries[2].ID)

	limited, err := store.FetchUnprocessed(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)

	none, err := store.FetchUnprocessed(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestInMemoryStoreMarkProcessed(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	entry := seedEntry(t, store, time.Now().UTC())

	require.NoError(t, store.MarkProcessed(ctx, entry.ID, time.Now()))

	count, err := store.CountPending(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	err = store.MarkProcessed(ctx, entry.ID, time.Now())
	require.ErrorContains(t, err, "already processed")

	err = store.MarkProcessed(ctx, uuid.New(), time.Now())
	require.ErrorContains(t, err, "not found")
}

func TestInMemoryStoreDeleteProcessedBefore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	cutoff := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	old := seedEntry(t, store, cutoff.Add(-48*time.Hour))
	recent := seedEntry(t, store, cutoff.Add(-time.Hour))
	pending := seedEntry(t, store, cutoff.Add(-72*time.Hour))

	require.NoError(t, store.MarkProcessed(ctx, old.ID, cutoff.Add(-24*time.Hour)))
	require.NoError(t, store.MarkProcessed(ctx, recent.ID, cutoff.Add(time.Hour)))

	deleted, err := store.DeleteProcessedBefore(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	// Pending entries survive cleanup regardless of age.
	entries, err := store.FetchUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, pending.ID, entries[0].ID)
}
