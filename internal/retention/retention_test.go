package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	eventstore "arbiter/internal/event/store"
	ledgerstore "arbiter/internal/ledger/store"
	"arbiter/internal/outbox"
	"arbiter/internal/sentinel"
	"arbiter/pkg/testutil"
)

func TestRunOnceSweepsExpiredRows(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	events := eventstore.New()
	oldEvent := testutil.NewEventBuilder().WithEntity("invoice", 1).Build()
	oldEvent.ReceivedAt = now.Add(-40 * 24 * time.Hour)
	require.NoError(t, events.Insert(ctx, oldEvent))

	freshEvent := testutil.NewEventBuilder().WithEntity("invoice", 2).Build()
	freshEvent.ReceivedAt = now.Add(-time.Hour)
	require.NoError(t, events.Insert(ctx, freshEvent))

	entries := outbox.NewInMemoryStore()
	oldEntry := outbox.NewEntry(1, oldEvent.EventID, outbox.KindAuditAppended, []byte(`{}`))
	require.NoError(t, entries.Append(ctx, oldEntry))
	require.NoError(t, entries.MarkProcessed(ctx, oldEntry.ID, now.Add(-8*24*time.Hour)))

	recentEntry := outbox.NewEntry(2, freshEvent.EventID, outbox.KindAuditAppended, []byte(`{}`))
	require.NoError(t, entries.Append(ctx, recentEntry))
	require.NoError(t, entries.MarkProcessed(ctx, recentEntry.ID, now.Add(-time.Hour)))

	// Unprocessed entries must survive any window.
	pendingEntry := outbox.NewEntry(3, freshEvent.EventID, outbox.KindStatusChanged, []byte(`{}`))
	require.NoError(t, entries.Append(ctx, pendingEntry))

	ledger := ledgerstore.New()
	_, err := ledger.Append(ctx, testutil.NewAuditBuilder().Build())
	require.NoError(t, err)
	_, err = ledger.Append(ctx, testutil.NewAuditBuilder().Build())
	require.NoError(t, err)

	svc, err := New(events, entries, ledger,
		WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	res, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.DeletedEvents)
	require.Equal(t, int64(1), res.DeletedOutboxEntries)
	require.Equal(t, int64(2), res.AuditRecords)

	_, err = events.Get(ctx, oldEvent.EventID)
	require.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = events.Get(ctx, freshEvent.EventID)
	require.NoError(t, err)

	pending, err := entries.CountPending(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), pending)
}

func TestRunOnceHonorsWindows(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	events := eventstore.New()
	event := testutil.NewEventBuilder().WithEntity("invoice", 1).Build()
	event.ReceivedAt = now.Add(-2 * time.Hour)
	require.NoError(t, events.Insert(ctx, event))

	svc, err := New(events, outbox.NewInMemoryStore(), ledgerstore.New(),
		WithEventWindow(time.Hour),
		WithOutboxWindow(time.Hour),
		WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	res, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.DeletedEvents)
}

type failingEventStore struct{}

func (failingEventStore) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, errors.New("events table locked")
}

func TestRunOnceAggregatesErrors(t *testing.T) {
	ctx := context.Background()

	entries := outbox.NewInMemoryStore()
	entry := outbox.NewEntry(1, testutil.NewEventBuilder().Build().EventID, outbox.KindAuditAppended, []byte(`{}`))
	require.NoError(t, entries.Append(ctx, entry))
	require.NoError(t, entries.MarkProcessed(ctx, entry.ID, time.Now().Add(-8*24*time.Hour)))

	svc, err := New(failingEventStore{}, entries, ledgerstore.New())
	require.NoError(t, err)

	res, err := svc.RunOnce(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "events table locked")
	// The outbox sweep still ran despite the event store failure.
	require.Equal(t, int64(1), res.DeletedOutboxEntries)
}

func TestNewRequiresStores(t *testing.T) {
	_, err := New(nil, outbox.NewInMemoryStore(), ledgerstore.New())
	require.Error(t, err)
}
