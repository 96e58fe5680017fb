package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/internal/sentinel"
)

func TestDequeueEmptyQueue(t *testing.T) {
	q := NewMemory()

	_, err := q.Dequeue(context.Background(), time.Minute)
	assert.ErrorIs(t, err, sentinel.ErrEmpty)
}

func TestEnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()
	msg := Message{EventID: uuid.New(), TraceID: "trace-1", EnqueuedAt: time.Now()}

	require.NoError(t, q.Enqueue(ctx, msg))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	lease, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, msg.EventID, lease.EventID)
	assert.Equal(t, 1, lease.Attempt)
	assert.NotEmpty(t, lease.Token())

	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth, "leased message must not be ready")

	require.NoError(t, q.Ack(ctx, lease))

	_, err = q.Dequeue(ctx, time.Minute)
	assert.ErrorIs(t, err, sentinel.ErrEmpty, "acked message must be gone")
}

func TestDequeueIsFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()
	first := Message{EventID: uuid.New()}
	second := Message{EventID: uuid.New()}

	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	leaseA, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	leaseB, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, first.EventID, leaseA.EventID)
	assert.Equal(t, second.EventID, leaseB.EventID)
}

func TestRequeueMakesMessageAvailableAgain(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()
	msg := Message{EventID: uuid.New()}
	require.NoError(t, q.Enqueue(ctx, msg))

	lease, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.Requeue(ctx, lease))

	again, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, msg.EventID, again.EventID)
	assert.Equal(t, 2, again.Attempt, "attempt counts every delivery")
}

func TestAckUnknownLease(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()
	msg := Message{EventID: uuid.New()}
	require.NoError(t, q.Enqueue(ctx, msg))

	lease, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, lease))

	assert.ErrorIs(t, q.Ack(ctx, lease), sentinel.ErrNotFound)
	assert.ErrorIs(t, q.Requeue(ctx, lease), sentinel.ErrNotFound)
}

func TestReapExpiredLeases(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := func() time.Time { return now }
	q := NewMemory(WithClock(clock))

	msg := Message{EventID: uuid.New()}
	require.NoError(t, q.Enqueue(ctx, msg))

	lease, err := q.Dequeue(ctx, 30*time.Second)
	require.NoError(t, err)

	// Lease still live: nothing to reap.
	reaped, err := q.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, reaped)

	// Worker "crashes"; the lease expires.
	now = now.Add(31 * time.Second)

	reaped, err = q.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	// The original lease can no longer be acked.
	assert.ErrorIs(t, q.Ack(ctx, lease), sentinel.ErrNotFound)

	// Another worker picks the message up again.
	retry, err := q.Dequeue(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, msg.EventID, retry.EventID)
	assert.Equal(t, 2, retry.Attempt)
}
