package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/internal/event/models"
	"arbiter/internal/sentinel"
)

func newEvent(received time.Time) *models.ChangeEvent {
	body := []byte(`{"entity_type":"invoice","entity_id":42,"operation":"created"}`)
	return &models.ChangeEvent{
		EventID:    models.DeriveEventID(body),
		EntityType: "invoice",
		EntityID:   42,
		Operation:  models.OperationCreated,
		Payload:    json.RawMessage(`{"amount":120.5}`),
		TraceID:    "trace-1",
		ReceivedAt: received,
	}
}

func TestInsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := New()
	event := newEvent(time.Now())

	require.NoError(t, s.Insert(ctx, event))

	got, err := s.Get(ctx, event.EventID)
	require.NoError(t, err)
	assert.Equal(t, event.EventID, got.EventID)
	assert.Equal(t, "invoice", got.EntityType)
	assert.Equal(t, int64(42), got.EntityID)
	assert.Equal(t, models.OperationCreated, got.Operation)
}

func TestInsertDuplicateReturnsConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	event := newEvent(time.Now())

	require.NoError(t, s.Insert(ctx, event))
	err := s.Insert(ctx, event)
	assert.ErrorIs(t, err, sentinel.ErrConflict)
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	s := New()
	event := newEvent(time.Now())

	_, err := s.Get(context.Background(), event.EventID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	event := newEvent(time.Now())
	require.NoError(t, s.Insert(ctx, event))

	got, err := s.Get(ctx, event.EventID)
	require.NoError(t, err)
	got.EntityType = "mutated"

	again, err := s.Get(ctx, event.EventID)
	require.NoError(t, err)
	assert.Equal(t, "invoice", again.EntityType)
}

func TestDeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	old := newEvent(now.Add(-48 * time.Hour))
	recent := &models.ChangeEvent{
		EventID:    models.DeriveEventID([]byte("another body")),
		EntityType: "order",
		EntityID:   7,
		Operation:  models.OperationUpdated,
		ReceivedAt: now,
	}
	require.NoError(t, s.Insert(ctx, old))
	require.NoError(t, s.Insert(ctx, recent))

	deleted, err := s.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = s.Get(ctx, old.EventID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = s.Get(ctx, recent.EventID)
	assert.NoError(t, err)
}
