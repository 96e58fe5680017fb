// Package queue provides the durable, at-least-once work queue that decouples
// event ingress from pipeline processing.
//
// A dequeued message is held under a lease (visibility timeout): it stays
// invisible to other workers until acked, requeued, or reaped after the lease
// expires. Delivery is therefore at-least-once and consumers must be
// idempotent per event.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Message is the work item enqueued for one change event.
type Message struct {
	EventID    uuid.UUID `json:"event_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Lease is a message held by exactly one worker. Attempt counts deliveries
// including this one, so consumers can bound redelivery of poison messages.
type Lease struct {
	Message
	token string
}

// Token returns the opaque lease token identifying this delivery.
func (l *Lease) Token() string {
	return l.token
}

// Queue is the work queue contract.
//
// Error contract: Dequeue returns sentinel.ErrEmpty when nothing is ready
// (callers poll); Ack and Requeue return sentinel.ErrNotFound when the lease
// is no longer held (expired and reaped by another worker).
type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
	Dequeue(ctx context.Context, leaseTTL time.Duration) (*Lease, error)
	Ack(ctx context.Context, lease *Lease) error
	Requeue(ctx context.Context, lease *Lease) error
	Depth(ctx context.Context) (int64, error)
	ReapExpired(ctx context.Context) (int, error)
}
