package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"arbiter/internal/sentinel"
)

type inflightEntry struct {
	msg      Message
	deadline time.Time
}

// InMemoryQueue is a mutex-guarded queue for tests and single-node runs.
// FIFO for ready messages; expired leases return to the back of the line.
type InMemoryQueue struct {
	mu       sync.Mutex
	ready    []Message
	inflight map[string]inflightEntry
	clock    func() time.Time
}

// MemoryOption configures the InMemoryQueue.
type MemoryOption func(*InMemoryQueue)

// WithClock injects a custom clock for deterministic lease-expiry tests.
func WithClock(clock func() time.Time) MemoryOption {
	return func(q *InMemoryQueue) {
		q.clock = clock
	}
}

// NewMemory constructs an empty in-memory queue.
func NewMemory(opts ...MemoryOption) *InMemoryQueue {
	q := &InMemoryQueue{
		inflight: make(map[string]inflightEntry),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *InMemoryQueue) Enqueue(_ context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = append(q.ready, msg)
	return nil
}

func (q *InMemoryQueue) Dequeue(_ context.Context, leaseTTL time.Duration) (*Lease, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return nil, sentinel.ErrEmpty
	}

	msg := q.ready[0]
	q.ready = q.ready[1:]
	msg.Attempt++

	token := uuid.NewString()
	q.inflight[token] = inflightEntry{
		msg:      msg,
		deadline: q.clock().Add(leaseTTL),
	}
	return &Lease{Message: msg, token: token}, nil
}

func (q *InMemoryQueue) Ack(_ context.Context, lease *Lease) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[lease.token]; !ok {
		return sentinel.ErrNotFound
	}
	delete(q.inflight, lease.token)
	return nil
}

func (q *InMemoryQueue) Requeue(_ context.Context, lease *Lease) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.inflight[lease.token]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(q.inflight, lease.token)
	q.ready = append(q.ready, entry.msg)
	return nil
}

func (q *InMemoryQueue) Depth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ready)), nil
}

// ReapExpired returns expired leases to the ready queue so another worker can
// retry the event. Returns the number of leases reclaimed.
func (q *InMemoryQueue) ReapExpired(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock()
	reaped := 0
	for token, entry := range q.inflight {
		if now.After(entry.deadline) {
			delete(q.inflight, token)
			q.ready = append(q.ready, entry.msg)
			reaped++
		}
	}
	return reaped, nil
}
