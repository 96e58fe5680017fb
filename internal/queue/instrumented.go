package queue

import (
	"context"
	"time"
)

// Instrumented decorates a Queue with Prometheus collectors. Counting lives
// here so the memory and Redis implementations stay metric-free and a test
// can use either one bare.
type Instrumented struct {
	q Queue
	m *Metrics
}

// NewInstrumented wraps q with the given collectors. A nil metrics set
// returns q unchanged.
func NewInstrumented(q Queue, m *Metrics) Queue {
	if m == nil {
		return q
	}
	return &Instrumented{q: q, m: m}
}

func (i *Instrumented) Enqueue(ctx context.Context, msg Message) error {
	if err := i.q.Enqueue(ctx, msg); err != nil {
		return err
	}
	i.m.Enqueued.Inc()
	return nil
}

func (i *Instrumented) Dequeue(ctx context.Context, leaseTTL time.Duration) (*Lease, error) {
	return i.q.Dequeue(ctx, leaseTTL)
}

func (i *Instrumented) Ack(ctx context.Context, lease *Lease) error {
	if err := i.q.Ack(ctx, lease); err != nil {
		return err
	}
	i.m.Acked.Inc()
	return nil
}

func (i *Instrumented) Requeue(ctx context.Context, lease *Lease) error {
	if err := i.q.Requeue(ctx, lease); err != nil {
		return err
	}
	i.m.Requeued.Inc()
	return nil
}

// Depth reads the ready count and refreshes the depth gauge as a side
// effect; the pipeline's reap loop polls it for exactly that reason.
func (i *Instrumented) Depth(ctx context.Context) (int64, error) {
	depth, err := i.q.Depth(ctx)
	if err != nil {
		return 0, err
	}
	i.m.Depth.Set(float64(depth))
	return depth, nil
}

func (i *Instrumented) ReapExpired(ctx context.Context) (int, error) {
	n, err := i.q.ReapExpired(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		i.m.Reaped.Add(float64(n))
	}
	return n, nil
}
