package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"arbiter/internal/outbox"
	"arbiter/internal/platform/kafka/producer"
)

type fakeProducer struct {
	mu       sync.Mutex
	messages []*producer.Message
	failures int
}

func (f *fakeProducer) Produce(ctx context.Context, msg *producer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unavailable")
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeProducer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeProducer) message(i int) *producer.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[i]
}

type WorkerTestSuite struct {
	suite.Suite
	store    *outbox.InMemoryStore
	producer *fakeProducer
	ctx      context.Context
}

func (s *WorkerTestSuite) SetupTest() {
	s.store = outbox.NewInMemoryStore()
	s.producer = &fakeProducer{}
	s.ctx = context.Background()
}

func (s *WorkerTestSuite) newWorker() *Worker {
	return New(s.store, s.producer,
		WithTopic("test.audit.records"),
		WithPollInterval(10*time.Millisecond),
		WithBatchSize(10),
	)
}

func (s *WorkerTestSuite) stop(w *Worker) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Require().NoError(w.Stop(ctx))
}

func (s *WorkerTestSuite) TestPublishesPendingEntries() {
	eventID := uuid.New()
	for i := 0; i < 3; i++ {
		entry := outbox.NewEntry(int64(i+1), eventID, outbox.KindAuditAppended, []byte(`{"status":"pending"}`))
		s.Require().NoError(s.store.Append(s.ctx, entry))
	}

	w := s.newWorker()
	w.Start()

	s.Eventually(func() bool {
		count, _ := s.store.CountPending(s.ctx)
		return count == 0
	}, 5*time.Second, 10*time.Millisecond)

	s.stop(w)

	s.Require().Equal(3, s.producer.count())
	msg := s.producer.message(0)
	s.Equal("test.audit.records", msg.Topic)
	s.Equal(eventID.String(), string(msg.Key))
	s.Equal(string(outbox.KindAuditAppended), msg.Headers["kind"])
	s.NotEmpty(msg.Headers["entry_id"])
}

func (s *WorkerTestSuite) TestFailedPublishRetriedOnNextPoll() {
	s.producer.failures = 2

	entry := outbox.NewEntry(1, uuid.New(), outbox.KindStatusChanged, []byte(`{"status":"executed"}`))
	s.Require().NoError(s.store.Append(s.ctx, entry))

	w := s.newWorker()
	w.Start()

	s.Eventually(func() bool {
		count, _ := s.store.CountPending(s.ctx)
		return count == 0
	}, 5*time.Second, 10*time.Millisecond)

	s.stop(w)

	s.Equal(1, s.producer.count())
}

func (s *WorkerTestSuite) TestStopDrainsRemainingEntries() {
	for i := 0; i < 5; i++ {
		entry := outbox.NewEntry(int64(i+1), uuid.New(), outbox.KindAuditAppended, []byte(`{}`))
		s.Require().NoError(s.store.Append(s.ctx, entry))
	}

	// Long poll interval so the drain path, not the ticker, does the work.
	w := New(s.store, s.producer,
		WithTopic("test.audit.records"),
		WithPollInterval(time.Hour),
	)
	w.Start()
	s.stop(w)

	count, err := s.store.CountPending(s.ctx)
	s.Require().NoError(err)
	s.Zero(count)
	s.Equal(5, s.producer.count())
}

func (s *WorkerTestSuite) TestProcessedEntriesNotRepublished() {
	entry := outbox.NewEntry(1, uuid.New(), outbox.KindAuditAppended, []byte(`{}`))
	s.Require().NoError(s.store.Append(s.ctx, entry))
	s.Require().NoError(s.store.MarkProcessed(s.ctx, entry.ID, time.Now()))

	w := s.newWorker()
	w.Start()
	time.Sleep(50 * time.Millisecond)
	s.stop(w)

	s.Zero(s.producer.count())
}

func TestWorkerTestSuite(t *testing.T) {
	suite.Run(t, new(WorkerTestSuite))
}
