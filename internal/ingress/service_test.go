package ingress

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	eventmodels "arbiter/internal/event/models"
	eventstore "arbiter/internal/event/store"
	ledgerservice "arbiter/internal/ledger/service"
	ledgerstore "arbiter/internal/ledger/store"
	"arbiter/internal/queue"
	dErrors "arbiter/pkg/domain-errors"
	"arbiter/pkg/testutil"
)

type fakeQueue struct {
	mu       sync.Mutex
	messages []queue.Message
	err      error
}

func (q *fakeQueue) Enqueue(_ context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.messages = append(q.messages, msg)
	return nil
}

func (q *fakeQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

type IngressServiceSuite struct {
	suite.Suite
	secret  []byte
	events  *eventstore.InMemoryStore
	ledger  *ledgerservice.Service
	queue   *fakeQueue
	service *Service
	ctx     context.Context
}

func (s *IngressServiceSuite) SetupTest() {
	s.secret = []byte("webhook-secret")
	s.events = eventstore.New()
	s.ledger = ledgerservice.NewService(ledgerstore.New(), nil)
	s.queue = &fakeQueue{}
	s.service = NewService(s.secret, s.events, s.ledger, s.queue)
	s.ctx = context.Background()
}

func (s *IngressServiceSuite) ingest(body string) (*Result, error) {
	raw := []byte(body)
	return s.service.Ingest(s.ctx, raw, ComputeSignature(s.secret, raw), "trace-1")
}

const validBody = `{"entity_type":"invoice","entity_id":42,"operation":"updated","payload":{"status":"posted"}}`

func (s *IngressServiceSuite) TestIngestAcceptsSignedEvent() {
	result, err := s.ingest(validBody)
	s.Require().NoError(err)
	s.True(result.Accepted)

	stored, err := s.events.Get(s.ctx, result.EventID)
	s.Require().NoError(err)
	s.Equal("invoice", stored.EntityType)
	s.Equal(int64(42), stored.EntityID)
	s.Equal("trace-1", stored.TraceID)
	s.JSONEq(`{"status":"posted"}`, string(stored.Payload))

	s.Require().Equal(1, s.queue.depth())
	s.Equal(result.EventID, s.queue.messages[0].EventID)
	s.Equal("trace-1", s.queue.messages[0].TraceID)
}

func (s *IngressServiceSuite) TestIngestRejectsBadSignature() {
	raw := []byte(validBody)

	_, err := s.service.Ingest(s.ctx, raw, "deadbeef", "trace-1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeSignatureInvalid))
	s.Equal(0, s.queue.depth())
}

func (s *IngressServiceSuite) TestIngestRejectsSchemaViolations() {
	bodies := map[string]string{
		"missing entity_type": `{"entity_id":42,"operation":"updated"}`,
		"unknown operation":   `{"entity_type":"invoice","entity_id":42,"operation":"upserted"}`,
		"negative entity_id":  `{"entity_type":"invoice","entity_id":-1,"operation":"updated"}`,
		"not json":            `entity_type=invoice`,
	}

	for name, body := range bodies {
		s.Run(name, func() {
			_, err := s.ingest(body)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeSchemaInvalid), "unexpected error: %v", err)
		})
	}
	s.Equal(0, s.queue.depth())
}

func (s *IngressServiceSuite) TestIngestDerivesDeterministicEventID() {
	first, err := s.ingest(validBody)
	s.Require().NoError(err)

	second, err := s.ingest(validBody)
	s.Require().NoError(err)
	s.Equal(first.EventID, second.EventID)
	s.False(second.Accepted)
}

func (s *IngressServiceSuite) TestIngestDuplicateWithAuditRecordNotReenqueued() {
	first, err := s.ingest(validBody)
	s.Require().NoError(err)

	_, err = s.ledger.Append(s.ctx, testutil.NewAuditBuilder().WithEventID(first.EventID).Build())
	s.Require().NoError(err)

	second, err := s.ingest(validBody)
	s.Require().NoError(err)
	s.False(second.Accepted)
	s.Equal(1, s.queue.depth())
}

func (s *IngressServiceSuite) TestIngestDuplicateWithoutAuditRecordReplayed() {
	_, err := s.ingest(validBody)
	s.Require().NoError(err)

	// No audit record yet: the first delivery may have died before its
	// queue message was consumed, so the redelivery goes back on the queue.
	second, err := s.ingest(validBody)
	s.Require().NoError(err)
	s.False(second.Accepted)
	s.Equal(2, s.queue.depth())
}

func (s *IngressServiceSuite) TestIngestQueueFailureSurfaces() {
	s.queue.err = context.DeadlineExceeded

	result, err := s.ingest(validBody)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Nil(result)

	// The event row is already durable; the retry path goes through the
	// duplicate branch.
	_, err = s.events.Get(s.ctx, eventmodels.DeriveEventID([]byte(validBody)))
	s.Require().NoError(err)
}

func TestIngressServiceSuite(t *testing.T) {
	suite.Run(t, new(IngressServiceSuite))
}
