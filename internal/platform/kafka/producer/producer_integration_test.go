//go:build integration

package producer_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"arbiter/internal/platform/kafka/producer"
	"arbiter/pkg/testutil/containers"
)

type ProducerIntegrationSuite struct {
	suite.Suite
	kafka    *containers.KafkaContainer
	producer *producer.Producer
}

func TestProducerIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ProducerIntegrationSuite))
}

func (s *ProducerIntegrationSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.kafka = mgr.GetKafka(s.T())

	cfg := producer.Config{
		Brokers:         s.kafka.Brokers,
		Acks:            "all",
		Retries:         3,
		DeliveryTimeout: 10 * time.Second,
	}
	prod, err := producer.New(cfg, nil)
	s.Require().NoError(err)
	s.producer = prod
}

func (s *ProducerIntegrationSuite) TearDownSuite() {
	if s.producer != nil {
		s.producer.Close()
	}
}

// TestProduceSyncDeliversMessage verifies synchronous produce actually delivers.
// Invariant: Produce only returns success after broker acknowledgment.
func (s *ProducerIntegrationSuite) TestProduceSyncDeliversMessage() {
	ctx := context.Background()
	topic := "arbiter.audit.produce-sync"

	err := s.kafka.CreateTopic(ctx, topic, 1, 1)
	s.Require().NoError(err)

	eventID := uuid.New()
	msg := &producer.Message{
		Topic: topic,
		Key:   []byte(eventID.String()),
		Value: []byte(`{"status":"pending"}`),
	}

	err = s.producer.Produce(ctx, msg)
	s.Require().NoError(err)

	consumer, err := s.kafka.NewConsumer(ctx, "produce-sync-consumer", topic)
	s.Require().NoError(err)
	defer consumer.Close()

	record := s.kafka.WaitForMessage(ctx, consumer, 5*time.Second, func(r *kgo.Record) bool {
		return string(r.Key) == eventID.String()
	})

	s.Require().NotNil(record, "message should be consumable")
	s.Equal(`{"status":"pending"}`, string(record.Value))
}

// TestProducePreservesHeaders verifies header propagation.
// Invariant: All headers set on message must be retrievable by consumer.
func (s *ProducerIntegrationSuite) TestProducePreservesHeaders() {
	ctx := context.Background()
	topic := "arbiter.audit.produce-headers"

	err := s.kafka.CreateTopic(ctx, topic, 1, 1)
	s.Require().NoError(err)

	eventID := uuid.New()
	msg := &producer.Message{
		Topic: topic,
		Key:   []byte(eventID.String()),
		Value: []byte(`{"status":"executed"}`),
		Headers: map[string]string{
			"entry_id": "42",
			"kind":     "audit.status_changed",
		},
	}

	err = s.producer.Produce(ctx, msg)
	s.Require().NoError(err)

	consumer, err := s.kafka.NewConsumer(ctx, "produce-headers-consumer", topic)
	s.Require().NoError(err)
	defer consumer.Close()

	record := s.kafka.WaitForMessage(ctx, consumer, 5*time.Second, func(r *kgo.Record) bool {
		return string(r.Key) == eventID.String()
	})

	s.Require().NotNil(record, "message should be consumable")

	headers := make(map[string]string)
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}

	s.Equal("42", headers["entry_id"])
	s.Equal("audit.status_changed", headers["kind"])
}

// TestProduceToNonExistentTopicAutoCreates verifies auto-topic creation.
// Invariant: the broker auto-creates topics on first produce, so a fresh
// deployment can publish before any provisioning ran.
func (s *ProducerIntegrationSuite) TestProduceToNonExistentTopicAutoCreates() {
	ctx := context.Background()
	topic := "arbiter.audit.auto-create-" + time.Now().Format("20060102150405")

	msg := &producer.Message{
		Topic: topic,
		Key:   []byte("auto-create-key"),
		Value: []byte("auto-create-value"),
	}

	err := s.producer.Produce(ctx, msg)
	s.Require().NoError(err)

	consumer, err := s.kafka.NewConsumer(ctx, "auto-create-consumer", topic)
	s.Require().NoError(err)
	defer consumer.Close()

	record := s.kafka.WaitForMessage(ctx, consumer, 5*time.Second, func(r *kgo.Record) bool {
		return string(r.Key) == "auto-create-key"
	})

	s.Require().NotNil(record, "message should be consumable from auto-created topic")
}

// TestProducerHealthy verifies the health check against a running broker.
func (s *ProducerIntegrationSuite) TestProducerHealthy() {
	s.True(s.producer.Healthy(context.Background()))
}

// TestClosedProducerRejectsProduce verifies a closed producer fails fast
// instead of buffering into the void.
func (s *ProducerIntegrationSuite) TestClosedProducerRejectsProduce() {
	cfg := producer.Config{
		Brokers:         s.kafka.Brokers,
		Acks:            "all",
		Retries:         1,
		DeliveryTimeout: 5 * time.Second,
	}
	prod, err := producer.New(cfg, nil)
	s.Require().NoError(err)
	s.Require().NoError(prod.Close())

	err = prod.Produce(context.Background(), &producer.Message{
		Topic: "arbiter.audit.closed",
		Key:   []byte("k"),
		Value: []byte("v"),
	})
	s.Error(err)
	s.False(prod.Healthy(context.Background()))
}
