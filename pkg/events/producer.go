package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"sparkfield/pkg/logging"
)

// Event types published to the firehose topic.
const (
	TypeSparkCreated        = "spark_created"
	TypeInteractionRecorded = "interaction_recorded"
	TypeSparkWithered       = "spark_withered"
	TypeLiquidationSettled  = "liquidation_settled"
)

// SparkEvent is a lifecycle event emitted for downstream analytics.
type SparkEvent struct {
	EventID    string  `json:"event_id"`
	EventType  string  `json:"event_type"`
	SparkID    string  `json:"spark_id"`
	AccountID  string  `json:"account_id,omitempty"`
	Cell       string  `json:"cell,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Amount     int64   `json:"amount,omitempty"`
	Timestamp  int64   `json:"timestamp"`
}

// Producer publishes spark lifecycle events. A nil Producer is a no-op so
// the engines never need to know whether the firehose is configured.
type Producer struct {
	client *kgo.Client
	logger logging.Logger
	topic  string
}

// NewProducer creates a Kafka producer for the firehose topic.
func NewProducer(brokers []string, topic string, logger logging.Logger) (*Producer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID("lantern"),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10 * time.Millisecond),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Producer{client: client, logger: logger, topic: topic}, nil
}

// Publish sends an event fire-and-forget. Failures are logged, never
// propagated: the firehose is observability, not correctness.
func (p *Producer) Publish(ctx context.Context, event SparkEvent) {
	if p == nil || p.client == nil {
		return
	}
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	value, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).Error("Failed to marshal spark event")
		return
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.SparkID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}

	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			p.logger.WithError(err).WithField("event_type", event.EventType).Warn("Failed to publish spark event")
		}
	})
}

// Close flushes and closes the underlying client.
func (p *Producer) Close() {
	if p == nil || p.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.client.Flush(ctx)
	p.client.Close()
}
