package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tradedesk/portfolio-engine/internal/metrics"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes order events as JSON, keyed by owner so that one
// owner's events stay ordered within a partition.
type KafkaPublisher struct {
	w MessageWriter
}

// NewKafkaWriter constructs an async kafka.Writer for the order topic.
// WriteMessages only enqueues; delivery failures are logged and counted from
// the completion callback.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Transport:    &kafka.Transport{DialTimeout: 10 * time.Second},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion:   logDelivery,
	}
}

func logDelivery(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	metrics.EventPublishFailures.Add(float64(len(msgs)))
	for _, m := range msgs {
		slog.Warn("order event delivery failed", "topic", m.Topic, "key", string(m.Key), "err", err)
	}
}

// NewKafkaPublisher creates a publisher over w.
func NewKafkaPublisher(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{w: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev OrderEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.Order.OwnerID),
		Value: b,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s %s: %w", ev.Type, ev.Order.ID, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
