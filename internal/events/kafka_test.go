package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/tradedesk/portfolio-engine/internal/events"
	"github.com/tradedesk/portfolio-engine/internal/model"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &captureWriter{}
	p := events.NewKafkaPublisher(w)
	at := time.Date(2024, 5, 2, 9, 15, 0, 0, time.UTC)

	ev := events.OrderEvent{
		Type: events.TypeOrderPlaced,
		Book: model.BookHoldings,
		Order: model.Order{
			ID:      "ord-1",
			OwnerID: "user1",
			Symbol:  "INFY",
			Qty:     10,
			Price:   decimal.NewFromInt(1500),
			Side:    model.SideBuy,
			Status:  model.OrderStatusCompleted,
		},
		OccurredAt: at,
	}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "user1" {
		t.Errorf("expected owner key, got %q", msg.Key)
	}
	if !msg.Time.Equal(at) {
		t.Errorf("expected message time %s, got %s", at, msg.Time)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != events.TypeOrderPlaced {
		t.Errorf("expected type header, got %v", msg.Headers)
	}

	var got events.OrderEvent
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Order.ID != "ord-1" || !got.Order.Price.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("unexpected payload %+v", got.Order)
	}
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := events.NewKafkaPublisher(&captureWriter{err: boom})

	err := p.Publish(context.Background(), events.OrderEvent{Type: events.TypeOrderCancelled})
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped broker error, got %v", err)
	}
}

func TestNewKafkaWriter_AsyncWithCompletion(t *testing.T) {
	w := events.NewKafkaWriter([]string{"localhost:9092"}, "orders")
	defer w.Close()

	if !w.Async {
		t.Error("order writes must not block on broker acks")
	}
	if w.Completion == nil {
		t.Fatal("expected a completion callback for delivery errors")
	}
	if w.Topic != "orders" {
		t.Errorf("expected topic orders, got %q", w.Topic)
	}
	// Delivery errors are reported, never raised.
	w.Completion([]kafka.Message{{Topic: "orders", Key: []byte("user1")}}, errors.New("broker down"))
	w.Completion(nil, nil)
}
