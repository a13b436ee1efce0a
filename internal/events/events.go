// Package events publishes order lifecycle events to downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/tradedesk/portfolio-engine/internal/model"
)

// Event types.
const (
	TypeOrderPlaced    = "order.placed"
	TypeOrderCancelled = "order.cancelled"
)

// OrderEvent is the payload written for every placed or cancelled order.
type OrderEvent struct {
	Type       string      `json:"type"`
	Book       model.Book  `json:"book,omitempty"`
	Order      model.Order `json:"order"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Publisher delivers order events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev OrderEvent) error
}

// Nop discards every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, OrderEvent) error { return nil }
