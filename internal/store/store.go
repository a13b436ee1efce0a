// Package store defines the persistence interface for the portfolio engine.
// Implementations include PostgreSQL, MongoDB, Redis (read-through cache
// over another store) and in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/tradedesk/portfolio-engine/internal/model"
)

// ErrNotFound is returned when a holding or order does not exist, or does
// not belong to the requesting owner.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. Holdings and positions live in
// separate books with identical semantics.
type Store interface {
	// --- Holdings / positions ---

	// ListHoldings returns the owner's lots in the given book.
	ListHoldings(ctx context.Context, book model.Book, ownerID string) ([]model.Holding, error)

	// ListAllHoldings returns every owner's lots in the given book.
	ListAllHoldings(ctx context.Context, book model.Book) ([]model.Holding, error)

	// GetHolding returns the lot for (owner, symbol), or ErrNotFound.
	GetHolding(ctx context.Context, book model.Book, ownerID, symbol string) (*model.Holding, error)

	// UpdateHoldingQuote writes price, net/day change and loss flag of h.
	UpdateHoldingQuote(ctx context.Context, book model.Book, h *model.Holding) error

	// --- Orders ---

	// ApplyOrder records the order and applies its lot change as one unit.
	ApplyOrder(ctx context.Context, order *model.Order, change model.HoldingChange) error

	// ListOrders returns the owner's orders, newest first.
	ListOrders(ctx context.Context, ownerID string) ([]model.Order, error)

	// DeleteOrder removes the owner's order, or returns ErrNotFound.
	DeleteOrder(ctx context.Context, ownerID, orderID string) error
}

func lotKey(book model.Book, ownerID, symbol string) string {
	return string(book) + "|" + ownerID + "|" + symbol
}
