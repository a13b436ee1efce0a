// Package model defines the core domain types shared across the portfolio engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Book selects which collection of lots an instrument lives in.
type Book string

const (
	BookHoldings  Book = "holdings"
	BookPositions Book = "positions"
)

// ProductDelivery is the product label of delivery (holdings book) orders.
const ProductDelivery = "CNC"

// BookFor returns the book an order with the given product label belongs to.
// Delivery and unlabeled orders go to holdings, every other product
// (MIS, NRML, ...) is a position.
func BookFor(product string) Book {
	if product == "" || product == ProductDelivery {
		return BookHoldings
	}
	return BookPositions
}

// OrderStatusCompleted is the only order status; orders fill immediately.
const OrderStatusCompleted = "Completed"

// Holding is an owner's standing lot in one instrument. Positions share the
// same shape and carry a Product label.
// Unique per (book, owner, symbol); Qty is always > 0 while the record exists.
type Holding struct {
	ID           string          `json:"id" db:"id"`
	OwnerID      string          `json:"owner_id" db:"owner_id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Product      string          `json:"product,omitempty" db:"product"`
	Qty          int64           `json:"qty" db:"qty"`
	AvgCost      decimal.Decimal `json:"avg_cost" db:"avg_cost"`
	Price        decimal.Decimal `json:"price" db:"price"`                     // last known price
	NetChangePct decimal.Decimal `json:"net_change_pct" db:"net_change_pct"` // vs average cost
	DayChangePct decimal.Decimal `json:"day_change_pct" db:"day_change_pct"` // vs previous close
	IsLoss       bool            `json:"is_loss" db:"is_loss"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Order is a completed order. Never modified after creation; it may only be
// deleted (cancelled), which does not touch holdings.
type Order struct {
	ID        string          `json:"id" db:"id"`
	OwnerID   string          `json:"owner_id" db:"owner_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Qty       int64           `json:"qty" db:"qty"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Side      Side            `json:"side" db:"side"`
	Product   string          `json:"product,omitempty" db:"product"`
	Status    string          `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Quote is a point-in-time price snapshot for one instrument. Not persisted.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`         // price - previous close
	PercentChange decimal.Decimal `json:"percent_change"` // change / previous close * 100
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Volume        int64           `json:"volume"`
	FetchedAt     time.Time       `json:"fetched_at"`
}

// ChangeOp is the kind of mutation an order applies to a lot.
type ChangeOp int

const (
	ChangeCreate ChangeOp = iota + 1
	ChangeUpdate
	ChangeDelete
)

func (op ChangeOp) String() string {
	switch op {
	case ChangeCreate:
		return "create"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// HoldingChange is the effect of one order on one book. Holding carries the
// full post-change record for create/update and the removed record for delete.
type HoldingChange struct {
	Book    Book
	Op      ChangeOp
	Holding Holding
}

// Summary aggregates an owner's holdings into dashboard totals.
type Summary struct {
	OwnerID         string          `json:"owner_id"`
	Holdings        int             `json:"holdings"`
	TotalInvestment decimal.Decimal `json:"total_investment"` // Σ avg cost × qty
	CurrentValue    decimal.Decimal `json:"current_value"`    // Σ price × qty
	PnL             decimal.Decimal `json:"pnl"`
	PnLPct          decimal.Decimal `json:"pnl_pct"`
}
