// Package portfolio applies orders to holdings and positions with
// average-cost accounting, and merges live quotes into them.
//
// Money is shopspring/decimal throughout.
package portfolio

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradedesk/portfolio-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// ApplyOrder computes the effect of o on the owner's current lot in book.
// existing is nil when the owner has no lot for the symbol. The returned
// change carries the full post-order record; nothing is written.
//
//	BUY,  no lot:  create {qty, avg = price, price}
//	BUY,  lot:     qty += q; avg = (avg*oldQty + price*q) / newQty; price = order price
//	SELL, no lot:  ErrNoSuchHolding
//	SELL, q > qty: ErrInsufficientHolding
//	SELL, q = qty: delete
//	SELL, q < qty: qty -= q; price = order price; avg unchanged
func ApplyOrder(book model.Book, existing *model.Holding, o *model.Order, now time.Time) (model.HoldingChange, error) {
	switch o.Side {
	case model.SideBuy:
		if existing == nil {
			return model.HoldingChange{
				Book: book,
				Op:   model.ChangeCreate,
				Holding: model.Holding{
					ID:           uuid.New().String(),
					OwnerID:      o.OwnerID,
					Symbol:       o.Symbol,
					Product:      o.Product,
					Qty:          o.Qty,
					AvgCost:      o.Price,
					Price:        o.Price,
					NetChangePct: decimal.Zero,
					DayChangePct: decimal.Zero,
					IsLoss:       false,
					CreatedAt:    now,
					UpdatedAt:    now,
				},
			}, nil
		}

		h := *existing
		newQty := h.Qty + o.Qty
		cost := h.AvgCost.Mul(decimal.NewFromInt(h.Qty)).Add(o.Price.Mul(decimal.NewFromInt(o.Qty)))
		h.AvgCost = cost.Div(decimal.NewFromInt(newQty))
		h.Qty = newQty
		h.Price = o.Price
		h.UpdatedAt = now
		return model.HoldingChange{Book: book, Op: model.ChangeUpdate, Holding: h}, nil

	case model.SideSell:
		if existing == nil {
			return model.HoldingChange{}, fmt.Errorf("%w: %s", ErrNoSuchHolding, o.Symbol)
		}
		if existing.Qty < o.Qty {
			return model.HoldingChange{}, fmt.Errorf("%w: %s holds %d, sell %d",
				ErrInsufficientHolding, o.Symbol, existing.Qty, o.Qty)
		}

		h := *existing
		h.Qty -= o.Qty
		if h.Qty <= 0 {
			return model.HoldingChange{Book: book, Op: model.ChangeDelete, Holding: h}, nil
		}
		h.Price = o.Price
		h.UpdatedAt = now
		return model.HoldingChange{Book: book, Op: model.ChangeUpdate, Holding: h}, nil

	default:
		return model.HoldingChange{}, fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrValidation, o.Side)
	}
}

// Merge returns h with the quote's price, net change vs average cost, day
// change and loss flag. A nil quote returns h unchanged, keeping the last
// stored values.
func Merge(h model.Holding, q *model.Quote) model.Holding {
	if q == nil {
		return h
	}
	h.Price = q.Price
	h.NetChangePct = NetChangePct(q.Price, h.AvgCost)
	h.DayChangePct = q.PercentChange
	h.IsLoss = q.PercentChange.IsNegative()
	return h
}

// NetChangePct is (price - avg) / avg * 100; zero when avg is zero.
func NetChangePct(price, avg decimal.Decimal) decimal.Decimal {
	if avg.IsZero() {
		return decimal.Zero
	}
	return price.Sub(avg).Div(avg).Mul(hundred)
}

// FormatPercent renders pct with two decimals, a "%" suffix and an explicit
// "+" for non-negative values: +1.23%, -0.50%, +0.00%.
func FormatPercent(pct decimal.Decimal) string {
	r := pct.Round(2)
	if r.IsNegative() {
		return r.StringFixed(2) + "%"
	}
	return "+" + r.StringFixed(2) + "%"
}

// Summarize totals holdings: investment Σ avg·qty, current value Σ price·qty,
// P&L and P&L% (zero when nothing is invested).
func Summarize(ownerID string, holdings []model.Holding) model.Summary {
	invested := decimal.Zero
	current := decimal.Zero
	for _, h := range holdings {
		qty := decimal.NewFromInt(h.Qty)
		invested = invested.Add(h.AvgCost.Mul(qty))
		current = current.Add(h.Price.Mul(qty))
	}

	pnl := current.Sub(invested)
	pnlPct := decimal.Zero
	if invested.IsPositive() {
		pnlPct = pnl.Div(invested).Mul(hundred).Round(2)
	}

	return model.Summary{
		OwnerID:         ownerID,
		Holdings:        len(holdings),
		TotalInvestment: invested,
		CurrentValue:    current,
		PnL:             pnl,
		PnLPct:          pnlPct,
	}
}

// distinctSymbols returns each symbol once, in first-seen order.
func distinctSymbols(books ...[]model.Holding) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, hs := range books {
		for _, h := range hs {
			if !seen[h.Symbol] {
				seen[h.Symbol] = true
				out = append(out, h.Symbol)
			}
		}
	}
	return out
}
