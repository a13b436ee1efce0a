// Package api exposes the portfolio service over HTTP and WebSocket.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tradedesk/portfolio-engine/internal/model"
	"github.com/tradedesk/portfolio-engine/internal/portfolio"
)

// maxQuoteSymbols bounds GET /quotes; each uncached symbol costs one
// sequential provider call.
const maxQuoteSymbols = 50

// Handler serves the /api/v1 routes.
type Handler struct {
	svc *portfolio.Service
	hub *WSHub // optional
}

// NewHandler creates the HTTP handler set. Pass nil for hub if WebSocket
// updates are not needed.
func NewHandler(svc *portfolio.Service, hub *WSHub) *Handler {
	return &Handler{svc: svc, hub: hub}
}

// Routes mounts every owner-scoped route on r.
func (h *Handler) Routes(r chi.Router) {
	r.Use(RequireOwner)

	r.Get("/holdings", h.ListHoldings)
	r.Get("/positions", h.ListPositions)

	r.Get("/orders", h.ListOrders)
	r.Post("/orders", h.PlaceOrder)
	r.Delete("/orders/{orderID}", h.CancelOrder)

	r.Get("/live/prices", h.LivePrices)
	r.Post("/live/refresh", h.Refresh)

	r.Get("/summary", h.Summary)
	r.Get("/quotes", h.Quotes)

	if h.hub != nil {
		r.Get("/ws", h.hub.HandleWS)
	}
}

// --- Response types ---

// HoldingView is a holding or position as rendered to clients, with the
// percentages also preformatted ("+1.23%").
type HoldingView struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Product      string          `json:"product,omitempty"`
	Qty          int64           `json:"qty"`
	AvgCost      decimal.Decimal `json:"avg_cost"`
	Price        decimal.Decimal `json:"price"`
	CurrentValue decimal.Decimal `json:"current_value"`
	NetChangePct decimal.Decimal `json:"net_change_pct"`
	DayChangePct decimal.Decimal `json:"day_change_pct"`
	Net          string          `json:"net"`
	Day          string          `json:"day"`
	IsLoss       bool            `json:"is_loss"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// LiveResponse is the body of GET /live/prices.
type LiveResponse struct {
	Holdings  []HoldingView `json:"holdings"`
	Positions []HoldingView `json:"positions"`
	Timestamp time.Time     `json:"timestamp"`
}

func newHoldingView(h model.Holding) HoldingView {
	return HoldingView{
		ID:           h.ID,
		Symbol:       h.Symbol,
		Product:      h.Product,
		Qty:          h.Qty,
		AvgCost:      h.AvgCost,
		Price:        h.Price,
		CurrentValue: h.Price.Mul(decimal.NewFromInt(h.Qty)),
		NetChangePct: h.NetChangePct.Round(2),
		DayChangePct: h.DayChangePct.Round(2),
		Net:          portfolio.FormatPercent(h.NetChangePct),
		Day:          portfolio.FormatPercent(h.DayChangePct),
		IsLoss:       h.IsLoss,
		UpdatedAt:    h.UpdatedAt,
	}
}

func newHoldingViews(hs []model.Holding) []HoldingView {
	out := make([]HoldingView, 0, len(hs))
	for _, h := range hs {
		out = append(out, newHoldingView(h))
	}
	return out
}

// --- HTTP Handlers ---

// ListHoldings handles GET /api/v1/holdings
func (h *Handler) ListHoldings(w http.ResponseWriter, r *http.Request) {
	hs, err := h.svc.ListHoldings(r.Context(), OwnerID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newHoldingViews(hs))
}

// ListPositions handles GET /api/v1/positions
func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	ps, err := h.svc.ListPositions(r.Context(), OwnerID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newHoldingViews(ps))
}

// ListOrders handles GET /api/v1/orders
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.ListOrders(r.Context(), OwnerID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// PlaceOrder handles POST /api/v1/orders
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req portfolio.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	order, err := h.svc.PlaceOrder(r.Context(), OwnerID(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}
// Deletes the order record only; holdings are not reversed.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	if err := h.svc.CancelOrder(r.Context(), OwnerID(r.Context()), orderID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": orderID, "status": "cancelled"})
}

// LivePrices handles GET /api/v1/live/prices
func (h *Handler) LivePrices(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.LivePrices(r.Context(), OwnerID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LiveResponse{
		Holdings:  newHoldingViews(view.Holdings),
		Positions: newHoldingViews(view.Positions),
		Timestamp: view.Timestamp,
	})
}

// Refresh handles POST /api/v1/live/refresh
// Quotes every held symbol and persists the merged values.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.RefreshAndPersist(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": n, "timestamp": time.Now().UTC()})
}

// Summary handles GET /api/v1/summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Summary(r.Context(), OwnerID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"holdings":         s.Holdings,
		"total_investment": s.TotalInvestment.Round(2),
		"current_value":    s.CurrentValue.Round(2),
		"pnl":              s.PnL.Round(2),
		"pnl_pct":          s.PnLPct,
		"pnl_display":      portfolio.FormatPercent(s.PnLPct),
	})
}

// Quotes handles GET /api/v1/quotes?symbols=^NSEI,^BSESN
// Entries are null where no quote is available.
func (h *Handler) Quotes(w http.ResponseWriter, r *http.Request) {
	symbols := splitSymbols(r.URL.Query().Get("symbols"))
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "validation", "symbols is required")
		return
	}
	if len(symbols) > maxQuoteSymbols {
		writeError(w, http.StatusBadRequest, "validation", "too many symbols")
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Quotes(r.Context(), symbols))
}

func splitSymbols(raw string) []string {
	out := make([]string, 0)
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// --- Response helpers ---

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Code: code, Message: message})
}

// writeServiceError maps portfolio errors to status codes. Internal errors
// are logged and not echoed to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := portfolio.Kind(err)
	switch {
	case errors.Is(err, portfolio.ErrValidation),
		errors.Is(err, portfolio.ErrNoSuchHolding),
		errors.Is(err, portfolio.ErrInsufficientHolding):
		writeError(w, http.StatusBadRequest, kind, err.Error())
	case errors.Is(err, portfolio.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, kind, err.Error())
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, kind, "internal error")
	}
}
