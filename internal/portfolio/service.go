package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradedesk/portfolio-engine/internal/events"
	"github.com/tradedesk/portfolio-engine/internal/metrics"
	"github.com/tradedesk/portfolio-engine/internal/model"
	"github.com/tradedesk/portfolio-engine/internal/store"
)

// QuoteSource returns one quote (or nil) per symbol, in input order.
// *quote.Cache is the production QuoteSource.
type QuoteSource interface {
	GetQuotes(ctx context.Context, symbols []string) []*model.Quote
}

// Update types pushed to live clients.
const (
	UpdateOrderPlaced     = "order_placed"
	UpdateOrderCancelled  = "order_cancelled"
	UpdatePricesRefreshed = "prices_refreshed"
)

// Update is a notification for live clients. An empty OwnerID addresses
// every client.
type Update struct {
	Type      string       `json:"type"`
	OwnerID   string       `json:"owner_id,omitempty"`
	Book      model.Book   `json:"book,omitempty"`
	Order     *model.Order `json:"order,omitempty"`
	Updated   int          `json:"updated,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Broadcaster pushes updates to connected clients without blocking.
type Broadcaster interface {
	Broadcast(u Update)
}

// OrderRequest is the input of PlaceOrder.
type OrderRequest struct {
	Symbol  string          `json:"symbol"`
	Qty     int64           `json:"qty"`
	Price   decimal.Decimal `json:"price"`
	Side    model.Side      `json:"side"`
	Product string          `json:"product,omitempty"` // "" or CNC: holdings; MIS, NRML, ...: positions
}

// UnmarshalJSON accepts qty as a JSON number or a numeric string ("10"),
// as order forms submit it.
func (r *OrderRequest) UnmarshalJSON(b []byte) error {
	type plain OrderRequest
	var aux struct {
		plain
		Qty json.Number `json:"qty"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*r = OrderRequest(aux.plain)
	if aux.Qty == "" {
		r.Qty = 0
		return nil
	}
	qty, err := strconv.ParseInt(aux.Qty.String(), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: qty must be a whole number, got %q", ErrValidation, aux.Qty.String())
	}
	r.Qty = qty
	return nil
}

// LiveView is an owner's holdings and positions merged with live quotes.
type LiveView struct {
	Holdings  []model.Holding `json:"holdings"`
	Positions []model.Holding `json:"positions"`
	Timestamp time.Time       `json:"timestamp"`
}

// Service implements the portfolio operations. Order placement is
// serialized with a mutex (single-instance); quote reads and refreshes are
// not, and may overlap.
type Service struct {
	store  store.Store
	quotes QuoteSource
	events events.Publisher
	hub    Broadcaster // optional
	mu     sync.Mutex
	now    func() time.Time
}

// NewService creates a portfolio service. pub and hub may be nil.
func NewService(st store.Store, quotes QuoteSource, pub events.Publisher, hub Broadcaster) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		store:  st,
		quotes: quotes,
		events: pub,
		hub:    hub,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder validates req, applies it to the owner's holdings or positions
// and records the order. A rejected SELL writes nothing.
func (s *Service) PlaceOrder(ctx context.Context, ownerID string, req OrderRequest) (*model.Order, error) {
	start := time.Now()

	req, err := normalize(ownerID, req)
	if err != nil {
		metrics.OrderRejections.WithLabelValues(Kind(err)).Inc()
		return nil, err
	}
	book := model.BookFor(req.Product)

	order, err := s.placeLocked(ctx, ownerID, book, req)
	if err != nil {
		if kind := Kind(err); kind != "internal" {
			metrics.OrderRejections.WithLabelValues(kind).Inc()
		}
		return nil, err
	}

	metrics.OrdersTotal.WithLabelValues(string(order.Side), string(book)).Inc()
	metrics.OrderLatency.WithLabelValues(string(order.Side)).Observe(time.Since(start).Seconds())

	slog.Info("order placed",
		"order_id", order.ID,
		"owner", ownerID,
		"symbol", order.Symbol,
		"side", order.Side,
		"qty", order.Qty,
		"price", order.Price.String(),
		"book", book,
	)

	s.publish(ctx, events.TypeOrderPlaced, book, order)
	s.broadcast(Update{Type: UpdateOrderPlaced, OwnerID: ownerID, Book: book, Order: order, Timestamp: order.CreatedAt})
	return order, nil
}

func (s *Service) placeLocked(ctx context.Context, ownerID string, book model.Book, req OrderRequest) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.GetHolding(ctx, book, ownerID, req.Symbol)
	if errors.Is(err, store.ErrNotFound) {
		existing = nil
	} else if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", book, req.Symbol, err)
	}

	now := s.now()
	order := &model.Order{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Symbol:    req.Symbol,
		Qty:       req.Qty,
		Price:     req.Price,
		Side:      req.Side,
		Product:   req.Product,
		Status:    model.OrderStatusCompleted,
		CreatedAt: now,
	}

	change, err := ApplyOrder(book, existing, order, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.ApplyOrder(ctx, order, change); err != nil {
		return nil, fmt.Errorf("apply order %s: %w", order.ID, err)
	}
	return order, nil
}

func normalize(ownerID string, req OrderRequest) (OrderRequest, error) {
	req.Symbol = strings.TrimSpace(req.Symbol)
	req.Side = model.Side(strings.ToUpper(strings.TrimSpace(string(req.Side))))
	req.Product = strings.ToUpper(strings.TrimSpace(req.Product))

	switch {
	case ownerID == "":
		return req, fmt.Errorf("%w: owner is required", ErrValidation)
	case req.Symbol == "":
		return req, fmt.Errorf("%w: symbol is required", ErrValidation)
	case req.Qty <= 0:
		return req, fmt.Errorf("%w: qty must be positive", ErrValidation)
	case !req.Price.IsPositive():
		return req, fmt.Errorf("%w: price must be positive", ErrValidation)
	case !req.Side.Valid():
		return req, fmt.Errorf("%w: side must be BUY or SELL", ErrValidation)
	}
	return req, nil
}

// ListHoldings returns the owner's stored holdings.
func (s *Service) ListHoldings(ctx context.Context, ownerID string) ([]model.Holding, error) {
	return s.list(ctx, model.BookHoldings, ownerID)
}

// ListPositions returns the owner's stored positions.
func (s *Service) ListPositions(ctx context.Context, ownerID string) ([]model.Holding, error) {
	return s.list(ctx, model.BookPositions, ownerID)
}

func (s *Service) list(ctx context.Context, book model.Book, ownerID string) ([]model.Holding, error) {
	hs, err := s.store.ListHoldings(ctx, book, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", book, err)
	}
	if hs == nil {
		hs = []model.Holding{}
	}
	return hs, nil
}

// ListOrders returns the owner's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, ownerID string) ([]model.Order, error) {
	orders, err := s.store.ListOrders(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if orders == nil {
		orders = []model.Order{}
	}
	return orders, nil
}

// CancelOrder deletes one of the owner's orders. Holdings are not reversed.
func (s *Service) CancelOrder(ctx context.Context, ownerID, orderID string) error {
	err := s.store.DeleteOrder(ctx, ownerID, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}

	slog.Info("order cancelled", "order_id", orderID, "owner", ownerID)

	cancelled := &model.Order{ID: orderID, OwnerID: ownerID}
	s.publish(ctx, events.TypeOrderCancelled, "", cancelled)
	s.broadcast(Update{Type: UpdateOrderCancelled, OwnerID: ownerID, Order: cancelled, Timestamp: s.now()})
	return nil
}

// LivePrices merges the cache's quotes into the owner's holdings and
// positions. Nothing is written.
func (s *Service) LivePrices(ctx context.Context, ownerID string) (*LiveView, error) {
	holdings, err := s.list(ctx, model.BookHoldings, ownerID)
	if err != nil {
		return nil, err
	}
	positions, err := s.list(ctx, model.BookPositions, ownerID)
	if err != nil {
		return nil, err
	}

	bySymbol := s.quoteMap(ctx, distinctSymbols(holdings, positions))
	for i := range holdings {
		holdings[i] = Merge(holdings[i], bySymbol[holdings[i].Symbol])
	}
	for i := range positions {
		positions[i] = Merge(positions[i], bySymbol[positions[i].Symbol])
	}

	return &LiveView{Holdings: holdings, Positions: positions, Timestamp: s.now()}, nil
}

// Quotes returns cached quotes for arbitrary symbols, such as market indices.
func (s *Service) Quotes(ctx context.Context, symbols []string) []*model.Quote {
	return s.quotes.GetQuotes(ctx, symbols)
}

// Summary totals the owner's holdings at live prices.
func (s *Service) Summary(ctx context.Context, ownerID string) (model.Summary, error) {
	view, err := s.LivePrices(ctx, ownerID)
	if err != nil {
		return model.Summary{}, err
	}
	return Summarize(ownerID, view.Holdings), nil
}

// RefreshAndPersist quotes every symbol held by any owner and writes the
// merged price, net/day change and loss flag back for each record with a
// quote. Records whose write fails are logged and picked up on the next run.
// Returns the number of records written.
func (s *Service) RefreshAndPersist(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.RefreshDuration.Observe(time.Since(start).Seconds()) }()

	holdings, err := s.store.ListAllHoldings(ctx, model.BookHoldings)
	if err != nil {
		return 0, fmt.Errorf("list holdings: %w", err)
	}
	positions, err := s.store.ListAllHoldings(ctx, model.BookPositions)
	if err != nil {
		return 0, fmt.Errorf("list positions: %w", err)
	}

	bySymbol := s.quoteMap(ctx, distinctSymbols(holdings, positions))
	now := s.now()

	updated := 0
	for _, b := range []struct {
		book model.Book
		hs   []model.Holding
	}{{model.BookHoldings, holdings}, {model.BookPositions, positions}} {
		for _, h := range b.hs {
			q := bySymbol[h.Symbol]
			if q == nil {
				continue
			}
			merged := Merge(h, q)
			merged.UpdatedAt = now
			if err := s.store.UpdateHoldingQuote(ctx, b.book, &merged); err != nil {
				slog.Warn("persist quote failed", "book", b.book, "id", h.ID, "symbol", h.Symbol, "err", err)
				continue
			}
			updated++
		}
	}

	metrics.RefreshPersisted.Add(float64(updated))
	slog.Info("prices refreshed",
		"symbols", len(bySymbol),
		"records", len(holdings)+len(positions),
		"updated", updated,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	s.broadcast(Update{Type: UpdatePricesRefreshed, Updated: updated, Timestamp: now})
	return updated, nil
}

// quoteMap fetches symbols through the cache and indexes the non-nil results.
func (s *Service) quoteMap(ctx context.Context, symbols []string) map[string]*model.Quote {
	out := make(map[string]*model.Quote, len(symbols))
	if len(symbols) == 0 {
		return out
	}
	quotes := s.quotes.GetQuotes(ctx, symbols)
	for i, q := range quotes {
		if q != nil && i < len(symbols) {
			out[symbols[i]] = q
		}
	}
	return out
}

// publishTimeout bounds how long a committed order waits on the event
// publisher.
const publishTimeout = 2 * time.Second

// publish runs detached from the request so a client disconnect after commit
// does not drop the event.
func (s *Service) publish(ctx context.Context, typ string, book model.Book, o *model.Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	ev := events.OrderEvent{Type: typ, Book: book, Order: *o, OccurredAt: s.now()}
	if err := s.events.Publish(ctx, ev); err != nil {
		metrics.EventPublishFailures.Inc()
		slog.Warn("publish order event failed", "type", typ, "order_id", o.ID, "err", err)
	}
}

func (s *Service) broadcast(u Update) {
	if s.hub != nil {
		s.hub.Broadcast(u)
	}
}
