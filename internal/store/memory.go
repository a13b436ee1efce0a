package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tradedesk/portfolio-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	holdings map[string]*memLot // lotKey → lot
	orders   []model.Order      // append order == creation order
	seq      int64
}

type memLot struct {
	seq int64
	h   model.Holding
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		holdings: make(map[string]*memLot),
	}
}

func (s *MemoryStore) ListHoldings(_ context.Context, book model.Book, ownerID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(book, func(h *model.Holding) bool { return h.OwnerID == ownerID }), nil
}

func (s *MemoryStore) ListAllHoldings(_ context.Context, book model.Book) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(book, func(*model.Holding) bool { return true }), nil
}

// collect returns matching lots of a book in insertion order. Caller holds the lock.
func (s *MemoryStore) collect(book model.Book, keep func(*model.Holding) bool) []model.Holding {
	prefix := string(book) + "|"
	lots := make([]*memLot, 0)
	for key, lot := range s.holdings {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if keep(&lot.h) {
			lots = append(lots, lot)
		}
	}
	sort.Slice(lots, func(i, j int) bool { return lots[i].seq < lots[j].seq })

	out := make([]model.Holding, 0, len(lots))
	for _, lot := range lots {
		out = append(out, lot.h)
	}
	return out
}

func (s *MemoryStore) GetHolding(_ context.Context, book model.Book, ownerID, symbol string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lot, ok := s.holdings[lotKey(book, ownerID, symbol)]
	if !ok {
		return nil, fmt.Errorf("%s %s for %s: %w", book, symbol, ownerID, ErrNotFound)
	}
	h := lot.h
	return &h, nil
}

func (s *MemoryStore) UpdateHoldingQuote(_ context.Context, book model.Book, h *model.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lot, ok := s.holdings[lotKey(book, h.OwnerID, h.Symbol)]
	if !ok || lot.h.ID != h.ID {
		return fmt.Errorf("%s %s: %w", book, h.ID, ErrNotFound)
	}
	lot.h.Price = h.Price
	lot.h.NetChangePct = h.NetChangePct
	lot.h.DayChangePct = h.DayChangePct
	lot.h.IsLoss = h.IsLoss
	lot.h.UpdatedAt = h.UpdatedAt
	return nil
}

// ApplyOrder records the order and applies the lot change under one lock.
func (s *MemoryStore) ApplyOrder(_ context.Context, order *model.Order, change model.HoldingChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := change.Holding
	key := lotKey(change.Book, h.OwnerID, h.Symbol)

	switch change.Op {
	case model.ChangeCreate:
		if _, exists := s.holdings[key]; exists {
			return fmt.Errorf("%s %s for %s already exists", change.Book, h.Symbol, h.OwnerID)
		}
		s.seq++
		s.holdings[key] = &memLot{seq: s.seq, h: h}
	case model.ChangeUpdate:
		lot, ok := s.holdings[key]
		if !ok {
			return fmt.Errorf("%s %s for %s: %w", change.Book, h.Symbol, h.OwnerID, ErrNotFound)
		}
		lot.h = h
	case model.ChangeDelete:
		if _, ok := s.holdings[key]; !ok {
			return fmt.Errorf("%s %s for %s: %w", change.Book, h.Symbol, h.OwnerID, ErrNotFound)
		}
		delete(s.holdings, key)
	default:
		return fmt.Errorf("unknown holding change %s", change.Op)
	}

	s.orders = append(s.orders, *order)
	return nil
}

func (s *MemoryStore) ListOrders(_ context.Context, ownerID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Order, 0)
	for i := len(s.orders) - 1; i >= 0; i-- {
		if s.orders[i].OwnerID == ownerID {
			result = append(result, s.orders[i])
		}
	}
	return result, nil
}

func (s *MemoryStore) DeleteOrder(_ context.Context, ownerID, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, o := range s.orders {
		if o.ID == orderID && o.OwnerID == ownerID {
			s.orders = append(s.orders[:i], s.orders[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
}
