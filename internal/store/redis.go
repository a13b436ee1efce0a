package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradedesk/portfolio-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// per-owner list reads. Writes go to the primary store and invalidate the
// affected owner's keys; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) ApplyOrder(ctx context.Context, order *model.Order, change model.HoldingChange) error {
	if err := s.primary.ApplyOrder(ctx, order, change); err != nil {
		return err
	}
	s.rdb.Del(ctx, holdingsKey(change.Book, order.OwnerID), ordersKey(order.OwnerID))
	return nil
}

func (s *CachedStore) UpdateHoldingQuote(ctx context.Context, book model.Book, h *model.Holding) error {
	if err := s.primary.UpdateHoldingQuote(ctx, book, h); err != nil {
		return err
	}
	s.rdb.Del(ctx, holdingsKey(book, h.OwnerID))
	return nil
}

func (s *CachedStore) DeleteOrder(ctx context.Context, ownerID, orderID string) error {
	if err := s.primary.DeleteOrder(ctx, ownerID, orderID); err != nil {
		return err
	}
	s.rdb.Del(ctx, ordersKey(ownerID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListHoldings(ctx context.Context, book model.Book, ownerID string) ([]model.Holding, error) {
	key := holdingsKey(book, ownerID)
	var holdings []model.Holding
	if s.cached(ctx, key, &holdings) {
		return holdings, nil
	}

	holdings, err := s.primary.ListHoldings(ctx, book, ownerID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, holdings)
	return holdings, nil
}

func (s *CachedStore) ListOrders(ctx context.Context, ownerID string) ([]model.Order, error) {
	key := ordersKey(ownerID)
	var orders []model.Order
	if s.cached(ctx, key, &orders) {
		return orders, nil
	}

	orders, err := s.primary.ListOrders(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, orders)
	return orders, nil
}

// --- Passthrough (not cached) ---

// GetHolding always reads the primary: order placement validates against it.
func (s *CachedStore) GetHolding(ctx context.Context, book model.Book, ownerID, symbol string) (*model.Holding, error) {
	return s.primary.GetHolding(ctx, book, ownerID, symbol)
}

func (s *CachedStore) ListAllHoldings(ctx context.Context, book model.Book) ([]model.Holding, error) {
	return s.primary.ListAllHoldings(ctx, book)
}

// --- Cache helpers ---

func (s *CachedStore) cached(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) store(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func holdingsKey(book model.Book, uid string) string { return fmt.Sprintf("%s:%s", book, uid) }
func ordersKey(uid string) string                    { return fmt.Sprintf("orders:%s", uid) }
