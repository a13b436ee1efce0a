package quote

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tradedesk/portfolio-engine/internal/metrics"
	"github.com/tradedesk/portfolio-engine/internal/model"
)

// Fetcher resolves a single symbol. YahooClient is the production Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string) (*model.Quote, error)
}

// CacheConfig configures a Cache. Zero values take the defaults.
type CacheConfig struct {
	Window time.Duration // default 60s
	Delay  time.Duration // between provider requests; default 500ms, negative for none

	// Now and Sleep are overridden in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Cache memoizes quotes behind one shared refresh timestamp. While the
// window is open every call is answered from the map without touching the
// provider; the first call after it closes refetches the symbols it was
// given, one at a time.
//
// mu guards the map and timestamp only. It is not held while fetching, so
// two callers that both see an expired window will both refresh.
type Cache struct {
	fetcher Fetcher
	window  time.Duration
	delay   time.Duration
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	mu            sync.Mutex
	quotes        map[string]*model.Quote
	lastRefreshed time.Time
}

// NewCache creates an empty cache over fetcher.
func NewCache(fetcher Fetcher, cfg CacheConfig) *Cache {
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	} else if cfg.Delay == 0 {
		cfg.Delay = 500 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	return &Cache{
		fetcher: fetcher,
		window:  cfg.Window,
		delay:   cfg.Delay,
		now:     cfg.Now,
		sleep:   cfg.Sleep,
		quotes:  make(map[string]*model.Quote),
	}
}

// GetQuotes returns one entry per input symbol, in input order. A nil entry
// means no usable quote; provider failures are logged, never returned.
func (c *Cache) GetQuotes(ctx context.Context, symbols []string) []*model.Quote {
	start := c.now()

	c.mu.Lock()
	if c.fresh(start) {
		out := make([]*model.Quote, len(symbols))
		for i, sym := range symbols {
			out[i] = c.quotes[sym]
		}
		c.mu.Unlock()
		metrics.QuoteCacheRequests.WithLabelValues("hit").Inc()
		return out
	}
	c.mu.Unlock()
	metrics.QuoteCacheRequests.WithLabelValues("miss").Inc()

	out := c.refresh(ctx, symbols)

	c.mu.Lock()
	for i, q := range out {
		if q != nil {
			c.quotes[symbols[i]] = q
		}
	}
	// An aborted refresh did not query every symbol; leave the window
	// closed so the next caller refetches.
	if ctx.Err() == nil {
		c.lastRefreshed = start
	}
	c.mu.Unlock()

	return out
}

// LastRefreshed returns when the current window opened; zero before the
// first completed refresh.
func (c *Cache) LastRefreshed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRefreshed
}

// fresh reports whether the window is still open at t. Caller holds mu.
func (c *Cache) fresh(t time.Time) bool {
	return !c.lastRefreshed.IsZero() && t.Sub(c.lastRefreshed) < c.window
}

func (c *Cache) refresh(ctx context.Context, symbols []string) []*model.Quote {
	out := make([]*model.Quote, len(symbols))
	for i, sym := range symbols {
		if i > 0 {
			if err := c.sleep(ctx, c.delay); err != nil {
				slog.Warn("quote refresh aborted", "remaining", len(symbols)-i, "err", err)
				break
			}
		}

		q, err := c.fetcher.Fetch(ctx, sym)
		switch {
		case err == nil && q != nil:
			out[i] = q
			metrics.QuoteFetches.WithLabelValues("ok").Inc()
		case errors.Is(err, ErrUnavailable):
			metrics.QuoteFetches.WithLabelValues("unavailable").Inc()
		default:
			slog.Warn("quote fetch failed", "symbol", sym, "err", err)
			metrics.QuoteFetches.WithLabelValues("error").Inc()
		}
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
