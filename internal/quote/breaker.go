package quote

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the provider breaker rejects requests.
var ErrCircuitOpen = errors.New("quote: circuit breaker open")

// BreakerConfig configures the provider circuit breaker.
type BreakerConfig struct {
	MaxFailures   uint32        // consecutive failures that open the breaker; default 5
	ResetTimeout  time.Duration // open period before a half-open trial request; default 30s
	OnStateChange func(from, to gobreaker.State)
}

// NewBreaker creates the breaker YahooClient runs requests through. Only
// errors that say the provider itself is unhealthy count as failures, and a
// half-open breaker lets exactly one request through.
func NewBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	st := gobreaker.Settings{
		Name:        "quote-provider",
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !countsAsFailure(err)
		},
	}
	if cfg.OnStateChange != nil {
		st.OnStateChange = func(_ string, from, to gobreaker.State) {
			cfg.OnStateChange(from, to)
		}
	}
	return gobreaker.NewCircuitBreaker(st)
}

// rejected reports whether err came from the breaker rather than the provider.
func rejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
