package portfolio

import (
	"context"
	"log/slog"
	"time"
)

// RefreshRunner is implemented by *Service.
type RefreshRunner interface {
	RefreshAndPersist(ctx context.Context) (int, error)
}

// Refresher runs RefreshAndPersist on a fixed interval until its context is
// cancelled. Runs never overlap each other, but may overlap with
// client-triggered refreshes.
type Refresher struct {
	svc      RefreshRunner
	interval time.Duration
}

// NewRefresher creates a refresher for svc. interval defaults to 5m.
func NewRefresher(svc RefreshRunner, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Refresher{svc: svc, interval: interval}
}

// Run blocks until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("price refresher started", "interval", r.interval.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("price refresher stopped")
			return
		case <-ticker.C:
			if _, err := r.svc.RefreshAndPersist(ctx); err != nil {
				slog.Error("scheduled price refresh failed", "err", err)
			}
		}
	}
}
