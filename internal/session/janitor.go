package session

import (
	"context"
	"log/slog"
	"time"
)

// Janitor periodically expires stale sessions in-process.
type Janitor struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger
}

// NewJanitor constructs a Janitor running every interval.
func NewJanitor(store *Store, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{store: store, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass.
func (j *Janitor) Sweep(ctx context.Context) int {
	expired, err := j.store.SweepExpired(ctx, j.store.Now(), j.store.MaxAge())
	if err != nil {
		j.logger.Error("session sweep failed", slog.Any("error", err))
		return expired
	}
	if expired > 0 {
		j.logger.Info("expired sessions", slog.Int("count", expired))
	}
	return expired
}
