package store

import (
	"context"
	"log/slog"
	"time"
)

// RetentionConfig defines how long cached rows stay valid.
type RetentionConfig struct {
	TokenCache time.Duration // default 10m
}

// DefaultRetention returns the default retention periods.
func DefaultRetention() RetentionConfig {
	return RetentionConfig{
		TokenCache: 10 * time.Minute,
	}
}

// Pruner periodically removes expired rows from the store.
type Pruner struct {
	store     *Store
	retention RetentionConfig
	interval  time.Duration
	now       func() time.Time
}

// NewPruner creates a pruner with the given retention config.
func NewPruner(store *Store, retention RetentionConfig) *Pruner {
	return &Pruner{
		store:     store,
		retention: retention,
		interval:  5 * time.Minute,
		now:       time.Now,
	}
}

// Run starts the pruner loop. It blocks until the context is cancelled.
func (p *Pruner) Run(ctx context.Context) error {
	slog.Info("pruner started", "interval", p.interval)

	// Run once at startup
	p.prune()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("pruner stopped")
			return ctx.Err()
		case <-ticker.C:
			p.prune()
		}
	}
}

func (p *Pruner) prune() {
	cutoff := p.now().Add(-p.retention.TokenCache).UnixMilli()
	result, err := p.store.db.Exec("DELETE FROM token_cache WHERE saved_at < ?", cutoff)
	if err != nil {
		slog.Error("pruning failed", "table", "token_cache", "error", err)
		return
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		slog.Debug("pruned expired tokens", "rows", rows)
	}
}
