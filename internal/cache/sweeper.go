package cache

import (
	"context"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
)

// RunSweeper calls ClearStale every interval until ctx is cancelled. A failed
// sweep is retried with exponential backoff capped at the interval.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.logger.Info("cache sweeper started", "interval", interval)

	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cache sweeper stopping", "reason", ctx.Err())
			return
		case <-ticker.Chan():
			c.sweepWithRetry(ctx, interval)
		}
	}
}

func (c *Cache) sweepWithRetry(ctx context.Context, maxBackoff time.Duration) {
	backoff := time.Second
	for {
		removed, err := c.ClearStale(ctx)
		if err == nil {
			if removed > 0 {
				c.logger.Info("cache sweep complete", "removed", removed)
			}
			return
		}
		c.logger.Warn("cache sweep failed", "removed", removed, "error", err, "retry_in", backoff)
		if !retry.SleepWithContext(ctx, backoff) {
			return
		}
		backoff = retry.NextBackoff(backoff, maxBackoff)
	}
}
