package notify

import (
	"context"
	"time"
)

// CountPruner drops daily counters for days before the given day key.
type CountPruner interface {
	PruneCounts(ctx context.Context, before string) (int64, error)
}

// RunPruner deletes counters older than retainDays on every tick until ctx is
// cancelled. Counters for the current UTC day are always kept.
func (p *Policy) RunPruner(ctx context.Context, pruner CountPruner, interval time.Duration, retainDays int) {
	if interval <= 0 || pruner == nil {
		return
	}
	if retainDays < 1 {
		retainDays = 1
	}

	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			before := DayKey(p.clock.Now().AddDate(0, 0, -(retainDays - 1)))
			n, err := pruner.PruneCounts(ctx, before)
			if err != nil {
				p.logger.Warn("notification counter prune failed", "before", before, "error", err)
				continue
			}
			if n > 0 {
				p.logger.Info("notification counters pruned", "before", before, "removed", n)
			}
		}
	}
}
