package scheduler

import (
	"context"
	"time"

	"github.com/kasuganosora/raidloot/server/metrics"
	"go.uber.org/zap"
)

// Totals reports entity counts for the stats gauges.
type Totals interface {
	Totals(ctx context.Context) (members, weeks, assignments int64, err error)
}

// StatsTask refreshes the entity gauges from src.
func StatsTask(src Totals, m *metrics.Metrics, logger *zap.Logger) TaskFn {
	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		members, weeks, assignments, err := src.Totals(ctx)
		if err != nil {
			logger.Warn("stats refresh failed", zap.Error(err))
			return
		}
		m.SetTotals(members, weeks, assignments)
		logger.Debug("stats refreshed",
			zap.Int64("members", members),
			zap.Int64("weeks", weeks),
			zap.Int64("assignments", assignments))
	}
}
