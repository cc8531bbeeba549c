package bot

import (
	"context"

	"grid-trading-bot-go/internal/performance"

	"go.uber.org/zap"
)

// maybeOptimizeLocked adapts the grid density to the realized success rate, at most once
// per OptimizeInterval. A change restarts the session with the new grid line count.
func (s *Session) maybeOptimizeLocked(ctx context.Context) {
	now := s.now()
	if now.Sub(s.lastOptimize) < s.settings.OptimizeInterval {
		return
	}
	s.lastOptimize = now

	snap := s.tracker.Snapshot()
	current := s.config.GridLines
	next := performance.NextGridLines(current, snap)
	if next == current {
		s.metrics.Optimizations.WithLabelValues("unchanged").Inc()
		return
	}

	cfg := *s.config
	cfg.GridLines = next
	s.logger.Info("Adapting grid density",
		zap.Int("from", current),
		zap.Int("to", next),
		zap.Float64("successRate", performance.SuccessRate(snap)),
		zap.Int("trades", snap.TotalTrades))

	s.teardownLocked(ctx, "optimize")
	if err := s.launchLocked(ctx, cfg); err != nil {
		s.metrics.Optimizations.WithLabelValues("error").Inc()
		s.fatalStopLocked(ctx, err)
		return
	}
	s.metrics.Optimizations.WithLabelValues("applied").Inc()
}
