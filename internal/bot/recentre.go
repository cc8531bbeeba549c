package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"grid-trading-bot-go/internal/models"
	"grid-trading-bot-go/internal/planner"

	"go.uber.org/zap"
)

// recentreTick hosts the adaptive tuning check and the recentring decision.
func (s *Session) recentreTick(ctx context.Context) {
	if !s.mu.TryLock() {
		return
	}
	defer s.mu.Unlock()

	if s.state != models.Running {
		return
	}
	s.maybeOptimizeLocked(ctx)
	if s.state != models.Running {
		return
	}

	callCtx, cancel := s.callContext(ctx)
	ticker, err := s.ex.GetTicker(callCtx, s.config.Symbol)
	cancel()
	if err != nil {
		s.logger.Warn("Recentre check skipped, ticker unavailable", zap.Error(err))
		return
	}
	if !s.shouldRecentre(s.now(), ticker.LastPrice) {
		return
	}
	if err := s.recentreLocked(ctx, ticker); err != nil {
		s.logger.Warn("Recentring did not complete", zap.Error(err))
	}
}

// shouldRecentre triggers on age or on price drift from the last centre.
func (s *Session) shouldRecentre(now time.Time, price float64) bool {
	if now.Sub(s.clock.LastGridUpdate) >= s.settings.RecentreMaxAge {
		return true
	}
	if s.clock.LastPrice <= 0 || price <= 0 {
		return false
	}
	drift := math.Abs(price-s.clock.LastPrice) / s.clock.LastPrice * 100
	return drift >= s.settings.RecentreDriftPct
}

// recentreLocked replaces the whole ladder with one centred on ticker's price.
// When the new ladder cannot be placed, the previous one is restored; when that fails
// too the session stops.
func (s *Session) recentreLocked(ctx context.Context, ticker *models.Ticker) error {
	symbol := s.config.Symbol
	spacing := planner.ComputeDynamicSpacing(ticker.High24h, ticker.Low24h, s.config.MaxDistance)
	ladderCfg := planner.EffectiveConfig(*s.config, spacing)
	ladder, err := planner.ComputeLadder(ladderCfg, ticker.LastPrice)
	if err != nil {
		return fmt.Errorf("compute ladder: %w", err)
	}

	// Account for legs that filled since the last reconciliation; the rebuild replaces them anyway.
	if _, err := s.reconcileLocked(ctx, false); err != nil {
		s.logger.Warn("Pre-recentre reconciliation failed", zap.Error(err))
	}

	snapshot, err := s.ledger.Orders(ctx, symbol)
	if err != nil {
		return fmt.Errorf("snapshot ladder: %w", err)
	}

	s.rebuilding = true
	defer func() { s.rebuilding = false }()

	s.logger.Info("Recentring grid",
		zap.Float64("from", s.clock.LastPrice),
		zap.Float64("to", ticker.LastPrice),
		zap.Duration("age", s.now().Sub(s.clock.LastGridUpdate)))

	ids := make([]string, 0, len(snapshot))
	for _, o := range snapshot {
		ids = append(ids, o.OrderID)
	}
	if failed := s.cancelAll(ctx, symbol, ids, "recentre"); failed > 0 {
		s.logger.Warn("Some orders could not be cancelled before recentring", zap.Int("failed", failed))
	}
	if err := s.ledger.Clear(ctx, symbol); err != nil {
		s.logger.Error("Failed to clear ledger before recentring", zap.Error(err))
	}

	placed, err := s.placeLadderLocked(ctx, symbol, ladder, "recentre")
	if err == nil {
		s.ladderConfig = ladderCfg
		s.clock = models.RecentringClock{LastGridUpdate: s.now(), LastPrice: ticker.LastPrice}
		s.metrics.Recentres.WithLabelValues("ok").Inc()
		s.publishLocked(ctx)
		return nil
	}
	s.rollbackLocked(ctx, symbol, placed)
	if errors.Is(err, errStopping) {
		s.publishLocked(ctx)
		return err
	}

	restoreLegs := make([]models.GridLeg, 0, len(snapshot))
	for _, o := range snapshot {
		restoreLegs = append(restoreLegs, o.Leg())
	}
	restored, restoreErr := s.placeLadderLocked(ctx, symbol, restoreLegs, "restore")
	if restoreErr == nil {
		s.metrics.Recentres.WithLabelValues("restored").Inc()
		s.publishLocked(ctx)
		s.logger.Warn("Recentring failed, previous ladder restored", zap.Int("legs", len(restored)), zap.Error(err))
		return err
	}
	s.rollbackLocked(ctx, symbol, restored)
	if errors.Is(restoreErr, errStopping) {
		s.publishLocked(ctx)
		return restoreErr
	}

	s.metrics.Recentres.WithLabelValues("fatal").Inc()
	s.fatalStopLocked(ctx, fmt.Errorf("recentre: %w; restore: %w", err, restoreErr))
	return err
}
