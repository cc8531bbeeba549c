package bot

import (
	"context"
	"errors"
	"fmt"

	"grid-trading-bot-go/internal/apperrors"
	"grid-trading-bot-go/internal/exchange"
	"grid-trading-bot-go/internal/models"
	"grid-trading-bot-go/internal/planner"

	"go.uber.org/zap"
)

// reconcileTick runs one reconciliation pass unless another operation owns the session.
func (s *Session) reconcileTick(ctx context.Context) {
	if !s.mu.TryLock() {
		s.metrics.ReconcileTicks.WithLabelValues("skipped").Inc()
		return
	}
	defer s.mu.Unlock()

	if s.state != models.Running || s.rebuilding {
		s.metrics.ReconcileTicks.WithLabelValues("skipped").Inc()
		return
	}
	fills, err := s.reconcileLocked(ctx, true)
	if err != nil {
		s.metrics.ReconcileTicks.WithLabelValues("error").Inc()
		if apperrors.IsTransient(err) {
			s.logger.Warn("Reconciliation skipped, will retry next tick", zap.Error(err))
		} else {
			s.logger.Error("Reconciliation failed", zap.Error(err))
		}
		return
	}
	s.metrics.ReconcileTicks.WithLabelValues("ok").Inc()
	if fills > 0 {
		s.publishLocked(ctx)
	}
}

// reconcileLocked compares the ledger with the exchange's open orders. Every tracked
// order that is no longer open is treated as filled and replaced on the opposite side.
// It returns the number of fills handled. With replace unset fills are only accounted.
func (s *Session) reconcileLocked(ctx context.Context, replace bool) (int, error) {
	symbol := s.config.Symbol

	callCtx, cancel := s.callContext(ctx)
	open, err := exchange.AllOpenOrders(callCtx, s.ex, symbol, s.settings.PageSize)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("fetch open orders: %w", err)
	}
	tracked, err := s.ledger.List(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("list ledger: %w", err)
	}

	openIDs := make(map[string]struct{}, len(open))
	for _, o := range open {
		openIDs[o.ID] = struct{}{}
	}

	fills := 0
	for _, id := range tracked {
		if _, ok := openIDs[id]; ok {
			continue
		}
		if ctx.Err() != nil {
			return fills, ctx.Err()
		}
		if s.handleFillLocked(ctx, symbol, id, replace) {
			fills++
		}
	}
	return fills, nil
}

// handleFillLocked processes one vanished order: statistics, ledger removal and the
// replacement leg. Failures are logged and do not affect other fills.
func (s *Session) handleFillLocked(ctx context.Context, symbol, orderID string, replace bool) bool {
	meta, err := s.ledger.Get(ctx, symbol, orderID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		s.logger.Warn("Failed to read tracked order", zap.String("orderId", orderID), zap.Error(err))
	}

	fill, ok := s.fillDetails(ctx, symbol, orderID, meta)
	if !ok {
		s.logger.Error("Order vanished without details, dropping it", zap.String("orderId", orderID))
		if err := s.ledger.Remove(ctx, symbol, orderID); err != nil {
			s.logger.Warn("Failed to remove order from ledger", zap.String("orderId", orderID), zap.Error(err))
		}
		return false
	}

	// Forget the order before anything else so a later tick can never count it twice.
	if err := s.ledger.Remove(ctx, symbol, orderID); err != nil {
		s.logger.Error("Failed to remove filled order from ledger", zap.String("orderId", orderID), zap.Error(err))
		return false
	}

	snap := s.tracker.RecordFill(fill)
	s.metrics.Fills.WithLabelValues(string(fill.Side)).Inc()
	s.metrics.RealizedPnL.Set(snap.TotalProfit)
	if err := s.repo.SaveStats(ctx, symbol, snap); err != nil {
		s.logger.Warn("Failed to persist stats", zap.Error(err))
	}
	if s.journal != nil {
		if err := s.journal.MarkFilled(ctx, orderID, fill.Quantity, fill.Time); err != nil {
			s.logger.Warn("Failed to journal fill", zap.String("orderId", orderID), zap.Error(err))
		}
		if err := s.journal.SaveStats(ctx, symbol, snap); err != nil {
			s.logger.Warn("Failed to journal stats", zap.Error(err))
		}
	}
	s.logger.Info("Order filled",
		zap.String("orderId", orderID),
		zap.String("side", string(fill.Side)),
		zap.Float64("price", fill.Price),
		zap.Float64("quantity", fill.Quantity),
		zap.Float64("totalProfit", snap.TotalProfit))

	if !replace {
		return true
	}
	leg := planner.ComputeReplacementLeg(models.GridLeg{Side: fill.Side, Price: fill.Price, Quantity: fill.Quantity}, s.ladderConfig)
	replacement, err := s.placeLeg(ctx, symbol, leg, "replacement")
	if err != nil {
		// Not retried within the tick; the ladder runs one leg short until the next recentre.
		s.logger.Error("Replacement order failed", zap.String("filledOrderId", orderID), zap.Error(err))
		return true
	}
	s.logger.Info("Replacement order placed",
		zap.String("orderId", replacement.OrderID),
		zap.String("side", string(replacement.Side)),
		zap.Float64("price", replacement.Price))
	return true
}

// fillDetails prefers the exchange's view of the order and falls back to the ledger metadata.
func (s *Session) fillDetails(ctx context.Context, symbol, orderID string, meta *models.TrackedOrder) (models.Fill, bool) {
	fill := models.Fill{OrderID: orderID, Time: s.now()}

	callCtx, cancel := s.callContext(ctx)
	order, err := s.ex.GetOrder(callCtx, symbol, orderID)
	cancel()
	if err == nil && order != nil && order.Price > 0 {
		if order.Status == models.OrderStatusCancelled {
			s.logger.Warn("Tracked order was cancelled outside the bot, treating it as filled", zap.String("orderId", orderID))
		}
		fill.Side = order.Side
		fill.Price = order.Price
		fill.Quantity = order.ExecutedQuantity
		if fill.Quantity <= 0 {
			fill.Quantity = order.Quantity
		}
		return fill, true
	}
	if err != nil {
		s.logger.Debug("Order lookup failed, using tracked metadata", zap.String("orderId", orderID), zap.Error(err))
	}
	if meta == nil {
		return fill, false
	}
	fill.Side = meta.Side
	fill.Price = meta.Price
	fill.Quantity = meta.Quantity
	return fill, true
}
