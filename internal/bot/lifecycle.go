package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"grid-trading-bot-go/internal/apperrors"
	"grid-trading-bot-go/internal/exchange"
	"grid-trading-bot-go/internal/models"
	"grid-trading-bot-go/internal/planner"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// errStopping aborts a placement sequence because Stop closed the gate.
var errStopping = errors.New("session is stopping")

// Start validates cfg, places the initial ladder around the current price and launches
// the periodic tasks. Any placement failure cancels the legs already placed and leaves
// the session Stopped.
func (s *Session) Start(ctx context.Context, cfg models.GridConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == models.Running {
		return apperrors.ErrAlreadyRunning
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.accepting.Store(true)
	if err := s.launchLocked(ctx, cfg); err != nil {
		s.accepting.Store(false)
		return err
	}
	s.startLoopsLocked()
	s.logger.Info("Grid session started",
		zap.String("sessionId", s.sessionID),
		zap.String("symbol", cfg.Symbol),
		zap.Int("gridLines", cfg.GridLines),
		zap.Float64("price", s.clock.LastPrice))
	return nil
}

// Stop halts the periodic tasks, cancels every tracked order, clears the ledger and
// resets the statistics.
func (s *Session) Stop(ctx context.Context) error {
	// Close the gate first so an in-flight placement sequence gives up the lock quickly.
	s.accepting.Store(false)
	early := s.detachLoops()

	s.mu.Lock()
	if s.state != models.Running {
		s.mu.Unlock()
		waitLoops(early)
		return apperrors.ErrNotRunning
	}
	late := s.detachLoops()
	symbol := s.config.Symbol

	s.teardownLocked(ctx, "stop")
	s.state = models.Stopped
	s.config = nil
	s.sessionID = ""
	s.persistLocked(ctx)
	s.publishLocked(ctx)
	s.mu.Unlock()

	waitLoops(early)
	waitLoops(late)
	s.logger.Info("Grid session stopped", zap.String("symbol", symbol))
	return nil
}

// Recover cleans up after an unclean exit: when the persisted record says a session was
// running, the orders its ledger still tracks are cancelled and the record is marked stopped.
func (s *Session) Recover(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == models.Running {
		return apperrors.ErrAlreadyRunning
	}
	rec, err := s.repo.LoadSession(ctx)
	if err != nil {
		return fmt.Errorf("load session record: %w", err)
	}
	if rec == nil || !rec.IsRunning {
		return nil
	}

	symbol := rec.Config.Symbol
	ids, err := s.ledger.List(ctx, symbol)
	if err != nil {
		return fmt.Errorf("list orphaned orders: %w", err)
	}
	failed := s.cancelAll(ctx, symbol, ids, "recover")
	if err := s.ledger.Clear(ctx, symbol); err != nil {
		return fmt.Errorf("clear orphaned orders: %w", err)
	}
	s.persistLocked(ctx)
	s.publishLocked(ctx)

	s.logger.Warn("Recovered session left running by a previous process",
		zap.String("sessionId", rec.SessionID),
		zap.String("symbol", symbol),
		zap.Int("orders", len(ids)),
		zap.Int("cancelFailures", failed))
	return nil
}

// launchLocked places a fresh ladder for cfg and makes the session Running.
// The periodic tasks and the placement gate are left to the caller.
func (s *Session) launchLocked(ctx context.Context, cfg models.GridConfig) error {
	callCtx, cancel := s.callContext(ctx)
	ticker, err := s.ex.GetTicker(callCtx, cfg.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch ticker %s: %w", cfg.Symbol, err)
	}
	if err := checkPriceRange(ticker); err != nil {
		return err
	}

	spacing := planner.ComputeDynamicSpacing(ticker.High24h, ticker.Low24h, cfg.MaxDistance)
	ladderCfg := planner.EffectiveConfig(cfg, spacing)
	ladder, err := planner.ComputeLadder(ladderCfg, ticker.LastPrice)
	if err != nil {
		return err
	}
	if err := s.checkBalances(ctx, cfg.Symbol, ladder); err != nil {
		return err
	}

	placed, err := s.placeLadderLocked(ctx, cfg.Symbol, ladder, "start")
	if err != nil {
		s.rollbackLocked(ctx, cfg.Symbol, placed)
		s.publishLocked(ctx)
		return err
	}

	now := s.now()
	cfgCopy := cfg
	s.state = models.Running
	s.config = &cfgCopy
	s.ladderConfig = ladderCfg
	s.sessionID = uuid.NewString()
	s.clock = models.RecentringClock{LastGridUpdate: now, LastPrice: ticker.LastPrice}
	s.lastOptimize = now
	s.persistLocked(ctx)
	s.publishLocked(ctx)
	s.logger.Debug("Ladder placed",
		zap.Int("legs", len(placed)),
		zap.Float64("spacing", ladderCfg.MaxDistance),
		zap.Float64("notional", ladder.Notional()))
	return nil
}

// teardownLocked cancels everything the ledger tracks, clears it and resets the statistics.
func (s *Session) teardownLocked(ctx context.Context, reason string) {
	symbol := s.config.Symbol
	ids, err := s.ledger.List(ctx, symbol)
	if err != nil {
		s.logger.Error("Failed to list tracked orders for teardown", zap.String("reason", reason), zap.Error(err))
	}
	if failed := s.cancelAll(ctx, symbol, ids, reason); failed > 0 {
		s.logger.Warn("Some orders could not be cancelled", zap.String("reason", reason), zap.Int("failed", failed), zap.Int("total", len(ids)))
	}
	if err := s.ledger.Clear(ctx, symbol); err != nil {
		s.logger.Error("Failed to clear ledger", zap.String("symbol", symbol), zap.Error(err))
	}
	s.tracker.Reset()
	s.metrics.RealizedPnL.Set(0)
}

// fatalStopLocked moves a session that can no longer keep its ladder to Stopped.
// It runs on a periodic task, so it cancels the tasks without waiting for them.
// ctx belongs to that task; the cleanup below must outlive its cancellation.
func (s *Session) fatalStopLocked(ctx context.Context, cause error) {
	ctx = context.WithoutCancel(ctx)
	s.accepting.Store(false)
	s.detachLoops()

	symbol := s.config.Symbol
	if ids, err := s.ledger.List(ctx, symbol); err == nil && len(ids) > 0 {
		s.cancelAll(ctx, symbol, ids, "fatal")
	}
	if err := s.ledger.Clear(ctx, symbol); err != nil {
		s.logger.Error("Failed to clear ledger", zap.String("symbol", symbol), zap.Error(err))
	}
	s.tracker.Reset()
	s.state = models.Stopped
	s.config = nil
	s.sessionID = ""
	s.persistLocked(ctx)
	s.publishLocked(ctx)
	s.logger.Error("Grid session stopped after an unrecoverable failure", zap.String("symbol", symbol), zap.Error(cause))
}

// placeLadderLocked places legs in order and returns the orders placed so far,
// also on error.
func (s *Session) placeLadderLocked(ctx context.Context, symbol string, legs []models.GridLeg, phase string) ([]models.TrackedOrder, error) {
	placed := make([]models.TrackedOrder, 0, len(legs))
	for _, leg := range legs {
		order, err := s.placeLeg(ctx, symbol, leg, phase)
		if err != nil {
			return placed, err
		}
		placed = append(placed, *order)
	}
	return placed, nil
}

// placeLeg places one leg and records it in the ledger.
func (s *Session) placeLeg(ctx context.Context, symbol string, leg models.GridLeg, phase string) (*models.TrackedOrder, error) {
	if !s.accepting.Load() {
		return nil, &apperrors.PlacementError{Side: string(leg.Side), Price: leg.Price, Err: errStopping}
	}

	callCtx, cancel := s.callContext(ctx)
	order, err := s.ex.CreateLimitOrder(callCtx, symbol, leg.Side, leg.Quantity, leg.Price)
	cancel()
	if err != nil {
		s.metrics.PlacementFailures.WithLabelValues(phase).Inc()
		s.logger.Warn("Order placement failed",
			zap.String("phase", phase),
			zap.String("side", string(leg.Side)),
			zap.Float64("price", leg.Price),
			zap.Float64("quantity", leg.Quantity),
			zap.Error(err))
		return nil, &apperrors.PlacementError{Side: string(leg.Side), Price: leg.Price, Err: err}
	}

	tracked := models.TrackedOrder{
		OrderID:  order.ID,
		Symbol:   symbol,
		Side:     leg.Side,
		Price:    leg.Price,
		Quantity: leg.Quantity,
		PlacedAt: s.now().UTC(),
	}
	if err := s.ledger.Add(ctx, tracked); err != nil {
		// An untracked live order would never be replaced or cancelled; take it back.
		s.cancelOne(ctx, symbol, order.ID, "untracked")
		s.metrics.PlacementFailures.WithLabelValues(phase).Inc()
		return nil, &apperrors.PlacementError{Side: string(leg.Side), Price: leg.Price, Err: err}
	}
	if s.journal != nil {
		if err := s.journal.RecordPlaced(ctx, tracked); err != nil {
			s.logger.Warn("Failed to journal placement", zap.String("orderId", order.ID), zap.Error(err))
		}
	}
	s.metrics.OrdersPlaced.WithLabelValues(string(leg.Side)).Inc()
	return &tracked, nil
}

// rollbackLocked cancels orders placed by a failed attempt and forgets them.
func (s *Session) rollbackLocked(ctx context.Context, symbol string, placed []models.TrackedOrder) {
	if len(placed) == 0 {
		return
	}
	ids := make([]string, 0, len(placed))
	for _, o := range placed {
		ids = append(ids, o.OrderID)
	}
	if failed := s.cancelAll(ctx, symbol, ids, "rollback"); failed > 0 {
		s.logger.Error("Rollback left live orders behind", zap.Int("failed", failed), zap.Strings("orderIds", ids))
	}
	for _, id := range ids {
		if err := s.ledger.Remove(ctx, symbol, id); err != nil {
			s.logger.Warn("Failed to remove rolled back order from ledger", zap.String("orderId", id), zap.Error(err))
		}
	}
}

// cancelAll cancels ids concurrently on the worker pool and returns how many failed.
// Orders the exchange no longer knows count as cancelled.
func (s *Session) cancelAll(ctx context.Context, symbol string, ids []string, reason string) int {
	if len(ids) == 0 {
		return 0
	}
	var failed atomic.Int32
	group := s.pool.Group()
	for _, id := range ids {
		id := id
		group.Submit(func() {
			if !s.cancelOne(ctx, symbol, id, reason) {
				failed.Add(1)
			}
		})
	}
	group.Wait()
	return int(failed.Load())
}

func (s *Session) cancelOne(ctx context.Context, symbol, orderID, reason string) bool {
	callCtx, cancel := s.callContext(ctx)
	err := s.ex.CancelOrder(callCtx, symbol, orderID)
	cancel()
	if err != nil && !errors.Is(err, apperrors.ErrOrderNotFound) {
		s.logger.Warn("Failed to cancel order", zap.String("orderId", orderID), zap.String("reason", reason), zap.Error(err))
		return false
	}
	if s.journal != nil && err == nil {
		if jerr := s.journal.MarkCancelled(ctx, orderID, reason, s.now()); jerr != nil {
			s.logger.Warn("Failed to journal cancel", zap.String("orderId", orderID), zap.Error(jerr))
		}
	}
	return true
}

// checkPriceRange rejects a ticker whose last price is unusable or outside its own 24h range.
func checkPriceRange(t *models.Ticker) error {
	p := t.LastPrice
	if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
		return fmt.Errorf("%w: last price %v", apperrors.ErrPriceOutOfRange, p)
	}
	if t.Low24h > 0 && t.High24h >= t.Low24h && (p < t.Low24h || p > t.High24h) {
		return fmt.Errorf("%w: last price %v outside 24h range [%v, %v]", apperrors.ErrPriceOutOfRange, p, t.Low24h, t.High24h)
	}
	return nil
}

// checkBalances requires enough quote for every buy and enough base for every sell.
// Symbols that do not split into base/quote skip the check.
func (s *Session) checkBalances(ctx context.Context, symbol string, ladder models.Ladder) error {
	base, quote, ok := models.SplitSymbol(symbol)
	if !ok {
		return nil
	}
	callCtx, cancel := s.callContext(ctx)
	balances, err := s.ex.GetBalances(callCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch balances: %w", err)
	}

	var needQuote, needBase float64
	for _, leg := range ladder {
		if leg.Side == models.Buy {
			needQuote += leg.Price * leg.Quantity
		} else {
			needBase += leg.Quantity
		}
	}
	if have := exchange.FindBalance(balances, quote).Available; have < needQuote {
		return fmt.Errorf("%w: %s available %.8f, need %.8f", apperrors.ErrInsufficientBalance, quote, have, needQuote)
	}
	if have := exchange.FindBalance(balances, base).Available; have < needBase {
		return fmt.Errorf("%w: %s available %.8f, need %.8f", apperrors.ErrInsufficientBalance, base, have, needBase)
	}
	return nil
}

func waitLoops(g *loopGroup) {
	if g != nil {
		g.wg.Wait()
	}
}
