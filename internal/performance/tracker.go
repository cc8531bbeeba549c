// Package performance keeps the realized-PnL proxy and trade statistics of a
// grid session and decides how the grid density should adapt.
package performance

import (
	"sync"
	"time"

	"grid-trading-bot-go/internal/models"
)

// Adaptive tuning bounds.
const (
	MaxGridLines = 20
	MinGridLines = 4
	gridLineStep = 2

	highSuccessRate = 0.7
	lowSuccessRate  = 0.3
)

// Tracker accumulates fills. Sells add their notional to the profit proxy and buys
// subtract it, so a round trip nets the spread.
type Tracker struct {
	mu   sync.Mutex
	snap models.PerformanceSnapshot
	now  func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// RecordFill folds one fill into the statistics and returns the new snapshot.
func (t *Tracker) RecordFill(fill models.Fill) models.PerformanceSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	notional := fill.Price * fill.Quantity
	contribution := notional
	if fill.Side == models.Buy {
		contribution = -notional
	}

	t.snap.TotalProfit += contribution
	t.snap.TotalTrades++
	if contribution > 0 {
		t.snap.ProfitableTrades++
	}
	if fill.Price > t.snap.HighestPrice {
		t.snap.HighestPrice = fill.Price
	}
	if t.snap.LowestPrice == 0 || fill.Price < t.snap.LowestPrice {
		t.snap.LowestPrice = fill.Price
	}
	t.snap.Volume24h += notional

	when := fill.Time
	if when.IsZero() {
		when = t.now()
	}
	t.snap.LastTradeTime = when
	t.snap.LastTradePrice = fill.Price
	t.snap.LastTradeSide = fill.Side
	t.snap.UpdatedAt = t.now()
	return t.snap
}

func (t *Tracker) Snapshot() models.PerformanceSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Reset clears every statistic.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap = models.PerformanceSnapshot{}
}

// SuccessRate is profitable/total trades, 0 when nothing traded yet.
func SuccessRate(snap models.PerformanceSnapshot) float64 {
	if snap.TotalTrades == 0 {
		return 0
	}
	return float64(snap.ProfitableTrades) / float64(snap.TotalTrades)
}

// NextGridLines densifies a grid that mostly wins and thins one that mostly loses.
func NextGridLines(current int, snap models.PerformanceSnapshot) int {
	rate := SuccessRate(snap)
	switch {
	case rate > highSuccessRate:
		return min(current+gridLineStep, MaxGridLines)
	case rate < lowSuccessRate:
		return max(current-gridLineStep, MinGridLines)
	}
	return current
}
