package performance

import (
	"sync"
	"testing"
	"time"

	"grid-trading-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordFill(t *testing.T) {
	tr := NewTracker()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tr.RecordFill(models.Fill{OrderID: "1", Side: models.Buy, Price: 100, Quantity: 2, Time: at})
	snap := tr.RecordFill(models.Fill{OrderID: "2", Side: models.Sell, Price: 101, Quantity: 2, Time: at.Add(time.Minute)})

	assert.InDelta(t, 2.0, snap.TotalProfit, 1e-9)
	assert.Equal(t, 2, snap.TotalTrades)
	assert.Equal(t, 1, snap.ProfitableTrades)
	assert.Equal(t, 101.0, snap.HighestPrice)
	assert.Equal(t, 100.0, snap.LowestPrice)
	assert.InDelta(t, 402.0, snap.Volume24h, 1e-9)
	assert.Equal(t, models.Sell, snap.LastTradeSide)
	assert.Equal(t, 101.0, snap.LastTradePrice)
	assert.True(t, at.Add(time.Minute).Equal(snap.LastTradeTime))
	assert.False(t, snap.UpdatedAt.IsZero())
	assert.Equal(t, snap, tr.Snapshot())

	tr.Reset()
	assert.Equal(t, models.PerformanceSnapshot{}, tr.Snapshot())
}

func TestTrackerConcurrentFills(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordFill(models.Fill{Side: models.Sell, Price: 1, Quantity: 1})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, tr.Snapshot().TotalTrades)
}

func TestNextGridLines(t *testing.T) {
	rate := func(profitable, total int) models.PerformanceSnapshot {
		return models.PerformanceSnapshot{ProfitableTrades: profitable, TotalTrades: total}
	}
	tests := []struct {
		name    string
		current int
		snap    models.PerformanceSnapshot
		want    int
	}{
		{"80% densifies", 10, rate(8, 10), 12},
		{"80% capped", 19, rate(8, 10), 20},
		{"20% thins", 10, rate(2, 10), 8},
		{"20% floored", 5, rate(2, 10), 4},
		{"50% unchanged", 10, rate(5, 10), 10},
		{"exactly 70% unchanged", 10, rate(7, 10), 10},
		{"no trades counts as 0%", 10, rate(0, 0), 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextGridLines(tt.current, tt.snap))
		})
	}
}
