package reporter

import (
	"strings"
	"testing"
	"time"

	"grid-trading-bot-go/internal/models"
	"grid-trading-bot-go/internal/storage"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	sum := Summarize(models.PerformanceSnapshot{TotalProfit: 12, TotalTrades: 4, ProfitableTrades: 3})
	assert.Equal(t, 1, sum.LosingTrades)
	assert.InDelta(t, 75, sum.WinRate, 1e-9)
	assert.InDelta(t, 3, sum.AvgProfitPerFill, 1e-9)

	assert.Equal(t, Summary{}, Summarize(models.PerformanceSnapshot{}))
}

func TestStatusTable(t *testing.T) {
	out := StatusTable(models.Status{
		IsRunning:         true,
		SessionID:         "abc",
		Config:            &models.GridConfig{Symbol: "TLS/USDT", MinDistance: 1, MaxDistance: 5, GridLines: 5, TotalInvestment: 100},
		TrackedOrderCount: 10,
		LastPrice:         0.0123,
		LastGridUpdate:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "TLS/USDT")
	assert.Contains(t, out, "0.0123")
	assert.Contains(t, out, "2024-05-01 12:00:00")

	stopped := StatusTable(models.Status{})
	assert.Contains(t, stopped, "stopped")
	assert.NotContains(t, stopped, "Symbol")
}

func TestStatsTable(t *testing.T) {
	out := StatsTable("TLS/USDT", models.PerformanceSnapshot{TotalProfit: 2.5, TotalTrades: 2, ProfitableTrades: 1})
	assert.Contains(t, out, "TLS/USDT")
	assert.Contains(t, out, "50.00%")
	assert.Contains(t, out, "2.5")
}

func TestOrdersTableSortsByPriceDescending(t *testing.T) {
	out := OrdersTable([]models.TrackedOrder{
		{OrderID: "low", Side: models.Buy, Price: 95, Quantity: 1},
		{OrderID: "high", Side: models.Sell, Price: 105, Quantity: 1},
	})
	assert.Less(t, strings.Index(out, "high"), strings.Index(out, "low"))
	assert.Contains(t, out, "200")
	assert.Contains(t, strings.ToLower(out), "2 orders")
}

func TestJournalTable(t *testing.T) {
	out := JournalTable([]storage.OrderRecord{{OrderID: "o-1", Side: models.Buy, Price: 1, Quantity: 2, Status: storage.StatusRolledBack, Reason: "rollback"}})
	assert.Contains(t, out, "rolled_back")
	assert.Contains(t, out, "o-1")
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "1.5", formatFloat(1.5))
	assert.Equal(t, "100", formatFloat(100))
	assert.Equal(t, "0.00000001", formatFloat(1e-8))
}
