package main

import (
	"context"
	"testing"
	"time"

	"grid-trading-bot-go/internal/models"
	"grid-trading-bot-go/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalReportIncludesMirroredStats(t *testing.T) {
	ctx := context.Background()
	j, err := storage.OpenJournal(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	require.NoError(t, j.RecordPlaced(ctx, models.TrackedOrder{
		OrderID: "o-1", Symbol: "TLS/USDT", Side: models.Buy, Price: 97.5, Quantity: 2, PlacedAt: time.Now(),
	}))

	out, err := journalReport(ctx, j, "TLS/USDT", 10)
	require.NoError(t, err)
	assert.Contains(t, out, "o-1")
	assert.NotContains(t, out, "50.00%", "no stats mirrored yet")

	require.NoError(t, j.SaveStats(ctx, "TLS/USDT", models.PerformanceSnapshot{TotalProfit: 2.5, TotalTrades: 2, ProfitableTrades: 1}))
	out, err = journalReport(ctx, j, "TLS/USDT", 10)
	require.NoError(t, err)
	assert.Contains(t, out, "o-1")
	assert.Contains(t, out, "50.00%")
}
