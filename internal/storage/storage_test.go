package storage

import (
	"context"
	"testing"
	"time"

	"grid-trading-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordPlaced(ctx, models.TrackedOrder{OrderID: "A", Symbol: "TLS/USDT", Side: models.Buy, Price: 0.9, Quantity: 10, PlacedAt: base}))
	require.NoError(t, j.RecordPlaced(ctx, models.TrackedOrder{OrderID: "B", Symbol: "TLS/USDT", Side: models.Sell, Price: 1.1, Quantity: 10, PlacedAt: base.Add(time.Second)}))
	require.NoError(t, j.RecordPlaced(ctx, models.TrackedOrder{OrderID: "C", Symbol: "TLS/USDT", Side: models.Sell, Price: 1.2, Quantity: 10, PlacedAt: base.Add(2 * time.Second)}))
	require.NoError(t, j.RecordPlaced(ctx, models.TrackedOrder{OrderID: "Z", Symbol: "BTC/USDT", Side: models.Buy, Price: 1, Quantity: 1, PlacedAt: base}))

	require.NoError(t, j.MarkFilled(ctx, "A", 10, base.Add(time.Minute)))
	require.NoError(t, j.MarkCancelled(ctx, "B", "stop", base.Add(time.Minute)))
	require.NoError(t, j.MarkCancelled(ctx, "C", "rollback", base.Add(time.Minute)))

	records, err := j.Orders(ctx, "TLS/USDT", 10)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "C", records[0].OrderID, "newest first")
	assert.Equal(t, StatusRolledBack, records[0].Status)
	assert.Equal(t, StatusCancelled, records[1].Status)
	assert.Equal(t, "stop", records[1].Reason)
	assert.Equal(t, StatusFilled, records[2].Status)
	assert.Equal(t, 10.0, records[2].Filled)
	assert.Equal(t, models.Buy, records[2].Side)
	assert.True(t, base.Equal(records[2].CreatedAt))

	limited, err := j.Orders(ctx, "TLS/USDT", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestJournalStats(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	snap, err := j.LoadStats(ctx, "TLS/USDT")
	require.NoError(t, err)
	assert.Nil(t, snap)

	require.NoError(t, j.SaveStats(ctx, "TLS/USDT", models.PerformanceSnapshot{TotalProfit: 1, TotalTrades: 1, ProfitableTrades: 1}))
	require.NoError(t, j.SaveStats(ctx, "TLS/USDT", models.PerformanceSnapshot{TotalProfit: 3, TotalTrades: 4, ProfitableTrades: 2, Volume24h: 9}))

	snap, err = j.LoadStats(ctx, "TLS/USDT")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 3.0, snap.TotalProfit)
	assert.Equal(t, 4, snap.TotalTrades)
	assert.Equal(t, 9.0, snap.Volume24h)
}
