package exchange

import (
	"context"
	"errors"
	"testing"

	"grid-trading-bot-go/internal/apperrors"
	"grid-trading-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPaper() *PaperExchange {
	return NewPaperExchange("TLS/USDT", 100, map[string]float64{"USDT": 1000, "TLS": 10})
}

func TestPaperPlaceAndFill(t *testing.T) {
	ctx := context.Background()
	ex := newPaper()

	buy, err := ex.CreateLimitOrder(ctx, "TLS/USDT", models.Buy, 2, 95)
	require.NoError(t, err)
	sell, err := ex.CreateLimitOrder(ctx, "TLS/USDT", models.Sell, 1, 105)
	require.NoError(t, err)

	balances, err := ex.GetBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Balance{Asset: "TLS", Available: 9, Held: 1}, FindBalance(balances, "TLS"))
	assert.Equal(t, models.Balance{Asset: "USDT", Available: 810, Held: 190}, FindBalance(balances, "USDT"))

	ex.SetPrice(94)
	got, err := ex.GetOrder(ctx, "TLS/USDT", buy.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, got.Status)
	assert.Equal(t, 2.0, got.ExecutedQuantity)

	open, err := AllOpenOrders(ctx, ex, "TLS/USDT", 1)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, sell.ID, open[0].ID)

	ex.SetPrice(106)
	fills := ex.Fills()
	require.Len(t, fills, 2)
	assert.Equal(t, models.Sell, fills[1].Side)

	balances, err = ex.GetBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Balance{Asset: "TLS", Available: 11}, FindBalance(balances, "TLS"))
	assert.Equal(t, models.Balance{Asset: "USDT", Available: 915}, FindBalance(balances, "USDT"))

	ticker, err := ex.GetTicker(ctx, "TLS/USDT")
	require.NoError(t, err)
	assert.Equal(t, 106.0, ticker.High24h)
	assert.Equal(t, 94.0, ticker.Low24h)
}

func TestPaperCancel(t *testing.T) {
	ctx := context.Background()
	ex := newPaper()

	order, err := ex.CreateLimitOrder(ctx, "TLS/USDT", models.Buy, 1, 90)
	require.NoError(t, err)
	require.NoError(t, ex.CancelOrder(ctx, "TLS/USDT", order.ID))
	assert.ErrorIs(t, ex.CancelOrder(ctx, "TLS/USDT", order.ID), apperrors.ErrOrderNotFound)
	assert.ErrorIs(t, ex.CancelOrder(ctx, "TLS/USDT", "nope"), apperrors.ErrOrderNotFound)

	balances, err := ex.GetBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Balance{Asset: "USDT", Available: 1000}, FindBalance(balances, "USDT"))
}

func TestPaperRejections(t *testing.T) {
	ctx := context.Background()
	ex := newPaper()

	_, err := ex.CreateLimitOrder(ctx, "TLS/USDT", models.Sell, 50, 110)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientBalance)

	_, err = ex.CreateLimitOrder(ctx, "BTC/USDT", models.Buy, 1, 1)
	assert.Error(t, err)

	boom := errors.New("venue down")
	ex.SetPlaceFunc(func(side models.Side, quantity, price float64) error {
		if side == models.Sell {
			return boom
		}
		return nil
	})
	_, err = ex.CreateLimitOrder(ctx, "TLS/USDT", models.Sell, 1, 110)
	assert.ErrorIs(t, err, boom)
	_, err = ex.CreateLimitOrder(ctx, "TLS/USDT", models.Buy, 1, 90)
	assert.NoError(t, err)
}

func TestPaperMarketableLimitFillsImmediately(t *testing.T) {
	ex := newPaper()
	order, err := ex.CreateLimitOrder(context.Background(), "TLS/USDT", models.Buy, 1, 101)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, order.Status)
}
