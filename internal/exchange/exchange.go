package exchange

import (
	"context"
	"fmt"
	"strings"

	"grid-trading-bot-go/internal/models"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
)

// DefaultPageSize is the page size used when walking open orders.
const DefaultPageSize = 50

// Exchange is the set of operations the grid engine needs from a spot venue.
// Every adapter (Xeggex REST, Binance, paper) implements it, so the engine can run
// live or against the in-process simulator unchanged.
//
// CancelOrder returns apperrors.ErrOrderNotFound for unknown or already closed orders.
type Exchange interface {
	GetTicker(ctx context.Context, symbol string) (*models.Ticker, error)
	GetBalances(ctx context.Context) ([]models.Balance, error)
	GetOpenOrders(ctx context.Context, symbol string, limit, offset int) ([]models.Order, error)
	CreateLimitOrder(ctx context.Context, symbol string, side models.Side, quantity, price float64) (*models.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrder(ctx context.Context, symbol, orderID string) (*models.Order, error)
}

var (
	_ Exchange = (*PaperExchange)(nil)
	_ Exchange = (*XeggexExchange)(nil)
	_ Exchange = (*BinanceExchange)(nil)
)

// AllOpenOrders walks every page of open orders for symbol.
func AllOpenOrders(ctx context.Context, ex Exchange, symbol string, pageSize int) ([]models.Order, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var all []models.Order
	for offset := 0; ; offset += pageSize {
		page, err := ex.GetOpenOrders(ctx, symbol, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("open orders at offset %d: %w", offset, err)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

// FindBalance returns the balance of asset, zero when the exchange reports none.
func FindBalance(balances []models.Balance, asset string) models.Balance {
	for _, b := range balances {
		if strings.EqualFold(b.Asset, asset) {
			return b
		}
	}
	return models.Balance{Asset: asset}
}

// NewClientOrderID returns a short unique id for exchanges that accept client-supplied ids.
func NewClientOrderID() string {
	id := uuid.New()
	return "grid-" + base62.EncodeToString(id[:])
}
