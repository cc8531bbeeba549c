package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"grid-trading-bot-go/internal/apperrors"
	"grid-trading-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Binance error codes for cancels and lookups of orders that no longer exist.
const (
	binanceCodeCancelRejected = -2011
	binanceCodeNoSuchOrder    = -2013
)

// BinanceExchange implements Exchange on the Binance spot API.
// Symbols are accepted in "BASE/QUOTE" form and sent to Binance without the separator.
type BinanceExchange struct {
	client *binance.Client
	logger *zap.Logger
}

// NewBinanceExchange creates a spot client. Empty keys are fine for market data only,
// which is how the paper mode uses it as a price feed.
func NewBinanceExchange(apiKey, secretKey string, testnet bool, timeout time.Duration, logger *zap.Logger) *BinanceExchange {
	binance.UseTestnet = testnet
	client := binance.NewClient(apiKey, secretKey)
	if timeout > 0 {
		client.HTTPClient.Timeout = timeout
	}
	return &BinanceExchange{client: client, logger: logger}
}

// BinanceSymbol converts "TLS/USDT" (or TLS_USDT, TLS-USDT) to "TLSUSDT".
func BinanceSymbol(symbol string) string {
	if base, quote, ok := models.SplitSymbol(symbol); ok {
		return base + quote
	}
	return strings.ToUpper(symbol)
}

func (e *BinanceExchange) GetTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	stats, err := e.client.NewListPriceChangeStatsService().Symbol(BinanceSymbol(symbol)).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("get ticker %s: %w", symbol, mapBinanceError(err))
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("get ticker %s: empty response", symbol)
	}
	return &models.Ticker{
		Symbol:    symbol,
		LastPrice: parseFloat(stats[0].LastPrice),
		High24h:   parseFloat(stats[0].HighPrice),
		Low24h:    parseFloat(stats[0].LowPrice),
	}, nil
}

func (e *BinanceExchange) GetBalances(ctx context.Context) ([]models.Balance, error) {
	account, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", mapBinanceError(err))
	}
	balances := make([]models.Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		free, locked := parseFloat(b.Free), parseFloat(b.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		balances = append(balances, models.Balance{Asset: b.Asset, Available: free, Held: locked})
	}
	return balances, nil
}

// GetOpenOrders pages locally; Binance returns every open order of a symbol at once.
func (e *BinanceExchange) GetOpenOrders(ctx context.Context, symbol string, limit, offset int) ([]models.Order, error) {
	raw, err := e.client.NewListOpenOrdersService().Symbol(BinanceSymbol(symbol)).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("get open orders %s: %w", symbol, mapBinanceError(err))
	}
	if offset >= len(raw) {
		return nil, nil
	}
	end := len(raw)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	orders := make([]models.Order, 0, end-offset)
	for _, o := range raw[offset:end] {
		orders = append(orders, fromBinanceOrder(symbol, o))
	}
	return orders, nil
}

func (e *BinanceExchange) CreateLimitOrder(ctx context.Context, symbol string, side models.Side, quantity, price float64) (*models.Order, error) {
	sideType := binance.SideTypeBuy
	if side == models.Sell {
		sideType = binance.SideTypeSell
	}
	resp, err := e.client.NewCreateOrderService().
		Symbol(BinanceSymbol(symbol)).
		Side(sideType).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(decimal.NewFromFloat(quantity).String()).
		Price(decimal.NewFromFloat(price).String()).
		NewClientOrderID(NewClientOrderID()).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("create %s order %s @ %v: %w", side, symbol, price, mapBinanceError(err))
	}
	e.logger.Debug("Binance order accepted", zap.Int64("orderId", resp.OrderID), zap.String("clientOrderId", resp.ClientOrderID))
	return &models.Order{
		ID:               strconv.FormatInt(resp.OrderID, 10),
		Symbol:           symbol,
		Side:             side,
		Price:            price,
		Quantity:         quantity,
		ExecutedQuantity: parseFloat(resp.ExecutedQuantity),
		Status:           binanceStatus(resp.Status),
		CreatedAt:        time.UnixMilli(resp.TransactTime).UTC(),
	}, nil
}

func (e *BinanceExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("cancel %s: %w", orderID, apperrors.ErrOrderNotFound)
	}
	if _, err := e.client.NewCancelOrderService().Symbol(BinanceSymbol(symbol)).OrderID(id).Do(ctx); err != nil {
		return fmt.Errorf("cancel %s: %w", orderID, mapBinanceError(err))
	}
	return nil
}

func (e *BinanceExchange) GetOrder(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, apperrors.ErrOrderNotFound)
	}
	o, err := e.client.NewGetOrderService().Symbol(BinanceSymbol(symbol)).OrderID(id).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, mapBinanceError(err))
	}
	order := fromBinanceOrder(symbol, o)
	return &order, nil
}

func fromBinanceOrder(symbol string, o *binance.Order) models.Order {
	side := models.Buy
	if o.Side == binance.SideTypeSell {
		side = models.Sell
	}
	return models.Order{
		ID:               strconv.FormatInt(o.OrderID, 10),
		Symbol:           symbol,
		Side:             side,
		Price:            parseFloat(o.Price),
		Quantity:         parseFloat(o.OrigQuantity),
		ExecutedQuantity: parseFloat(o.ExecutedQuantity),
		Status:           binanceStatus(o.Status),
		CreatedAt:        time.UnixMilli(o.Time).UTC(),
	}
}

func binanceStatus(s binance.OrderStatusType) string {
	switch s {
	case binance.OrderStatusTypeFilled:
		return models.OrderStatusFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired, binance.OrderStatusTypeRejected:
		return models.OrderStatusCancelled
	}
	return models.OrderStatusActive
}

// mapBinanceError folds Binance API codes into the shared taxonomy.
func mapBinanceError(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case binanceCodeCancelRejected, binanceCodeNoSuchOrder:
			return fmt.Errorf("%w: %v", apperrors.ErrOrderNotFound, err)
		case -1003, -1007:
			// Too many requests, or a backend timeout with unknown execution status.
			return fmt.Errorf("%w: %v", apperrors.ErrTransientNetwork, err)
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", apperrors.ErrTransientNetwork, err)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
