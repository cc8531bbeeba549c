package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"grid-trading-bot-go/internal/apperrors"
	"grid-trading-bot-go/internal/models"
)

// PlaceFunc can veto a placement on the paper exchange; a non-nil error rejects the order.
type PlaceFunc func(side models.Side, quantity, price float64) error

// PaperExchange simulates a spot venue in process. Resting limits fill at their own
// price when SetPrice crosses them, and balances move between available and held
// the way a real account does.
type PaperExchange struct {
	mu sync.Mutex

	symbol    string
	base      string
	quote     string
	ticker    models.Ticker
	balances  map[string]*models.Balance
	orders    map[string]*models.Order
	nextID    int64
	FeeRate   float64 // maker fee charged in quote on every fill
	TotalFees float64
	fills     []models.Fill
	placeHook PlaceFunc
	now       func() time.Time
}

// NewPaperExchange creates a simulator for one symbol, starting at price with the given balances.
func NewPaperExchange(symbol string, price float64, balances map[string]float64) *PaperExchange {
	base, quote, _ := models.SplitSymbol(symbol)
	e := &PaperExchange{
		symbol:   symbol,
		base:     base,
		quote:    quote,
		ticker:   models.Ticker{Symbol: symbol, LastPrice: price, High24h: price, Low24h: price},
		balances: make(map[string]*models.Balance),
		orders:   make(map[string]*models.Order),
		nextID:   1,
		now:      time.Now,
	}
	for asset, amount := range balances {
		asset = strings.ToUpper(asset)
		e.balances[asset] = &models.Balance{Asset: asset, Available: amount}
	}
	return e
}

// SetPlaceFunc installs a hook consulted before every placement.
func (e *PaperExchange) SetPlaceFunc(fn PlaceFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.placeHook = fn
}

// SetPrice moves the market to price and fills every resting order it crosses.
func (e *PaperExchange) SetPrice(price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ticker.LastPrice = price
	if price > e.ticker.High24h {
		e.ticker.High24h = price
	}
	if e.ticker.Low24h == 0 || price < e.ticker.Low24h {
		e.ticker.Low24h = price
	}
	e.checkLimitOrdersAtPrice(price)
}

// SetTicker replaces the market data wholesale, e.g. from a live price feed, then fills crossed orders.
func (e *PaperExchange) SetTicker(t models.Ticker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t.Symbol = e.symbol
	e.ticker = t
	e.checkLimitOrdersAtPrice(t.LastPrice)
}

// Fills returns every fill simulated so far.
func (e *PaperExchange) Fills() []models.Fill {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Fill(nil), e.fills...)
}

// checkLimitOrdersAtPrice must be called with the lock held.
func (e *PaperExchange) checkLimitOrdersAtPrice(price float64) {
	for _, id := range e.sortedIDs() {
		order := e.orders[id]
		if order.Status != models.OrderStatusActive {
			continue
		}
		if (order.Side == models.Buy && price <= order.Price) || (order.Side == models.Sell && price >= order.Price) {
			e.handleFilledOrder(order)
		}
	}
}

// handleFilledOrder settles a filled order. Must be called with the lock held.
func (e *PaperExchange) handleFilledOrder(order *models.Order) {
	order.Status = models.OrderStatusFilled
	order.ExecutedQuantity = order.Quantity

	notional := order.Price * order.Quantity
	fee := notional * e.FeeRate
	e.TotalFees += fee

	if order.Side == models.Buy {
		e.balance(e.quote).Held -= notional
		e.balance(e.base).Available += order.Quantity
		e.balance(e.quote).Available -= fee
	} else {
		e.balance(e.base).Held -= order.Quantity
		e.balance(e.quote).Available += notional - fee
	}
	e.fills = append(e.fills, models.Fill{
		OrderID:  order.ID,
		Side:     order.Side,
		Price:    order.Price,
		Quantity: order.Quantity,
		Time:     e.now(),
	})
}

func (e *PaperExchange) balance(asset string) *models.Balance {
	b, ok := e.balances[asset]
	if !ok {
		b = &models.Balance{Asset: asset}
		e.balances[asset] = b
	}
	return b
}

func (e *PaperExchange) sortedIDs() []string {
	ids := make([]string, 0, len(e.orders))
	for id := range e.orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *PaperExchange) checkSymbol(symbol string) error {
	if symbol != e.symbol {
		return fmt.Errorf("paper exchange trades %s, not %s", e.symbol, symbol)
	}
	return nil
}

// --- Exchange implementation ---

func (e *PaperExchange) GetTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.checkSymbol(symbol); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.ticker
	return &t, nil
}

func (e *PaperExchange) GetBalances(ctx context.Context) ([]models.Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Balance, 0, len(e.balances))
	for _, b := range e.balances {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (e *PaperExchange) GetOpenOrders(ctx context.Context, symbol string, limit, offset int) ([]models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.checkSymbol(symbol); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var open []models.Order
	for _, id := range e.sortedIDs() {
		if o := e.orders[id]; o.Status == models.OrderStatusActive {
			open = append(open, *o)
		}
	}
	if offset >= len(open) {
		return nil, nil
	}
	end := len(open)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return open[offset:end], nil
}

func (e *PaperExchange) CreateLimitOrder(ctx context.Context, symbol string, side models.Side, quantity, price float64) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.checkSymbol(symbol); err != nil {
		return nil, err
	}
	if quantity <= 0 || price <= 0 {
		return nil, fmt.Errorf("paper order rejected: quantity %v price %v", quantity, price)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.placeHook != nil {
		if err := e.placeHook(side, quantity, price); err != nil {
			return nil, err
		}
	}

	// Reserve the funds the order could consume.
	if side == models.Buy {
		quoteBal := e.balance(e.quote)
		need := price * quantity
		if quoteBal.Available < need {
			return nil, fmt.Errorf("paper order rejected: %s available %v < %v: %w", e.quote, quoteBal.Available, need, apperrors.ErrInsufficientBalance)
		}
		quoteBal.Available -= need
		quoteBal.Held += need
	} else {
		baseBal := e.balance(e.base)
		if baseBal.Available < quantity {
			return nil, fmt.Errorf("paper order rejected: %s available %v < %v: %w", e.base, baseBal.Available, quantity, apperrors.ErrInsufficientBalance)
		}
		baseBal.Available -= quantity
		baseBal.Held += quantity
	}

	order := &models.Order{
		ID:        fmt.Sprintf("paper-%08d", e.nextID),
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Status:    models.OrderStatusActive,
		CreatedAt: e.now(),
	}
	e.nextID++
	e.orders[order.ID] = order

	// A limit that is already marketable fills immediately.
	last := e.ticker.LastPrice
	if (side == models.Buy && last <= price) || (side == models.Sell && last >= price) {
		e.handleFilledOrder(order)
	}
	out := *order
	return &out, nil
}

func (e *PaperExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok || order.Status != models.OrderStatusActive {
		return fmt.Errorf("cancel %s: %w", orderID, apperrors.ErrOrderNotFound)
	}
	order.Status = models.OrderStatusCancelled
	if order.Side == models.Buy {
		notional := order.Price * order.Quantity
		e.balance(e.quote).Held -= notional
		e.balance(e.quote).Available += notional
	} else {
		e.balance(e.base).Held -= order.Quantity
		e.balance(e.base).Available += order.Quantity
	}
	return nil
}

func (e *PaperExchange) GetOrder(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", orderID, apperrors.ErrOrderNotFound)
	}
	out := *order
	return &out, nil
}
