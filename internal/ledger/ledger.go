// Package ledger records which exchange orders belong to the bot.
//
// Ids live in the set "bot:orders:{symbol}"; each id also has a metadata
// record under "bot:order:{symbol}:{id}" so fills and restores can fall back
// to what was placed.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"grid-trading-bot-go/internal/apperrors"
	"grid-trading-bot-go/internal/models"
	"grid-trading-bot-go/internal/persistence"
)

const (
	ordersPrefix = "bot:orders:"
	orderPrefix  = "bot:order:"
)

// OrdersKey returns the set key holding a symbol's tracked order ids.
func OrdersKey(symbol string) string {
	return ordersPrefix + symbol
}

func orderKey(symbol, id string) string {
	return orderPrefix + symbol + ":" + id
}

// Ledger is the durable set of bot-owned orders per symbol.
type Ledger struct {
	store persistence.Store
}

func New(store persistence.Store) *Ledger {
	return &Ledger{store: store}
}

// Add tracks an order. Adding an id twice overwrites its metadata.
func (l *Ledger) Add(ctx context.Context, order models.TrackedOrder) error {
	if order.OrderID == "" || order.Symbol == "" {
		return fmt.Errorf("ledger add: order id and symbol are required")
	}
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("ledger add %s: %w", order.OrderID, err)
	}
	if err := l.store.Set(ctx, orderKey(order.Symbol, order.OrderID), data); err != nil {
		return fmt.Errorf("ledger add %s: %w", order.OrderID, err)
	}
	if err := l.store.SetAdd(ctx, OrdersKey(order.Symbol), order.OrderID); err != nil {
		return fmt.Errorf("ledger add %s: %w", order.OrderID, err)
	}
	return nil
}

// Remove stops tracking an order. Removing an unknown id is a no-op.
func (l *Ledger) Remove(ctx context.Context, symbol, orderID string) error {
	if err := l.store.SetRemove(ctx, OrdersKey(symbol), orderID); err != nil {
		return fmt.Errorf("ledger remove %s: %w", orderID, err)
	}
	if err := l.store.Delete(ctx, orderKey(symbol, orderID)); err != nil {
		return fmt.Errorf("ledger remove %s: %w", orderID, err)
	}
	return nil
}

// List returns the tracked order ids of symbol.
func (l *Ledger) List(ctx context.Context, symbol string) ([]string, error) {
	ids, err := l.store.SetMembers(ctx, OrdersKey(symbol))
	if err != nil {
		return nil, fmt.Errorf("ledger list %s: %w", symbol, err)
	}
	return ids, nil
}

func (l *Ledger) Contains(ctx context.Context, symbol, orderID string) (bool, error) {
	ids, err := l.List(ctx, symbol)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == orderID {
			return true, nil
		}
	}
	return false, nil
}

// Get returns the metadata recorded when the order was placed.
// apperrors.ErrNotFound is returned for untracked ids.
func (l *Ledger) Get(ctx context.Context, symbol, orderID string) (*models.TrackedOrder, error) {
	data, err := l.store.Get(ctx, orderKey(symbol, orderID))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("ledger get %s: %w", orderID, err)
	}
	var order models.TrackedOrder
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("ledger get %s: %w", orderID, err)
	}
	return &order, nil
}

// Orders returns the metadata of every tracked order of symbol, skipping ids
// whose metadata is missing.
func (l *Ledger) Orders(ctx context.Context, symbol string) ([]models.TrackedOrder, error) {
	ids, err := l.List(ctx, symbol)
	if err != nil {
		return nil, err
	}
	orders := make([]models.TrackedOrder, 0, len(ids))
	for _, id := range ids {
		order, err := l.Get(ctx, symbol, id)
		if errors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

// Clear drops every tracked order of symbol.
func (l *Ledger) Clear(ctx context.Context, symbol string) error {
	ids, err := l.List(ctx, symbol)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := l.store.Delete(ctx, orderKey(symbol, id)); err != nil {
			return fmt.Errorf("ledger clear %s: %w", symbol, err)
		}
	}
	if err := l.store.Delete(ctx, OrdersKey(symbol)); err != nil {
		return fmt.Errorf("ledger clear %s: %w", symbol, err)
	}
	return nil
}
