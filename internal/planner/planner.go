// Package planner holds the pure grid arithmetic: ladder construction, replacement legs and
// volatility-based spacing. Nothing here talks to an exchange or keeps state.
package planner

import (
	"math"

	"grid-trading-bot-go/internal/apperrors"
	"grid-trading-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// Precision is the number of decimal places kept on prices and quantities.
const Precision = 8

const (
	minDynamicSpacing = 1.0
	maxDynamicSpacing = 10.0
	spacingFactor     = 0.5
)

// ComputeLadder builds a symmetric ladder of cfg.GridLines buys below currentPrice and
// cfg.GridLines sells above it, spanning ±cfg.MaxDistance percent.
func ComputeLadder(cfg models.GridConfig, currentPrice float64) (models.Ladder, error) {
	if !isPositive(currentPrice) || cfg.GridLines < 1 {
		return nil, &apperrors.InvalidRangeError{Price: currentPrice}
	}

	lowerPrice := currentPrice * (1 - cfg.MaxDistance/100)
	upperPrice := currentPrice * (1 + cfg.MaxDistance/100)
	if upperPrice <= lowerPrice || lowerPrice < 0 {
		return nil, &apperrors.InvalidRangeError{Price: currentPrice, Lower: lowerPrice, Upper: upperPrice}
	}

	lines := float64(cfg.GridLines)
	buyStep := (currentPrice - lowerPrice) / lines
	sellStep := (upperPrice - currentPrice) / lines
	notional := legNotional(cfg)

	ladder := make(models.Ladder, 0, 2*cfg.GridLines)
	for i := 0; i < cfg.GridLines; i++ {
		price := Round(lowerPrice + float64(i)*buyStep)
		if price <= 0 {
			return nil, &apperrors.InvalidRangeError{Price: currentPrice, Lower: lowerPrice, Upper: upperPrice}
		}
		ladder = append(ladder, models.GridLeg{Side: models.Buy, Price: price, Quantity: Round(notional / price)})
	}
	for i := 0; i < cfg.GridLines; i++ {
		price := Round(currentPrice + float64(i+1)*sellStep)
		ladder = append(ladder, models.GridLeg{Side: models.Sell, Price: price, Quantity: Round(notional / price)})
	}

	// Rounding can collapse neighbouring levels on very small prices.
	for i := 1; i < len(ladder); i++ {
		if ladder[i].Price <= ladder[i-1].Price {
			return nil, &apperrors.InvalidRangeError{Price: currentPrice, Lower: lowerPrice, Upper: upperPrice}
		}
	}
	return ladder, nil
}

// ComputeReplacementLeg mirrors a filled leg to the opposite side one grid step away.
// The step is MaxDistance/(GridLines-1) percent of the filled price.
func ComputeReplacementLeg(filled models.GridLeg, cfg models.GridConfig) models.GridLeg {
	step := ReplacementStep(cfg)

	var price float64
	if filled.Side == models.Buy {
		price = filled.Price * (1 + step/100)
	} else {
		price = filled.Price * (1 - step/100)
	}
	price = Round(price)

	var quantity float64
	if price > 0 {
		quantity = Round(legNotional(cfg) / price)
	}
	return models.GridLeg{Side: filled.Side.Opposite(), Price: price, Quantity: quantity}
}

// ReplacementStep returns the replacement offset in percent.
func ReplacementStep(cfg models.GridConfig) float64 {
	if cfg.GridLines < 2 {
		return cfg.MaxDistance
	}
	return cfg.MaxDistance / float64(cfg.GridLines-1)
}

// ComputeDynamicSpacing derives a grid distance in percent from the 24h range:
// half the range, clamped to [1, 10]. fallback is returned when the range is unusable.
func ComputeDynamicSpacing(high24h, low24h, fallback float64) float64 {
	if !isPositive(high24h) || !isPositive(low24h) || high24h < low24h {
		return fallback
	}
	rangePct := (high24h - low24h) / low24h * 100
	return clamp(rangePct*spacingFactor, minDynamicSpacing, maxDynamicSpacing)
}

// EffectiveConfig returns cfg with MaxDistance replaced by spacing clamped to
// [MinDistance, MaxDistance].
func EffectiveConfig(cfg models.GridConfig, spacing float64) models.GridConfig {
	out := cfg
	if !isPositive(spacing) {
		return out
	}
	out.MaxDistance = clamp(spacing, cfg.MinDistance, cfg.MaxDistance)
	return out
}

// Round rounds v to Precision decimal places.
func Round(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(Precision).InexactFloat64()
}

func legNotional(cfg models.GridConfig) float64 {
	return cfg.TotalInvestment / float64(2*cfg.GridLines)
}

func isPositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
