package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	"grid-trading-bot-go/internal/apperrors"
)

// Config holds every setting the bot process reads from its config file.
type Config struct {
	Grid        GridConfig     `json:"grid" yaml:"grid"`                         // Grid parameters for the session started at boot
	Exchange    ExchangeConfig `json:"exchange" yaml:"exchange"`                 // Exchange adapter selection
	Engine      EngineConfig   `json:"engine" yaml:"engine"`                     // Loop cadence and timeouts
	DBPath      string         `json:"db_path" yaml:"db_path"`                   // Badger directory for ledger/state/stats
	JournalPath string         `json:"journal_path" yaml:"journal_path"`         // SQLite file for the order journal
	MetricsAddr string         `json:"metrics_addr,omitempty" yaml:"metrics_addr"` // Listen address for /metrics, empty disables it
	LogConfig   LogConfig      `json:"log" yaml:"log"`
}

// ExchangeConfig selects and tunes the exchange adapter.
type ExchangeConfig struct {
	Name          string             `json:"name" yaml:"name"`                         // paper, xeggex or binance
	BaseURL       string             `json:"base_url,omitempty" yaml:"base_url"`       // REST base URL override
	Testnet       bool               `json:"testnet" yaml:"testnet"`                   // binance only
	TimeoutSec    int                `json:"timeout_sec" yaml:"timeout_sec"`           // HTTP client timeout
	RateLimit     float64            `json:"rate_limit" yaml:"rate_limit"`             // requests per second
	RateBurst     int                `json:"rate_burst" yaml:"rate_burst"`             // limiter burst
	PaperBalances map[string]float64 `json:"paper_balances,omitempty" yaml:"paper_balances"` // starting balances for the paper exchange
}

// EngineConfig controls the session's periodic tasks.
type EngineConfig struct {
	ReconcileIntervalSec  int     `json:"reconcile_interval_sec" yaml:"reconcile_interval_sec"`
	RecentreIntervalSec   int     `json:"recentre_interval_sec" yaml:"recentre_interval_sec"`
	RecentreMaxAgeMin     int     `json:"recentre_max_age_min" yaml:"recentre_max_age_min"`
	RecentreDriftPct      float64 `json:"recentre_drift_pct" yaml:"recentre_drift_pct"`
	OptimizeIntervalHours int     `json:"optimize_interval_hours" yaml:"optimize_interval_hours"`
	CallTimeoutSec        int     `json:"call_timeout_sec" yaml:"call_timeout_sec"`
	CancelWorkers         int     `json:"cancel_workers" yaml:"cancel_workers"`
	StatusIntervalSec     int     `json:"status_interval_sec" yaml:"status_interval_sec"`
}

// LogConfig defines logging output and rotation.
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`             // debug, info, warn, error
	Output     string `json:"output" yaml:"output"`           // console, file, both
	File       string `json:"file" yaml:"file"`               // log file path
	MaxSize    int    `json:"max_size" yaml:"max_size"`       // MB per file
	MaxBackups int    `json:"max_backups" yaml:"max_backups"` // rotated files kept
	MaxAge     int    `json:"max_age" yaml:"max_age"`         // days kept
	Compress   bool   `json:"compress" yaml:"compress"`
}

// GridConfig is the user-supplied shape of one grid session.
type GridConfig struct {
	Symbol          string  `json:"symbol" yaml:"symbol"`
	MinDistance     float64 `json:"minDistance" yaml:"min_distance"`         // percent
	MaxDistance     float64 `json:"maxDistance" yaml:"max_distance"`         // percent
	GridLines       int     `json:"gridLines" yaml:"grid_lines"`             // legs per side
	TotalInvestment float64 `json:"totalInvestment" yaml:"total_investment"` // quote currency
}

// Validate checks the configuration invariants.
func (c GridConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.Symbol) == "":
		return &apperrors.ValidationError{Field: "symbol", Reason: "must not be empty"}
	case !finite(c.MinDistance) || c.MinDistance < 0.1:
		return &apperrors.ValidationError{Field: "minDistance", Reason: "must be at least 0.1"}
	case !finite(c.MaxDistance) || c.MaxDistance > 100:
		return &apperrors.ValidationError{Field: "maxDistance", Reason: "must be at most 100"}
	case c.MinDistance >= c.MaxDistance:
		return &apperrors.ValidationError{Field: "minDistance", Reason: "must be below maxDistance"}
	case c.GridLines < 2:
		return &apperrors.ValidationError{Field: "gridLines", Reason: "must be at least 2"}
	case !finite(c.TotalInvestment) || c.TotalInvestment <= 0:
		return &apperrors.ValidationError{Field: "totalInvestment", Reason: "must be positive"}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the mirrored side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide normalizes exchange spellings such as "BUY" or "Sell".
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return "", fmt.Errorf("unknown order side %q", s)
}

// GridLeg is one price level in the ladder.
type GridLeg struct {
	Side     Side    `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Ladder is ordered by ascending price.
type Ladder []GridLeg

// Notional sums price*quantity over all legs.
func (l Ladder) Notional() float64 {
	var total float64
	for _, leg := range l {
		total += leg.Price * leg.Quantity
	}
	return total
}

// TrackedOrder is a bot-owned order recorded in the ledger.
type TrackedOrder struct {
	OrderID  string    `json:"orderId"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	PlacedAt time.Time `json:"placedAt"`
}

// Leg returns the grid leg the order was placed for.
func (o TrackedOrder) Leg() GridLeg {
	return GridLeg{Side: o.Side, Price: o.Price, Quantity: o.Quantity}
}

// Ticker is the subset of market data the engine consumes.
type Ticker struct {
	Symbol    string  `json:"symbol"`
	LastPrice float64 `json:"lastPrice"`
	High24h   float64 `json:"high24h"`
	Low24h    float64 `json:"low24h"`
}

// Balance is one asset's funds on the exchange.
type Balance struct {
	Asset     string  `json:"asset"`
	Available float64 `json:"available"`
	Held      float64 `json:"held"`
}

// Order status values normalized across adapters.
const (
	OrderStatusActive    = "active"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
)

// Order is an exchange order normalized across adapters.
type Order struct {
	ID               string    `json:"id"`
	Symbol           string    `json:"symbol"`
	Side             Side      `json:"side"`
	Price            float64   `json:"price"`
	Quantity         float64   `json:"quantity"`
	ExecutedQuantity float64   `json:"executedQuantity"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
}

// PerformanceSnapshot accumulates the realized-PnL proxy and trade statistics of a session.
type PerformanceSnapshot struct {
	TotalProfit      float64   `json:"totalProfit"`
	TotalTrades      int       `json:"totalTrades"`
	ProfitableTrades int       `json:"profitableTrades"`
	HighestPrice     float64   `json:"highestPrice"`
	LowestPrice      float64   `json:"lowestPrice"`
	Volume24h        float64   `json:"volume24h"`
	LastTradeTime    time.Time `json:"lastTradeTime,omitempty"`
	LastTradePrice   float64   `json:"lastTradePrice,omitempty"`
	LastTradeSide    Side      `json:"lastTradeSide,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Fill describes an executed order as seen by the reconciliation loop.
type Fill struct {
	OrderID  string
	Side     Side
	Price    float64
	Quantity float64
	Time     time.Time
}

// RecentringClock records when and where the ladder was last centred.
type RecentringClock struct {
	LastGridUpdate time.Time `json:"lastGridUpdate"`
	LastPrice      float64   `json:"lastPrice"`
}

// SessionState is the lifecycle state of the grid session.
type SessionState int

const (
	Stopped SessionState = iota
	Running
)

func (s SessionState) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Status is the read-only projection of a session.
type Status struct {
	IsRunning         bool        `json:"isRunning"`
	Config            *GridConfig `json:"config"`
	TrackedOrderCount int         `json:"trackedOrderCount"`
	SessionID         string      `json:"sessionId,omitempty"`
	LastGridUpdate    time.Time   `json:"lastGridUpdate,omitempty"`
	LastPrice         float64     `json:"lastPrice,omitempty"`
}

// SplitSymbol splits "BASE/QUOTE" (or BASE_QUOTE, BASE-QUOTE) into its assets.
func SplitSymbol(symbol string) (base, quote string, ok bool) {
	for _, sep := range []string{"/", "_", "-"} {
		if parts := strings.SplitN(symbol, sep, 2); len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), true
		}
	}
	return "", "", false
}
