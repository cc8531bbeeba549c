// Package reporter renders the session's status, statistics and order history as text tables.
package reporter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"grid-trading-bot-go/internal/models"
	"grid-trading-bot-go/internal/performance"
	"grid-trading-bot-go/internal/storage"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const timeLayout = "2006-01-02 15:04:05"

// Summary holds the figures derived from a performance snapshot.
type Summary struct {
	TotalProfit      float64
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	WinRate          float64 // percent
	AvgProfitPerFill float64
}

// Summarize derives the report figures from snap.
func Summarize(snap models.PerformanceSnapshot) Summary {
	s := Summary{
		TotalProfit:   snap.TotalProfit,
		TotalTrades:   snap.TotalTrades,
		WinningTrades: snap.ProfitableTrades,
		LosingTrades:  snap.TotalTrades - snap.ProfitableTrades,
		WinRate:       performance.SuccessRate(snap) * 100,
	}
	if snap.TotalTrades > 0 {
		s.AvgProfitPerFill = snap.TotalProfit / float64(snap.TotalTrades)
	}
	return s
}

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	return t
}

// StatusTable renders the session status.
func StatusTable(st models.Status) string {
	t := newTable("Grid session")
	state := models.Stopped
	if st.IsRunning {
		state = models.Running
	}
	t.AppendRow(table.Row{"State", state.String()})
	if st.SessionID != "" {
		t.AppendRow(table.Row{"Session", st.SessionID})
	}
	if st.Config != nil {
		cfg := st.Config
		t.AppendRow(table.Row{"Symbol", cfg.Symbol})
		t.AppendRow(table.Row{"Distance", fmt.Sprintf("%.2f%% .. %.2f%%", cfg.MinDistance, cfg.MaxDistance)})
		t.AppendRow(table.Row{"Grid lines", cfg.GridLines})
		t.AppendRow(table.Row{"Investment", formatFloat(cfg.TotalInvestment)})
	}
	t.AppendRow(table.Row{"Tracked orders", st.TrackedOrderCount})
	if !st.LastGridUpdate.IsZero() {
		t.AppendRow(table.Row{"Centred at", formatFloat(st.LastPrice)})
		t.AppendRow(table.Row{"Last rebuild", st.LastGridUpdate.UTC().Format(timeLayout)})
	}
	return t.Render()
}

// StatsTable renders the statistics of symbol.
func StatsTable(symbol string, snap models.PerformanceSnapshot) string {
	sum := Summarize(snap)
	t := newTable("Performance " + symbol)
	t.AppendRows([]table.Row{
		{"Profit proxy", formatFloat(sum.TotalProfit)},
		{"Fills", sum.TotalTrades},
		{"Profitable", sum.WinningTrades},
		{"Unprofitable", sum.LosingTrades},
		{"Success rate", fmt.Sprintf("%.2f%%", sum.WinRate)},
		{"Avg per fill", formatFloat(sum.AvgProfitPerFill)},
		{"Price range", fmt.Sprintf("%s .. %s", formatFloat(snap.LowestPrice), formatFloat(snap.HighestPrice))},
		{"Volume", formatFloat(snap.Volume24h)},
	})
	if !snap.LastTradeTime.IsZero() {
		t.AppendRow(table.Row{"Last fill", fmt.Sprintf("%s %s @ %s", snap.LastTradeTime.UTC().Format(timeLayout), snap.LastTradeSide, formatFloat(snap.LastTradePrice))})
	}
	return t.Render()
}

// OrdersTable renders tracked orders from the highest price down, the way an order book reads.
func OrdersTable(orders []models.TrackedOrder) string {
	sorted := append([]models.TrackedOrder(nil), orders...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Price > sorted[j].Price })

	t := newTable("Tracked orders")
	t.AppendHeader(table.Row{"Side", "Price", "Quantity", "Order ID", "Placed"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	var notional float64
	for _, o := range sorted {
		t.AppendRow(table.Row{strings.ToUpper(string(o.Side)), formatFloat(o.Price), formatFloat(o.Quantity), o.OrderID, formatTime(o.PlacedAt)})
		notional += o.Price * o.Quantity
	}
	t.AppendFooter(table.Row{"", "Notional", formatFloat(notional), fmt.Sprintf("%d orders", len(sorted)), ""})
	return t.Render()
}

// JournalTable renders journal rows in the order given.
func JournalTable(records []storage.OrderRecord) string {
	t := newTable("Order journal")
	t.AppendHeader(table.Row{"Updated", "Side", "Price", "Quantity", "Filled", "Status", "Reason", "Order ID"})
	for _, r := range records {
		t.AppendRow(table.Row{
			formatTime(r.UpdatedAt),
			strings.ToUpper(string(r.Side)),
			formatFloat(r.Price),
			formatFloat(r.Quantity),
			formatFloat(r.Filled),
			r.Status,
			r.Reason,
			r.OrderID,
		})
	}
	return t.Render()
}

func formatFloat(v float64) string {
	s := fmt.Sprintf("%.8f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.UTC().Format(timeLayout)
}
