// Package metrics exposes the grid engine's Prometheus series:
//
//	grid_orders_placed_total{side}        legs accepted by the exchange
//	grid_fills_total{side}                fills detected by reconciliation
//	grid_placement_failures_total{phase}  start, replacement, recentre, restore
//	grid_recentre_total{result}           ok, restored, fatal
//	grid_reconcile_ticks_total{result}    ok, skipped, error
//	grid_optimizations_total{result}      unchanged, applied, error
//	grid_session_running                  1 while a session runs
//	grid_tracked_orders                   size of the ledger
//	grid_realized_pnl                     profit proxy of the session
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the collectors; one instance per process, registered on construction.
type Metrics struct {
	OrdersPlaced      *prometheus.CounterVec
	Fills             *prometheus.CounterVec
	PlacementFailures *prometheus.CounterVec
	Recentres         *prometheus.CounterVec
	ReconcileTicks    *prometheus.CounterVec
	Optimizations     *prometheus.CounterVec
	SessionRunning    prometheus.Gauge
	TrackedOrders     prometheus.Gauge
	RealizedPnL       prometheus.Gauge
}

// New builds the collectors and registers them on reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersPlaced: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "grid_orders_placed_total", Help: "Grid legs accepted by the exchange"},
			[]string{"side"},
		),
		Fills: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "grid_fills_total", Help: "Fills detected by reconciliation"},
			[]string{"side"},
		),
		PlacementFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "grid_placement_failures_total", Help: "Rejected or failed placements by phase"},
			[]string{"phase"},
		),
		Recentres: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "grid_recentre_total", Help: "Recentring attempts by outcome"},
			[]string{"result"},
		),
		ReconcileTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "grid_reconcile_ticks_total", Help: "Reconciliation ticks by outcome"},
			[]string{"result"},
		),
		Optimizations: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "grid_optimizations_total", Help: "Adaptive tuning checks by outcome"},
			[]string{"result"},
		),
		SessionRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "grid_session_running", Help: "1 while a grid session is running"},
		),
		TrackedOrders: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "grid_tracked_orders", Help: "Orders currently tracked in the ledger"},
		),
		RealizedPnL: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "grid_realized_pnl", Help: "Realized profit proxy of the running session"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.OrdersPlaced, m.Fills, m.PlacementFailures, m.Recentres, m.ReconcileTicks,
			m.Optimizations, m.SessionRunning, m.TrackedOrders, m.RealizedPnL,
		)
	}
	return m
}

// SetRunning flips the session gauge.
func (m *Metrics) SetRunning(running bool) {
	if running {
		m.SessionRunning.Set(1)
		return
	}
	m.SessionRunning.Set(0)
}
