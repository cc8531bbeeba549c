package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"grid-trading-bot-go/internal/apperrors"
	"grid-trading-bot-go/internal/exchange"
	"grid-trading-bot-go/internal/ledger"
	"grid-trading-bot-go/internal/metrics"
	"grid-trading-bot-go/internal/models"
	"grid-trading-bot-go/internal/performance"
	"grid-trading-bot-go/internal/persistence"
	"grid-trading-bot-go/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSymbol = "TLS/USDT"

func testConfig() models.GridConfig {
	return models.GridConfig{Symbol: testSymbol, MinDistance: 1, MaxDistance: 5, GridLines: 2, TotalInvestment: 1000}
}

type harness struct {
	s       *Session
	ex      *exchange.PaperExchange
	repo    *persistence.Repository
	ledger  *ledger.Ledger
	metrics *metrics.Metrics

	clockMu sync.Mutex
	clock   time.Time
}

// newHarness builds a paper-backed session whose periodic tasks only run when opts
// shorten their intervals.
func newHarness(t *testing.T, balances map[string]float64, opts ...func(*Settings)) *harness {
	t.Helper()
	if balances == nil {
		balances = map[string]float64{"USDT": 1e6, "TLS": 1e6}
	}
	ex := exchange.NewPaperExchange(testSymbol, 100, balances)
	// A 10% daily range yields 5% dynamic spacing.
	ex.SetTicker(models.Ticker{LastPrice: 100, High24h: 110, Low24h: 100})

	store := persistence.NewMemoryStore()
	h := &harness{
		ex:      ex,
		repo:    persistence.NewRepository(store),
		ledger:  ledger.New(store),
		metrics: metrics.New(prometheus.NewRegistry()),
		clock:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	settings := DefaultSettings()
	settings.ReconcileInterval = time.Hour
	settings.RecentreInterval = time.Hour
	for _, opt := range opts {
		opt(&settings)
	}
	h.s = New(Deps{
		Exchange: ex,
		Repo:     h.repo,
		Ledger:   h.ledger,
		Tracker:  performance.NewTracker(),
		Metrics:  h.metrics,
		Logger:   zap.NewNop(),
	}, settings)
	h.s.now = h.now
	t.Cleanup(h.s.Close)
	return h
}

func (h *harness) now() time.Time {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	return h.clock
}

func (h *harness) advance(d time.Duration) {
	h.clockMu.Lock()
	h.clock = h.clock.Add(d)
	h.clockMu.Unlock()
}

func (h *harness) openOrders(t *testing.T) []models.Order {
	t.Helper()
	open, err := exchange.AllOpenOrders(context.Background(), h.ex, testSymbol, 0)
	require.NoError(t, err)
	return open
}

func (h *harness) tracked(t *testing.T) []string {
	t.Helper()
	ids, err := h.ledger.List(context.Background(), testSymbol)
	require.NoError(t, err)
	return ids
}

func prices(orders []models.Order) []float64 {
	out := make([]float64, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.Price)
	}
	return out
}

func TestStartThenStop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	cfg := testConfig()

	require.NoError(t, h.s.Start(ctx, cfg))

	st := h.s.Status()
	assert.True(t, st.IsRunning)
	assert.Equal(t, 4, st.TrackedOrderCount)
	assert.NotEmpty(t, st.SessionID)
	assert.Equal(t, 100.0, st.LastPrice)
	require.NotNil(t, st.Config)
	assert.Equal(t, cfg, *st.Config)

	open := h.openOrders(t)
	assert.Equal(t, []float64{95, 97.5, 102.5, 105}, prices(open))
	assert.Len(t, h.tracked(t), 4)

	rec, err := h.repo.LoadSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.IsRunning)
	assert.Equal(t, cfg, *rec.Config)

	assert.ErrorIs(t, h.s.Start(ctx, cfg), apperrors.ErrAlreadyRunning)

	require.NoError(t, h.s.Stop(ctx))
	assert.Empty(t, h.tracked(t))
	assert.Empty(t, h.openOrders(t))
	assert.False(t, h.s.Status().IsRunning)
	assert.Equal(t, 0, h.s.Status().TrackedOrderCount)

	rec, err = h.repo.LoadSession(ctx)
	require.NoError(t, err)
	assert.False(t, rec.IsRunning)
	assert.Nil(t, rec.Config)

	assert.ErrorIs(t, h.s.Stop(ctx), apperrors.ErrNotRunning)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.SessionRunning))
	assert.Equal(t, 4.0, testutil.ToFloat64(h.metrics.OrdersPlaced.WithLabelValues("buy"))+testutil.ToFloat64(h.metrics.OrdersPlaced.WithLabelValues("sell")))
}

func TestStopWhileStopped(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.s.Stop(context.Background()), apperrors.ErrNotRunning)
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	h := newHarness(t, nil)
	cfg := testConfig()
	cfg.GridLines = 1

	err := h.s.Start(context.Background(), cfg)
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "gridLines", verr.Field)
	assert.Empty(t, h.openOrders(t))
	assert.False(t, h.s.Status().IsRunning)
}

func TestStartRejectsPriceOutsideDailyRange(t *testing.T) {
	h := newHarness(t, nil)
	h.ex.SetTicker(models.Ticker{LastPrice: 120, High24h: 110, Low24h: 100})

	assert.ErrorIs(t, h.s.Start(context.Background(), testConfig()), apperrors.ErrPriceOutOfRange)
	assert.Empty(t, h.openOrders(t))
}

func TestStartRequiresBalance(t *testing.T) {
	h := newHarness(t, map[string]float64{"USDT": 100, "TLS": 1e6})

	assert.ErrorIs(t, h.s.Start(context.Background(), testConfig()), apperrors.ErrInsufficientBalance)
	assert.Empty(t, h.openOrders(t))
}

func TestStartRollsBackOnPlacementFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	calls := 0
	h.ex.SetPlaceFunc(func(models.Side, float64, float64) error {
		calls++
		if calls == 3 {
			return errors.New("rejected by venue")
		}
		return nil
	})

	err := h.s.Start(ctx, testConfig())
	require.ErrorIs(t, err, apperrors.ErrPlacementFailure)
	var perr *apperrors.PlacementError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "sell", perr.Side)

	assert.Empty(t, h.openOrders(t), "legs placed before the failure are cancelled")
	assert.Empty(t, h.tracked(t))
	assert.False(t, h.s.Status().IsRunning)

	rec, err := h.repo.LoadSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec, "a failed start never persists a running session")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PlacementFailures.WithLabelValues("start")))

	// The session is usable afterwards.
	h.ex.SetPlaceFunc(nil)
	require.NoError(t, h.s.Start(ctx, testConfig()))
	require.NoError(t, h.s.Stop(ctx))
}

func TestStopGateAbortsPlacement(t *testing.T) {
	h := newHarness(t, nil)
	calls := 0
	h.ex.SetPlaceFunc(func(models.Side, float64, float64) error {
		calls++
		if calls == 2 {
			// What Stop does before it waits for the session lock.
			h.s.accepting.Store(false)
		}
		return nil
	})

	err := h.s.Start(context.Background(), testConfig())
	require.ErrorIs(t, err, apperrors.ErrPlacementFailure)
	assert.ErrorIs(t, err, errStopping)
	assert.Equal(t, 2, calls)
	assert.Empty(t, h.openOrders(t))
	assert.Empty(t, h.tracked(t))
}

func TestReconcileReplacesFilledLegOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	require.NoError(t, h.s.Start(ctx, testConfig()))

	h.ex.SetPrice(97) // crosses the 97.5 buy only
	h.s.reconcileTick(ctx)

	snap := h.s.tracker.Snapshot()
	assert.Equal(t, 1, snap.TotalTrades)
	assert.InDelta(t, -125, snap.TotalProfit, 1e-6)
	assert.Len(t, h.tracked(t), 4)
	assert.Equal(t, []float64{95, 102.375, 102.5, 105}, sortedPrices(h.openOrders(t)))

	persisted, err := h.repo.LoadStats(ctx, testSymbol)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, 1, persisted.TotalTrades)

	h.s.reconcileTick(ctx)
	assert.Equal(t, 1, h.s.tracker.Snapshot().TotalTrades, "a fill is never processed twice")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Fills.WithLabelValues("buy")))

	stats, err := h.s.GetStats(ctx, testSymbol)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalTrades)
}

func TestReconcileSkipsWhileRebuilding(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	require.NoError(t, h.s.Start(ctx, testConfig()))
	h.ex.SetPrice(97)

	h.s.rebuilding = true
	h.s.reconcileTick(ctx)
	assert.Equal(t, 0, h.s.tracker.Snapshot().TotalTrades)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ReconcileTicks.WithLabelValues("skipped")))
	h.s.rebuilding = false
}

func TestLoopsRunUntilStop(t *testing.T) {
	ctx := context.Background()
	ex := exchange.NewPaperExchange(testSymbol, 100, map[string]float64{"USDT": 1e6, "TLS": 1e6})
	ex.SetTicker(models.Ticker{LastPrice: 100, High24h: 110, Low24h: 100})
	store := persistence.NewMemoryStore()
	settings := DefaultSettings()
	settings.ReconcileInterval = 10 * time.Millisecond
	settings.RecentreInterval = time.Hour
	tracker := performance.NewTracker()
	s := New(Deps{
		Exchange: ex,
		Repo:     persistence.NewRepository(store),
		Ledger:   ledger.New(store),
		Tracker:  tracker,
		Logger:   zap.NewNop(),
	}, settings)
	defer s.Close()

	require.NoError(t, s.Start(ctx, testConfig()))
	ex.SetPrice(97)
	require.Eventually(t, func() bool {
		return tracker.Snapshot().TotalTrades == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop(ctx))
	s.loopMu.Lock()
	assert.Nil(t, s.loops)
	s.loopMu.Unlock()
}

func TestGetStats(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	require.NoError(t, h.repo.SaveStats(ctx, "BTC/USDT", models.PerformanceSnapshot{TotalTrades: 3, ProfitableTrades: 2}))
	stats, err := h.s.GetStats(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalTrades)

	stats, err = h.s.GetStats(ctx, "ETH/USDT")
	require.NoError(t, err)
	assert.Equal(t, models.PerformanceSnapshot{}, stats)

	require.NoError(t, h.s.Start(ctx, testConfig()))
	h.s.tracker.RecordFill(models.Fill{Side: models.Sell, Price: 1, Quantity: 1})
	stats, err = h.s.GetStats(ctx, testSymbol)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalTrades)
}

func TestRecoverCancelsOrphanedOrders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	cfg := testConfig()

	for _, price := range []float64{90, 95} {
		order, err := h.ex.CreateLimitOrder(ctx, testSymbol, models.Buy, 1, price)
		require.NoError(t, err)
		require.NoError(t, h.ledger.Add(ctx, models.TrackedOrder{OrderID: order.ID, Symbol: testSymbol, Side: models.Buy, Price: price, Quantity: 1}))
	}
	require.NoError(t, h.repo.SaveSession(ctx, &models.SessionRecord{SessionID: "old", IsRunning: true, Config: &cfg, UpdatedAt: h.now()}))

	require.NoError(t, h.s.Recover(ctx))
	assert.Empty(t, h.openOrders(t))
	assert.Empty(t, h.tracked(t))

	rec, err := h.repo.LoadSession(ctx)
	require.NoError(t, err)
	assert.False(t, rec.IsRunning)

	require.NoError(t, h.s.Recover(ctx), "nothing left to recover")
}

// stubExchange serves a fixed set of open orders and records placements.
type stubExchange struct {
	mu      sync.Mutex
	open    []models.Order
	orders  map[string]models.Order
	created []models.GridLeg
}

func (e *stubExchange) GetTicker(context.Context, string) (*models.Ticker, error) {
	return &models.Ticker{Symbol: testSymbol, LastPrice: 1}, nil
}

func (e *stubExchange) GetBalances(context.Context) ([]models.Balance, error) { return nil, nil }

func (e *stubExchange) GetOpenOrders(_ context.Context, _ string, limit, offset int) ([]models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if offset >= len(e.open) {
		return nil, nil
	}
	return append([]models.Order(nil), e.open[offset:]...), nil
}

func (e *stubExchange) CreateLimitOrder(_ context.Context, symbol string, side models.Side, quantity, price float64) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.created = append(e.created, models.GridLeg{Side: side, Price: price, Quantity: quantity})
	order := models.Order{ID: "R" + string(rune('0'+len(e.created))), Symbol: symbol, Side: side, Price: price, Quantity: quantity, Status: models.OrderStatusActive}
	e.open = append(e.open, order)
	return &order, nil
}

func (e *stubExchange) CancelOrder(context.Context, string, string) error { return nil }

func (e *stubExchange) GetOrder(_ context.Context, _ string, id string) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return nil, apperrors.ErrOrderNotFound
	}
	return &o, nil
}

func TestReconcileSetDifference(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	l := ledger.New(store)
	ex := &stubExchange{
		open: []models.Order{{ID: "A"}, {ID: "C"}},
		orders: map[string]models.Order{
			"B": {ID: "B", Side: models.Sell, Price: 1.1, Quantity: 10, ExecutedQuantity: 10, Status: models.OrderStatusFilled},
		},
	}
	s := New(Deps{Exchange: ex, Repo: persistence.NewRepository(store), Ledger: l, Logger: zap.NewNop()}, DefaultSettings())
	defer s.Close()

	cfg := models.GridConfig{Symbol: testSymbol, MinDistance: 1, MaxDistance: 5, GridLines: 5, TotalInvestment: 100}
	s.state = models.Running
	s.config = &cfg
	s.ladderConfig = cfg
	s.accepting.Store(true)
	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, l.Add(ctx, models.TrackedOrder{OrderID: id, Symbol: testSymbol, Side: models.Buy, Price: 1, Quantity: 10}))
	}

	fills, err := s.reconcileLocked(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, fills)
	require.Len(t, ex.created, 1)
	assert.Equal(t, models.Buy, ex.created[0].Side, "a sell fill is replaced by a buy")
	assert.InDelta(t, 1.08625, ex.created[0].Price, 1e-9)

	ids, err := l.List(ctx, testSymbol)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "C", "R1"}, ids)

	fills, err = s.reconcileLocked(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 0, fills, "B is never reprocessed")
	assert.Equal(t, 1, s.tracker.Snapshot().TotalTrades)
	assert.Equal(t, 1, s.tracker.Snapshot().ProfitableTrades)
}

func TestReconcileFallsBackToTrackedMetadata(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	l := ledger.New(store)
	ex := &stubExchange{orders: map[string]models.Order{}}
	s := New(Deps{Exchange: ex, Repo: persistence.NewRepository(store), Ledger: l, Logger: zap.NewNop()}, DefaultSettings())
	defer s.Close()

	cfg := models.GridConfig{Symbol: testSymbol, MinDistance: 1, MaxDistance: 5, GridLines: 5, TotalInvestment: 100}
	s.state = models.Running
	s.config = &cfg
	s.ladderConfig = cfg
	s.accepting.Store(true)
	require.NoError(t, l.Add(ctx, models.TrackedOrder{OrderID: "B", Symbol: testSymbol, Side: models.Buy, Price: 100, Quantity: 0.1}))

	fills, err := s.reconcileLocked(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, fills)
	require.Len(t, ex.created, 1)
	assert.Equal(t, models.Sell, ex.created[0].Side)
	assert.InDelta(t, 101.25, ex.created[0].Price, 1e-9)
	assert.InDelta(t, -10, s.tracker.Snapshot().TotalProfit, 1e-9)
}

func sortedPrices(orders []models.Order) []float64 {
	out := prices(orders)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func TestJournalRecordsOrderHistory(t *testing.T) {
	ctx := context.Background()
	journal, err := storage.OpenJournal(":memory:")
	require.NoError(t, err)
	defer journal.Close()

	h := newHarness(t, nil)
	h.s.journal = journal

	calls := 0
	h.ex.SetPlaceFunc(func(models.Side, float64, float64) error {
		calls++
		if calls == 3 {
			return errors.New("rejected by venue")
		}
		return nil
	})
	require.Error(t, h.s.Start(ctx, testConfig()))
	h.ex.SetPlaceFunc(nil)

	rows, err := journal.Orders(ctx, testSymbol, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, storage.StatusRolledBack, r.Status)
	}

	require.NoError(t, h.s.Start(ctx, testConfig()))
	h.ex.SetPrice(97)
	h.s.reconcileTick(ctx)
	require.NoError(t, h.s.Stop(ctx))

	rows, err = journal.Orders(ctx, testSymbol, 0)
	require.NoError(t, err)
	counts := map[string]int{}
	for _, r := range rows {
		counts[r.Status]++
	}
	assert.Equal(t, map[string]int{
		storage.StatusRolledBack: 2,
		storage.StatusFilled:     1,
		storage.StatusCancelled:  4, // three remaining legs and the replacement
	}, counts)

	stats, err := journal.LoadStats(ctx, testSymbol)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.TotalTrades)
}
