// Package bot runs one grid session: it places the ladder, detects fills by polling,
// replaces filled legs, recentres the ladder and adapts its density.
//
// Every mutation goes through Session.mu. The periodic tasks only TryLock it and
// skip their tick when a caller already owns the session.
package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"grid-trading-bot-go/internal/exchange"
	"grid-trading-bot-go/internal/ledger"
	"grid-trading-bot-go/internal/metrics"
	"grid-trading-bot-go/internal/models"
	"grid-trading-bot-go/internal/performance"
	"grid-trading-bot-go/internal/persistence"

	"github.com/alitto/pond"
	"go.uber.org/zap"
)

// Journal records order history. It is optional.
type Journal interface {
	RecordPlaced(ctx context.Context, order models.TrackedOrder) error
	MarkFilled(ctx context.Context, orderID string, quantity float64, at time.Time) error
	MarkCancelled(ctx context.Context, orderID, reason string, at time.Time) error
	SaveStats(ctx context.Context, symbol string, snap models.PerformanceSnapshot) error
}

// Settings are the engine timings.
type Settings struct {
	ReconcileInterval time.Duration
	RecentreInterval  time.Duration
	RecentreMaxAge    time.Duration
	RecentreDriftPct  float64
	OptimizeInterval  time.Duration
	CallTimeout       time.Duration
	CancelWorkers     int
	PageSize          int
}

// DefaultSettings returns the production cadence.
func DefaultSettings() Settings {
	return Settings{
		ReconcileInterval: 10 * time.Second,
		RecentreInterval:  60 * time.Second,
		RecentreMaxAge:    30 * time.Minute,
		RecentreDriftPct:  2,
		OptimizeInterval:  4 * time.Hour,
		CallTimeout:       10 * time.Second,
		CancelWorkers:     8,
		PageSize:          exchange.DefaultPageSize,
	}
}

// SettingsFromConfig overlays the non-zero values of cfg on the defaults.
func SettingsFromConfig(cfg models.EngineConfig) Settings {
	s := DefaultSettings()
	if cfg.ReconcileIntervalSec > 0 {
		s.ReconcileInterval = time.Duration(cfg.ReconcileIntervalSec) * time.Second
	}
	if cfg.RecentreIntervalSec > 0 {
		s.RecentreInterval = time.Duration(cfg.RecentreIntervalSec) * time.Second
	}
	if cfg.RecentreMaxAgeMin > 0 {
		s.RecentreMaxAge = time.Duration(cfg.RecentreMaxAgeMin) * time.Minute
	}
	if cfg.RecentreDriftPct > 0 {
		s.RecentreDriftPct = cfg.RecentreDriftPct
	}
	if cfg.OptimizeIntervalHours > 0 {
		s.OptimizeInterval = time.Duration(cfg.OptimizeIntervalHours) * time.Hour
	}
	if cfg.CallTimeoutSec > 0 {
		s.CallTimeout = time.Duration(cfg.CallTimeoutSec) * time.Second
	}
	if cfg.CancelWorkers > 0 {
		s.CancelWorkers = cfg.CancelWorkers
	}
	return s
}

// Deps are the collaborators a Session is built from.
type Deps struct {
	Exchange exchange.Exchange
	Repo     *persistence.Repository
	Ledger   *ledger.Ledger
	Tracker  *performance.Tracker
	Journal  Journal          // optional
	Metrics  *metrics.Metrics // optional
	Logger   *zap.Logger
}

type loopGroup struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Session is the grid engine. Create one per process with New.
type Session struct {
	ex       exchange.Exchange
	repo     *persistence.Repository
	ledger   *ledger.Ledger
	tracker  *performance.Tracker
	journal  Journal
	metrics  *metrics.Metrics
	logger   *zap.Logger
	settings Settings
	pool     *pond.WorkerPool
	now      func() time.Time

	// accepting gates placements. Stop clears it before waiting for mu.
	accepting atomic.Bool
	status    atomic.Pointer[models.Status]

	loopMu sync.Mutex
	loops  *loopGroup

	mu           sync.Mutex
	state        models.SessionState
	config       *models.GridConfig // as requested by the caller
	ladderConfig models.GridConfig  // after dynamic spacing; drives replacements
	sessionID    string
	clock        models.RecentringClock
	lastOptimize time.Time
	// rebuilding is set while recentreLocked swaps the ladder. mu already excludes
	// reconcileTick, so it only matters to reconciliation running under the same lock.
	rebuilding   bool
}

func New(deps Deps, settings Settings) *Session {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	if deps.Tracker == nil {
		deps.Tracker = performance.NewTracker()
	}
	if settings.CancelWorkers <= 0 {
		settings.CancelWorkers = 1
	}
	if settings.PageSize <= 0 {
		settings.PageSize = exchange.DefaultPageSize
	}

	logger := deps.Logger.Named("session")
	s := &Session{
		ex:       deps.Exchange,
		repo:     deps.Repo,
		ledger:   deps.Ledger,
		tracker:  deps.Tracker,
		journal:  deps.Journal,
		metrics:  deps.Metrics,
		logger:   logger,
		settings: settings,
		now:      time.Now,
		pool: pond.New(
			settings.CancelWorkers,
			1000,
			pond.MinWorkers(1),
			pond.IdleTimeout(30*time.Second),
			pond.Strategy(pond.Balanced()),
			pond.PanicHandler(func(p interface{}) {
				logger.Error("Cancel worker panic recovered", zap.Any("panic", p))
			}),
		),
	}
	s.status.Store(&models.Status{})
	return s
}

// Status returns the last published snapshot. It never blocks.
func (s *Session) Status() models.Status {
	return *s.status.Load()
}

// GetStats returns the live statistics when symbol is the running session's, otherwise the
// persisted ones. A symbol that never traded yields a zero snapshot.
func (s *Session) GetStats(ctx context.Context, symbol string) (models.PerformanceSnapshot, error) {
	if st := s.status.Load(); st.IsRunning && st.Config != nil && st.Config.Symbol == symbol {
		return s.tracker.Snapshot(), nil
	}
	snap, err := s.repo.LoadStats(ctx, symbol)
	if err != nil {
		return models.PerformanceSnapshot{}, err
	}
	if snap == nil {
		return models.PerformanceSnapshot{}, nil
	}
	return *snap, nil
}

// TrackedOrders lists the ledger of the running session.
func (s *Session) TrackedOrders(ctx context.Context) ([]models.TrackedOrder, error) {
	st := s.status.Load()
	if !st.IsRunning || st.Config == nil {
		return nil, nil
	}
	return s.ledger.Orders(ctx, st.Config.Symbol)
}

// Close stops the periodic tasks and the cancel workers. It does not cancel orders; call Stop first.
func (s *Session) Close() {
	if g := s.detachLoops(); g != nil {
		g.wg.Wait()
	}
	s.pool.StopAndWait()
}

// publishLocked refreshes the lock-free status snapshot.
func (s *Session) publishLocked(ctx context.Context) {
	st := &models.Status{
		IsRunning: s.state == models.Running,
		SessionID: s.sessionID,
	}
	if s.config != nil {
		cfg := *s.config
		st.Config = &cfg
		if ids, err := s.ledger.List(ctx, cfg.Symbol); err == nil {
			st.TrackedOrderCount = len(ids)
		} else {
			st.TrackedOrderCount = s.status.Load().TrackedOrderCount
		}
		st.LastGridUpdate = s.clock.LastGridUpdate
		st.LastPrice = s.clock.LastPrice
	}
	s.status.Store(st)
	s.metrics.SetRunning(st.IsRunning)
	s.metrics.TrackedOrders.Set(float64(st.TrackedOrderCount))
}

// persistLocked writes the session record. Failures are logged; the in-memory state stays authoritative.
func (s *Session) persistLocked(ctx context.Context) {
	rec := &models.SessionRecord{
		SessionID: s.sessionID,
		IsRunning: s.state == models.Running,
		UpdatedAt: s.now().UTC(),
	}
	if s.state == models.Running && s.config != nil {
		cfg := *s.config
		rec.Config = &cfg
	}
	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	if err := s.repo.SaveSession(callCtx, rec); err != nil {
		s.logger.Error("Failed to persist session state", zap.Bool("isRunning", rec.IsRunning), zap.Error(err))
	}
}

func (s *Session) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.settings.CallTimeout)
}

// startLoopsLocked launches the reconciliation and recentring tasks.
func (s *Session) startLoopsLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	g := &loopGroup{cancel: cancel}
	g.wg.Add(2)
	go s.runLoop(ctx, &g.wg, s.settings.ReconcileInterval, s.reconcileTick)
	go s.runLoop(ctx, &g.wg, s.settings.RecentreInterval, s.recentreTick)

	s.loopMu.Lock()
	s.loops = g
	s.loopMu.Unlock()
}

// detachLoops cancels the running tasks and hands back their group so the caller can
// wait for them outside mu. Returns nil when nothing runs.
func (s *Session) detachLoops() *loopGroup {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	g := s.loops
	s.loops = nil
	if g != nil {
		g.cancel()
	}
	return g
}

func (s *Session) runLoop(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, tick func(context.Context)) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}
