package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"grid-trading-bot-go/internal/bot"
	"grid-trading-bot-go/internal/config"
	"grid-trading-bot-go/internal/exchange"
	"grid-trading-bot-go/internal/ledger"
	"grid-trading-bot-go/internal/logger"
	"grid-trading-bot-go/internal/marketfeed"
	"grid-trading-bot-go/internal/metrics"
	"grid-trading-bot-go/internal/models"
	"grid-trading-bot-go/internal/persistence"
	"grid-trading-bot-go/internal/reporter"
	"grid-trading-bot-go/internal/storage"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file (.json, .yaml or .yml)")
	recoverOnly := flag.Bool("recover", false, "cancel orders left by a previous run and exit without starting")
	journalRows := flag.Int("journal", 0, "print the last N journal rows for the configured symbol and exit")
	flag.Parse()

	// Log to the console until the config says otherwise.
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("No .env file found, reading secrets from the environment.")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("Failed to load config: %v", err)
	}
	log := logger.InitLogger(cfg.LogConfig)
	defer log.Sync()

	journal, err := openJournal(cfg.JournalPath)
	if err != nil {
		logger.S().Fatalf("Failed to open order journal: %v", err)
	}
	defer journal.Close()

	if *journalRows > 0 {
		report, err := journalReport(context.Background(), journal, cfg.Grid.Symbol, *journalRows)
		if err != nil {
			logger.S().Fatalf("Failed to read journal: %v", err)
		}
		os.Stdout.WriteString(report)
		return
	}

	store, err := persistence.NewBadgerStore(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("Failed to open state store: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ex, err := newExchange(ctx, cfg, log)
	if err != nil {
		logger.S().Fatalf("Failed to initialize exchange: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, registry)
		defer srv.Close()
	}

	session := bot.New(bot.Deps{
		Exchange: ex,
		Repo:     persistence.NewRepository(store),
		Ledger:   ledger.New(store),
		Journal:  journal,
		Metrics:  metrics.New(registry),
		Logger:   log,
	}, bot.SettingsFromConfig(cfg.Engine))
	defer session.Close()

	if err := session.Recover(ctx); err != nil {
		logger.S().Fatalf("Failed to recover previous session: %v", err)
	}
	if *recoverOnly {
		logger.S().Info("Recovery finished.")
		return
	}

	if err := session.Start(ctx, cfg.Grid); err != nil {
		logger.S().Fatalf("Failed to start grid session: %v", err)
	}
	printStatus(ctx, session, cfg.Grid.Symbol)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	statusTicker := time.NewTicker(time.Duration(cfg.Engine.StatusIntervalSec) * time.Second)
	defer statusTicker.Stop()

loop:
	for {
		select {
		case <-quit:
			break loop
		case <-statusTicker.C:
			printStatus(ctx, session, cfg.Grid.Symbol)
			if !session.Status().IsRunning {
				logger.S().Error("Grid session is no longer running, exiting.")
				return
			}
		}
	}

	logger.S().Info("Shutting down...")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Minute)
	defer stopCancel()
	if err := session.Stop(stopCtx); err != nil {
		logger.S().Errorf("Failed to stop grid session: %v", err)
	}
	printStatus(stopCtx, session, cfg.Grid.Symbol)
	logger.S().Info("Grid session stopped.")
}

// newExchange builds the adapter named by cfg.Exchange.Name. The paper exchange follows
// Binance's public ticker, so a dry run sees real prices.
func newExchange(ctx context.Context, cfg *models.Config, log *zap.Logger) (exchange.Exchange, error) {
	timeout := time.Duration(cfg.Exchange.TimeoutSec) * time.Second

	switch cfg.Exchange.Name {
	case config.ExchangeXeggex:
		apiKey, apiSecret := os.Getenv("XEGGEX_API_KEY"), os.Getenv("XEGGEX_API_SECRET")
		if apiKey == "" || apiSecret == "" {
			return nil, errors.New("XEGGEX_API_KEY and XEGGEX_API_SECRET must be set")
		}
		return exchange.NewXeggexExchange(exchange.XeggexOptions{
			BaseURL:   cfg.Exchange.BaseURL,
			APIKey:    apiKey,
			APISecret: apiSecret,
			Timeout:   timeout,
			RateLimit: cfg.Exchange.RateLimit,
			RateBurst: cfg.Exchange.RateBurst,
		}, log.Named("xeggex")), nil

	case config.ExchangeBinance:
		apiKey, secretKey := os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_SECRET_KEY")
		if apiKey == "" || secretKey == "" {
			return nil, errors.New("BINANCE_API_KEY and BINANCE_SECRET_KEY must be set")
		}
		if cfg.Exchange.Testnet {
			logger.S().Info("Using the Binance spot testnet.")
		}
		return exchange.NewBinanceExchange(apiKey, secretKey, cfg.Exchange.Testnet, timeout, log.Named("binance")), nil
	}

	source := exchange.NewBinanceExchange("", "", cfg.Exchange.Testnet, timeout, log.Named("binance"))
	ticker, err := source.GetTicker(ctx, cfg.Grid.Symbol)
	if err != nil {
		return nil, err
	}
	balances := cfg.Exchange.PaperBalances
	if len(balances) == 0 && ticker.LastPrice > 0 {
		// Fund both sides of the ladder.
		if base, quote, ok := models.SplitSymbol(cfg.Grid.Symbol); ok {
			balances = map[string]float64{quote: cfg.Grid.TotalInvestment, base: cfg.Grid.TotalInvestment / ticker.LastPrice}
		}
	}
	paper := exchange.NewPaperExchange(cfg.Grid.Symbol, ticker.LastPrice, balances)
	paper.SetTicker(*ticker)
	feed := marketfeed.New(source, paper.SetTicker, cfg.Grid.Symbol,
		time.Duration(cfg.Engine.ReconcileIntervalSec)*time.Second, log)
	go feed.Run(ctx)
	logger.S().Infow("Paper trading against live prices", "symbol", cfg.Grid.Symbol, "balances", balances)
	return paper, nil
}

func openJournal(path string) (*storage.Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return storage.OpenJournal(path)
}

// journalReport renders the newest limit journal rows for symbol, followed by the
// last statistics the journal mirrored, if any.
func journalReport(ctx context.Context, journal *storage.Journal, symbol string, limit int) (string, error) {
	rows, err := journal.Orders(ctx, symbol, limit)
	if err != nil {
		return "", err
	}
	report := reporter.JournalTable(rows) + "\n"
	stats, err := journal.LoadStats(ctx, symbol)
	if err != nil {
		return "", err
	}
	if stats != nil {
		report += reporter.StatsTable(symbol, *stats) + "\n"
	}
	return report, nil
}

func serveMetrics(addr string, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.S().Errorf("Metrics server failed: %v", err)
		}
	}()
	logger.S().Infof("Serving metrics on %s/metrics", addr)
	return srv
}

func printStatus(ctx context.Context, session *bot.Session, symbol string) {
	st := session.Status()
	out := "\n" + reporter.StatusTable(st)
	if stats, err := session.GetStats(ctx, symbol); err == nil {
		out += "\n" + reporter.StatsTable(symbol, stats)
	}
	if orders, err := session.TrackedOrders(ctx); err == nil && len(orders) > 0 {
		out += "\n" + reporter.OrdersTable(orders)
	}
	logger.S().Info(out)
}
