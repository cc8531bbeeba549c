// Package marketfeed copies public market data from a live venue into a simulated one,
// so a paper session trades against real prices.
package marketfeed

import (
	"context"
	"time"

	"grid-trading-bot-go/internal/models"

	"go.uber.org/zap"
)

// TickerSource is any venue that serves 24h tickers, e.g. exchange.BinanceExchange
// built without API keys.
type TickerSource interface {
	GetTicker(ctx context.Context, symbol string) (*models.Ticker, error)
}

// TickerSink receives every ticker fetched; exchange.PaperExchange.SetTicker fits.
type TickerSink func(models.Ticker)

// Feed polls one symbol.
type Feed struct {
	source   TickerSource
	sink     TickerSink
	symbol   string
	interval time.Duration
	logger   *zap.Logger
}

func New(source TickerSource, sink TickerSink, symbol string, interval time.Duration, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{source: source, sink: sink, symbol: symbol, interval: interval, logger: logger.Named("feed")}
}

// Poll fetches the ticker once and hands it to the sink.
func (f *Feed) Poll(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, f.interval)
	defer cancel()
	ticker, err := f.source.GetTicker(callCtx, f.symbol)
	if err != nil {
		return err
	}
	f.sink(*ticker)
	return nil
}

// Run polls until ctx is cancelled. Failures are logged and retried on the next tick.
func (f *Feed) Run(ctx context.Context) {
	t := time.NewTicker(f.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := f.Poll(ctx); err != nil && ctx.Err() == nil {
				f.logger.Warn("Ticker poll failed", zap.String("symbol", f.symbol), zap.Error(err))
			}
		}
	}
}
