package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OstapBender-commits/ema-signal-bot/internal/config"
	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
	"github.com/OstapBender-commits/ema-signal-bot/internal/signal"
)

type fakeTickers struct {
	tickers []models.Ticker
	err     error
}

func (f *fakeTickers) Ticker(_ context.Context, symbol string) (*models.Ticker, error) {
	for _, t := range f.tickers {
		if t.Symbol == symbol {
			t := t
			return &t, nil
		}
	}
	return nil, errors.New("unknown symbol")
}

func (f *fakeTickers) Tickers(context.Context) ([]models.Ticker, error) {
	return f.tickers, f.err
}

func (f *fakeTickers) BookTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	return f.Ticker(ctx, symbol)
}

func newcomerConfig() config.NewcomerConfig {
	return config.NewcomerConfig{
		Enabled:          true,
		Interval:         time.Hour,
		MinChangePercent: 20,
		QuoteAsset:       "USDT",
		MaxWatched:       3,
	}
}

func TestNewcomerScanner_Scan(t *testing.T) {
	f := newScannerFixture(t, momentumSamples())
	// BTCUSDT is already watched, AAAUSDT falls over the watch cap, DDDBTC
	// has the wrong quote asset and EEEUSDT is not above the minimum.
	tickers := &fakeTickers{tickers: []models.Ticker{
		{Symbol: "BTCUSDT", PriceChangePercent: 25},
		{Symbol: "AAAUSDT", PriceChangePercent: 22},
		{Symbol: "BBBUSDT", PriceChangePercent: 48},
		{Symbol: "CCCUSDT", PriceChangePercent: 31},
		{Symbol: "DDDBTC", PriceChangePercent: 90},
		{Symbol: "EEEUSDT", PriceChangePercent: 20},
		{Symbol: "FFFUSDT", PriceChangePercent: -40},
	}}

	n := NewNewcomerScanner(newcomerConfig(), tickers, f.scanner, f.notifier, quietLogrus())
	added, err := n.Scan(context.Background())
	require.NoError(t, err)

	require.Len(t, added, 2)
	assert.Equal(t, "BBBUSDT", added[0].Symbol)
	assert.Equal(t, "CCCUSDT", added[1].Symbol)
	assert.Equal(t, []string{"BTCUSDT", "BBBUSDT", "CCCUSDT"}, f.scanner.Symbols())
	assert.Len(t, f.notifier.newcomers, 2)

	// second pass finds nothing new and the list is full
	added, err = n.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, added)
}

func TestNewcomerScanner_Errors(t *testing.T) {
	f := newScannerFixture(t, momentumSamples())

	n := NewNewcomerScanner(newcomerConfig(), &fakeTickers{err: errors.New("503")}, f.scanner, f.notifier, quietLogrus())
	_, err := n.Scan(context.Background())
	assert.Error(t, err)

	// announcement failures do not undo the watch
	f.notifier.setErr(errors.New("telegram down"))
	n = NewNewcomerScanner(newcomerConfig(), &fakeTickers{tickers: []models.Ticker{
		{Symbol: "XYZUSDT", PriceChangePercent: 60},
	}}, f.scanner, f.notifier, quietLogrus())
	added, err := n.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, added, 1)
	assert.True(t, f.scanner.IsWatched("XYZUSDT"))
}

func TestKeepAlive_PingsOnStart(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("offline")}
	k := NewKeepAlive(notifier, time.Hour, quietLogrus())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		k.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return notifier.pings == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestKeepAlive_DefaultInterval(t *testing.T) {
	k := NewKeepAlive(&fakeNotifier{}, 0, quietLogrus())
	assert.Equal(t, 5*time.Minute, k.interval)
}

func TestReporter(t *testing.T) {
	f := newScannerFixture(t, momentumSamples())
	reporter := NewReporter(f.scanner.Tracker(), f.scanner, f.notifier, time.Hour, quietLogrus())
	reporter.now = f.clock.Now
	f.scanner.WithSinks(reporter)

	_, err := f.scanner.Tick(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	r := reporter.Report()
	assert.Equal(t, "2024-05-01", r.Day)
	assert.Equal(t, 1, r.Sent)
	assert.Equal(t, 3, r.DailyCap)
	assert.Equal(t, 1, r.Watched)
	assert.Equal(t, map[string]int{"BTCUSDT": 1}, r.BySymbol)

	// a new UTC day clears both counters
	f.clock.Advance(24 * time.Hour)
	r = reporter.Report()
	assert.Equal(t, "2024-05-02", r.Day)
	assert.Zero(t, r.Sent)
	assert.Empty(t, r.BySymbol)
	assert.Equal(t, signal.StateIdle, f.scanner.Tracker().State("BTCUSDT"))
}

func TestReporter_RunSendsAfterInterval(t *testing.T) {
	notifier := &fakeNotifier{}
	reporter := NewReporter(signal.NewTracker(time.Hour, 3, nil), newScannerFixture(t, nil).scanner, notifier, 20*time.Millisecond, quietLogrus())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reporter.Run(ctx)

	require.Eventually(t, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return len(notifier.reports) > 0
	}, time.Second, 5*time.Millisecond)
}
