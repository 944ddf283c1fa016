package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OstapBender-commits/ema-signal-bot/internal/config"
	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
	"github.com/OstapBender-commits/ema-signal-bot/internal/signal"
	"github.com/OstapBender-commits/ema-signal-bot/pkg/marketdata"
)

// runEvery calls fn now and then every interval until ctx is done.
func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Watcher is the part of the scanner the newcomer and report loops need.
type Watcher interface {
	Symbols() []string
	IsWatched(symbol string) bool
	Watch(symbol string) bool
}

// NewcomerScanner adds fast-rising pairs from the 24h tickers to the watch
// list and announces them.
type NewcomerScanner struct {
	cfg      config.NewcomerConfig
	tickers  marketdata.TickerSource
	watcher  Watcher
	notifier Notifier
	logger   *logrus.Logger
}

func NewNewcomerScanner(cfg config.NewcomerConfig, tickers marketdata.TickerSource, watcher Watcher, notifier Notifier, logger *logrus.Logger) *NewcomerScanner {
	return &NewcomerScanner{cfg: cfg, tickers: tickers, watcher: watcher, notifier: notifier, logger: logger}
}

// Scan runs one discovery pass and returns the tickers that were added.
// Candidates are taken strongest first until the watch list is full.
func (n *NewcomerScanner) Scan(ctx context.Context) ([]models.Ticker, error) {
	all, err := n.tickers.Tickers(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []models.Ticker
	for _, t := range all {
		if !strings.HasSuffix(t.Symbol, n.cfg.QuoteAsset) || t.PriceChangePercent <= n.cfg.MinChangePercent {
			continue
		}
		if n.watcher.IsWatched(t.Symbol) {
			continue
		}
		candidates = append(candidates, t)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].PriceChangePercent > candidates[j].PriceChangePercent
	})

	var added []models.Ticker
	for _, t := range candidates {
		if n.cfg.MaxWatched > 0 && len(n.watcher.Symbols()) >= n.cfg.MaxWatched {
			n.logger.WithField("max_watched", n.cfg.MaxWatched).Debug("Watch list full, newcomers skipped")
			break
		}
		if !n.watcher.Watch(t.Symbol) {
			continue
		}
		added = append(added, t)
		if err := n.notifier.NotifyNewcomer(ctx, t); err != nil {
			n.logger.WithError(err).WithField("symbol", t.Symbol).Warn("Failed to announce newcomer")
		}
	}
	return added, nil
}

// Run scans on start and then every configured interval.
func (n *NewcomerScanner) Run(ctx context.Context) {
	runEvery(ctx, n.cfg.Interval, func(ctx context.Context) {
		added, err := n.Scan(ctx)
		if err != nil {
			n.logger.WithError(err).Warn("Newcomer scan failed")
			return
		}
		if len(added) > 0 {
			n.logger.WithField("added", len(added)).Info("Newcomers added")
		}
	})
}

// KeepAlive pings the chat periodically. Failures are only logged.
type KeepAlive struct {
	notifier Notifier
	interval time.Duration
	logger   *logrus.Logger
}

func NewKeepAlive(notifier Notifier, interval time.Duration, logger *logrus.Logger) *KeepAlive {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &KeepAlive{notifier: notifier, interval: interval, logger: logger}
}

func (k *KeepAlive) Run(ctx context.Context) {
	runEvery(ctx, k.interval, func(ctx context.Context) {
		if err := k.notifier.Ping(ctx); err != nil {
			k.logger.WithError(err).Debug("Keep-alive ping failed")
		}
	})
}

// Reporter counts emitted signals per symbol for the current UTC day and
// sends a summary periodically. It is registered as a SignalSink.
type Reporter struct {
	tracker  *signal.Tracker
	watcher  Watcher
	notifier Notifier
	interval time.Duration
	logger   *logrus.Logger
	now      func() time.Time

	mu       sync.Mutex
	day      string
	bySymbol map[string]int
}

func NewReporter(tracker *signal.Tracker, watcher Watcher, notifier Notifier, interval time.Duration, logger *logrus.Logger) *Reporter {
	return &Reporter{
		tracker:  tracker,
		watcher:  watcher,
		notifier: notifier,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		bySymbol: make(map[string]int),
	}
}

// Record implements SignalSink.
func (r *Reporter) Record(_ context.Context, sig *models.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollover()
	r.bySymbol[sig.Symbol]++
	return nil
}

// rollover must be called with mu held.
func (r *Reporter) rollover() {
	day := r.now().UTC().Format("2006-01-02")
	if day != r.day {
		r.day = day
		r.bySymbol = make(map[string]int)
	}
}

// Report builds the summary for the current day.
func (r *Reporter) Report() DailyReport {
	snap := r.tracker.Snapshot()

	r.mu.Lock()
	r.rollover()
	bySymbol := make(map[string]int, len(r.bySymbol))
	for k, v := range r.bySymbol {
		bySymbol[k] = v
	}
	r.mu.Unlock()

	return DailyReport{
		Day:      snap.Day,
		Sent:     snap.Count,
		DailyCap: snap.DailyCap,
		Watched:  len(r.watcher.Symbols()),
		BySymbol: bySymbol,
		At:       r.now().UTC(),
	}
}

// Run sends a report every interval. The first one goes out after one
// interval, not at start-up.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.notifier.SendReport(ctx, r.Report()); err != nil {
				r.logger.WithError(err).Warn("Failed to send daily report")
			}
		}
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
