package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/OstapBender-commits/ema-signal-bot/internal/cache"
	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
	"github.com/OstapBender-commits/ema-signal-bot/internal/signal"
	"github.com/OstapBender-commits/ema-signal-bot/pkg/marketdata"
)

// SignalHistory is the read side of the signal audit table.
type SignalHistory interface {
	CountSince(ctx context.Context, since time.Time) (int, error)
	Recent(ctx context.Context, symbol string, limit int) ([]models.Signal, error)
}

// recentSignals bounds how far back the tracker is restored.
const recentSignals = 100

// CacheWarmingService prepares state on start-up so a restart neither resets
// the daily cap nor waits a full poll to fill the series.
type CacheWarmingService struct {
	history SignalHistory
	tracker *signal.Tracker
	source  marketdata.SampleSource
	store   cache.SampleStore
	request marketdata.Request
	now     func() time.Time
	logger  *slog.Logger
}

// NewCacheWarmingService creates a warming service. history and store may be
// nil, in which case the matching step is skipped.
func NewCacheWarmingService(history SignalHistory, tracker *signal.Tracker, source marketdata.SampleSource,
	store cache.SampleStore, request marketdata.Request, logger *slog.Logger) *CacheWarmingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheWarmingService{
		history: history,
		tracker: tracker,
		source:  source,
		store:   store,
		request: request,
		now:     time.Now,
		logger:  logger,
	}
}

// WarmCache restores the tracker and pre-fills the sample store for symbols.
// Sample failures are logged per symbol. A failed tracker restore does not
// stop the sample step and is returned once warming is done.
func (c *CacheWarmingService) WarmCache(ctx context.Context, symbols []string) error {
	c.logger.Info("Starting cache warming", "symbols", len(symbols))
	start := time.Now()

	var restoreErr error
	if err := c.warmTracker(ctx); err != nil {
		restoreErr = fmt.Errorf("restore signal tracker: %w", err)
	}

	warmed := 0
	for _, sym := range symbols {
		ok, err := c.warmSamples(ctx, sym)
		if err != nil {
			c.logger.Warn("Failed to warm samples", "symbol", sym, "error", err)
			continue
		}
		if ok {
			warmed++
		}
	}

	c.logger.Info("Cache warming completed",
		"warmed_symbols", warmed,
		"duration_ms", time.Since(start).Milliseconds())
	return restoreErr
}

func (c *CacheWarmingService) warmTracker(ctx context.Context) error {
	if c.history == nil || c.tracker == nil {
		return nil
	}
	now := c.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	count, err := c.history.CountSince(ctx, dayStart)
	if err != nil {
		return err
	}
	recent, err := c.history.Recent(ctx, "", recentSignals)
	if err != nil {
		return err
	}

	lastEmit := make(map[string]time.Time)
	for _, s := range recent {
		if at, ok := lastEmit[s.Symbol]; !ok || s.CreatedAt.After(at) {
			lastEmit[s.Symbol] = s.CreatedAt
		}
	}
	c.tracker.Restore(count, lastEmit)
	c.logger.Info("Signal tracker restored", "today", count, "symbols", len(lastEmit))
	return nil
}

// warmSamples fetches history for symbol when the store has none. It reports
// whether anything was written.
func (c *CacheWarmingService) warmSamples(ctx context.Context, symbol string) (bool, error) {
	if c.store == nil || c.source == nil {
		return false, nil
	}
	if _, ok := c.store.Load(ctx, symbol); ok {
		return false, nil
	}

	req := c.request
	req.Symbol = symbol
	samples, err := c.source.FetchSamples(ctx, req)
	if err != nil {
		return false, err
	}
	if len(samples) == 0 {
		return false, fmt.Errorf("no samples for %s", symbol)
	}
	if err := c.store.Save(ctx, symbol, samples); err != nil {
		return false, err
	}
	return true, nil
}
