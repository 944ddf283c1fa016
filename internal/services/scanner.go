package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OstapBender-commits/ema-signal-bot/internal/cache"
	"github.com/OstapBender-commits/ema-signal-bot/internal/calibration"
	"github.com/OstapBender-commits/ema-signal-bot/internal/config"
	"github.com/OstapBender-commits/ema-signal-bot/internal/metrics"
	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
	"github.com/OstapBender-commits/ema-signal-bot/internal/signal"
	"github.com/OstapBender-commits/ema-signal-bot/internal/telemetry"
	"github.com/OstapBender-commits/ema-signal-bot/internal/utils"
	"github.com/OstapBender-commits/ema-signal-bot/pkg/marketdata"
)

// streamCandles bounds the per-symbol window of trade-stream candles.
const streamCandles = 120

// SignalSink records emitted signals (CSV file, Postgres).
type SignalSink interface {
	Record(ctx context.Context, sig *models.Signal) error
}

// EventLogger receives emitted signals and stage failures as structured
// events, next to the scanner's own log lines.
type EventLogger interface {
	LogSignal(symbol string, side string, kind string, score float64)
	LogStageFailure(stage string, kind string, symbol string, err error)
}

// SymbolStatus is the scanner's view of one watched symbol.
type SymbolStatus struct {
	Symbol    string                `json:"symbol"`
	Bars      int                   `json:"bars"`
	Threshold calibration.Threshold `json:"threshold"`
	Mode      models.Mode           `json:"mode"`
	Profiled  bool                  `json:"profiled"`
	Newcomer  bool                  `json:"newcomer"`
	LastTick  time.Time             `json:"last_tick"`
	LastError string                `json:"last_error,omitempty"`
}

type watchedSymbol struct {
	series   *models.Series
	candles  *models.Series
	newcomer bool

	mu        sync.Mutex
	profile   *models.Profile
	threshold calibration.Threshold
	mode      models.Mode
	lastTick  time.Time
	lastErr   string
}

func (w *watchedSymbol) record(th calibration.Threshold, mode models.Mode) {
	w.mu.Lock()
	w.threshold, w.mode = th, mode
	w.mu.Unlock()
}

// Scanner runs one polling loop per watched symbol:
// fetch, compute, evaluate, notify. A failed stage skips the symbol for that
// tick only.
type Scanner struct {
	cfg       *config.Config
	source    marketdata.SampleSource
	tickers   marketdata.TickerSource
	evaluator *signal.Evaluator
	notifier  Notifier
	logger    *logrus.Logger

	store   cache.SampleStore
	sinks   []SignalSink
	metrics *metrics.MetricsCollector
	events  EventLogger
	stream  *marketdata.TradeStream
	now     func() time.Time

	mu      sync.RWMutex
	watched map[string]*watchedSymbol
	order   []string
	runCtx  context.Context
	wg      sync.WaitGroup
}

func NewScanner(cfg *config.Config, source marketdata.SampleSource, tickers marketdata.TickerSource,
	evaluator *signal.Evaluator, notifier Notifier, logger *logrus.Logger) *Scanner {
	s := &Scanner{
		cfg:       cfg,
		source:    source,
		tickers:   tickers,
		evaluator: evaluator,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
		watched:   make(map[string]*watchedSymbol),
	}
	for _, sym := range cfg.Scanner.Symbols {
		s.add(sym, false)
	}
	return s
}

// WithStore warms new symbols from store and saves every fetched window to it.
func (s *Scanner) WithStore(store cache.SampleStore) *Scanner {
	s.store = store
	return s
}

// WithSinks adds audit sinks for emitted signals.
func (s *Scanner) WithSinks(sinks ...SignalSink) *Scanner {
	s.sinks = append(s.sinks, sinks...)
	return s
}

func (s *Scanner) WithMetrics(m *metrics.MetricsCollector) *Scanner {
	s.metrics = m
	return s
}

// WithEventLog forwards signals and stage failures to events.
func (s *Scanner) WithEventLog(events EventLogger) *Scanner {
	s.events = events
	return s
}

// WithStream enables trade-stream candles for the similarity and overheat
// detectors.
func (s *Scanner) WithStream(stream *marketdata.TradeStream) *Scanner {
	s.stream = stream
	return s
}

// add must not be called with mu held.
func (s *Scanner) add(symbol string, newcomer bool) (*watchedSymbol, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.watched[symbol]; ok {
		return w, false
	}
	w := &watchedSymbol{
		series:   models.NewSeries(symbol, s.cfg.Scanner.SeriesCapacity),
		candles:  models.NewSeries(symbol, streamCandles),
		newcomer: newcomer,
		mode:     models.ModeNeutral,
	}
	s.watched[symbol] = w
	s.order = append(s.order, symbol)
	s.metrics.SetWatched(len(s.order))
	return w, true
}

func (s *Scanner) get(symbol string) *watchedSymbol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watched[symbol]
}

// Symbols returns the watch list in insertion order.
func (s *Scanner) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// IsWatched reports whether symbol is already scanned.
func (s *Scanner) IsWatched(symbol string) bool {
	return s.get(symbol) != nil
}

// Watch adds a symbol discovered at runtime and starts its loop when the
// scanner is running. It returns false if the symbol was already watched.
func (s *Scanner) Watch(symbol string) bool {
	if _, added := s.add(symbol, true); !added {
		return false
	}
	s.mu.RLock()
	ctx := s.runCtx
	s.mu.RUnlock()
	if ctx != nil && ctx.Err() == nil {
		s.spawn(ctx, symbol)
	}
	s.logger.WithField("symbol", symbol).Info("Symbol added to watch list")
	return true
}

// Run starts every loop and blocks until ctx is cancelled and all loops have
// returned.
func (s *Scanner) Run(ctx context.Context) error {
	s.mu.Lock()
	s.runCtx = ctx
	symbols := append([]string(nil), s.order...)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"symbols":  symbols,
		"interval": s.cfg.Scanner.Interval,
		"poll":     s.cfg.Scanner.PollInterval.String(),
		"source":   s.source.Name(),
	}).Info("Scanner started")

	for _, sym := range symbols {
		s.spawn(ctx, sym)
	}
	if s.stream != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runStream(ctx, symbols)
		}()
	}

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("Scanner stopped")
	return nil
}

func (s *Scanner) spawn(ctx context.Context, symbol string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, symbol)
	}()
}

func (s *Scanner) loop(ctx context.Context, symbol string) {
	s.warm(ctx, symbol)
	s.Tick(ctx, symbol)

	ticker := time.NewTicker(s.cfg.Scanner.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, symbol)
		}
	}
}

func (s *Scanner) warm(ctx context.Context, symbol string) {
	w := s.get(symbol)
	if s.store == nil || w == nil || w.series.Len() > 0 {
		return
	}
	if samples, ok := s.store.Load(ctx, symbol); ok {
		w.series.Append(samples...)
		s.logger.WithFields(logrus.Fields{"symbol": symbol, "samples": len(samples)}).Debug("Series warmed from cache")
	}
}

// Tick runs one pass of the pipeline for symbol. It returns the emitted
// signal, if any, and the stage error that ended the pass early.
func (s *Scanner) Tick(ctx context.Context, symbol string) (*models.Signal, error) {
	w := s.get(symbol)
	if w == nil {
		return nil, fmt.Errorf("symbol %s is not watched", symbol)
	}
	start := s.now()
	sig, err := s.tick(ctx, symbol, w)
	s.metrics.RecordTick(symbol, s.now().Sub(start))

	w.mu.Lock()
	w.lastTick = start
	w.lastErr = ""
	if err != nil {
		w.lastErr = err.Error()
	}
	w.mu.Unlock()

	if err != nil {
		s.reportFailure(err)
	}
	return sig, err
}

func (s *Scanner) tick(ctx context.Context, symbol string, w *watchedSymbol) (*models.Signal, error) {
	samples, ticker, err := s.fetch(ctx, symbol, w)
	if err != nil {
		return nil, err
	}

	threshold, mode, err := s.compute(ctx, symbol, w, samples)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartStage(ctx, utils.StageEvaluate, symbol)
	decision, err := s.evaluator.Evaluate(signal.Input{
		Symbol:    symbol,
		Samples:   samples,
		Threshold: threshold.Value,
		Mode:      mode,
		Ticker:    ticker,
	})
	telemetry.EndStage(span, err)
	if err != nil {
		return nil, err
	}
	return s.deliver(ctx, symbol, decision)
}

func (s *Scanner) fetch(ctx context.Context, symbol string, w *watchedSymbol) ([]models.Sample, *models.Ticker, error) {
	ctx, span := telemetry.StartStage(ctx, utils.StageFetch, symbol)
	var err error
	defer func() { telemetry.EndStage(span, err) }()

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.Scanner.FetchTimeout)
	defer cancel()

	fetched, ferr := s.source.FetchSamples(fetchCtx, marketdata.Request{
		Symbol:   symbol,
		Interval: s.cfg.Scanner.Interval,
		Limit:    s.cfg.Scanner.HistoryLimit,
	})
	if ferr == nil && len(fetched) == 0 {
		ferr = utils.ErrNoData
	}
	if ferr != nil {
		err = utils.Transient(utils.StageFetch, symbol, ferr)
		return nil, nil, err
	}

	w.series.Append(fetched...)
	samples := w.series.Samples()
	if s.store != nil {
		if serr := s.store.Save(ctx, symbol, samples); serr != nil {
			s.logger.WithError(serr).WithField("symbol", symbol).Warn("Failed to persist samples")
		}
	}

	var ticker *models.Ticker
	if s.cfg.Scanner.UseBookTicker && s.tickers != nil {
		t, terr := s.tickers.BookTicker(fetchCtx, symbol)
		if terr != nil {
			s.logger.WithError(terr).WithField("symbol", symbol).Debug("Book ticker unavailable, spread filter skipped")
		} else {
			ticker = t
		}
	}
	return samples, ticker, nil
}

func (s *Scanner) compute(ctx context.Context, symbol string, w *watchedSymbol, samples []models.Sample) (calibration.Threshold, models.Mode, error) {
	_, span := telemetry.StartStage(ctx, utils.StageCompute, symbol)

	threshold, err := calibration.Calibrate(samples, s.cfg.Calibration)
	if err != nil {
		err = utils.NotReady(utils.StageCompute, symbol, err)
		telemetry.EndStage(span, err)
		return calibration.Threshold{}, models.ModeNeutral, err
	}

	mode := models.ModeNeutral
	if s.cfg.Profile.Enabled {
		w.mu.Lock()
		profile := w.profile
		w.mu.Unlock()
		if profile == nil {
			if profile = s.buildProfile(ctx, symbol, samples); profile != nil {
				w.mu.Lock()
				w.profile = profile
				w.mu.Unlock()
			}
		}
		if profile != nil {
			mode = calibration.SelectMode(profile, samples, s.cfg.Profile.ProfileConfig)
		}
	}
	w.record(threshold, mode)
	telemetry.EndStage(span, nil)
	return threshold, mode, nil
}

// buildProfile uses the configured reference window when one is set and the
// current series otherwise. Failure leaves the symbol neutral; it is retried
// on the next tick.
func (s *Scanner) buildProfile(ctx context.Context, symbol string, samples []models.Sample) *models.Profile {
	from, to, err := s.cfg.ReferenceWindow()
	if err != nil {
		s.logger.WithError(err).Warn("Invalid profile reference window")
		return nil
	}

	history := samples
	if !from.IsZero() || !to.IsZero() {
		fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.Scanner.FetchTimeout)
		defer cancel()
		history, err = s.source.FetchSamples(fetchCtx, marketdata.Request{
			Symbol:   symbol,
			Interval: s.cfg.Scanner.Interval,
			Limit:    1000,
			Start:    from,
			End:      to,
		})
		if err != nil {
			s.logger.WithError(err).WithField("symbol", symbol).Warn("Failed to fetch profile history")
			return nil
		}
	}
	if len(history) == 0 {
		return nil
	}
	if from.IsZero() {
		from = history[0].Time
	}
	if to.IsZero() {
		to = history[len(history)-1].Time.Add(time.Nanosecond)
	}

	profile, err := calibration.BuildProfile(symbol, history, from, to, s.cfg.Profile.ProfileConfig)
	if err != nil {
		s.logger.WithError(err).WithField("symbol", symbol).Debug("Profile not built yet")
		return nil
	}
	s.logger.WithFields(logrus.Fields{
		"symbol":       symbol,
		"from":         from,
		"to":           to,
		"up_daily":     profile.Up.AvgDailyMove,
		"down_daily":   profile.Down.AvgDailyMove,
		"observations": profile.Up.Observations + profile.Down.Observations,
	}).Info("Direction profile built")
	return profile
}

// deliver sends the alert of decision, if any, and settles the tracker.
func (s *Scanner) deliver(ctx context.Context, symbol string, decision signal.Decision) (*models.Signal, error) {
	if decision.Suppressed != nil {
		s.metrics.RecordSuppressed(suppressionReason(decision.Suppressed))
		s.logger.WithFields(logrus.Fields{
			"symbol": symbol,
			"kind":   decision.Candidate.Kind,
			"score":  decision.Candidate.Score,
			"reason": decision.Suppressed.Error(),
		}).Debug("Candidate suppressed")
		return nil, nil
	}
	sig := decision.Signal
	if sig == nil {
		return nil, nil
	}

	ctx, span := telemetry.StartStage(ctx, utils.StageNotify, symbol)
	if err := s.notifier.NotifySignal(ctx, sig); err != nil {
		s.evaluator.Discard(sig)
		err = utils.Transient(utils.StageNotify, symbol, err)
		telemetry.EndStage(span, err)
		return nil, err
	}
	if err := s.evaluator.Confirm(sig); err != nil {
		s.logger.WithError(err).WithField("symbol", symbol).Warn("Tracker commit failed after notify")
	}
	telemetry.EndStage(span, nil)

	s.metrics.RecordSignal(sig)
	if s.events != nil {
		s.events.LogSignal(sig.Symbol, string(sig.Side), string(sig.Kind), sig.Score)
	}
	s.logger.WithFields(logrus.Fields{
		"symbol": sig.Symbol,
		"side":   sig.Side,
		"kind":   sig.Kind,
		"score":  sig.Score,
		"price":  sig.Price.String(),
	}).Info("Signal emitted")

	for _, sink := range s.sinks {
		if err := sink.Record(ctx, sig); err != nil {
			s.logger.WithError(err).WithField("id", sig.ID).Warn("Failed to record signal")
		}
	}
	return sig, nil
}

func suppressionReason(err error) string {
	switch {
	case errors.Is(err, signal.ErrCooldown):
		return "cooldown"
	case errors.Is(err, signal.ErrDailyCap):
		return "daily_cap"
	case errors.Is(err, signal.ErrPending):
		return "pending"
	case errors.Is(err, signal.ErrFiltered):
		return "filter"
	default:
		return "other"
	}
}

func (s *Scanner) reportFailure(err error) {
	stage, kind := utils.StageOf(err), utils.KindOf(err)
	s.metrics.RecordStageFailure(string(stage), string(kind))
	if s.events != nil {
		s.events.LogStageFailure(string(stage), string(kind), utils.SymbolOf(err), err)
	}

	entry := s.logger.WithError(err).WithFields(logrus.Fields{
		"stage": stage,
		"kind":  kind,
	})
	switch kind {
	case utils.KindNotReady:
		entry.Debug("Symbol not ready")
	case utils.KindFatal:
		entry.Error("Pipeline stage failed")
	default:
		entry.Warn("Pipeline stage failed, skipping tick")
	}
}

func (s *Scanner) runStream(ctx context.Context, symbols []string) {
	trades := make(chan models.Trade, 256)
	builder := marketdata.NewCandleBuilder(s.cfg.Scanner.StreamTicks)

	go func() {
		defer close(trades)
		if err := s.stream.Run(ctx, symbols, trades); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithError(err).Error("Trade stream stopped")
		}
	}()

	for t := range trades {
		candle, ok := builder.Add(t)
		if !ok {
			continue
		}
		if _, err := s.OnCandle(ctx, t.Symbol, candle); err != nil {
			s.reportFailure(err)
		}
	}
}

// OnCandle feeds one trade-stream candle to the stream detectors.
func (s *Scanner) OnCandle(ctx context.Context, symbol string, candle models.Sample) (*models.Signal, error) {
	w := s.get(symbol)
	if w == nil {
		return nil, nil
	}
	w.candles.Append(candle)

	w.mu.Lock()
	mode, threshold := w.mode, w.threshold.Value
	w.mu.Unlock()

	ctx, span := telemetry.StartStage(ctx, utils.StageEvaluate, symbol)
	decision, err := s.evaluator.EvaluateStream(signal.Input{
		Symbol:    symbol,
		Samples:   w.candles.Samples(),
		Threshold: threshold,
		Mode:      mode,
	})
	telemetry.EndStage(span, err)
	if err != nil {
		return nil, err
	}
	return s.deliver(ctx, symbol, decision)
}

// Status returns every watched symbol's latest calibration and tick outcome,
// sorted by symbol.
func (s *Scanner) Status() []SymbolStatus {
	s.mu.RLock()
	out := make([]SymbolStatus, 0, len(s.watched))
	for sym, w := range s.watched {
		w.mu.Lock()
		out = append(out, SymbolStatus{
			Symbol:    sym,
			Bars:      w.series.Len(),
			Threshold: w.threshold,
			Mode:      w.mode,
			Profiled:  w.profile != nil,
			Newcomer:  w.newcomer,
			LastTick:  w.lastTick,
			LastError: w.lastErr,
		})
		w.mu.Unlock()
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Tracker exposes the evaluator's state machine.
func (s *Scanner) Tracker() *signal.Tracker {
	return s.evaluator.Tracker()
}
