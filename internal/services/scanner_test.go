package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OstapBender-commits/ema-signal-bot/internal/cache"
	"github.com/OstapBender-commits/ema-signal-bot/internal/calibration"
	"github.com/OstapBender-commits/ema-signal-bot/internal/config"
	"github.com/OstapBender-commits/ema-signal-bot/internal/logging"
	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
	"github.com/OstapBender-commits/ema-signal-bot/internal/signal"
	"github.com/OstapBender-commits/ema-signal-bot/internal/utils"
	"github.com/OstapBender-commits/ema-signal-bot/pkg/marketdata"
)

var scanStart = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// momentumSamples is flat for 57 bars and then rises 0.5% per bar on 2.5x
// volume, which the momentum detector scores 100.
func momentumSamples() []models.Sample {
	out := make([]models.Sample, 60)
	price := 100.0
	for i := range out {
		if i >= 57 {
			price *= 1.005
		}
		out[i] = models.Sample{
			Time:   scanStart.Add(time.Duration(i) * 5 * time.Minute),
			Close:  price,
			Volume: 10,
		}
	}
	out[59].Volume = 25
	return out
}

type fakeSource struct {
	mu      sync.Mutex
	samples []models.Sample
	err     error
	calls   int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) FetchSamples(_ context.Context, _ marketdata.Request) ([]models.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.Sample(nil), f.samples...), nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	signals   []*models.Signal
	newcomers []models.Ticker
	reports   []DailyReport
	pings     int
	err       error
}

func (f *fakeNotifier) NotifySignal(_ context.Context, sig *models.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.signals = append(f.signals, sig)
	return nil
}

func (f *fakeNotifier) NotifyNewcomer(_ context.Context, t models.Ticker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.newcomers = append(f.newcomers, t)
	return f.err
}

func (f *fakeNotifier) SendReport(_ context.Context, r DailyReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return f.err
}

func (f *fakeNotifier) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.err
}

func (f *fakeNotifier) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signals)
}

func (f *fakeNotifier) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type recordingSink struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingSink) Record(_ context.Context, sig *models.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, sig.ID)
	return nil
}

func testConfig(symbols ...string) *config.Config {
	return &config.Config{
		Scanner: config.ScannerConfig{
			Symbols:        symbols,
			Interval:       "5m",
			PollInterval:   time.Hour,
			HistoryLimit:   100,
			SeriesCapacity: 500,
			FetchTimeout:   time.Second,
		},
		Calibration: calibration.DefaultThresholdConfig(),
		Profile:     config.ProfileConfig{ProfileConfig: calibration.DefaultProfileConfig()},
		Signal:      signal.DefaultConfig(),
	}
}

type scannerFixture struct {
	scanner  *Scanner
	source   *fakeSource
	notifier *fakeNotifier
	clock    *fakeClock
}

func newScannerFixture(t *testing.T, samples []models.Sample) *scannerFixture {
	t.Helper()
	cfg := testConfig("BTCUSDT")
	clock := newFakeClock(scanStart.Add(5 * time.Hour))
	tracker := signal.NewTracker(cfg.Signal.Cooldown, cfg.Signal.DailyCap, clock.Now)
	evaluator := signal.NewEvaluator(cfg.Signal, tracker, clock.Now)

	source := &fakeSource{samples: samples}
	notifier := &fakeNotifier{}
	s := NewScanner(cfg, source, nil, evaluator, notifier, quietLogrus())
	s.now = clock.Now
	return &scannerFixture{scanner: s, source: source, notifier: notifier, clock: clock}
}

func TestScanner_TickEmitsOnce(t *testing.T) {
	f := newScannerFixture(t, momentumSamples())
	sink := &recordingSink{}
	f.scanner.WithSinks(sink)
	ctx := context.Background()

	sig, err := f.scanner.Tick(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, models.SideLong, sig.Side)
	assert.Equal(t, models.KindMomentum, sig.Kind)
	assert.Equal(t, models.ModeNeutral, sig.Mode)
	assert.Greater(t, sig.Threshold, 0.0)
	assert.Equal(t, 1, f.notifier.sent())
	assert.Equal(t, []string{sig.ID}, sink.ids)
	assert.Equal(t, signal.StateEmitted, f.scanner.Tracker().State("BTCUSDT"))

	// same window again: the symbol is cooling down
	sig, err = f.scanner.Tick(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Equal(t, 1, f.notifier.sent())
	assert.Equal(t, 1, f.scanner.Tracker().DailyCount())
}

func TestScanner_CooldownExpires(t *testing.T) {
	f := newScannerFixture(t, momentumSamples())
	ctx := context.Background()

	_, err := f.scanner.Tick(ctx, "BTCUSDT")
	require.NoError(t, err)

	f.clock.Advance(61 * time.Minute)
	sig, err := f.scanner.Tick(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, 2, f.notifier.sent())
}

func TestScanner_NotifyFailureDiscardsCandidate(t *testing.T) {
	f := newScannerFixture(t, momentumSamples())
	f.notifier.setErr(errors.New("telegram down"))
	ctx := context.Background()

	sig, err := f.scanner.Tick(ctx, "BTCUSDT")
	require.Error(t, err)
	assert.Nil(t, sig)
	assert.Equal(t, utils.KindTransient, utils.KindOf(err))
	assert.Equal(t, utils.StageNotify, utils.StageOf(err))
	assert.Equal(t, signal.StateIdle, f.scanner.Tracker().State("BTCUSDT"))
	assert.Zero(t, f.scanner.Tracker().DailyCount())

	f.notifier.setErr(nil)
	sig, err = f.scanner.Tick(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.NotNil(t, sig)
}

func TestScanner_FetchFailures(t *testing.T) {
	f := newScannerFixture(t, nil)
	ctx := context.Background()

	_, err := f.scanner.Tick(ctx, "BTCUSDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrNoData)
	assert.Equal(t, utils.KindTransient, utils.KindOf(err))
	assert.Equal(t, utils.StageFetch, utils.StageOf(err))

	f.source.err = errors.New("connection reset")
	_, err = f.scanner.Tick(ctx, "BTCUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	status := f.scanner.Status()
	require.Len(t, status, 1)
	assert.Contains(t, status[0].LastError, "connection reset")
	assert.Zero(t, status[0].Bars)
}

func TestScanner_ShortSeriesNotReady(t *testing.T) {
	f := newScannerFixture(t, momentumSamples()[:10])

	sig, err := f.scanner.Tick(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.Nil(t, sig)
	assert.Equal(t, utils.KindNotReady, utils.KindOf(err))
	assert.Equal(t, utils.StageCompute, utils.StageOf(err))
	assert.Zero(t, f.notifier.sent())
}

func TestScanner_UnknownSymbol(t *testing.T) {
	f := newScannerFixture(t, momentumSamples())
	_, err := f.scanner.Tick(context.Background(), "DOGEUSDT")
	assert.Error(t, err)
}

func TestScanner_ProfileFallsBackToNeutral(t *testing.T) {
	f := newScannerFixture(t, momentumSamples())
	f.scanner.cfg.Profile.Enabled = true

	sig, err := f.scanner.Tick(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, models.ModeNeutral, sig.Mode)

	status := f.scanner.Status()
	require.Len(t, status, 1)
	assert.False(t, status[0].Profiled)
	assert.Equal(t, 60, status[0].Bars)
	assert.Equal(t, scanStart.Add(5*time.Hour), status[0].LastTick)
	assert.Empty(t, status[0].LastError)
}

func TestScanner_StoreWarmsAndPersists(t *testing.T) {
	samples := momentumSamples()
	store := cache.NewFileStore(filepath.Join(t.TempDir(), "samples.json"), quietLogrus())
	require.NoError(t, store.Save(context.Background(), "BTCUSDT", samples[:59]))

	f := newScannerFixture(t, samples[59:])
	f.scanner.WithStore(store)
	ctx := context.Background()

	f.scanner.warm(ctx, "BTCUSDT")
	sig, err := f.scanner.Tick(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, sig)

	saved, ok := store.Load(ctx, "BTCUSDT")
	require.True(t, ok)
	assert.Len(t, saved, 60)
}

func TestScanner_Watch(t *testing.T) {
	f := newScannerFixture(t, momentumSamples())

	assert.True(t, f.scanner.IsWatched("BTCUSDT"))
	assert.False(t, f.scanner.Watch("BTCUSDT"))
	assert.True(t, f.scanner.Watch("PEPEUSDT"))
	assert.Equal(t, []string{"BTCUSDT", "PEPEUSDT"}, f.scanner.Symbols())

	status := f.scanner.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "PEPEUSDT", status[1].Symbol)
	assert.True(t, status[1].Newcomer)
	assert.False(t, status[0].Newcomer)
}

func TestScanner_OnCandle(t *testing.T) {
	f := newScannerFixture(t, momentumSamples())
	ctx := context.Background()

	sig, err := f.scanner.OnCandle(ctx, "UNKNOWN", models.Sample{Time: scanStart, Close: 1})
	assert.NoError(t, err)
	assert.Nil(t, sig)

	_, err = f.scanner.OnCandle(ctx, "BTCUSDT", models.Sample{Time: scanStart, Close: 100, Volume: 1})
	require.Error(t, err)
	assert.Equal(t, utils.KindNotReady, utils.KindOf(err))
}

// gatedNotifier holds every signal until release is closed.
type gatedNotifier struct {
	*fakeNotifier
	entered chan struct{}
	release chan struct{}
}

func (g *gatedNotifier) NotifySignal(ctx context.Context, sig *models.Signal) error {
	g.entered <- struct{}{}
	<-g.release
	return g.fakeNotifier.NotifySignal(ctx, sig)
}

// pumpCandles are three green candles without upper wicks on rising volume.
func pumpCandles() []models.Sample {
	return []models.Sample{
		{Time: scanStart, Open: 100, High: 100.4, Close: 100.4, Volume: 1},
		{Time: scanStart.Add(time.Second), Open: 100.4, High: 100.7, Close: 100.7, Volume: 1},
		{Time: scanStart.Add(2 * time.Second), Open: 100.7, High: 101, Close: 101, Volume: 4},
	}
}

func TestScanner_StreamCandleWhileTickNotifying(t *testing.T) {
	f := newScannerFixture(t, momentumSamples())
	gate := &gatedNotifier{fakeNotifier: f.notifier, entered: make(chan struct{}, 2), release: make(chan struct{})}
	f.scanner.notifier = gate
	ctx := context.Background()

	done := make(chan *models.Signal, 1)
	go func() {
		sig, _ := f.scanner.Tick(ctx, "BTCUSDT")
		done <- sig
	}()
	select {
	case <-gate.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("tick never reached the notifier")
	}
	require.Equal(t, signal.StateCandidate, f.scanner.Tracker().State("BTCUSDT"))

	var (
		sig *models.Signal
		err error
	)
	for _, c := range pumpCandles() {
		sig, err = f.scanner.OnCandle(ctx, "BTCUSDT", c)
	}
	require.NoError(t, err)
	assert.Nil(t, sig, "stream candle must not alert while the tick's candidate is unsettled")
	assert.Equal(t, signal.StateCandidate, f.scanner.Tracker().State("BTCUSDT"))

	close(gate.release)
	select {
	case sig = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not finish")
	}
	require.NotNil(t, sig)
	assert.Equal(t, models.KindMomentum, sig.Kind)
	assert.Equal(t, 1, f.notifier.sent())
	assert.Equal(t, 1, f.scanner.Tracker().DailyCount())
	assert.Equal(t, signal.StateEmitted, f.scanner.Tracker().State("BTCUSDT"))
	assert.Len(t, gate.entered, 0)
}

func TestScanner_EventLog(t *testing.T) {
	f := newScannerFixture(t, momentumSamples())
	var buf bytes.Buffer
	f.scanner.WithEventLog(logging.NewWriterLogger(&buf, "info", ""))
	ctx := context.Background()

	f.source.err = errors.New("connection reset")
	_, err := f.scanner.Tick(ctx, "BTCUSDT")
	require.Error(t, err)

	f.source.err = nil
	sig, err := f.scanner.Tick(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, sig)

	var events []map[string]interface{}
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var m map[string]interface{}
		require.NoError(t, dec.Decode(&m))
		events = append(events, m)
	}
	require.Len(t, events, 2)
	assert.Equal(t, "stage_failure", events[0]["event"])
	assert.Equal(t, "fetch", events[0]["stage"])
	assert.Equal(t, "BTCUSDT", events[0]["symbol"])
	assert.Equal(t, "signal", events[1]["event"])
	assert.Equal(t, "momentum", events[1]["kind"])
	assert.Equal(t, string(sig.Side), events[1]["side"])
}

func TestScanner_RunStopsOnCancel(t *testing.T) {
	f := newScannerFixture(t, momentumSamples())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.scanner.Run(ctx) }()

	require.Eventually(t, func() bool { return f.notifier.sent() == 1 }, 2*time.Second, 10*time.Millisecond)

	// a symbol added while running gets its own loop
	f.source.mu.Lock()
	before := f.source.calls
	f.source.mu.Unlock()
	assert.True(t, f.scanner.Watch("ETHUSDT"))
	require.Eventually(t, func() bool {
		f.source.mu.Lock()
		defer f.source.mu.Unlock()
		return f.source.calls > before
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scanner did not stop")
	}
}

func TestSuppressionReason(t *testing.T) {
	assert.Equal(t, "cooldown", suppressionReason(signal.ErrCooldown))
	assert.Equal(t, "daily_cap", suppressionReason(signal.ErrDailyCap))
	assert.Equal(t, "pending", suppressionReason(signal.ErrPending))
	assert.Equal(t, "filter", suppressionReason(signal.ErrFiltered))
	assert.Equal(t, "other", suppressionReason(errors.New("x")))
}
