package calibration

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
)

var base = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

// alternating builds closes that move by the given magnitudes, alternating up
// and down, starting at 100.
func alternating(start time.Time, moves []float64) []models.Sample {
	out := make([]models.Sample, 0, len(moves)+1)
	price := 100.0
	out = append(out, models.Sample{Time: start, Close: price, Volume: 1})
	for i, m := range moves {
		if i%2 == 0 {
			price *= 1 + m/100
		} else {
			price *= 1 - m/100
		}
		out = append(out, models.Sample{Time: start.Add(time.Duration(i+1) * 5 * time.Minute), Close: price, Volume: 1})
	}
	return out
}

// trending grows every bar by pct percent.
func trending(start time.Time, n int, pct float64) []models.Sample {
	out := make([]models.Sample, n)
	price := 100.0
	for i := range out {
		out[i] = models.Sample{Time: start.Add(time.Duration(i) * 5 * time.Minute), Close: price, Volume: 1}
		price *= 1 + pct/100
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestCalibrateIsIdempotent(t *testing.T) {
	samples := alternating(base, repeat(0.3, 120))
	cfg := DefaultThresholdConfig()

	first, err := Calibrate(samples, cfg)
	require.NoError(t, err)
	second, err := Calibrate(samples, cfg)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.GreaterOrEqual(t, first.Value, cfg.MinThreshold)
	assert.LessOrEqual(t, first.Value, cfg.MaxThreshold)
}

func TestCalibrateNotEnoughBars(t *testing.T) {
	_, err := Calibrate(alternating(base, repeat(0.3, 10)), DefaultThresholdConfig())
	assert.Error(t, err)

	_, err = Calibrate(nil, DefaultThresholdConfig())
	assert.Error(t, err)
}

func TestCalibrateClamps(t *testing.T) {
	cfg := DefaultThresholdConfig()

	quiet, err := Calibrate(alternating(base, repeat(0.001, 60)), cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.MinThreshold, quiet.Value)

	wild, err := Calibrate(alternating(base, repeat(5, 60)), cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.MaxThreshold, wild.Value)
}

func TestCalibrateLowLiquidityHours(t *testing.T) {
	cfg := DefaultThresholdConfig()
	moves := repeat(0.3, 60)

	// last bar at 17:00 UTC
	day, err := Calibrate(alternating(base, moves), cfg)
	require.NoError(t, err)
	// last bar at 03:00 UTC
	night, err := Calibrate(alternating(base.Add(-14*time.Hour), moves), cfg)
	require.NoError(t, err)

	assert.Equal(t, 1.0, day.TimeOfDay)
	assert.Equal(t, 1.3, night.TimeOfDay)
	assert.InDelta(t, 1.3, night.Value/day.Value, 1e-9)
}

func TestTimeOfDayWrapsMidnight(t *testing.T) {
	cfg := DefaultThresholdConfig()
	cfg.LowLiquidityStartHour = 22
	cfg.LowLiquidityEndHour = 2

	at := func(h int) time.Time { return time.Date(2024, 1, 1, h, 30, 0, 0, time.UTC) }
	assert.Equal(t, 1.3, cfg.timeOfDayCoefficient(at(23)))
	assert.Equal(t, 1.3, cfg.timeOfDayCoefficient(at(1)))
	assert.Equal(t, 1.0, cfg.timeOfDayCoefficient(at(2)))
	assert.Equal(t, 1.0, cfg.timeOfDayCoefficient(at(12)))
}

func TestAdjustment(t *testing.T) {
	cfg := DefaultThresholdConfig()
	closesOf := func(moves []float64) []float64 { return models.Closes(alternating(base, moves)) }

	t.Run("flat distribution tightens", func(t *testing.T) {
		assert.Equal(t, 0.85, cfg.adjustment(closesOf(repeat(0.2, 40))))
	})

	t.Run("skewed distribution widens", func(t *testing.T) {
		moves := append(repeat(0.1, 24), repeat(1.0, 16)...)
		assert.Equal(t, 1.2, cfg.adjustment(closesOf(moves)))
	})

	t.Run("moderate distribution unchanged", func(t *testing.T) {
		moves := make([]float64, 40)
		for i := range moves {
			if i%4 < 2 {
				moves[i] = 1
			} else {
				moves[i] = 2
			}
		}
		assert.Equal(t, 1.0, cfg.adjustment(closesOf(moves)))
	})

	t.Run("too short is neutral", func(t *testing.T) {
		assert.Equal(t, 1.0, cfg.adjustment(closesOf(repeat(0.2, 5))))
	})
}

func TestDetectRegime(t *testing.T) {
	up := models.Closes(trending(base, 80, 0.2))
	down := models.Closes(trending(base, 80, -0.2))
	flat := models.Closes(trending(base, 80, 0))

	assert.Equal(t, RegimeUp, DetectRegime(up, 20, 50))
	assert.Equal(t, RegimeDown, DetectRegime(down, 20, 50))
	assert.Equal(t, RegimeNeutral, DetectRegime(flat, 20, 50))
	assert.Equal(t, RegimeNeutral, DetectRegime(nil, 20, 50))
}

func TestCalibrateRegimeFactor(t *testing.T) {
	cfg := DefaultThresholdConfig()
	th, err := Calibrate(trending(base, 80, 0.2), cfg)
	require.NoError(t, err)
	assert.Equal(t, RegimeUp, th.Regime)
	assert.Equal(t, 0.9, th.RegimeFactor)
}

func TestBuildProfileInsufficientHistory(t *testing.T) {
	cfg := DefaultProfileConfig()
	_, err := BuildProfile("BTCUSDT", trending(base, 50, 0.1), time.Time{}, time.Time{}, cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientHistory))
}

func TestBuildProfileTrending(t *testing.T) {
	cfg := DefaultProfileConfig()
	samples := trending(base, 400, 0.1)

	p, err := BuildProfile("BTCUSDT", samples, time.Time{}, time.Time{}, cfg)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", p.Symbol)
	assert.InDelta(t, (math.Pow(1.001, 12)-1)*100, p.Up.AvgHourlyMove, 1e-6)
	assert.InDelta(t, (math.Pow(1.001, 288)-1)*100, p.Up.AvgDailyMove, 1e-6)
	assert.Greater(t, p.Up.AvgEMADistance, 0.0)
	assert.Zero(t, p.Down.AvgHourlyMove)
	assert.Zero(t, p.Down.Observations)
}

func TestBuildProfileWindow(t *testing.T) {
	cfg := DefaultProfileConfig()
	samples := trending(base, 400, 0.1)
	from, to := samples[50].Time, samples[380].Time

	p, err := BuildProfile("ETHUSDT", samples, from, to, cfg)
	require.NoError(t, err)
	assert.Equal(t, samples[50].Time, p.From)
	assert.Equal(t, samples[379].Time, p.To)

	_, err = BuildProfile("ETHUSDT", samples, samples[200].Time, to, cfg)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestSimilarityAndMode(t *testing.T) {
	p := &models.Profile{
		Up:   models.DirectionProfile{AvgHourlyMove: 1, AvgDailyMove: 2, AvgEMADistance: 0.5},
		Down: models.DirectionProfile{AvgHourlyMove: 1, AvgDailyMove: 2, AvgEMADistance: 0.5},
	}

	up, down := Similarity(p, Impulse{HourlyMove: 0.8, WindowMove: 1.5, EMADistance: 0.4}, 0.7)
	assert.InDelta(t, 1.0, up, 1e-9)
	assert.Zero(t, down)
	assert.Equal(t, models.ModeUp, modeFromScores(up, down, 0.7))

	up, down = Similarity(p, Impulse{HourlyMove: 0.8, WindowMove: 1.5, EMADistance: 0.1}, 0.7)
	assert.InDelta(t, 2.0/3, up, 1e-9)
	assert.Equal(t, models.ModeNeutral, modeFromScores(up, down, 0.7))

	up, down = Similarity(p, Impulse{HourlyMove: -0.9, WindowMove: -1.6, EMADistance: -0.6}, 0.7)
	assert.Zero(t, up)
	assert.InDelta(t, 1.0, down, 1e-9)
	assert.Equal(t, models.ModeDown, modeFromScores(up, down, 0.7))
}

func TestModeTieIsNeutral(t *testing.T) {
	assert.Equal(t, models.ModeNeutral, modeFromScores(1, 1, 0.7))
	assert.Equal(t, models.ModeNeutral, modeFromScores(0.7, 0, 0.7))
}

func TestSelectMode(t *testing.T) {
	cfg := DefaultProfileConfig()
	assert.Equal(t, models.ModeNeutral, SelectMode(nil, trending(base, 60, 0.5), cfg))

	p, err := BuildProfile("BTCUSDT", trending(base, 400, 0.05), time.Time{}, time.Time{}, cfg)
	require.NoError(t, err)

	// a steeper climb than the reference matches the up profile
	assert.Equal(t, models.ModeUp, SelectMode(p, trending(base, 60, 0.6), cfg))
	assert.Equal(t, models.ModeNeutral, SelectMode(p, trending(base, 5, 0.2), cfg))
}
