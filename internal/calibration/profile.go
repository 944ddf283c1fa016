package calibration

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/OstapBender-commits/ema-signal-bot/internal/indicators"
	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
)

// ErrInsufficientHistory is returned when the reference window is too short
// to build a profile. Callers stay in neutral mode.
var ErrInsufficientHistory = errors.New("insufficient history for profile")

// ProfileConfig controls profile construction and mode selection.
type ProfileConfig struct {
	BarsPerHour   int     `mapstructure:"bars_per_hour"`
	BarsPerDay    int     `mapstructure:"bars_per_day"`
	EMAPeriod     int     `mapstructure:"ema_period"`
	MinSamples    int     `mapstructure:"min_samples"`
	ImpulseWindow int     `mapstructure:"impulse_window"`
	MatchFraction float64 `mapstructure:"match_fraction"`
	Activation    float64 `mapstructure:"activation"`
}

// DefaultProfileConfig assumes 5 minute bars.
func DefaultProfileConfig() ProfileConfig {
	return ProfileConfig{
		BarsPerHour:   12,
		BarsPerDay:    288,
		EMAPeriod:     20,
		MinSamples:    300,
		ImpulseWindow: 20,
		MatchFraction: 0.7,
		Activation:    0.7,
	}
}

// BuildProfile computes per-direction averages over the samples whose time
// lies in [from, to). A zero from or to leaves that side open.
func BuildProfile(symbol string, samples []models.Sample, from, to time.Time, cfg ProfileConfig) (*models.Profile, error) {
	window := make([]models.Sample, 0, len(samples))
	for _, s := range samples {
		if !from.IsZero() && s.Time.Before(from) {
			continue
		}
		if !to.IsZero() && !s.Time.Before(to) {
			continue
		}
		window = append(window, s)
	}
	if len(window) < cfg.MinSamples || len(window) <= cfg.BarsPerHour || cfg.BarsPerHour <= 0 {
		return nil, fmt.Errorf("%w: %s has %d samples in window, need %d", ErrInsufficientHistory, symbol, len(window), cfg.MinSamples)
	}

	closes := models.Closes(window)
	ema := indicators.EMA(closes, cfg.EMAPeriod)

	var upHourly, downHourly, upDaily, downDaily, upDist, downDist []float64
	for i := range closes {
		if i >= cfg.BarsPerHour {
			upHourly, downHourly = split(indicators.Pct(closes[i-cfg.BarsPerHour], closes[i]), upHourly, downHourly)
		}
		if cfg.BarsPerDay > 0 && i >= cfg.BarsPerDay {
			upDaily, downDaily = split(indicators.Pct(closes[i-cfg.BarsPerDay], closes[i]), upDaily, downDaily)
		}
		if ema != nil && i >= cfg.EMAPeriod {
			upDist, downDist = split(indicators.Pct(ema[i], closes[i]), upDist, downDist)
		}
	}

	profile := &models.Profile{
		Symbol: symbol,
		From:   window[0].Time,
		To:     window[len(window)-1].Time,
		Up: models.DirectionProfile{
			AvgHourlyMove:  meanOrZero(upHourly),
			AvgDailyMove:   meanOrZero(upDaily),
			AvgEMADistance: meanOrZero(upDist),
			Observations:   len(upHourly),
		},
		Down: models.DirectionProfile{
			AvgHourlyMove:  meanOrZero(downHourly),
			AvgDailyMove:   meanOrZero(downDaily),
			AvgEMADistance: meanOrZero(downDist),
			Observations:   len(downHourly),
		},
	}
	return profile, nil
}

// split files a signed move under up or down as a magnitude. Zero and NaN
// moves belong to neither.
func split(v float64, up, down []float64) ([]float64, []float64) {
	switch {
	case math.IsNaN(v) || v == 0:
	case v > 0:
		up = append(up, v)
	default:
		down = append(down, -v)
	}
	return up, down
}

func meanOrZero(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return indicators.Mean(values)
}

// Impulse summarizes the most recent move, signed.
type Impulse struct {
	HourlyMove  float64 `json:"hourly_move"`
	WindowMove  float64 `json:"window_move"`
	EMADistance float64 `json:"ema_distance"`
}

// CurrentImpulse measures the impulse at the end of samples.
func CurrentImpulse(samples []models.Sample, cfg ProfileConfig) (Impulse, error) {
	closes := models.Closes(samples)
	if len(closes) <= cfg.ImpulseWindow || cfg.ImpulseWindow <= 0 {
		return Impulse{}, fmt.Errorf("impulse: need %d bars, have %d", cfg.ImpulseWindow+1, len(closes))
	}
	hourly := cfg.BarsPerHour
	if hourly <= 0 || hourly > cfg.ImpulseWindow {
		hourly = cfg.ImpulseWindow
	}
	last := closes[len(closes)-1]
	return Impulse{
		HourlyMove:  indicators.PctChange(closes, hourly),
		WindowMove:  indicators.PctChange(closes, cfg.ImpulseWindow),
		EMADistance: indicators.Pct(indicators.LastEMA(closes, cfg.EMAPeriod), last),
	}, nil
}

// Similarity scores how closely the impulse resembles each direction's
// profile. Each sub-metric adds a third of a point when the move exceeds
// matchFraction of the profile average in that direction.
func Similarity(p *models.Profile, imp Impulse, matchFraction float64) (up, down float64) {
	if p == nil {
		return 0, 0
	}
	metrics := []struct {
		value   float64
		up, dwn float64
	}{
		{imp.HourlyMove, p.Up.AvgHourlyMove, p.Down.AvgHourlyMove},
		{imp.WindowMove, p.Up.AvgDailyMove, p.Down.AvgDailyMove},
		{imp.EMADistance, p.Up.AvgEMADistance, p.Down.AvgEMADistance},
	}
	for _, m := range metrics {
		if math.IsNaN(m.value) {
			continue
		}
		if m.value > 0 && m.up > 0 && m.value > matchFraction*m.up {
			up += 1.0 / 3
		}
		if m.value < 0 && m.dwn > 0 && -m.value > matchFraction*m.dwn {
			down += 1.0 / 3
		}
	}
	return up, down
}

// SelectMode picks the directional mode. A direction wins only when its score
// is strictly above the activation level and strictly above the other one.
func SelectMode(p *models.Profile, samples []models.Sample, cfg ProfileConfig) models.Mode {
	if p == nil {
		return models.ModeNeutral
	}
	imp, err := CurrentImpulse(samples, cfg)
	if err != nil {
		return models.ModeNeutral
	}
	up, down := Similarity(p, imp, cfg.MatchFraction)
	return modeFromScores(up, down, cfg.Activation)
}

func modeFromScores(up, down, activation float64) models.Mode {
	switch {
	case up > activation && up > down:
		return models.ModeUp
	case down > activation && down > up:
		return models.ModeDown
	default:
		return models.ModeNeutral
	}
}
