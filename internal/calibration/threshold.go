// Package calibration derives the EMA-distance threshold that gates
// "price touching EMA" entries, and the optional historical profile used to
// pick a directional mode.
package calibration

import (
	"fmt"
	"math"
	"time"

	"github.com/OstapBender-commits/ema-signal-bot/internal/indicators"
	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
)

// Regime is the current trend regime.
type Regime string

const (
	RegimeNeutral Regime = "neutral"
	RegimeUp      Regime = "up"
	RegimeDown    Regime = "down"
)

// ThresholdConfig holds every knob of the threshold calibration.
type ThresholdConfig struct {
	VolatilityWindow int `mapstructure:"volatility_window"`
	FastEMA          int `mapstructure:"fast_ema"`
	SlowEMA          int `mapstructure:"slow_ema"`

	NeutralCoefficient float64 `mapstructure:"neutral_coefficient"`
	UpCoefficient      float64 `mapstructure:"up_coefficient"`
	DownCoefficient    float64 `mapstructure:"down_coefficient"`

	// Bars whose UTC hour falls in [LowLiquidityStartHour, LowLiquidityEndHour)
	// get LowLiquidityMultiplier applied.
	LowLiquidityStartHour  int     `mapstructure:"low_liquidity_start_hour"`
	LowLiquidityEndHour    int     `mapstructure:"low_liquidity_end_hour"`
	LowLiquidityMultiplier float64 `mapstructure:"low_liquidity_multiplier"`

	CalibrationBars int     `mapstructure:"calibration_bars"`
	UpperRatio      float64 `mapstructure:"upper_ratio"`
	LowerRatio      float64 `mapstructure:"lower_ratio"`
	ScaleUp         float64 `mapstructure:"scale_up"`
	ScaleDown       float64 `mapstructure:"scale_down"`

	MinThreshold float64 `mapstructure:"min_threshold"`
	MaxThreshold float64 `mapstructure:"max_threshold"`
}

// DefaultThresholdConfig returns the defaults used when nothing is configured.
func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{
		VolatilityWindow:       20,
		FastEMA:                20,
		SlowEMA:                50,
		NeutralCoefficient:     1.0,
		UpCoefficient:          0.9,
		DownCoefficient:        1.1,
		LowLiquidityStartHour:  0,
		LowLiquidityEndHour:    6,
		LowLiquidityMultiplier: 1.3,
		CalibrationBars:        864,
		UpperRatio:             2.0,
		LowerRatio:             1.2,
		ScaleUp:                1.2,
		ScaleDown:              0.85,
		MinThreshold:           0.05,
		MaxThreshold:           1.5,
	}
}

// Threshold is the outcome of a calibration, with its components kept for
// logging and alert text.
type Threshold struct {
	Value          float64 `json:"value"`
	BaseVolatility float64 `json:"base_volatility"`
	Regime         Regime  `json:"regime"`
	RegimeFactor   float64 `json:"regime_factor"`
	TimeOfDay      float64 `json:"time_of_day"`
	Adjustment     float64 `json:"adjustment"`
}

// Calibrate computes the distance threshold (percent) for the window ending at
// the last sample. It depends only on the samples given, so repeated calls on
// an unchanged series return the same value.
func Calibrate(samples []models.Sample, cfg ThresholdConfig) (Threshold, error) {
	if len(samples) == 0 {
		return Threshold{}, fmt.Errorf("calibrate: no samples")
	}
	closes := models.Closes(samples)

	base := indicators.Volatility(closes, cfg.VolatilityWindow)
	if !indicators.IsReady(base) {
		return Threshold{}, fmt.Errorf("calibrate: need %d bars for volatility, have %d", cfg.VolatilityWindow+1, len(closes))
	}

	regime := DetectRegime(closes, cfg.FastEMA, cfg.SlowEMA)
	regimeFactor := cfg.regimeCoefficient(regime)
	tod := cfg.timeOfDayCoefficient(samples[len(samples)-1].Time)
	adjustment := cfg.adjustment(closes)

	value := base * regimeFactor * tod * adjustment
	value = math.Max(cfg.MinThreshold, math.Min(cfg.MaxThreshold, value))

	return Threshold{
		Value:          value,
		BaseVolatility: base,
		Regime:         regime,
		RegimeFactor:   regimeFactor,
		TimeOfDay:      tod,
		Adjustment:     adjustment,
	}, nil
}

// DetectRegime classifies the trend: up when the close and fast EMA both sit
// above the slow EMA, down when both sit below, neutral otherwise.
func DetectRegime(closes []float64, fast, slow int) Regime {
	if len(closes) == 0 {
		return RegimeNeutral
	}
	fastEMA := indicators.LastEMA(closes, fast)
	slowEMA := indicators.LastEMA(closes, slow)
	if !indicators.IsReady(fastEMA) || !indicators.IsReady(slowEMA) {
		return RegimeNeutral
	}
	last := closes[len(closes)-1]
	switch {
	case last > slowEMA && fastEMA > slowEMA:
		return RegimeUp
	case last < slowEMA && fastEMA < slowEMA:
		return RegimeDown
	default:
		return RegimeNeutral
	}
}

func (cfg ThresholdConfig) regimeCoefficient(r Regime) float64 {
	var c float64
	switch r {
	case RegimeUp:
		c = cfg.UpCoefficient
	case RegimeDown:
		c = cfg.DownCoefficient
	default:
		c = cfg.NeutralCoefficient
	}
	if c <= 0 {
		return 1
	}
	return c
}

func (cfg ThresholdConfig) timeOfDayCoefficient(t time.Time) float64 {
	if cfg.LowLiquidityMultiplier <= 0 || cfg.LowLiquidityStartHour == cfg.LowLiquidityEndHour {
		return 1
	}
	hour := t.UTC().Hour()
	start, end := cfg.LowLiquidityStartHour, cfg.LowLiquidityEndHour
	in := false
	if start < end {
		in = hour >= start && hour < end
	} else {
		// wraps midnight, e.g. 22..4
		in = hour >= start || hour < end
	}
	if in {
		return cfg.LowLiquidityMultiplier
	}
	return 1
}

// adjustment compares the upper quartile of recent absolute moves to their
// median and scales the threshold when the distribution is unusually skewed
// or unusually flat.
func (cfg ThresholdConfig) adjustment(closes []float64) float64 {
	window := closes
	if cfg.CalibrationBars > 0 && len(window) > cfg.CalibrationBars+1 {
		window = window[len(window)-cfg.CalibrationBars-1:]
	}
	moves := indicators.AbsReturns(window)
	if len(moves) < cfg.VolatilityWindow {
		return 1
	}
	median := indicators.Median(moves)
	if !indicators.IsReady(median) || median == 0 {
		return 1
	}
	ratio := indicators.Quantile(moves, 0.75) / median
	switch {
	case cfg.UpperRatio > 0 && ratio > cfg.UpperRatio:
		return cfg.ScaleUp
	case cfg.LowerRatio > 0 && ratio < cfg.LowerRatio:
		return cfg.ScaleDown
	default:
		return 1
	}
}
