// Package signal turns indicator readings into trade ideas: detectors
// propose candidates, an execution filter vets them and a per-symbol state
// machine enforces cooldowns and the daily cap.
package signal

import (
	"math"
	"time"

	"github.com/OstapBender-commits/ema-signal-bot/internal/indicators"
	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
)

// Input is everything a detector may look at for one symbol at one tick.
type Input struct {
	Symbol    string
	Samples   []models.Sample
	Threshold float64
	Mode      models.Mode
	Ticker    *models.Ticker
}

// Candidate is a detector hit before filtering.
type Candidate struct {
	Symbol      string
	Side        models.Side
	Kind        models.SignalKind
	Score       float64
	Levels      Levels
	RSI         float64
	Growth      float64
	VolumeRatio float64
	Time        time.Time
}

func last(samples []models.Sample) models.Sample {
	return samples[len(samples)-1]
}

// DetectEMATouch fires when price pulls back to within the calibrated
// distance of the fast EMA while RSI sits in the neutral band.
func DetectEMATouch(in Input, cfg EMATouchConfig) (Candidate, bool) {
	if !indicators.IsReady(in.Threshold) || in.Threshold <= 0 {
		return Candidate{}, false
	}
	if len(in.Samples) < cfg.SlowEMA || len(in.Samples) < cfg.RSIPeriod+1 {
		return Candidate{}, false
	}

	closes := models.Closes(in.Samples)
	price := closes[len(closes)-1]
	fast := indicators.LastEMA(closes, cfg.FastEMA)
	slow := indicators.LastEMA(closes, cfg.SlowEMA)
	rsi := indicators.RSI(closes, cfg.RSIPeriod)
	if !indicators.IsReady(fast) || !indicators.IsReady(slow) || !indicators.IsReady(rsi) {
		return Candidate{}, false
	}
	if rsi < cfg.RSIMin || rsi > cfg.RSIMax {
		return Candidate{}, false
	}

	dist := indicators.DistancePercent(price, fast)
	if !indicators.IsReady(dist) || dist >= in.Threshold {
		return Candidate{}, false
	}

	side := models.SideLong
	if price < slow {
		side = models.SideShort
	}
	if !in.Mode.Allows(side) {
		return Candidate{}, false
	}

	var stop float64
	if side == models.SideLong {
		stop = indicators.Lowest(models.Lows(in.Samples), cfg.LevelLookback) * (1 - cfg.StopBufferPercent/100)
	} else {
		stop = indicators.Highest(models.Highs(in.Samples), cfg.LevelLookback) * (1 + cfg.StopBufferPercent/100)
	}
	if !indicators.IsReady(stop) {
		return Candidate{}, false
	}
	levels, err := RiskLevels(side, price, stop, cfg.TP1R, cfg.TP2R)
	if err != nil {
		return Candidate{}, false
	}

	return Candidate{
		Symbol: in.Symbol,
		Side:   side,
		Kind:   models.KindEMATouch,
		Score:  (1 - dist/in.Threshold) * 100,
		Levels: levels,
		RSI:    rsi,
		Time:   last(in.Samples).Time,
	}, true
}

// MomentumScore scores the last three closes for a rising (LONG) or falling
// (SHORT) impulse with a volume confirmation. The result is capped at 100.
func MomentumScore(closes, volumes []float64, side models.Side, cfg MomentumConfig) (score, growth, volumeRatio float64) {
	if len(closes) < 3 {
		return 0, indicators.NotReady, indicators.NotReady
	}
	c1, c2, c3 := closes[len(closes)-3], closes[len(closes)-2], closes[len(closes)-1]
	growth = indicators.Pct(c1, c3)
	volumeRatio = indicators.VolumeRatio(volumes, cfg.VolumeWindow)

	move := growth
	if side == models.SideShort {
		c1, c2, c3 = -c1, -c2, -c3
		move = -growth
	}
	w := cfg.Weights
	if c1 < c2 {
		score += w.FirstStep
	}
	if c2 < c3 {
		score += w.SecondStep
	}
	if indicators.IsReady(move) {
		if move >= cfg.MinGrowth {
			score += w.Growth
		}
		if move >= cfg.StrongGrowth {
			score += w.StrongGrowth
		}
	}
	if indicators.IsReady(volumeRatio) {
		if volumeRatio >= cfg.MinVolumeRatio {
			score += w.Volume
		}
		if volumeRatio >= cfg.StrongVolumeRatio {
			score += w.StrongVolume
		}
	}
	return math.Min(score, 100), growth, volumeRatio
}

// DetectMomentum checks the LONG pattern first and, when allowed, its
// mirrored SHORT counterpart.
func DetectMomentum(in Input, cfg MomentumConfig) (Candidate, bool) {
	if len(in.Samples) < 3 {
		return Candidate{}, false
	}
	closes := models.Closes(in.Samples)
	volumes := models.Volumes(in.Samples)
	price := closes[len(closes)-1]

	sides := []models.Side{models.SideLong}
	if cfg.AllowShort {
		sides = append(sides, models.SideShort)
	}
	for _, side := range sides {
		score, growth, vr := MomentumScore(closes, volumes, side, cfg)
		if score < cfg.MinScore {
			continue
		}
		levels := cfg.Levels
		if side == models.SideShort {
			levels = cfg.ShortLevels
		}
		return Candidate{
			Symbol:      in.Symbol,
			Side:        side,
			Kind:        models.KindMomentum,
			Score:       score,
			Levels:      PercentLevels(side, price, levels),
			Growth:      growth,
			VolumeRatio: vr,
			Time:        last(in.Samples).Time,
		}, true
	}
	return Candidate{}, false
}

// DetectOverheat flags a pump that is running out of volume: the last bars
// gained at least MinGrowth percent but the latest volume is below their mean.
func DetectOverheat(in Input, cfg OverheatConfig) (Candidate, bool) {
	if cfg.Bars < 2 || len(in.Samples) < cfg.Bars {
		return Candidate{}, false
	}
	window := in.Samples[len(in.Samples)-cfg.Bars:]
	first, end := window[0], window[len(window)-1]

	growth := indicators.Pct(first.OpenOrClose(), end.Close)
	if !indicators.IsReady(growth) || growth < cfg.MinGrowth {
		return Candidate{}, false
	}
	volumes := models.Volumes(window)
	if end.Volume >= indicators.Mean(volumes) {
		return Candidate{}, false
	}

	peak := indicators.Highest(models.Highs(window), len(window))
	stop := peak * (1 + cfg.StopBufferPercent/100)
	levels, err := RiskLevels(models.SideShort, end.Close, stop, cfg.TP1R, cfg.TP2R)
	if err != nil {
		return Candidate{}, false
	}

	return Candidate{
		Symbol: in.Symbol,
		Side:   models.SideShort,
		Kind:   models.KindOverheat,
		Score:  math.Min(100, growth/cfg.MinGrowth*70),
		Levels: levels,
		Growth: growth,
		Time:   end.Time,
	}, true
}

// SimilarityScore rates how much the last three candles look like the start
// of a pump: green bodies, rising volume, short upper wicks and growth.
func SimilarityScore(samples []models.Sample, cfg SimilarityConfig) (score, growth, volumeRatio float64) {
	if len(samples) < 3 {
		return 0, indicators.NotReady, indicators.NotReady
	}
	cs := samples[len(samples)-3:]

	var shape, shadow float64
	for _, c := range cs {
		if c.Bullish() {
			shape += 10
		}
		if c.UpperShadow() < cfg.MaxUpperShadow {
			shadow += 10
		}
	}

	var volScore float64
	avg := indicators.Mean(models.Volumes(tailSamples(samples, cfg.VolumeWindow)))
	if indicators.IsReady(avg) && avg > 0 {
		volumeRatio = cs[2].Volume / avg
		volScore = math.Min(30, math.Trunc(volumeRatio*15))
	} else {
		volumeRatio = indicators.NotReady
	}

	var growthScore float64
	growth = indicators.Pct(cs[0].OpenOrClose(), cs[2].Close)
	if indicators.IsReady(growth) && cfg.MinGrowth > 0 {
		growthScore = math.Min(30, math.Trunc(growth/cfg.MinGrowth*15))
	}

	return shape + volScore + shadow + growthScore, growth, volumeRatio
}

// DetectSimilarity emits a LONG when the similarity score reaches MinScore.
func DetectSimilarity(in Input, cfg SimilarityConfig) (Candidate, bool) {
	score, growth, vr := SimilarityScore(in.Samples, cfg)
	if len(in.Samples) < 3 || score < cfg.MinScore {
		return Candidate{}, false
	}
	end := last(in.Samples)
	return Candidate{
		Symbol:      in.Symbol,
		Side:        models.SideLong,
		Kind:        models.KindSimilarity,
		Score:       score,
		Levels:      PercentLevels(models.SideLong, end.Close, cfg.Levels),
		Growth:      growth,
		VolumeRatio: vr,
		Time:        end.Time,
	}, true
}

func tailSamples(samples []models.Sample, n int) []models.Sample {
	if n <= 0 || n >= len(samples) {
		return samples
	}
	return samples[len(samples)-n:]
}
