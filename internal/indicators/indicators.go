// Package indicators implements the causal price indicators used by the
// signal pipeline. Every function is pure and only looks at the slice it is
// given, so passing a series prefix ending at T yields the value at T.
package indicators

import (
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
)

// NotReady is the value returned when an indicator lacks enough input.
var NotReady = math.NaN()

// IsReady reports whether v is a defined indicator value.
func IsReady(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// EMA returns the exponential moving average of values with span period.
// The recursion is seeded with the first value, so the output has the same
// length as the input.
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) == 0 {
		return nil
	}

	alpha := 2.0 / float64(period+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// LastEMA returns the final EMA value or NotReady for empty input.
func LastEMA(values []float64, period int) float64 {
	ema := EMA(values, period)
	if len(ema) == 0 {
		return NotReady
	}
	return ema[len(ema)-1]
}

// RSI returns the relative strength index over the last period deltas using
// plain averages of gains and losses. It is NotReady until period deltas exist.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return NotReady
	}

	gain := 0.0
	loss := 0.0
	for i := len(values) - period; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}

	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	switch {
	case avgGain == 0 && avgLoss == 0:
		return 50
	case avgLoss == 0:
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// PctChange returns the percentage change between the last value and the
// value k bars earlier.
func PctChange(values []float64, k int) float64 {
	if k <= 0 || len(values) <= k {
		return NotReady
	}
	base := values[len(values)-1-k]
	if base == 0 {
		return NotReady
	}
	return (values[len(values)-1] - base) / base * 100
}

// Pct returns the percentage move from a to b.
func Pct(a, b float64) float64 {
	if a == 0 {
		return NotReady
	}
	return (b - a) / a * 100
}

// Returns returns the 1-bar percentage changes of values. Zero bases yield 0.
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		out[i-1] = (values[i] - values[i-1]) / values[i-1] * 100
	}
	return out
}

// AbsReturns returns the magnitudes of Returns.
func AbsReturns(values []float64) []float64 {
	r := Returns(values)
	for i := range r {
		r[i] = math.Abs(r[i])
	}
	return r
}

// SMA returns the last simple moving average of values over period.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return NotReady
	}
	sma := trend.NewSmaWithPeriod[float64](period)
	result := helper.ChanToSlice(sma.Compute(helper.SliceToChan(values)))
	if len(result) == 0 {
		return NotReady
	}
	return result[len(result)-1]
}

// Volatility returns the mean absolute 1-bar percentage change over the last
// window changes.
func Volatility(closes []float64, window int) float64 {
	if window <= 0 || len(closes) < window+1 {
		return NotReady
	}
	return SMA(AbsReturns(closes), window)
}

// VolumeRatio compares the last volume to the mean of the window volumes
// immediately before it.
func VolumeRatio(volumes []float64, window int) float64 {
	if window <= 0 || len(volumes) < window+1 {
		return NotReady
	}
	avg := SMA(volumes[:len(volumes)-1], window)
	if !IsReady(avg) || avg == 0 {
		return NotReady
	}
	return volumes[len(volumes)-1] / avg
}

// DistancePercent returns |price - ref| relative to ref, in percent.
func DistancePercent(price, ref float64) float64 {
	if ref == 0 {
		return NotReady
	}
	return math.Abs(price-ref) / ref * 100
}

// Highest returns the maximum of the last n values.
func Highest(values []float64, n int) float64 {
	window := tail(values, n)
	if len(window) == 0 {
		return NotReady
	}
	out := window[0]
	for _, v := range window[1:] {
		if v > out {
			out = v
		}
	}
	return out
}

// Lowest returns the minimum of the last n values.
func Lowest(values []float64, n int) float64 {
	window := tail(values, n)
	if len(window) == 0 {
		return NotReady
	}
	out := window[0]
	for _, v := range window[1:] {
		if v < out {
			out = v
		}
	}
	return out
}

func tail(values []float64, n int) []float64 {
	if n <= 0 || len(values) == 0 {
		return nil
	}
	if n > len(values) {
		n = len(values)
	}
	return values[len(values)-n:]
}
