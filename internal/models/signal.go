package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade idea.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// SignalKind names the detector that produced a signal.
type SignalKind string

const (
	KindEMATouch   SignalKind = "ema_touch"
	KindMomentum   SignalKind = "momentum"
	KindOverheat   SignalKind = "overheat"
	KindSimilarity SignalKind = "similarity"
)

// Mode is the prevailing market direction used to filter sides.
type Mode string

const (
	ModeNeutral Mode = "neutral"
	ModeUp      Mode = "up"
	ModeDown    Mode = "down"
)

// Allows reports whether a side may be emitted while this mode is active.
func (m Mode) Allows(side Side) bool {
	switch m {
	case ModeUp:
		return side == SideLong
	case ModeDown:
		return side == SideShort
	default:
		return true
	}
}

// Signal is an emitted trade idea. It is never persisted by the pipeline
// itself; audit sinks may record it.
type Signal struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Kind        SignalKind      `json:"kind"`
	Score       float64         `json:"score"`
	Price       decimal.Decimal `json:"price"`
	StopLoss    decimal.Decimal `json:"stop_loss"`
	TakeProfit1 decimal.Decimal `json:"take_profit_1"`
	TakeProfit2 decimal.Decimal `json:"take_profit_2"`
	Mode        Mode            `json:"mode"`
	Threshold   float64         `json:"threshold,omitempty"`
	RSI         float64         `json:"rsi,omitempty"`
	Growth      float64         `json:"growth,omitempty"`
	VolumeRatio float64         `json:"volume_ratio,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// RiskPercent returns the distance from entry to stop as a percentage of entry.
func (s Signal) RiskPercent() float64 {
	if s.Price.IsZero() {
		return 0
	}
	return s.Price.Sub(s.StopLoss).Abs().Div(s.Price).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

// DirectionProfile holds average move magnitudes (percent) observed in one
// direction during the reference window.
type DirectionProfile struct {
	AvgHourlyMove  float64 `json:"avg_hourly_move"`
	AvgDailyMove   float64 `json:"avg_daily_move"`
	AvgEMADistance float64 `json:"avg_ema_distance"`
	Observations   int     `json:"observations"`
}

// Profile is built once from a fixed historical window and is read-only afterwards.
type Profile struct {
	Symbol string           `json:"symbol"`
	From   time.Time        `json:"from"`
	To     time.Time        `json:"to"`
	Up     DirectionProfile `json:"up"`
	Down   DirectionProfile `json:"down"`
}
