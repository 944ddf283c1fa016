package signal

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
)

// pricePlaces is the precision prices are rounded to in alerts.
const pricePlaces = 8

var hundred = decimal.NewFromInt(100)

// ErrInvalidStop is returned when the stop sits on the wrong side of entry.
var ErrInvalidStop = errors.New("stop loss on wrong side of entry")

// Levels are the entry, stop and two targets of a trade idea.
type Levels struct {
	Entry       decimal.Decimal
	StopLoss    decimal.Decimal
	TakeProfit1 decimal.Decimal
	TakeProfit2 decimal.Decimal
}

// PercentLevels places stop and targets at fixed percentages from entry.
func PercentLevels(side models.Side, entry float64, p Percent) Levels {
	e := decimal.NewFromFloat(entry)
	offset := func(pct float64) decimal.Decimal {
		return e.Mul(decimal.NewFromFloat(pct)).Div(hundred)
	}

	l := Levels{Entry: e}
	if side == models.SideShort {
		l.StopLoss = e.Add(offset(p.StopLoss))
		l.TakeProfit1 = e.Sub(offset(p.TakeProfit1))
		l.TakeProfit2 = e.Sub(offset(p.TakeProfit2))
	} else {
		l.StopLoss = e.Sub(offset(p.StopLoss))
		l.TakeProfit1 = e.Add(offset(p.TakeProfit1))
		l.TakeProfit2 = e.Add(offset(p.TakeProfit2))
	}
	return l.round()
}

// RiskLevels places targets at multiples of the entry-to-stop distance (R).
func RiskLevels(side models.Side, entry, stop, tp1R, tp2R float64) (Levels, error) {
	e := decimal.NewFromFloat(entry)
	s := decimal.NewFromFloat(stop)

	risk := e.Sub(s)
	if side == models.SideShort {
		risk = s.Sub(e)
	}
	if !risk.IsPositive() {
		return Levels{}, ErrInvalidStop
	}

	l := Levels{Entry: e, StopLoss: s}
	tp1 := risk.Mul(decimal.NewFromFloat(tp1R))
	tp2 := risk.Mul(decimal.NewFromFloat(tp2R))
	if side == models.SideShort {
		l.TakeProfit1 = e.Sub(tp1)
		l.TakeProfit2 = e.Sub(tp2)
	} else {
		l.TakeProfit1 = e.Add(tp1)
		l.TakeProfit2 = e.Add(tp2)
	}
	return l.round(), nil
}

func (l Levels) round() Levels {
	return Levels{
		Entry:       l.Entry.Round(pricePlaces),
		StopLoss:    l.StopLoss.Round(pricePlaces),
		TakeProfit1: l.TakeProfit1.Round(pricePlaces),
		TakeProfit2: l.TakeProfit2.Round(pricePlaces),
	}
}
