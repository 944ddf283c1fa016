package signal

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/OstapBender-commits/ema-signal-bot/internal/indicators"
	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
	"github.com/OstapBender-commits/ema-signal-bot/internal/utils"
)

// ErrFiltered wraps the reason a candidate failed the execution filter.
var ErrFiltered = errors.New("rejected by execution filter")

// Decision is the outcome of evaluating one tick for one symbol. Signal is
// set only when an alert should go out; Suppressed explains why a detector
// hit did not become one.
type Decision struct {
	Candidate  *Candidate
	Signal     *models.Signal
	Suppressed error
}

// Evaluator runs the enabled detectors, vets the best candidate and
// coordinates with the tracker.
type Evaluator struct {
	cfg     Config
	tracker *Tracker
	now     func() time.Time
	newID   func() string
}

// NewEvaluator creates an evaluator. A nil clock means time.Now.
func NewEvaluator(cfg Config, tracker *Tracker, now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{cfg: cfg, tracker: tracker, now: now, newID: uuid.NewString}
}

// Tracker exposes the state machine for status reporting.
func (e *Evaluator) Tracker() *Tracker {
	return e.tracker
}

// MinBars is the shortest series the polled detectors can work with.
func (e *Evaluator) MinBars() int {
	n := 3
	if e.cfg.EMATouch.Enabled {
		n = max(n, e.cfg.EMATouch.SlowEMA, e.cfg.EMATouch.RSIPeriod+1)
	}
	if e.cfg.Momentum.Enabled {
		n = max(n, e.cfg.Momentum.VolumeWindow+1)
	}
	if e.cfg.Overheat.Enabled {
		n = max(n, e.cfg.Overheat.Bars)
	}
	return n
}

// Detect runs every enabled polled-series detector and returns the hits.
func (e *Evaluator) Detect(in Input) []Candidate {
	var out []Candidate
	if e.cfg.EMATouch.Enabled {
		if c, ok := DetectEMATouch(in, e.cfg.EMATouch); ok {
			out = append(out, c)
		}
	}
	if e.cfg.Momentum.Enabled {
		if c, ok := DetectMomentum(in, e.cfg.Momentum); ok {
			out = append(out, c)
		}
	}
	if e.cfg.Overheat.Enabled {
		if c, ok := DetectOverheat(in, e.cfg.Overheat); ok {
			out = append(out, c)
		}
	}
	return out
}

// DetectStream runs the detectors used on trade-stream candles.
func (e *Evaluator) DetectStream(in Input) []Candidate {
	var out []Candidate
	if e.cfg.Similarity.Enabled {
		if c, ok := DetectSimilarity(in, e.cfg.Similarity); ok {
			out = append(out, c)
		}
	}
	if e.cfg.Overheat.Enabled {
		if c, ok := DetectOverheat(in, e.cfg.Overheat); ok {
			out = append(out, c)
		}
	}
	return out
}

// Evaluate runs the polled detectors on in.
func (e *Evaluator) Evaluate(in Input) (Decision, error) {
	if len(in.Samples) < e.MinBars() {
		return Decision{}, utils.NotReady(utils.StageEvaluate, in.Symbol,
			fmt.Errorf("have %d bars, need %d", len(in.Samples), e.MinBars()))
	}
	return e.decide(in, e.Detect(in)), nil
}

// EvaluateStream runs the stream detectors on in.
func (e *Evaluator) EvaluateStream(in Input) (Decision, error) {
	if len(in.Samples) < 3 {
		return Decision{}, utils.NotReady(utils.StageEvaluate, in.Symbol,
			fmt.Errorf("have %d candles, need 3", len(in.Samples)))
	}
	return e.decide(in, e.DetectStream(in)), nil
}

func (e *Evaluator) decide(in Input, candidates []Candidate) Decision {
	if len(candidates) == 0 {
		return Decision{}
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	d := Decision{Candidate: &best}

	if err := e.tracker.Propose(in.Symbol, string(best.Kind)); err != nil {
		d.Suppressed = err
		return d
	}
	if err := e.Filter(in); err != nil {
		e.tracker.Reject(in.Symbol)
		d.Suppressed = err
		return d
	}

	d.Signal = e.build(in, best)
	return d
}

// Filter applies the execution filter: enough volume, a bounded recent move
// and a tight spread when a quote is available.
func (e *Evaluator) Filter(in Input) error {
	f := e.cfg.Filter
	closes := models.Closes(in.Samples)

	if f.MinVolumeRatio > 0 {
		vr := indicators.VolumeRatio(models.Volumes(in.Samples), f.VolumeWindow)
		if !indicators.IsReady(vr) || vr < f.MinVolumeRatio {
			return fmt.Errorf("%w: volume ratio %.2f below %.2f", ErrFiltered, vr, f.MinVolumeRatio)
		}
	}
	if f.MaxMovePercent > 0 {
		move := indicators.PctChange(closes, f.MoveBars)
		if indicators.IsReady(move) && math.Abs(move) > f.MaxMovePercent {
			return fmt.Errorf("%w: %d-bar move %.2f%% above %.2f%%", ErrFiltered, f.MoveBars, move, f.MaxMovePercent)
		}
	}
	if f.MaxSpreadPercent > 0 && in.Ticker != nil {
		if spread, ok := in.Ticker.SpreadPercent(); ok && spread > f.MaxSpreadPercent {
			return fmt.Errorf("%w: spread %.3f%% above %.3f%%", ErrFiltered, spread, f.MaxSpreadPercent)
		}
	}
	return nil
}

func (e *Evaluator) build(in Input, c Candidate) *models.Signal {
	rsi := c.RSI
	if rsi == 0 && e.cfg.EMATouch.RSIPeriod > 0 {
		rsi = indicators.RSI(models.Closes(in.Samples), e.cfg.EMATouch.RSIPeriod)
	}
	return &models.Signal{
		ID:          e.newID(),
		Symbol:      in.Symbol,
		Side:        c.Side,
		Kind:        c.Kind,
		Score:       c.Score,
		Price:       c.Levels.Entry,
		StopLoss:    c.Levels.StopLoss,
		TakeProfit1: c.Levels.TakeProfit1,
		TakeProfit2: c.Levels.TakeProfit2,
		Mode:        in.Mode,
		Threshold:   zeroIfNaN(in.Threshold),
		RSI:         zeroIfNaN(rsi),
		Growth:      zeroIfNaN(c.Growth),
		VolumeRatio: zeroIfNaN(c.VolumeRatio),
		CreatedAt:   e.now().UTC(),
	}
}

// Confirm records that the alert for sig went out.
func (e *Evaluator) Confirm(sig *models.Signal) error {
	return e.tracker.Commit(sig.Symbol)
}

// Discard releases the candidate for sig without counting it, e.g. when the
// notification failed.
func (e *Evaluator) Discard(sig *models.Signal) {
	e.tracker.Reject(sig.Symbol)
}

func zeroIfNaN(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
