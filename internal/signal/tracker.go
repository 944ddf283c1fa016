package signal

import (
	"errors"
	"sync"
	"time"
)

// State is the lifecycle position of one symbol.
type State string

const (
	StateIdle      State = "idle"
	StateCandidate State = "candidate"
	StateEmitted   State = "emitted"
)

var (
	// ErrCooldown is returned when the symbol emitted too recently.
	ErrCooldown = errors.New("symbol in cooldown")
	// ErrDailyCap is returned once the daily emission cap is used up.
	ErrDailyCap = errors.New("daily signal cap reached")
	// ErrPending is returned when the symbol already holds an unsettled candidate.
	ErrPending = errors.New("candidate already pending")
	// ErrNoCandidate is returned when committing a symbol that holds no candidate.
	ErrNoCandidate = errors.New("no pending candidate")
)

const dayLayout = "2006-01-02"

type symbolState struct {
	state    State
	kind     string
	lastEmit time.Time
}

// Tracker owns the per-symbol state machine and the daily counter:
// idle -> candidate -> emitted -> idle (cooldown over or new UTC day).
type Tracker struct {
	mu       sync.Mutex
	now      func() time.Time
	cooldown time.Duration
	dailyCap int

	day     string
	count   int
	pending int
	resets  int
	symbols map[string]*symbolState
}

// NewTracker creates a tracker. A nil clock means time.Now.
func NewTracker(cooldown time.Duration, dailyCap int, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		now:      now,
		cooldown: cooldown,
		dailyCap: dailyCap,
		day:      now().UTC().Format(dayLayout),
		symbols:  make(map[string]*symbolState),
	}
}

// rollover must be called with mu held.
func (t *Tracker) rollover(now time.Time) {
	day := now.UTC().Format(dayLayout)
	if day == t.day {
		return
	}
	t.day = day
	t.count = 0
	t.resets++
	for _, s := range t.symbols {
		if s.state == StateEmitted {
			s.state = StateIdle
		}
	}
}

// stateOf must be called with mu held.
func (t *Tracker) stateOf(symbol string, now time.Time) *symbolState {
	s, ok := t.symbols[symbol]
	if !ok {
		s = &symbolState{state: StateIdle}
		t.symbols[symbol] = s
	}
	if s.state == StateEmitted && now.Sub(s.lastEmit) >= t.cooldown {
		s.state = StateIdle
	}
	return s
}

// Propose moves symbol into the candidate state unless it is cooling down,
// already holds a candidate or the daily cap is exhausted. Unsettled
// candidates count against the cap until they are committed or rejected.
func (t *Tracker) Propose(symbol, kind string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.rollover(now)
	s := t.stateOf(symbol, now)

	switch s.state {
	case StateEmitted:
		return ErrCooldown
	case StateCandidate:
		return ErrPending
	}
	if t.dailyCap > 0 && t.count+t.pending >= t.dailyCap {
		return ErrDailyCap
	}
	s.state = StateCandidate
	s.kind = kind
	t.pending++
	return nil
}

// Reject drops a pending candidate back to idle.
func (t *Tracker) Reject(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.symbols[symbol]; ok && s.state == StateCandidate {
		s.state = StateIdle
		s.kind = ""
		t.pending--
	}
}

// Commit records an emission: the symbol enters cooldown and the daily
// counter advances.
func (t *Tracker) Commit(symbol string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.rollover(now)
	s, ok := t.symbols[symbol]
	if !ok || s.state != StateCandidate {
		return ErrNoCandidate
	}
	s.state = StateEmitted
	s.lastEmit = now
	t.pending--
	t.count++
	return nil
}

// Restore seeds the tracker after a restart: dayCount emissions already made
// today and the last emission time per symbol. Emissions from today that are
// still inside the cooldown put their symbol back into the emitted state.
func (t *Tracker) Restore(dayCount int, lastEmit map[string]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.rollover(now)
	if dayCount > t.count {
		t.count = dayCount
	}
	for sym, at := range lastEmit {
		if now.Sub(at) >= t.cooldown || at.UTC().Format(dayLayout) != t.day {
			continue
		}
		s := t.stateOf(sym, now)
		if s.state == StateIdle && at.After(s.lastEmit) {
			s.state = StateEmitted
			s.lastEmit = at
		}
	}
}

// State reports the current state of symbol.
func (t *Tracker) State(symbol string) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.rollover(now)
	return t.stateOf(symbol, now).state
}

// Snapshot is a point-in-time copy of the tracker, for status reporting.
type Snapshot struct {
	Day      string           `json:"day"`
	Count    int              `json:"count"`
	Pending  int              `json:"pending"`
	DailyCap int              `json:"daily_cap"`
	Symbols  map[string]State `json:"symbols"`
}

// Snapshot returns the daily count and each known symbol's state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.rollover(now)
	out := Snapshot{Day: t.day, Count: t.count, Pending: t.pending, DailyCap: t.dailyCap, Symbols: make(map[string]State, len(t.symbols))}
	for sym := range t.symbols {
		out.Symbols[sym] = t.stateOf(sym, now).state
	}
	return out
}

// DailyCount returns the emissions recorded for the current UTC day.
func (t *Tracker) DailyCount() int {
	return t.Snapshot().Count
}

// Resets returns how many times the daily counter rolled over.
func (t *Tracker) Resets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover(t.now())
	return t.resets
}
