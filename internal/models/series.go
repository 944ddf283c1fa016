package models

import (
	"sync"
	"time"
)

// DefaultSeriesCapacity bounds a Series when no capacity is given.
const DefaultSeriesCapacity = 500

// Series is a capacity-bounded, time-ascending window of samples for one symbol.
type Series struct {
	Symbol   string
	capacity int
	samples  []Sample
	mu       sync.RWMutex
}

// NewSeries creates an empty series holding at most capacity samples.
func NewSeries(symbol string, capacity int) *Series {
	if capacity <= 0 {
		capacity = DefaultSeriesCapacity
	}
	return &Series{
		Symbol:   symbol,
		capacity: capacity,
		samples:  make([]Sample, 0, capacity),
	}
}

// Append adds samples in order. A sample with the same timestamp as the last
// one replaces it (the in-progress bar); older timestamps are ignored. Once
// capacity is exceeded the oldest samples are evicted.
func (s *Series) Append(samples ...Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sample := range samples {
		n := len(s.samples)
		if n > 0 {
			last := s.samples[n-1].Time
			if sample.Time.Equal(last) {
				s.samples[n-1] = sample
				continue
			}
			if sample.Time.Before(last) {
				continue
			}
		}
		s.samples = append(s.samples, sample)
	}

	if overflow := len(s.samples) - s.capacity; overflow > 0 {
		s.samples = append(s.samples[:0:0], s.samples[overflow:]...)
	}
}

// Len returns the number of samples held.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Capacity returns the eviction bound.
func (s *Series) Capacity() int {
	return s.capacity
}

// Samples returns a copy of the window.
func (s *Series) Samples() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Prefix returns a copy of every sample with Time <= t.
func (s *Series) Prefix(t time.Time) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	end := len(s.samples)
	for end > 0 && s.samples[end-1].Time.After(t) {
		end--
	}
	out := make([]Sample, end)
	copy(out, s.samples[:end])
	return out
}

// Last returns the most recent sample.
func (s *Series) Last() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.samples) == 0 {
		return Sample{}, false
	}
	return s.samples[len(s.samples)-1], true
}

// Closes extracts close prices.
func Closes(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Close
	}
	return out
}

// Volumes extracts volumes.
func Volumes(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Volume
	}
	return out
}

// Highs extracts highs, falling back to closes.
func Highs(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.HighOrClose()
	}
	return out
}

// Lows extracts lows, falling back to closes.
func Lows(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.LowOrClose()
	}
	return out
}
