package marketdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
	"github.com/OstapBender-commits/ema-signal-bot/internal/utils"
)

// Guard wraps calls to one source, e.g. with a circuit breaker.
type Guard interface {
	Execute(ctx context.Context, fn func(context.Context) error) error
}

// GuardFactory returns the guard for a named source.
type GuardFactory func(source string) Guard

// Fallback tries its sources in order and returns the first non-empty window.
type Fallback struct {
	sources []SampleSource
	guard   GuardFactory
}

// NewFallback creates a fallback chain. guard may be nil.
func NewFallback(guard GuardFactory, sources ...SampleSource) *Fallback {
	return &Fallback{sources: sources, guard: guard}
}

// Name implements SampleSource.
func (f *Fallback) Name() string { return "fallback" }

// Sources returns the chain's source names in order.
func (f *Fallback) Sources() []string {
	names := make([]string, len(f.sources))
	for i, s := range f.sources {
		names[i] = s.Name()
	}
	return names
}

// FetchSamples implements SampleSource. When every source fails the errors
// are joined; errors.Is(err, utils.ErrNoData) holds if any source had no data.
func (f *Fallback) FetchSamples(ctx context.Context, req Request) ([]models.Sample, error) {
	if len(f.sources) == 0 {
		return nil, fmt.Errorf("%w: no sources configured", utils.ErrNoData)
	}

	var errs []error
	for _, src := range f.sources {
		var samples []models.Sample
		call := func(ctx context.Context) error {
			var err error
			samples, err = src.FetchSamples(ctx, req)
			return err
		}

		var err error
		if f.guard != nil {
			if g := f.guard(src.Name()); g != nil {
				err = g.Execute(ctx, call)
			} else {
				err = call(ctx)
			}
		} else {
			err = call(ctx)
		}

		if err == nil && len(samples) > 0 {
			return samples, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: %s returned no samples", utils.ErrNoData, src.Name())
		}
		errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}
