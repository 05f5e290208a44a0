package fitting

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/copyleftdev/psffit/internal/psf"
)

// Item is one source of a batch fit.
type Item struct {
	Initial psf.Params
	Data    *psf.Grid
	// Domain overrides Options.Domain for this item when set.
	Domain *psf.Domain
}

// BatchResult pairs a fit with its error. Exactly one is set.
type BatchResult struct {
	Result *Result
	Err    error
}

// FitBatch fits items concurrently on at most workers goroutines and returns
// results in input order. workers <= 0 uses one per CPU.
func FitBatch(ctx context.Context, m psf.Model, items []Item, workers int, opts Options) []BatchResult {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	results := make([]BatchResult, len(items))
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)

	for i := range items {
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			itemOpts := opts
			itemOpts.Logger = logger.With(zap.Int("item", i))
			if items[i].Domain != nil {
				itemOpts.Domain = items[i].Domain
			}
			res, err := Fit(ctx, m, items[i].Initial, items[i].Data, itemOpts)
			results[i] = BatchResult{Result: res, Err: err}
		}(i)
	}

	wg.Wait()
	return results
}
