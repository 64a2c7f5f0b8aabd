// Package fanout runs a batch of independent units of work concurrently
// under a fixed in-flight bound and collects one result per input.
package fanout

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Result carries the outcome for the input at Index. Exactly one of
// Value and Err is meaningful.
type Result[O any] struct {
	Index int
	Value O
	Err   error
}

// Run dispatches one goroutine per item with at most limit executing at
// once. The returned slice is indexed by input position regardless of
// completion order. A unit that returns an error or panics only marks
// its own slot; siblings are unaffected. Cancelling ctx stops new units
// from being dispatched (their slots carry the context error) while
// units already running are left to finish.
func Run[I, O any](ctx context.Context, items []I, limit int, unit func(context.Context, I) (O, error)) []Result[O] {
	if limit < 1 {
		limit = 1
	}

	results := make([]Result[O], len(items))
	sem := semaphore.NewWeighted(int64(limit))

	var wg sync.WaitGroup
	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = Result[O]{Index: i, Err: err}
			continue
		}

		wg.Add(1)
		go func(i int, item I) {
			defer wg.Done()
			defer sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					results[i] = Result[O]{Index: i, Err: fmt.Errorf("unit panicked: %v", r)}
				}
			}()

			value, err := unit(ctx, item)
			results[i] = Result[O]{Index: i, Value: value, Err: err}
		}(i, item)
	}

	wg.Wait()
	return results
}

// Values filters successful results, preserving input order.
func Values[O any](results []Result[O]) []O {
	values := make([]O, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			values = append(values, r.Value)
		}
	}
	return values
}
