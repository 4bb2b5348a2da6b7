package services

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"storyboard-backend/internal/config"
)

// BatchItem is the outcome for the input at the same index.
type BatchItem[O any] struct {
	Value O
	Err   error
}

// RunBounded processes items with at most concurrency workers. Workers pull
// the next index from a shared cursor, so a slow item never holds up a whole
// chunk. Results keep input order. A worker error or panic is recorded on its
// item and does not stop the others. Once ctx is done no new item is claimed
// and every unclaimed item carries ctx.Err().
func RunBounded[I, O any](ctx context.Context, items []I, concurrency int, worker func(ctx context.Context, item I) (O, error)) []BatchItem[O] {
	results := make([]BatchItem[O], len(items))
	if len(items) == 0 {
		return results
	}

	n := config.ClampConcurrency(concurrency)
	if n > len(items) {
		n = len(items)
	}

	var cursor atomic.Int64
	claimed := make([]atomic.Bool, len(items))

	// Workers never return an error, so the group only bounds lifetimes.
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < n; w++ {
		g.Go(func() error {
			for {
				if gctx.Err() != nil {
					return nil
				}
				i := int(cursor.Add(1) - 1)
				if i >= len(items) {
					return nil
				}
				claimed[i].Store(true)
				results[i] = runItem(gctx, items[i], worker)
			}
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		for i := range results {
			if !claimed[i].Load() {
				results[i].Err = err
			}
		}
	}
	return results
}

func runItem[I, O any](ctx context.Context, item I, worker func(ctx context.Context, item I) (O, error)) (res BatchItem[O]) {
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	v, err := worker(ctx, item)
	return BatchItem[O]{Value: v, Err: err}
}
