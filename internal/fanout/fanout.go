package fanout

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Settled is the per-item outcome of a Map call: either a value or the
// reason the item failed.
type Settled[R any] struct {
	Value R
	Err   error
}

// Map runs fn over items with at most limit concurrent invocations and
// collects a settled result per item. One item's failure never aborts the
// batch; callers inspect each Settled individually.
func Map[T, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) (R, error)) []Settled[R] {
	if limit <= 0 {
		limit = 1
	}

	results := make([]Settled[R], len(items))

	var g errgroup.Group
	g.SetLimit(limit)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Settled[R]{Err: err}
				return nil
			}
			v, err := fn(ctx, item)
			results[i] = Settled[R]{Value: v, Err: err}
			return nil
		})
	}

	g.Wait()
	return results
}
