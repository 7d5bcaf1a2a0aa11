package concurrent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds fan-out when callers pass a non-positive limit.
const DefaultConcurrency = 4

// ParallelMap applies fn to every item with at most maxConcurrency calls in
// flight. Results keep the input order. The first error cancels the context
// handed to the remaining calls and is returned.
func ParallelMap[T, R any](ctx context.Context, items []T, fn func(context.Context, T) (R, error), maxConcurrency int) ([]R, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultConcurrency
	}

	results := make([]R, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for i, item := range items {
		g.Go(func() error {
			r, err := fn(gctx, item)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Settled is one outcome of ParallelSettle.
type Settled[R any] struct {
	Value R
	Err   error
}

// ParallelSettle is ParallelMap without short-circuiting: every item runs
// and its error is reported next to its result.
func ParallelSettle[T, R any](ctx context.Context, items []T, fn func(context.Context, T) (R, error), maxConcurrency int) []Settled[R] {
	if len(items) == 0 {
		return nil
	}
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultConcurrency
	}

	out := make([]Settled[R], len(items))
	var g errgroup.Group
	g.SetLimit(maxConcurrency)
	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			out[i].Value, out[i].Err = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
