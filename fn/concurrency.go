package fn

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ErrFunc is a type def for a function that takes a context (to allow early
// cancellation) and a value, returning an error. This is typically used as a
// closure to perform concurrent work over a homogeneous slice of values.
type ErrFunc[V any] func(context.Context, V) error

// ParSlice executes the function on each element of the slice in parallel.
// It blocks until all goroutines succeeded or the first one errored out, in
// which case the shared context is canceled and that first error returned.
// The number of active goroutines is limited to the number of CPUs.
func ParSlice[V any](ctx context.Context, s []V, f ErrFunc[V]) error {
	errGroup, ctx := errgroup.WithContext(ctx)
	errGroup.SetLimit(runtime.NumCPU())

	for _, v := range s {
		v := v
		errGroup.Go(func() error {
			return f(ctx, v)
		})
	}

	return errGroup.Wait()
}
