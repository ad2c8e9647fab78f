package fn

import (
	"context"
	"sync"
	"time"
)

// ContextGuard is an embeddable struct that provides a wait group and main
// quit channel that can be used to create guarded contexts.
type ContextGuard struct {
	// DefaultTimeout is the timeout applied by WithCtxQuit.
	DefaultTimeout time.Duration

	// Wg tracks every goroutine launched by the embedding subsystem.
	Wg sync.WaitGroup

	// Quit is closed once the embedding subsystem shuts down.
	Quit chan struct{}
}

// WithCtxQuit is used to create a cancellable context that will be cancelled
// if the main quit signal is triggered or after the default timeout occurred.
func (g *ContextGuard) WithCtxQuit() (context.Context, func()) {
	ctx, cancel := context.WithTimeout(
		context.Background(), g.DefaultTimeout,
	)

	return ctx, g.guard(ctx, cancel)
}

// WithCtxQuitNoTimeout is used to create a cancellable context that will be
// cancelled only if the main quit signal is triggered.
func (g *ContextGuard) WithCtxQuitNoTimeout() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())

	return ctx, g.guard(ctx, cancel)
}

// guard launches the goroutine that ties the context to the quit channel.
func (g *ContextGuard) guard(ctx context.Context,
	cancel context.CancelFunc) func() {

	g.Wg.Add(1)
	go func() {
		defer cancel()
		defer g.Wg.Done()

		select {
		case <-g.Quit:

		case <-ctx.Done():
		}
	}()

	return cancel
}
