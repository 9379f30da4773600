package orchestrator

import (
	"context"
	"sync"
)

// Pool bounds how many sessions run simultaneously, capping subprocess and
// PTY fan-out. Iterations within one session are always sequential; the
// pool only limits independent sessions.
type Pool struct {
	sem chan struct{}
}

// NewPool creates a pool allowing up to capacity concurrent sessions.
func NewPool(capacity int) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{sem: make(chan struct{}, capacity)}
}

// RunAll executes every function, at most capacity at a time, and returns
// the results in input order. Cancellation stops new launches; functions
// already running are expected to honor the context themselves.
func (p *Pool) RunAll(ctx context.Context, fns []func(ctx context.Context) error) []error {
	errs := make([]error, len(fns))
	var wg sync.WaitGroup

	for i, fn := range fns {
		if ctx.Err() != nil {
			errs[i] = ctx.Err()
			continue
		}
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			errs[i] = ctx.Err()
			continue
		}

		wg.Add(1)
		go func(i int, fn func(ctx context.Context) error) {
			defer wg.Done()
			defer func() { <-p.sem }()
			errs[i] = fn(ctx)
		}(i, fn)
	}

	wg.Wait()
	return errs
}
