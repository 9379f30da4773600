package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(2)

	var running, peak atomic.Int32
	fns := make([]func(ctx context.Context) error, 6)
	for i := range fns {
		fns[i] = func(ctx context.Context) error {
			now := running.Add(1)
			for {
				p := peak.Load()
				if now <= p || peak.CompareAndSwap(p, now) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return nil
		}
	}

	errs := pool.RunAll(context.Background(), fns)
	for i, err := range errs {
		if err != nil {
			t.Errorf("fn %d: %v", i, err)
		}
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency %d exceeded capacity 2", peak.Load())
	}
}

func TestPoolPropagatesErrors(t *testing.T) {
	pool := NewPool(1)
	sentinel := errors.New("boom")

	errs := pool.RunAll(context.Background(), []func(ctx context.Context) error{
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return sentinel },
	})
	if errs[0] != nil {
		t.Errorf("fn 0: %v", errs[0])
	}
	if !errors.Is(errs[1], sentinel) {
		t.Errorf("fn 1 = %v, want sentinel", errs[1])
	}
}

func TestPoolCancelledContext(t *testing.T) {
	pool := NewPool(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	errs := pool.RunAll(ctx, []func(ctx context.Context) error{
		func(ctx context.Context) error { return nil },
	})
	if !errors.Is(errs[0], context.Canceled) {
		t.Errorf("expected context error, got %v", errs[0])
	}
}
