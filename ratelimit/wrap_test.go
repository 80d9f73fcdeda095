package ratelimit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/mini-rpc/coreband/dispatch"
)

func TestWrapDelegatesResult(t *testing.T) {
	op := dispatch.Operation[int, int](func(ctx context.Context, b int) (int, error) { return b * 2, nil })
	wrapped := Wrap(op, rate.NewLimiter(rate.Inf, 1))

	result, err := wrapped(context.Background(), 21)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Fatalf("expect 42, got %d", result)
	}
}

func TestWrapBlocksUntilTokenAvailable(t *testing.T) {
	var calls int32
	op := dispatch.Operation[int, int](func(ctx context.Context, b int) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, nil
	})
	limiter := rate.NewLimiter(rate.Every(50*time.Millisecond), 1)
	wrapped := Wrap(op, limiter)

	ctx := context.Background()
	if _, err := wrapped(ctx, 0); err != nil {
		t.Fatalf("first call should pass immediately: %v", err)
	}

	start := time.Now()
	if _, err := wrapped(ctx, 0); err != nil {
		t.Fatalf("second call should wait then pass: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("expect the second call to wait for a token, elapsed=%v", elapsed)
	}
	if calls != 2 {
		t.Fatalf("expect 2 delegated calls, got %d", calls)
	}
}

func TestWrapPropagatesCancellation(t *testing.T) {
	op := dispatch.Operation[int, int](func(ctx context.Context, b int) (int, error) { return 0, nil })
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	_, _ = Wrap(op, limiter)(context.Background(), 0) // consume the only token

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := Wrap(op, limiter)(ctx, 0)
	if err == nil {
		t.Fatal("expect the wait to be cancelled by the context deadline")
	}
}
