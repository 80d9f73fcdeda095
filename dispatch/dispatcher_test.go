package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mini-rpc/coreband/capacity"
	"github.com/mini-rpc/coreband/errhandler"
	"github.com/mini-rpc/coreband/loadbalance"
)

func newSingleItemBalancer(cfg capacity.Config, policy errhandler.Config) *loadbalance.Balancer[int] {
	return loadbalance.New([]int{1}, cfg, func() errhandler.Handler { return errhandler.New(policy) })
}

func newNItemBalancer(n int, cfg capacity.Config, policy errhandler.Config) *loadbalance.Balancer[int] {
	backends := make([]int, n)
	for i := range backends {
		backends[i] = i
	}
	return loadbalance.New(backends, cfg, func() errhandler.Handler { return errhandler.New(policy) })
}

// S1: happy path. Balancer of 1 item, operation returns 42.
func TestS1HappyPath(t *testing.T) {
	// No refill, so the token count read back reflects the claim alone.
	bal := newSingleItemBalancer(capacity.Config{Tokens: 5, RefillPerSecond: 0, Burst: 5}, errhandler.Config{Policy: "linear", BaseMillis: 1})

	var calls int32
	op := Operation[int, int](func(ctx context.Context, b int) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 42, nil
	})

	d := New(bal, op, CallContext{MaxRetries: 5, CallWeight: 1, MaxTryClaim: 3, Mode: Courteous}, "s1")
	result, err := d.Get(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Fatalf("expect 42, got %d", result)
	}
	if calls != 1 {
		t.Fatalf("expect exactly one invocation, got %d", calls)
	}
	if got := bal.WithContext().Capacity().Tokens(); got != 4 {
		t.Fatalf("expect single claim of weight 1, tokens=4, got %v", got)
	}
}

// S2: single-item exponential backoff. Operation fails 3 times then
// succeeds on the 4th.
func TestS2ExponentialBackoffThenSuccess(t *testing.T) {
	bal := newSingleItemBalancer(capacity.Config{Tokens: 100, RefillPerSecond: 1000, Burst: 100}, errhandler.Config{
		Policy: "exponential", BaseMillis: 10, CapMillis: 1000,
	})

	var attempts int32
	op := Operation[int, string](func(ctx context.Context, b int) (string, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 4 {
			return "", &errhandler.HTTPStatusError{StatusCode: 503, Err: errors.New("unavailable")}
		}
		return "ok", nil
	})

	d := New(bal, op, CallContext{MaxRetries: 5, CallWeight: 1, MaxTryClaim: 3, Mode: Courteous}, "s2")
	start := time.Now()
	result, err := d.Get(context.Background())
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("expect ok, got %q", result)
	}
	if attempts != 4 {
		t.Fatalf("expect 4 attempts, got %d", attempts)
	}
	// Backoff schedule (no jitter floor): 10 + 20 + 40 = 70ms minimum.
	if elapsed < 70*time.Millisecond {
		t.Fatalf("expect at least 70ms of accumulated backoff, took %v", elapsed)
	}
}

// S3: 3-item balancer; item A fails once, dispatcher should fail over to a
// healthier item without sleeping.
func TestS3Failover(t *testing.T) {
	bal := newNItemBalancer(3, capacity.Config{Tokens: 100, RefillPerSecond: 1000, Burst: 100}, errhandler.Config{
		Policy: "linear", BaseMillis: 0,
	})
	first := bal.WithContext()

	op := Operation[int, string](func(ctx context.Context, b int) (string, error) {
		if b == first.Backend() {
			return "", &errhandler.HTTPStatusError{StatusCode: 500, Err: errors.New("boom")}
		}
		return "ok", nil
	})

	d := New(bal, op, CallContext{MaxRetries: 5, CallWeight: 1, MaxTryClaim: 3, Mode: Courteous}, "s3")
	result, err := d.Get(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("expect ok, got %q", result)
	}
	if first.Capacity().Health() == 1 {
		t.Fatal("expect item A's health to have dropped after its failure")
	}
}

// S4: no capacity. Courteous mode, maxTryClaim=2, forceCall=false, every
// item stays over capacity; dispatcher must return ErrNoCapacity. A zero
// burst keeps every item at zero tokens, while the refill rate makes each
// estimated wait finite (10ms), so the dispatcher sleeps twice and gives up.
func TestS4NoCapacity(t *testing.T) {
	bal := newNItemBalancer(2, capacity.Config{Tokens: 0, RefillPerSecond: 100, Burst: 0}, errhandler.Config{Policy: "linear"})

	var calls int32
	op := Operation[int, int](func(ctx context.Context, b int) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, nil
	})

	d := New(bal, op, CallContext{MaxRetries: 3, CallWeight: 1, MaxTryClaim: 2, ForceCall: false, Mode: Courteous}, "s4")
	_, err := d.Get(context.Background())
	if !errors.Is(err, ErrNoCapacity) {
		t.Fatalf("expect ErrNoCapacity, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expect the operation to never be invoked, got %d calls", calls)
	}
}

func TestForceCallOverdraftsOnExhaustion(t *testing.T) {
	// Zero burst keeps the item empty; the refill rate keeps the wait finite.
	bal := newSingleItemBalancer(capacity.Config{Tokens: 0, RefillPerSecond: 100, Burst: 0}, errhandler.Config{Policy: "linear"})

	op := Operation[int, int](func(ctx context.Context, b int) (int, error) {
		return 7, nil
	})

	d := New(bal, op, CallContext{MaxRetries: 3, CallWeight: 1, MaxTryClaim: 1, ForceCall: true, Mode: Courteous}, "force")
	result, err := d.Get(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 7 {
		t.Fatalf("expect 7, got %d", result)
	}
}

func TestFatalErrorGivesUpImmediately(t *testing.T) {
	bal := newSingleItemBalancer(capacity.Config{Tokens: 5, RefillPerSecond: 1, Burst: 5}, errhandler.Config{Policy: "linear", BaseMillis: 1})

	var calls int32
	op := Operation[int, int](func(ctx context.Context, b int) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, &errhandler.HTTPStatusError{StatusCode: 404, Err: errors.New("not found")}
	})

	d := New(bal, op, CallContext{MaxRetries: 5, CallWeight: 1, MaxTryClaim: 3, Mode: Courteous}, "fatal")
	_, err := d.Get(context.Background())
	if err == nil {
		t.Fatal("expect an error")
	}
	if calls != 1 {
		t.Fatalf("expect exactly one invocation before giving up, got %d", calls)
	}
}

func TestUncheckedModeSkipsCapacity(t *testing.T) {
	bal := newSingleItemBalancer(capacity.Config{Tokens: 0, RefillPerSecond: 0, Burst: 0}, errhandler.Config{Policy: "linear"})

	op := Operation[int, int](func(ctx context.Context, b int) (int, error) { return 1, nil })
	d := New(bal, op, CallContext{Mode: Unchecked, MaxRetries: 1}, "unchecked")
	result, err := d.Get(context.Background())
	if err != nil || result != 1 {
		t.Fatalf("unchecked mode should ignore empty capacity: result=%d err=%v", result, err)
	}
}

func TestCancellationPropagatesImmediately(t *testing.T) {
	bal := newSingleItemBalancer(capacity.Config{Tokens: 5, RefillPerSecond: 1, Burst: 5}, errhandler.Config{Policy: "linear", BaseMillis: 1000})

	op := Operation[int, int](func(ctx context.Context, b int) (int, error) {
		return 0, &errhandler.HTTPStatusError{StatusCode: 503, Err: errors.New("retry me")}
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(bal, op, CallContext{MaxRetries: 5, CallWeight: 1, MaxTryClaim: 3, Mode: Courteous}, "cancel")
	_, err := d.Get(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expect context.Canceled to propagate, got %v", err)
	}
}
