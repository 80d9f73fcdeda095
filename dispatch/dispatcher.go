// Package dispatch implements the retry/failover state machine that
// executes a caller-supplied operation against one of N equivalent
// backends, selecting the best backend via the load balancer, honoring
// per-backend capacity, and retrying or failing over on error.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mini-rpc/coreband/loadbalance"
)

// Mode selects one of the three invocation policies.
type Mode int

const (
	// Unchecked does no capacity bookkeeping at all.
	Unchecked Mode = iota
	// Greedy unconditionally claims capacity (willing to overdraft).
	Greedy
	// Courteous never overdrafts unless ForceCall is set.
	Courteous
)

// CallContext is the enumerated per-call configuration.
type CallContext struct {
	MaxRetries      uint32
	CallWeight      uint32
	MeasureCallTime bool
	MaxTryClaim     uint32
	ForceCall       bool
	Mode            Mode
}

// DefaultCallContext matches the spec's documented defaults.
func DefaultCallContext() CallContext {
	return CallContext{
		MaxRetries:  7,
		CallWeight:  1,
		MaxTryClaim: 3,
		Mode:        Courteous,
	}
}

// Operation is the async producer of R the dispatcher invokes against a
// chosen backend. It is "async" in the sense that it may block on IO; the
// dispatcher's own loop is straight-line and simply calls it, which is the
// Go rendition of "await at each future boundary" from the source design.
type Operation[B any, R any] func(ctx context.Context, backend B) (R, error)

// ErrNoCapacity is returned by Get in courteous mode when ForceCall is
// false and every item remained over capacity after MaxTryClaim attempts.
var ErrNoCapacity = errors.New("dispatch: no capacity available")

// CallError wraps the final propagated cause of a failed call, retaining
// the diagnostic retryLogContext and attempt count. Unwrap returns the
// cause so errors.Is/As continue to work through the wrapper.
type CallError struct {
	RetryLogContext string
	Attempts        uint32
	Cause           error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("dispatch: %s failed after %d attempts: %v", e.RetryLogContext, e.Attempts, e.Cause)
}

func (e *CallError) Unwrap() error { return e.Cause }

// Dispatcher composes a LoadBalancer, an Operation, and a CallContext into
// the retry/failover state machine described by the courteous selection
// algorithm and the result/retry loop.
type Dispatcher[B any, R any] struct {
	balancer        *loadbalance.Balancer[B]
	op              Operation[B, R]
	callCtx         CallContext
	retryLogContext string
}

// New constructs a Dispatcher. retryLogContext is an opaque diagnostic
// string surfaced only in wrapped errors.
func New[B any, R any](balancer *loadbalance.Balancer[B], op Operation[B, R], callCtx CallContext, retryLogContext string) *Dispatcher[B, R] {
	return &Dispatcher[B, R]{balancer: balancer, op: op, callCtx: callCtx, retryLogContext: retryLogContext}
}

type outcome[B any, R any] struct {
	selected *loadbalance.Item[B]
	result   R
	callErr  error
}

// dispatchOnce selects a backend per the configured Mode, invokes the
// operation against it, and returns the outcome. A nil outcome with a nil
// error means courteous-mode exhaustion without ForceCall ("no capacity").
// A non-nil error means a fatal dispatch-level failure (cancellation).
func (d *Dispatcher[B, R]) dispatchOnce(ctx context.Context) (*outcome[B, R], error) {
	item, err := d.selectItem(ctx)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}
	result, callErr := d.op(ctx, item.Backend())
	return &outcome[B, R]{selected: item, result: result, callErr: callErr}, nil
}

func (d *Dispatcher[B, R]) selectItem(ctx context.Context) (*loadbalance.Item[B], error) {
	switch d.callCtx.Mode {
	case Unchecked:
		return d.balancer.WithContext(), nil
	case Greedy:
		item := d.balancer.WithContext()
		item.Capacity().Claim(d.callCtx.CallWeight)
		return item, nil
	default:
		return d.selectCourteous(ctx)
	}
}

// selectCourteous implements the courteous selection algorithm verbatim.
func (d *Dispatcher[B, R]) selectCourteous(ctx context.Context) (*loadbalance.Item[B], error) {
	weight := d.callCtx.CallWeight
	selected := d.balancer.WithContext()

tryNext:
	for i := uint32(0); i < d.callCtx.MaxTryClaim; i++ {
		if selected.Capacity().TryClaim(weight) {
			return selected, nil
		}
		if d.balancer.Size() > 1 {
			d.balancer.Sort()
			previous := selected
			selected = d.balancer.WithContext()
			if previous != selected && selected.Capacity().HasCapacity(weight) {
				continue
			}
			for _, it := range d.balancer.Items() {
				if it != previous && it.Capacity().HasCapacity(weight) {
					selected = it
					continue tryNext
				}
			}
		}
		delay := selected.Capacity().DurationUntil(weight)
		if delay <= 0 {
			selected.Capacity().Claim(weight)
			return selected, nil
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
		d.balancer.Sort()
		selected = d.balancer.WithContext()
	}

	if d.callCtx.ForceCall {
		selected.Capacity().Claim(weight)
		return selected, nil
	}
	return nil, nil
}

// Get executes the call, blocking until it succeeds, is given up on, or
// courteous mode exhausts capacity. It implements the result/retry loop
// from the source design exactly, including the per-item error-count reset
// on failover.
func (d *Dispatcher[B, R]) Get(ctx context.Context) (R, error) {
	var zero R

	oc, err := d.dispatchOnce(ctx)
	if err != nil {
		return zero, err
	}
	if oc == nil {
		return zero, ErrNoCapacity
	}

	var start time.Time
	if d.callCtx.MeasureCallTime {
		start = time.Now()
	}
	numItems := uint32(d.balancer.Size())

	var errorCount, retry, attempts uint32
	for {
		attempts++
		if oc.callErr == nil {
			if !start.IsZero() {
				oc.selected.Sample(time.Since(start))
			}
			oc.selected.OnSuccess()
			return oc.result, nil
		}

		errorCount++
		sleep := oc.selected.OnError(errorCount, oc.callErr)
		d.balancer.Sort()

		if sleep < 0 || errorCount > d.callCtx.MaxRetries {
			return zero, &CallError{RetryLogContext: d.retryLogContext, Attempts: attempts, Cause: oc.callErr}
		}

		retry++
		if retry < numItems && d.balancer.Peek() != oc.selected {
			errorCount = retry - 1
		} else if sleep > 0 {
			if werr := sleepCtx(ctx, sleep); werr != nil {
				return zero, werr
			}
		}

		next, err := d.dispatchOnce(ctx)
		if err != nil {
			return zero, err
		}
		if next == nil {
			return zero, ErrNoCapacity
		}
		oc = next
		if !start.IsZero() {
			start = time.Now()
		}
	}
}

// sleepCtx sleeps for d, returning early with the context's error if it is
// cancelled first. Cancellation of the sleeping call is a fatal failure,
// not a retryable one.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
