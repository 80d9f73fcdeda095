// Package ratelimit provides a fleet-wide throttle a caller can compose
// around a dispatch.Operation, independent of the per-backend capacity
// accounting the dispatcher itself performs.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/mini-rpc/coreband/dispatch"
)

// Wrap blocks on limiter.Wait before delegating to op. Unlike the
// reject-on-exceed middleware this is adapted from, Wait is used instead
// of Allow: the dispatcher's Get contract is blocking end-to-end, so a
// caller that wants throttling wants to wait for a slot, not receive a
// synthetic rate-limit error on every burst.
func Wrap[B any, R any](op dispatch.Operation[B, R], limiter *rate.Limiter) dispatch.Operation[B, R] {
	return func(ctx context.Context, backend B) (R, error) {
		var zero R
		if err := limiter.Wait(ctx); err != nil {
			return zero, err
		}
		return op(ctx, backend)
	}
}
