package wrap

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/roach88/garland/internal/ir"
)

// Throttle blocks until the limiter grants a slot, then invokes next.
// Context cancellation while waiting aborts the call with the limiter's
// error; nothing is invoked and nothing is journaled for it.
func Throttle(limiter *rate.Limiter) Decorator {
	return func(next Invoker) Invoker {
		return func(ctx context.Context, call ir.Call) (ir.Result, error) {
			if err := limiter.Wait(ctx); err != nil {
				return ir.Result{}, fmt.Errorf("throttle %s: %w", call.Target, err)
			}
			return next(ctx, call)
		}
	}
}

// NewLimiter builds a rate.Limiter from chain params. Burst defaults to
// rps when unset so a freshly-built limiter admits a full second of calls.
func NewLimiter(rps, burst int64) *rate.Limiter {
	if burst <= 0 {
		burst = rps
	}
	return rate.NewLimiter(rate.Limit(rps), int(burst))
}
