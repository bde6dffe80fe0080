package wrap

import (
	"context"
	"log/slog"

	"github.com/roach88/garland/internal/ir"
)

// Counter records how often each target is invoked. Satisfied by the
// stats package's stores.
type Counter interface {
	Incr(ctx context.Context, target string) error
}

// Count increments the per-target counter after a successful invocation.
// A failing counter is logged and swallowed: losing a tally must not fail
// the call it was tallying.
func Count(logger *slog.Logger, sink Counter) Decorator {
	return func(next Invoker) Invoker {
		return func(ctx context.Context, call ir.Call) (ir.Result, error) {
			res, err := next(ctx, call)
			if err != nil {
				return res, err
			}
			if countErr := sink.Incr(ctx, call.Target); countErr != nil {
				logger.Warn("count sink failed",
					slog.String("target", call.Target),
					slog.String("error", countErr.Error()),
				)
			}
			return res, nil
		}
	}
}
