package wrap

import (
	"context"
	"log/slog"

	"github.com/roach88/garland/internal/ir"
)

// DefaultStubOutcome is the outcome recorded when a stub replaces a call.
const DefaultStubOutcome = "Stubbed"

// Stub replaces the wrapped invocation entirely: it logs "wrapped for
// <target>" with the args and returns the canned result WITHOUT invoking
// next. Chained below other decorators it still short-circuits, so nothing
// beneath a stub ever runs.
//
// An empty outcome defaults to DefaultStubOutcome; a nil canned result
// becomes an empty object.
func Stub(logger *slog.Logger, outcome string, canned ir.Object) Decorator {
	if outcome == "" {
		outcome = DefaultStubOutcome
	}
	if canned == nil {
		canned = ir.Object{}
	}
	return func(next Invoker) Invoker {
		return func(ctx context.Context, call ir.Call) (ir.Result, error) {
			logger.Info("wrapped for "+call.Target,
				slog.String("target", call.Target),
				argsAttr(call.Args),
			)
			return ir.Result{
				Outcome: outcome,
				Output:  canned,
				Meta:    call.Meta,
			}, nil
		}
	}
}
