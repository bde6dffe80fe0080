package wrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/garland/internal/ir"
)

// Invoker executes one call and produces its result payload.
// Implementations must not set Result.ID, Result.CallID, or Result.Seq;
// the engine fills those when journaling.
type Invoker func(ctx context.Context, call ir.Call) (ir.Result, error)

// Decorator wraps an Invoker with additional behavior.
type Decorator func(next Invoker) Invoker

// Chain composes decorators outermost-first: the first decorator sees the
// call before all others, matching declaration order in a chain rule.
//
// Chain() with no decorators is the identity.
func Chain(decorators ...Decorator) Decorator {
	return func(next Invoker) Invoker {
		// Apply in reverse so decorators[0] ends up outermost.
		for i := len(decorators) - 1; i >= 0; i-- {
			next = decorators[i](next)
		}
		return next
	}
}

// argsAttr renders call args as a canonical JSON slog attribute.
// Falls back to Go formatting if the args cannot be canonically marshaled.
func argsAttr(args ir.Object) slog.Attr {
	data, err := ir.MarshalCanonical(args)
	if err != nil {
		return slog.String("args", fmt.Sprintf("%v", args))
	}
	return slog.String("args", string(data))
}
