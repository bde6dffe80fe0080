package wrap

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/garland/internal/ir"
)

// Log announces each call at Info level before invoking it.
// One line per call: "calling <target>" with the args attached.
func Log(logger *slog.Logger) Decorator {
	return func(next Invoker) Invoker {
		return func(ctx context.Context, call ir.Call) (ir.Result, error) {
			logger.Info("calling "+call.Target,
				slog.String("target", call.Target),
				argsAttr(call.Args),
			)
			return next(ctx, call)
		}
	}
}

// Trace emits a Debug line and passes the call through untouched.
// Invisible unless the effective level is Debug.
func Trace(logger *slog.Logger) Decorator {
	return func(next Invoker) Invoker {
		return func(ctx context.Context, call ir.Call) (ir.Result, error) {
			logger.Debug("in "+call.Target,
				slog.String("target", call.Target),
			)
			return next(ctx, call)
		}
	}
}

// Tag builds a decorator carrying a fixed label. The log line announces
// the label, not the target, so the same target logs differently under
// differently-tagged chains.
func Tag(logger *slog.Logger, label string) Decorator {
	return func(next Invoker) Invoker {
		return func(ctx context.Context, call ir.Call) (ir.Result, error) {
			logger.Info("calling "+label,
				slog.String("label", label),
				slog.String("target", call.Target),
				argsAttr(call.Args),
			)
			return next(ctx, call)
		}
	}
}

// Time logs the elapsed wall time of the wrapped invocation at Debug level.
// Duration is log-only; it never enters the journaled record.
func Time(logger *slog.Logger) Decorator {
	return func(next Invoker) Invoker {
		return func(ctx context.Context, call ir.Call) (ir.Result, error) {
			start := time.Now()
			res, err := next(ctx, call)
			logger.Debug("finished "+call.Target,
				slog.String("target", call.Target),
				slog.Duration("elapsed", time.Since(start)),
			)
			return res, err
		}
	}
}
