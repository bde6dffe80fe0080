package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/garland/internal/ir"
	"github.com/roach88/garland/internal/wrap"
)

// processDispatch handles a dispatch event: journal the call, run the
// target through its chain, journal the result.
// CRITICAL: Called only from Run() goroutine - single-writer guarantee.
//
// The call is journaled BEFORE the target runs. A crash mid-dispatch
// leaves a pending call in the journal (a call with no result), never a
// result without its call.
//
// QUOTA ENFORCEMENT: Each dispatch counts against the token's quota. If
// the quota is exceeded, the target is NOT invoked and the trace
// terminates with StepsExceededError.
func (e *Engine) processDispatch(ctx context.Context, call *ir.Call) error {
	e.logger.Debug("processing dispatch",
		"id", call.ID,
		"target", call.Target,
		"token", call.Token,
		"seq", call.Seq,
	)

	// Journal the call first (idempotent via ON CONFLICT).
	if err := e.store.WriteCall(ctx, *call); err != nil {
		return NewStoreError(call.Token, fmt.Errorf("write call %s: %w", call.ID, err))
	}

	e.logger.Debug("call journaled",
		"id", call.ID,
		"target", call.Target,
		"token", call.Token,
	)

	// The call stays journaled as pending when the target is unknown;
	// the trace records that the dispatch was attempted.
	target, ok := e.registry.Lookup(call.Target)
	if !ok {
		return NewUnknownTargetError(call.Token, call.Target)
	}

	rule, decorators, err := e.resolveChain(call)
	if err != nil {
		return err
	}

	// Check quota before invoking - if exceeded, the trace terminates.
	quota := e.QuotaFor(call.Token)
	if err := quota.Check(call.Token); err != nil {
		e.logger.Error("max steps quota exceeded",
			"token", call.Token,
			"call_id", call.ID,
			"steps", quota.Current(),
			"limit", e.maxSteps,
		)
		return fmt.Errorf("quota enforcement failed: %w", err)
	}

	// Reentry check applies only to decorated dispatches; the firing is
	// what must not repeat.
	var chainHash, bucket string
	if rule != nil {
		chainHash, err = ir.ChainHash(call.Args)
		if err != nil {
			return fmt.Errorf("compute chain hash: %w", err)
		}
		bucket, err = reentryBucket(rule.Scope, call.Token, call.Args)
		if err != nil {
			return fmt.Errorf("chain %s: %w", rule.ID, err)
		}
		if e.reentry.WouldReenter(bucket, rule.ID, chainHash) {
			return NewReentryError(call.Token, rule.ID, chainHash)
		}
	}

	invoker := baseInvoker(target)
	if len(decorators) > 0 {
		invoker = wrap.Chain(decorators...)(invoker)
	}

	res, err := invoker(ctx, *call)
	if err != nil {
		// Infrastructure failure: no result row, the call stays pending.
		// Domain failures come back as outcomes, not errors.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return NewCanceledError(call.Token, call.Target, err)
		}
		return fmt.Errorf("invoke %s: %w", call.Target, err)
	}

	// Stamp result identity. Decorators return outcome and output; the
	// engine owns sequence numbers and content-addressed IDs.
	if res.Output == nil {
		res.Output = ir.Object{}
	}
	if res.Meta.Origin == "" {
		res.Meta = ir.Meta{
			Origin:   "engine",
			Operator: call.Meta.Operator,
			Labels:   call.Meta.Labels,
		}
	}
	res.CallID = call.ID
	res.Seq = e.clock.Next()
	res.ID, err = ir.ResultID(call.ID, res.Outcome, res.Output, res.Seq)
	if err != nil {
		return fmt.Errorf("compute result ID: %w", err)
	}

	var firing *ir.ChainFiring
	if rule != nil {
		firing = &ir.ChainFiring{
			ResultID:  res.ID,
			ChainID:   rule.ID,
			ChainHash: chainHash,
			Seq:       e.clock.Next(),
		}
	}

	// ATOMIC: result + firing + provenance in a single transaction, with
	// the call re-asserted. Either the whole dispatch is journaled or
	// none of it is.
	inserted, err := e.store.WriteDispatch(ctx, *call, res, firing)
	if err != nil {
		return NewStoreError(call.Token, fmt.Errorf("write dispatch %s: %w", call.ID, err))
	}

	if !inserted {
		e.logger.Debug("dispatch already journaled, skipping (idempotent)",
			"call_id", call.ID,
			"result_id", res.ID,
		)
		return nil
	}

	// Record AFTER the successful write so a replayed dispatch that the
	// store absorbed does not poison the guard.
	if rule != nil {
		e.reentry.Record(bucket, rule.ID, chainHash)
	}

	e.logger.Info("dispatch journaled",
		"call_id", call.ID,
		"result_id", res.ID,
		"target", call.Target,
		"outcome", res.Outcome,
		"token", call.Token,
		"seq", res.Seq,
	)

	return nil
}

// resolveChain finds the chain rule bound to the call's target and builds
// its decorator stack. Returns (nil, nil, nil) for a bare dispatch: a
// target no chain decorates runs undecorated and journals no firing.
//
// The first matching rule in declaration order wins; RegisterManifest
// guarantees there is at most one.
func (e *Engine) resolveChain(call *ir.Call) (*ir.ChainRule, []wrap.Decorator, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var rule *ir.ChainRule
	for i := range e.chains {
		if e.chains[i].Target == call.Target {
			rule = &e.chains[i]
			break
		}
	}
	if rule == nil {
		return nil, nil, nil
	}

	names, err := flattenChain(rule, e.chainByID, make(map[string]bool))
	if err != nil {
		return nil, nil, err
	}

	decorators := make([]wrap.Decorator, 0, len(names))
	for _, name := range names {
		d, ok := e.built[name]
		if !ok {
			return nil, nil, NewUnknownChainError(call.Token, rule.ID, name)
		}
		decorators = append(decorators, d)
	}

	return rule, decorators, nil
}

// flattenChain expands a chain rule's use references into a flat,
// ordered decorator name list. Used chains splice in before the rule's
// own decorators, so a rule that uses another reads like a decorator
// stacked above it.
func flattenChain(rule *ir.ChainRule, byID map[string]*ir.ChainRule, visited map[string]bool) ([]string, error) {
	if visited[rule.ID] {
		return nil, fmt.Errorf("chain %s: use cycle detected", rule.ID)
	}
	visited[rule.ID] = true

	var names []string
	for _, useID := range rule.Use {
		used, ok := byID[useID]
		if !ok {
			return nil, fmt.Errorf("chain %s: use references unknown chain %q", rule.ID, useID)
		}
		sub, err := flattenChain(used, byID, visited)
		if err != nil {
			return nil, err
		}
		names = append(names, sub...)
	}

	return append(names, rule.Decorators...), nil
}

// buildDecorator constructs the runtime decorator for a declared spec.
// Built once per RegisterManifest and cached by name, so stateful kinds
// keep their state across dispatches: every chain using a throttle
// decorator shares that decorator's limiter.
func (e *Engine) buildDecorator(spec ir.DecoratorSpec) (wrap.Decorator, error) {
	switch spec.Kind {
	case "log":
		return wrap.Log(e.logger), nil

	case "trace":
		return wrap.Trace(e.logger), nil

	case "tag":
		label, ok := spec.Params["label"].(ir.String)
		if !ok || label == "" {
			return nil, fmt.Errorf("tag decorator requires a non-empty string label param")
		}
		return wrap.Tag(e.logger, string(label)), nil

	case "stub":
		outcome := ""
		if s, ok := spec.Params["outcome"].(ir.String); ok {
			outcome = string(s)
		}
		var canned ir.Object
		if o, ok := spec.Params["result"].(ir.Object); ok {
			canned = o
		}
		return wrap.Stub(e.logger, outcome, canned), nil

	case "throttle":
		rps, ok := spec.Params["rps"].(ir.Int)
		if !ok || rps <= 0 {
			return nil, fmt.Errorf("throttle decorator requires a positive int rps param")
		}
		var burst ir.Int
		if b, ok := spec.Params["burst"].(ir.Int); ok {
			burst = b
		}
		return wrap.Throttle(wrap.NewLimiter(int64(rps), int64(burst))), nil

	case "count":
		if e.stats == nil {
			return nil, fmt.Errorf("count decorator requires a stats sink (engine.WithStats)")
		}
		return wrap.Count(e.logger, e.stats), nil

	case "time":
		return wrap.Time(e.logger), nil

	default:
		return nil, fmt.Errorf("unknown decorator kind %q", spec.Kind)
	}
}

// baseInvoker adapts a registered target into the innermost Invoker of a
// chain. Identity fields stay zero; the engine stamps them after the
// chain returns.
func baseInvoker(target Target) wrap.Invoker {
	return func(ctx context.Context, call ir.Call) (ir.Result, error) {
		outcome, output, err := target.Invoke(ctx, call.Args)
		if err != nil {
			return ir.Result{}, err
		}
		if output == nil {
			output = ir.Object{}
		}
		return ir.Result{
			Outcome: outcome,
			Output:  output,
		}, nil
	}
}
