package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/garland/internal/ir"
	"github.com/roach88/garland/internal/store"
	"github.com/roach88/garland/internal/wrap"
)

// THREADING MODEL:
//   - Run(): single-writer loop, owns all journal writes
//   - Submit()/SubmitReload(): safe from any goroutine (enqueue only)
//   - NewToken(): safe from any goroutine (delegates to thread-safe generator)
//
// INVARIANTS:
//   - chains slice order NEVER changes after registration
//   - Chain IDs within a manifest are unique; at most one chain per target
//   - Dispatch is single-threaded for determinism

// DefaultMaxSteps is the default maximum number of dispatches per trace.
// This prevents runaway traces from consuming unbounded resources.
const DefaultMaxSteps = 1000

// Engine dispatches submitted calls through their declared decorator
// chains and journals everything to the store.
type Engine struct {
	store    *store.Store
	registry *Registry
	clock    *Clock
	queue    *eventQueue
	tokens   TokenGenerator
	logger   *slog.Logger
	stats    wrap.Counter // sink for count decorators; may be nil

	// Manifest state, swapped wholesale by RegisterManifest. The lock
	// exists because Submit reads the manifest hash from arbitrary
	// goroutines while a reload event may swap the tables in the loop.
	mu           sync.RWMutex
	decorators   map[string]ir.DecoratorSpec
	built        map[string]wrap.Decorator
	chains       []ir.ChainRule // Chain rules in declaration order
	chainByID    map[string]*ir.ChainRule
	manifestHash string

	// Quota enforcement
	maxSteps int                       // Maximum dispatches per trace (default: 1000)
	quotas   map[string]*QuotaEnforcer // Per-token quota trackers

	reentry *ReentryGuard

	// pending counts submitted events not yet processed; Drain waits on it.
	pending sync.WaitGroup
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithMaxSteps sets the maximum dispatches quota per trace token.
//
// Default: 1000 steps (DefaultMaxSteps)
// Use WithMaxSteps(10) for testing quota enforcement.
func WithMaxSteps(maxSteps int) EngineOption {
	return func(e *Engine) {
		e.maxSteps = maxSteps
	}
}

// WithLogger sets the logger used by the engine and by the decorators it
// builds. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithStats sets the sink that count decorators increment.
// Without a sink, registering a manifest that declares a count decorator
// fails.
func WithStats(sink wrap.Counter) EngineOption {
	return func(e *Engine) {
		e.stats = sink
	}
}

// WithClock sets a pre-configured clock. Used when reopening a journal to
// resume from its highest persisted sequence number.
func WithClock(clock *Clock) EngineOption {
	return func(e *Engine) {
		e.clock = clock
	}
}

// New creates an Engine with the given store, target registry, and token
// generator. Chains arrive separately via RegisterManifest, which is also
// the path reload events take.
//
// Options can be passed to configure the engine (e.g., WithMaxSteps).
func New(s *store.Store, reg *Registry, tokens TokenGenerator, opts ...EngineOption) *Engine {
	e := &Engine{
		store:      s,
		registry:   reg,
		clock:      NewClock(),
		queue:      newEventQueue(),
		tokens:     tokens,
		logger:     slog.Default(),
		decorators: make(map[string]ir.DecoratorSpec),
		built:      make(map[string]wrap.Decorator),
		chainByID:  make(map[string]*ir.ChainRule),
		maxSteps:   DefaultMaxSteps,
		quotas:     make(map[string]*QuotaEnforcer),
		reentry:    NewReentryGuard(),
	}

	// Apply options
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// RegisterManifest installs a compiled manifest: the decorator table and
// the chain rules in declaration order.
//
// This function validates:
//   - Decorator names are unique and every kind is buildable
//   - Chain IDs are unique
//   - At most one chain per target
//   - Scope modes are valid
//   - Decorator and use references resolve, with no use cycles
//
// The chains slice is copied to prevent external mutation from breaking
// the declaration order invariant.
//
// Call it before Run, or let a reload event invoke it from the loop.
// Passing empty slices is valid and clears any previously registered
// manifest.
func (e *Engine) RegisterManifest(decorators []ir.DecoratorSpec, chains []ir.ChainRule, manifestHash string) error {
	decoMap := make(map[string]ir.DecoratorSpec, len(decorators))
	built := make(map[string]wrap.Decorator, len(decorators))
	for _, d := range decorators {
		if _, dup := decoMap[d.Name]; dup {
			return fmt.Errorf("duplicate decorator name: %s", d.Name)
		}
		dec, err := e.buildDecorator(d)
		if err != nil {
			return fmt.Errorf("decorator %s: %w", d.Name, err)
		}
		decoMap[d.Name] = d
		built[d.Name] = dec
	}

	chainsCopy := make([]ir.ChainRule, len(chains))
	copy(chainsCopy, chains)

	byID := make(map[string]*ir.ChainRule, len(chainsCopy))
	seenTarget := make(map[string]string, len(chainsCopy))
	for i := range chainsCopy {
		c := &chainsCopy[i]
		if _, dup := byID[c.ID]; dup {
			return fmt.Errorf("duplicate chain ID: %s", c.ID)
		}
		if prev, dup := seenTarget[c.Target]; dup {
			return fmt.Errorf("target %s bound by both chain %s and chain %s", c.Target, prev, c.ID)
		}
		if err := ValidateScopeMode(c.Scope.Mode); err != nil {
			return fmt.Errorf("chain %s: %w", c.ID, err)
		}
		byID[c.ID] = c
		seenTarget[c.Target] = c.ID
	}

	// Resolve references now so dispatch never trips over a dangling name.
	for i := range chainsCopy {
		c := &chainsCopy[i]
		for _, name := range c.Decorators {
			if _, ok := decoMap[name]; !ok {
				return fmt.Errorf("chain %s references unknown decorator %q", c.ID, name)
			}
		}
		if _, err := flattenChain(c, byID, make(map[string]bool)); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.decorators = decoMap
	e.built = built
	e.chains = chainsCopy
	e.chainByID = byID
	e.manifestHash = manifestHash

	return nil
}

// Submit stamps a call with its sequence number and content-addressed ID,
// then enqueues it for dispatch. Thread-safe: may be called from any
// goroutine.
//
// The caller provides Token, Target, Args, and Meta; everything else is
// assigned here. The stamped call is returned so the caller can correlate
// the journal entries it produces.
func (e *Engine) Submit(call ir.Call) (ir.Call, error) {
	if call.Token == "" {
		return ir.Call{}, fmt.Errorf("call token is required")
	}
	if call.Target == "" {
		return ir.Call{}, fmt.Errorf("call target is required")
	}
	if call.Args == nil {
		call.Args = ir.Object{}
	}

	call.Seq = e.clock.Next()
	id, err := ir.CallID(call.Token, call.Target, call.Args, call.Seq)
	if err != nil {
		return ir.Call{}, fmt.Errorf("compute call ID: %w", err)
	}
	call.ID = id
	if call.ManifestHash == "" {
		call.ManifestHash = e.ManifestHash()
	}
	call.EngineVersion = ir.EngineVersion
	call.IRVersion = ir.IRVersion

	e.pending.Add(1)
	if !e.queue.Enqueue(Event{Type: EventTypeDispatch, Call: &call}) {
		e.pending.Done()
		return ir.Call{}, fmt.Errorf("engine stopped: cannot submit call")
	}

	return call, nil
}

// SubmitReload enqueues a recompiled manifest for the loop to swap in.
// Thread-safe: may be called from any goroutine.
func (e *Engine) SubmitReload(payload ReloadPayload) error {
	e.pending.Add(1)
	if !e.queue.Enqueue(Event{Type: EventTypeReload, Reload: &payload}) {
		e.pending.Done()
		return fmt.Errorf("engine stopped: cannot submit reload")
	}
	return nil
}

// NewToken generates a new trace token for an external request.
// Thread-safe: may be called from any goroutine.
//
// Each external request (CLI invocation, harness step) should call
// NewToken() once to get a correlation token. All calls and results
// within that request inherit the same token.
func (e *Engine) NewToken() string {
	return e.tokens.Generate()
}

// Run starts the single-writer event loop.
// Blocks until context is cancelled or Stop() is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
// All event processing, journal writes, and chain resolution happen in
// this goroutine for deterministic behavior.
//
// ERROR HANDLING: On event processing failure, the error is logged with
// full event context and processing continues. Retries would make replay
// non-deterministic, so there are none; the journal shows a pending call
// for every failed dispatch.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		// Try non-blocking dequeue first
		event, ok := e.queue.TryDequeue()
		if ok {
			if err := e.processEvent(ctx, event); err != nil {
				e.logEventError(event, err)
			}
			e.pending.Done()
			continue
		}

		// No event ready - wait for signal or context cancellation
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// Signal received - loop back to TryDequeue
			// The signal channel closes when the queue is closed,
			// which will cause this case to fire immediately
			if e.queue.Len() == 0 {
				// Queue closed and empty
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the engine.
// Closes the event queue; Run() returns once queued events are processed.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Drain blocks until every submitted event has been processed or the
// context is cancelled. Call it after the final Submit; submissions that
// race with Drain have no place in the wait.
func (e *Engine) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.pending.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// processEvent routes an event to the appropriate handler.
// CRITICAL: Called only from Run() goroutine - single-writer guarantee.
func (e *Engine) processEvent(ctx context.Context, event Event) error {
	switch event.Type {
	case EventTypeDispatch:
		if event.Call == nil {
			return fmt.Errorf("dispatch event missing call data")
		}
		return e.processDispatch(ctx, event.Call)

	case EventTypeReload:
		if event.Reload == nil {
			return fmt.Errorf("reload event missing payload")
		}
		return e.processReload(event.Reload)

	default:
		return fmt.Errorf("unknown event type: %d", event.Type)
	}
}

// processReload swaps in a recompiled manifest.
// CRITICAL: Called only from Run() goroutine - single-writer guarantee,
// so no dispatch ever observes a half-updated chain table.
func (e *Engine) processReload(payload *ReloadPayload) error {
	if err := e.RegisterManifest(payload.Decorators, payload.Chains, payload.ManifestHash); err != nil {
		return fmt.Errorf("reload manifest: %w", err)
	}

	e.logger.Info("manifest reloaded",
		"decorators", len(payload.Decorators),
		"chains", len(payload.Chains),
		"manifest_hash", payload.ManifestHash,
	)

	return nil
}

// Chains returns the registered chain rules in declaration order.
// Used for testing and introspection.
func (e *Engine) Chains() []ir.ChainRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.chains
}

// ManifestHash returns the hash of the currently registered manifest.
func (e *Engine) ManifestHash() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.manifestHash
}

// Clock returns the engine's logical clock.
// Used by external code to inspect the current sequence number.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// QueueLen returns the current number of pending events.
// Useful for monitoring and testing.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// MaxSteps returns the configured maximum dispatches per trace.
// Used for testing and diagnostics.
func (e *Engine) MaxSteps() int {
	return e.maxSteps
}

// QuotaFor returns or creates the quota enforcer for a specific trace.
// Creates a new enforcer if one doesn't exist.
// Used for testing and diagnostics.
func (e *Engine) QuotaFor(token string) *QuotaEnforcer {
	if q, ok := e.quotas[token]; ok {
		return q
	}
	q := NewQuotaEnforcer(e.maxSteps)
	e.quotas[token] = q
	return q
}

// QuotaCount returns the number of active quota enforcers.
// Used for testing to verify cleanup.
func (e *Engine) QuotaCount() int {
	return len(e.quotas)
}

// ReentryGuardForTesting returns the reentry guard for testing purposes.
// Not intended for production use.
func (e *Engine) ReentryGuardForTesting() *ReentryGuard {
	return e.reentry
}

// CleanupToken removes the quota enforcer and reentry history for a
// finished trace. Should be called when a trace reaches terminal state to
// prevent memory leaks.
func (e *Engine) CleanupToken(token string) {
	delete(e.quotas, token)
	e.reentry.Clear(token)
}

// logEventError logs an event processing failure with full context.
// This enables manual investigation of failed dispatches.
func (e *Engine) logEventError(event Event, err error) {
	switch event.Type {
	case EventTypeDispatch:
		if event.Call != nil {
			e.logger.Error("dispatch processing failed",
				"error", err,
				"call_id", event.Call.ID,
				"token", event.Call.Token,
				"target", event.Call.Target,
				"seq", event.Call.Seq,
			)
			return
		}
	case EventTypeReload:
		e.logger.Error("reload processing failed", "error", err)
		return
	}
	e.logger.Error("event processing failed",
		"error", err,
		"event_type", int(event.Type),
	)
}
