package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/garland/internal/ir"
)

// capturedLogger returns a debug-level logger writing slog text lines into
// buf, so tests can assert on what decorators emitted.
func capturedLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// stampCall assigns seq and content-addressed ID the way Submit does,
// for tests that drive processDispatch directly.
func stampCall(e *Engine, token, target string, args ir.Object) ir.Call {
	if args == nil {
		args = ir.Object{}
	}
	seq := e.clock.Next()
	return ir.Call{
		ID:            ir.MustCallID(token, target, args, seq),
		Token:         token,
		Target:        target,
		Args:          args,
		Seq:           seq,
		Meta:          ir.Meta{Origin: "cli"},
		ManifestHash:  e.ManifestHash(),
		EngineVersion: ir.EngineVersion,
		IRVersion:     ir.IRVersion,
	}
}

// recordingCounter is a test stats sink.
type recordingCounter struct {
	incrs []string
}

func (c *recordingCounter) Incr(ctx context.Context, target string) error {
	c.incrs = append(c.incrs, target)
	return nil
}

func TestDispatch_DecoratedCall_JournalsFiringAndProvenance(t *testing.T) {
	e := setupTestEngine(t)
	require.NoError(t, e.RegisterManifest(
		[]ir.DecoratorSpec{{Name: "log-all", Kind: "log"}},
		[]ir.ChainRule{{ID: "chain-greet", Target: "greet", Decorators: []string{"log-all"}}},
		"hash-1",
	))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errCh := startEngine(ctx, e)

	call, err := e.Submit(ir.Call{
		Token:  "tok-1",
		Target: "greet",
		Args:   ir.Object{"who": ir.String("world")},
		Meta:   ir.Meta{Origin: "cli"},
	})
	require.NoError(t, err)
	require.NoError(t, e.Drain(ctx))
	stopEngine(t, e, errCh)

	calls, results, err := e.store.ReadTrace(ctx, "tok-1")
	require.NoError(t, err)
	require.Len(t, calls, 1)
	require.Len(t, results, 1)
	assert.Equal(t, "Ok", results[0].Outcome)

	firings, err := e.store.ReadChainFiringsForResult(ctx, results[0].ID)
	require.NoError(t, err)
	require.Len(t, firings, 1)
	assert.Equal(t, "chain-greet", firings[0].ChainID)
	assert.Equal(t, ir.MustChainHash(call.Args), firings[0].ChainHash)
	assert.Greater(t, firings[0].Seq, results[0].Seq, "firing is stamped after its result")

	edges, err := e.store.ReadProvenance(ctx, call.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, firings[0].ID, edges[0].ChainFiringID)

	// The guard remembers the firing for this trace.
	assert.True(t, e.reentry.WouldReenter("tok-1", "chain-greet", firings[0].ChainHash))
}

func TestDispatch_LogDecorator_EmitsCallingLine(t *testing.T) {
	var buf bytes.Buffer
	e := setupTestEngine(t, WithLogger(capturedLogger(&buf)))
	require.NoError(t, e.RegisterManifest(
		[]ir.DecoratorSpec{{Name: "log-all", Kind: "log"}},
		[]ir.ChainRule{{ID: "chain-greet", Target: "greet", Decorators: []string{"log-all"}}},
		"hash-1",
	))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errCh := startEngine(ctx, e)

	_, err := e.Submit(ir.Call{
		Token:  "tok-1",
		Target: "greet",
		Args:   ir.Object{"who": ir.String("world")},
		Meta:   ir.Meta{Origin: "cli"},
	})
	require.NoError(t, err)
	require.NoError(t, e.Drain(ctx))
	stopEngine(t, e, errCh)

	logged := buf.String()
	assert.Contains(t, logged, `msg="calling greet"`)
	assert.Contains(t, logged, `args="{\"who\":\"world\"}"`)
}

func TestDispatch_UseChains_SpliceBeforeOwnDecorators(t *testing.T) {
	var buf bytes.Buffer
	e := setupTestEngine(t, WithLogger(capturedLogger(&buf)))
	require.NoError(t, e.RegisterManifest(
		[]ir.DecoratorSpec{
			{Name: "tag-baz", Kind: "tag", Params: ir.Object{"label": ir.String("baz")}},
			{Name: "tag-nested", Kind: "tag", Params: ir.Object{"label": ir.String("nested")}},
		},
		[]ir.ChainRule{
			{ID: "chain-base", Target: "Foo", Decorators: []string{"tag-baz"}},
			{ID: "chain-greet", Target: "greet", Use: []string{"chain-base"}, Decorators: []string{"tag-nested"}},
		},
		"hash-1",
	))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errCh := startEngine(ctx, e)

	_, err := e.Submit(ir.Call{Token: "tok-1", Target: "greet", Meta: ir.Meta{Origin: "cli"}})
	require.NoError(t, err)
	require.NoError(t, e.Drain(ctx))
	stopEngine(t, e, errCh)

	logged := buf.String()
	bazAt := strings.Index(logged, `msg="calling baz"`)
	nestedAt := strings.Index(logged, `msg="calling nested"`)
	require.GreaterOrEqual(t, bazAt, 0, "used chain's tag should fire")
	require.GreaterOrEqual(t, nestedAt, 0, "own tag should fire")
	assert.Less(t, bazAt, nestedAt, "used chain splices in above the rule's own decorators")
}

func TestDispatch_StubShortCircuits_TargetNeverRuns(t *testing.T) {
	var buf bytes.Buffer
	s := setupTestStore(t)
	reg := NewRegistry()
	invoked := 0
	require.NoError(t, reg.Register(NewTargetFunc("shout", "", func(ctx context.Context, args ir.Object) (string, ir.Object, error) {
		invoked++
		return "Ok", ir.Object{}, nil
	})))

	e := New(s, reg, NewFixedGenerator("tok-1"), WithLogger(capturedLogger(&buf)))
	require.NoError(t, e.RegisterManifest(
		[]ir.DecoratorSpec{{
			Name: "stub-shout",
			Kind: "stub",
			Params: ir.Object{
				"outcome": ir.String("Stubbed"),
				"result":  ir.Object{"note": ir.String("dry run")},
			},
		}},
		[]ir.ChainRule{{ID: "chain-shout", Target: "shout", Decorators: []string{"stub-shout"}}},
		"hash-1",
	))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errCh := startEngine(ctx, e)

	_, err := e.Submit(ir.Call{
		Token:  "tok-1",
		Target: "shout",
		Args:   ir.Object{"times": ir.Int(3)},
		Meta:   ir.Meta{Origin: "cli"},
	})
	require.NoError(t, err)
	require.NoError(t, e.Drain(ctx))
	stopEngine(t, e, errCh)

	assert.Equal(t, 0, invoked, "stubbed target must never run")
	assert.Contains(t, buf.String(), `msg="wrapped for shout"`)

	_, results, err := s.ReadTrace(ctx, "tok-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Stubbed", results[0].Outcome)
	assert.Equal(t, ir.Object{"note": ir.String("dry run")}, results[0].Output)
	// Stub preserves the call's meta instead of restamping it.
	assert.Equal(t, "cli", results[0].Meta.Origin)
}

func TestDispatch_StubWithoutParams_DefaultsOutcome(t *testing.T) {
	e := setupTestEngine(t)
	require.NoError(t, e.RegisterManifest(
		[]ir.DecoratorSpec{{Name: "stub-bare", Kind: "stub"}},
		[]ir.ChainRule{{ID: "chain-greet", Target: "greet", Decorators: []string{"stub-bare"}}},
		"hash-1",
	))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errCh := startEngine(ctx, e)

	_, err := e.Submit(ir.Call{Token: "tok-1", Target: "greet", Meta: ir.Meta{Origin: "cli"}})
	require.NoError(t, err)
	require.NoError(t, e.Drain(ctx))
	stopEngine(t, e, errCh)

	_, results, err := e.store.ReadTrace(ctx, "tok-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Stubbed", results[0].Outcome)
	assert.Empty(t, results[0].Output)
}

func TestDispatch_CountDecorator_IncrementsSink(t *testing.T) {
	sink := &recordingCounter{}
	e := setupTestEngine(t, WithStats(sink))
	require.NoError(t, e.RegisterManifest(
		[]ir.DecoratorSpec{{Name: "tally", Kind: "count"}},
		[]ir.ChainRule{{ID: "chain-greet", Target: "greet", Decorators: []string{"tally"}}},
		"hash-1",
	))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errCh := startEngine(ctx, e)

	for i := 0; i < 2; i++ {
		_, err := e.Submit(ir.Call{
			Token:  "tok-1",
			Target: "greet",
			Args:   ir.Object{"who": ir.String(fmt.Sprintf("visitor-%d", i))},
			Meta:   ir.Meta{Origin: "cli"},
		})
		require.NoError(t, err)
	}
	require.NoError(t, e.Drain(ctx))
	stopEngine(t, e, errCh)

	assert.Equal(t, []string{"greet", "greet"}, sink.incrs)
}

func TestDispatch_UnknownTarget_LeavesCallPending(t *testing.T) {
	e := setupTestEngine(t)
	ctx := context.Background()

	call := stampCall(e, "tok-1", "vanished", ir.Object{})
	err := e.processDispatch(ctx, &call)
	require.Error(t, err)
	assert.True(t, IsUnknownTargetError(err))

	// The attempt is journaled: a pending call with no result.
	state, err := e.store.GetTraceState(ctx, "tok-1")
	require.NoError(t, err)
	assert.Len(t, state.Calls, 1)
	assert.Empty(t, state.Results)
	assert.Equal(t, 1, state.PendingCount)
	assert.False(t, state.IsComplete)
}

func TestDispatch_TargetError_NoResultRow(t *testing.T) {
	s := setupTestStore(t)
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewTargetFunc("flaky", "", func(ctx context.Context, args ir.Object) (string, ir.Object, error) {
		return "", nil, errors.New("downstream unavailable")
	})))
	e := New(s, reg, NewFixedGenerator("tok-1"))
	ctx := context.Background()

	call := stampCall(e, "tok-1", "flaky", ir.Object{})
	err := e.processDispatch(ctx, &call)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "downstream unavailable")

	calls, results, err := s.ReadTrace(ctx, "tok-1")
	require.NoError(t, err)
	assert.Len(t, calls, 1)
	assert.Empty(t, results, "infrastructure failure journals no result")
}

func TestDispatch_CanceledTarget_MapsToCanceledError(t *testing.T) {
	s := setupTestStore(t)
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewTargetFunc("slow", "", func(ctx context.Context, args ir.Object) (string, ir.Object, error) {
		return "", nil, context.Canceled
	})))
	e := New(s, reg, NewFixedGenerator("tok-1"))

	call := stampCall(e, "tok-1", "slow", ir.Object{})
	err := e.processDispatch(context.Background(), &call)
	require.Error(t, err)

	var re *RuntimeError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ErrCodeCanceled, re.Code)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDispatch_QuotaExceeded_StopsTrace(t *testing.T) {
	e := setupTestEngine(t, WithMaxSteps(2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		call := stampCall(e, "tok-1", "greet", ir.Object{"who": ir.String(fmt.Sprintf("n-%d", i))})
		require.NoError(t, e.processDispatch(ctx, &call))
	}

	call := stampCall(e, "tok-1", "greet", ir.Object{"who": ir.String("n-2")})
	err := e.processDispatch(ctx, &call)
	require.Error(t, err)
	assert.True(t, IsQuotaError(err))

	// The rejected call is journaled pending; only two results exist.
	calls, results, err := e.store.ReadTrace(ctx, "tok-1")
	require.NoError(t, err)
	assert.Len(t, calls, 3)
	assert.Len(t, results, 2)
}

func TestDispatch_QuotaIsPerToken(t *testing.T) {
	e := setupTestEngine(t, WithMaxSteps(1))
	ctx := context.Background()

	call1 := stampCall(e, "tok-1", "greet", ir.Object{})
	require.NoError(t, e.processDispatch(ctx, &call1))

	// A different trace has its own budget.
	call2 := stampCall(e, "tok-2", "greet", ir.Object{})
	require.NoError(t, e.processDispatch(ctx, &call2))

	assert.Equal(t, 2, e.QuotaCount())
}

func decoratedEngine(t *testing.T, scope ir.ScopeSpec) *Engine {
	t.Helper()
	e := setupTestEngine(t)
	require.NoError(t, e.RegisterManifest(
		[]ir.DecoratorSpec{{Name: "log-all", Kind: "log"}},
		[]ir.ChainRule{{ID: "chain-greet", Target: "greet", Scope: scope, Decorators: []string{"log-all"}}},
		"hash-1",
	))
	return e
}

func TestDispatch_Reentry_SameArgsRejected(t *testing.T) {
	e := decoratedEngine(t, ir.ScopeSpec{})
	ctx := context.Background()
	args := ir.Object{"who": ir.String("world")}

	first := stampCall(e, "tok-1", "greet", args)
	require.NoError(t, e.processDispatch(ctx, &first))

	second := stampCall(e, "tok-1", "greet", args)
	err := e.processDispatch(ctx, &second)
	require.Error(t, err)
	assert.True(t, IsReentryError(err))

	calls, results, err := e.store.ReadTrace(ctx, "tok-1")
	require.NoError(t, err)
	assert.Len(t, calls, 2, "the rejected attempt is still journaled")
	assert.Len(t, results, 1, "the chain fired exactly once")
}

func TestDispatch_Reentry_DifferentArgsAllowed(t *testing.T) {
	e := decoratedEngine(t, ir.ScopeSpec{})
	ctx := context.Background()

	first := stampCall(e, "tok-1", "greet", ir.Object{"who": ir.String("ada")})
	require.NoError(t, e.processDispatch(ctx, &first))

	second := stampCall(e, "tok-1", "greet", ir.Object{"who": ir.String("grace")})
	require.NoError(t, e.processDispatch(ctx, &second))

	_, results, err := e.store.ReadTrace(ctx, "tok-1")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestDispatch_Reentry_TokenScopeIsolatesTraces(t *testing.T) {
	e := decoratedEngine(t, ir.ScopeSpec{Mode: "token"})
	ctx := context.Background()
	args := ir.Object{"who": ir.String("world")}

	first := stampCall(e, "tok-1", "greet", args)
	require.NoError(t, e.processDispatch(ctx, &first))

	// Same args under a different token fire fine.
	second := stampCall(e, "tok-2", "greet", args)
	require.NoError(t, e.processDispatch(ctx, &second))
}

func TestDispatch_Reentry_GlobalScopeSpansTraces(t *testing.T) {
	e := decoratedEngine(t, ir.ScopeSpec{Mode: "global"})
	ctx := context.Background()
	args := ir.Object{"who": ir.String("world")}

	first := stampCall(e, "tok-1", "greet", args)
	require.NoError(t, e.processDispatch(ctx, &first))

	second := stampCall(e, "tok-2", "greet", args)
	err := e.processDispatch(ctx, &second)
	require.Error(t, err)
	assert.True(t, IsReentryError(err))
}

func TestDispatch_Reentry_KeyedScopeBucketsByArg(t *testing.T) {
	e := decoratedEngine(t, ir.ScopeSpec{Mode: "keyed", Key: "who"})
	ctx := context.Background()

	first := stampCall(e, "tok-1", "greet", ir.Object{"who": ir.String("ada")})
	require.NoError(t, e.processDispatch(ctx, &first))

	// Same key value under another token is a repeat.
	repeat := stampCall(e, "tok-2", "greet", ir.Object{"who": ir.String("ada")})
	err := e.processDispatch(ctx, &repeat)
	require.Error(t, err)
	assert.True(t, IsReentryError(err))

	// A different key value fires.
	other := stampCall(e, "tok-3", "greet", ir.Object{"who": ir.String("grace")})
	require.NoError(t, e.processDispatch(ctx, &other))
}

func TestDispatch_Replay_FreshEngineAbsorbedByStore(t *testing.T) {
	s := setupTestStore(t)
	reg := NewRegistry()
	require.NoError(t, RegisterDemoTargets(reg))
	decorators := []ir.DecoratorSpec{{Name: "log-all", Kind: "log"}}
	chains := []ir.ChainRule{{ID: "chain-greet", Target: "greet", Decorators: []string{"log-all"}}}
	ctx := context.Background()

	first := New(s, reg, NewFixedGenerator("tok-1"))
	require.NoError(t, first.RegisterManifest(decorators, chains, "hash-1"))
	call := stampCall(first, "tok-1", "greet", ir.Object{"who": ir.String("world")})
	require.NoError(t, first.processDispatch(ctx, &call))

	// A restarted engine has an empty guard; redispatching the identical
	// call runs the chain again but the journal absorbs the duplicate.
	second := New(s, reg, NewFixedGenerator("tok-1"))
	require.NoError(t, second.RegisterManifest(decorators, chains, "hash-1"))
	require.NoError(t, second.processDispatch(ctx, &call))

	calls, results, err := s.ReadTrace(ctx, "tok-1")
	require.NoError(t, err)
	assert.Len(t, calls, 1)
	assert.Len(t, results, 1)

	firings, err := s.ReadAllChainFirings(ctx)
	require.NoError(t, err)
	assert.Len(t, firings, 1, "replayed firing is not journaled twice")
}
