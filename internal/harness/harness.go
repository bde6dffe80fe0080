package harness

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/garland/internal/engine"
	"github.com/roach88/garland/internal/ir"
	"github.com/roach88/garland/internal/stats"
	"github.com/roach88/garland/internal/store"
	"github.com/roach88/garland/internal/testutil"
)

// Run executes a scenario against a fresh engine and returns what the
// journal recorded.
//
// Each run is isolated: an in-memory journal, a registry seeded with
// the built-in demo targets, an in-memory counter sink, and a logical
// clock starting at zero. The scenario's manifests compile and install
// before the first step. Every step submits through the engine and
// drains before the next, so calls and results interleave at stable
// sequence numbers and two runs of one scenario journal identically.
//
// Run returns an error only for infrastructure failures (unreadable
// manifests, a step that cannot be submitted). Expectation and
// assertion failures land in the result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer st.Close()

	manifest, err := loadManifestFiles(scenario.Manifests)
	if err != nil {
		return nil, err
	}

	reg, err := buildRegistry(manifest)
	if err != nil {
		return nil, err
	}

	sink := stats.NewMemoryStore()
	logs := &logCapture{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: dropTimeAttr,
	}))

	tokens := testutil.NewFixedTokenGenerator(scenario.Token)
	token := tokens.Generate()

	eng := engine.New(st, reg, tokens,
		engine.WithLogger(logger),
		engine.WithStats(sink),
	)
	if err := eng.RegisterManifest(manifest.Decorators, manifest.Chains, manifest.Hash); err != nil {
		return nil, fmt.Errorf("install manifest: %w", err)
	}

	result := NewResult()

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	stepErr := executeSteps(ctx, eng, st, token, scenario.Steps, result)
	eng.Stop()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("engine run: %w", err)
	}
	if stepErr != nil {
		return nil, stepErr
	}

	calls, results, err := st.ReadTrace(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	result.Trace = buildTrace(calls, results)

	counters, err := sink.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("read counters: %w", err)
	}
	result.Stats = counters
	result.Log = logs.Lines()

	actx := &AssertionContext{Ctx: ctx, Store: st, Token: token}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError("%s", msg)
	}

	return result, nil
}

// buildRegistry seeds a registry with the demo targets and backs every
// name the manifest mentions but nothing registers with a probe. A
// scenario can then exercise manifests whose real functions exist only
// in the embedding application.
func buildRegistry(manifest *compiledManifest) (*engine.Registry, error) {
	reg := engine.NewRegistry()
	if err := engine.RegisterDemoTargets(reg); err != nil {
		return nil, fmt.Errorf("register demo targets: %w", err)
	}

	for _, spec := range manifest.Targets {
		if _, ok := reg.Lookup(spec.Name); ok {
			continue
		}
		if err := reg.Register(engine.NewProbeTarget(spec.Name)); err != nil {
			return nil, fmt.Errorf("back declared target %s: %w", spec.Name, err)
		}
	}

	if err := engine.EnsureChainTargets(reg, manifest.Chains); err != nil {
		return nil, fmt.Errorf("back chain targets: %w", err)
	}

	return reg, nil
}

// executeSteps submits each step in order, draining between steps so
// every result is journaled before its expect clause is checked.
func executeSteps(ctx context.Context, eng *engine.Engine, st *store.Store, token string, steps []Step, result *Result) error {
	for i, step := range steps {
		args, err := ir.FromInterfaceMap(step.Args)
		if err != nil {
			return fmt.Errorf("steps[%d]: args: %w", i, err)
		}

		call, err := eng.Submit(ir.Call{
			Token:  token,
			Target: step.Invoke,
			Args:   args,
			Meta:   ir.Meta{Origin: "harness"},
		})
		if err != nil {
			return fmt.Errorf("steps[%d]: submit %s: %w", i, step.Invoke, err)
		}
		if err := eng.Drain(ctx); err != nil {
			return fmt.Errorf("steps[%d]: drain: %w", i, err)
		}

		// A dispatch the engine could not complete leaves the call
		// pending in the journal. That is a scenario failure, not an
		// infrastructure error; the engine log says why.
		res, err := st.ReadResultForCall(ctx, call.ID)
		if errors.Is(err, sql.ErrNoRows) {
			result.AddError("steps[%d]: %s journaled no result", i, step.Invoke)
			continue
		}
		if err != nil {
			return fmt.Errorf("steps[%d]: read result: %w", i, err)
		}

		checkExpect(result, i, &step, res)
	}
	return nil
}

// checkExpect compares a step's journaled result against its expect
// clause. Output comparison is a subset match over the named fields.
func checkExpect(result *Result, index int, step *Step, res ir.Result) {
	if step.Expect == nil {
		return
	}

	if res.Outcome != step.Expect.Outcome {
		result.AddError("steps[%d]: %s outcome is %q, expected %q",
			index, step.Invoke, res.Outcome, step.Expect.Outcome)
		return
	}

	if len(step.Expect.Output) == 0 {
		return
	}
	want, err := ir.FromInterfaceMap(step.Expect.Output)
	if err != nil {
		result.AddError("steps[%d]: expect.output: %v", index, err)
		return
	}

	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		got, ok := res.Output[k]
		if !ok {
			result.AddError("steps[%d]: %s output is missing field %q",
				index, step.Invoke, k)
			continue
		}
		if !reflect.DeepEqual(got, want[k]) {
			result.AddError("steps[%d]: %s output field %q is %v, expected %v",
				index, step.Invoke, k, got, want[k])
		}
	}
}

// buildTrace interleaves journaled calls and results by sequence
// number. Result events carry the target of the call they answer.
func buildTrace(calls []ir.Call, results []ir.Result) []TraceEvent {
	targets := make(map[string]string, len(calls))
	events := make([]TraceEvent, 0, len(calls)+len(results))

	for _, call := range calls {
		targets[call.ID] = call.Target
		events = append(events, TraceEvent{
			Type:   EventCall,
			Seq:    call.Seq,
			Target: call.Target,
			Args:   call.Args,
		})
	}
	for _, res := range results {
		events = append(events, TraceEvent{
			Type:    EventResult,
			Seq:     res.Seq,
			Target:  targets[res.CallID],
			Outcome: res.Outcome,
			Output:  res.Output,
		})
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	return events
}

// logCapture collects engine log output for log_contains assertions.
// The engine loop writes from its own goroutine, so access is locked.
type logCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// Lines returns the captured log split into lines.
func (c *logCapture) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw := strings.Split(c.buf.String(), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// dropTimeAttr removes timestamps so two runs of one scenario log
// identically.
func dropTimeAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}
