package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/garland/internal/engine"
	"github.com/roach88/garland/internal/ir"
)

// Fixed trace tokens for the two demo parts, so `garland trace` can read
// the demo journal back by name.
const (
	demoTokenPartOne = "demo-part-one"
	demoTokenPartTwo = "demo-part-two"
)

// demoPhase is one manifest swap plus the calls dispatched under it.
type demoPhase struct {
	name       string
	decorators []ir.DecoratorSpec
	chains     []ir.ChainRule
	calls      []ir.Call
}

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the built-in decoration demos",
		Long: `Run the two built-in demo programs end to end through the engine.

Part one decorates greet three ways in sequence: a plain log chain, a
tag("custom") chain, and a nested chain splicing tag("baz") under
tag("nested"). Part two traces shout, stubs the flaky target so its body
never runs, and asks the probe targets for their names.

Every dispatch is journaled under the tokens demo-part-one and
demo-part-two; point --db at a file to inspect them with trace
afterwards. Without flags the output is the decorators' Info lines;
verbose adds the trace and timing Debug lines.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd, rootOpts, dbPath)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", ":memory:", "journal database path")

	return cmd
}

func runDemo(cmd *cobra.Command, rootOpts *RootOptions, dbPath string) error {
	formatter := newFormatter(cmd.OutOrStdout(), cmd.ErrOrStderr(), rootOpts)

	sess, err := openSession(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start demo", err)
	}
	defer sess.Close()

	phases := demoScript()
	for _, phase := range phases {
		if err := engine.EnsureChainTargets(sess.registry, phase.chains); err != nil {
			return WrapExitError(ExitCommandError, "failed to back demo targets", err)
		}
	}

	logger := slog.Default()
	ctx := cmd.Context()
	dispatched := 0

	err = sess.dispatch(ctx, func() error {
		for _, phase := range phases {
			logger.Info("demo phase", "phase", phase.name)

			payload := engine.ReloadPayload{
				Decorators:   phase.decorators,
				Chains:       phase.chains,
				ManifestHash: ir.HashManifestSource([]byte("demo:" + phase.name)),
			}
			if err := sess.engine.SubmitReload(payload); err != nil {
				return err
			}
			// Settle the reload before submitting, so every call is
			// stamped with this phase's manifest hash.
			if err := sess.engine.Drain(ctx); err != nil {
				return err
			}

			for _, call := range phase.calls {
				stamped, err := sess.engine.Submit(call)
				if err != nil {
					return fmt.Errorf("submit %s: %w", call.Target, err)
				}
				if err := sess.engine.Drain(ctx); err != nil {
					return err
				}

				res, err := sess.store.ReadResultForCall(ctx, stamped.ID)
				if err != nil {
					return fmt.Errorf("read result for %s: %w", call.Target, err)
				}
				logger.Info(call.Target+" returned",
					"outcome", res.Outcome,
					"output", canonicalJSON(res.Output),
				)
				dispatched++
			}
		}
		return nil
	})
	if err != nil {
		return WrapExitError(ExitFailure, "demo failed", err)
	}

	if rootOpts.Format == "json" {
		return formatter.Success(map[string]interface{}{
			"phases":     len(phases),
			"dispatches": dispatched,
			"tokens":     []string{demoTokenPartOne, demoTokenPartTwo},
		})
	}
	return nil
}

// demoScript builds the phase list: three decoration styles for part
// one, then the wrapped targets of part two.
func demoScript() []demoPhase {
	meta := ir.Meta{Origin: "cli", Operator: "demo", Labels: []string{"demo"}}

	return []demoPhase{
		{
			name: "log",
			decorators: []ir.DecoratorSpec{
				{Name: "log-all", Kind: "log"},
			},
			chains: []ir.ChainRule{
				{ID: "chain-log", Target: "greet", Decorators: []string{"log-all"}},
			},
			calls: []ir.Call{
				{Token: demoTokenPartOne, Target: "greet", Args: ir.Object{"who": ir.String("world")}, Meta: meta},
			},
		},
		{
			name: "tag",
			decorators: []ir.DecoratorSpec{
				{Name: "tag-custom", Kind: "tag", Params: ir.Object{"label": ir.String("custom")}},
			},
			chains: []ir.ChainRule{
				{ID: "chain-custom", Target: "greet", Decorators: []string{"tag-custom"}},
			},
			calls: []ir.Call{
				{Token: demoTokenPartOne, Target: "greet", Args: ir.Object{"who": ir.String("ada")}, Meta: meta},
			},
		},
		{
			name: "nested",
			decorators: []ir.DecoratorSpec{
				{Name: "tag-baz", Kind: "tag", Params: ir.Object{"label": ir.String("baz")}},
				{Name: "tag-nested", Kind: "tag", Params: ir.Object{"label": ir.String("nested")}},
			},
			chains: []ir.ChainRule{
				// chain-baz binds a probe so it can be spliced; the greet
				// chain pulls it in above its own decorator.
				{ID: "chain-baz", Target: "Foo", Decorators: []string{"tag-baz"}},
				{ID: "chain-nested", Target: "greet", Use: []string{"chain-baz"}, Decorators: []string{"tag-nested"}},
			},
			calls: []ir.Call{
				{Token: demoTokenPartOne, Target: "greet", Args: ir.Object{"who": ir.String("grace")}, Meta: meta},
			},
		},
		{
			name: "wrap",
			decorators: []ir.DecoratorSpec{
				{Name: "trace-all", Kind: "trace"},
				{Name: "time-all", Kind: "time"},
				{Name: "stub-flaky", Kind: "stub", Params: ir.Object{
					"outcome": ir.String("Stubbed"),
					"result":  ir.Object{"note": ir.String("canned by stub")},
				}},
			},
			chains: []ir.ChainRule{
				{ID: "chain-shout", Target: "shout", Decorators: []string{"trace-all", "time-all"}},
				{ID: "chain-flaky", Target: "flaky", Decorators: []string{"stub-flaky"}},
			},
			calls: []ir.Call{
				{Token: demoTokenPartTwo, Target: "shout", Args: ir.Object{"who": ir.String("go"), "times": ir.Int(3)}, Meta: meta},
				{Token: demoTokenPartTwo, Target: "flaky", Args: ir.Object{}, Meta: meta},
				{Token: demoTokenPartTwo, Target: "Foo", Args: ir.Object{}, Meta: meta},
				{Token: demoTokenPartTwo, Target: "Bar", Args: ir.Object{}, Meta: meta},
			},
		},
	}
}
