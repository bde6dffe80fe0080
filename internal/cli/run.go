package cli

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/garland/internal/ir"
)

// RunResult is the payload reported after a dispatched call.
type RunResult struct {
	Token   string      `json:"token"`
	CallID  string      `json:"call_id"`
	Target  string      `json:"target"`
	Outcome string      `json:"outcome"`
	Output  interface{} `json:"output"`
	Seq     int64       `json:"seq"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		argsJSON string
		token    string
		dbPath   string
		specsDir string
	)

	cmd := &cobra.Command{
		Use:   "run <target>",
		Short: "Dispatch one call through its declared chain",
		Long: `Dispatch a single call to a registered target through whatever chain
the loaded manifests declare for it, journaling the call and its result.

Arguments are a JSON object matching the target's declared args. A trace
token groups related calls; without --token each run gets a fresh one.`,
		Example: `  garland run greet --args '{"who": "world"}'
  garland run shout --args '{"who": "go", "times": 3}' --token my-trace`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, rootOpts, args[0], argsJSON, token, dbPath, specsDir)
		},
	}

	cmd.Flags().StringVar(&argsJSON, "args", "{}", "call arguments as a JSON object")
	cmd.Flags().StringVar(&token, "token", "", "trace token (default: a fresh token)")
	cmd.Flags().StringVar(&dbPath, "db", "", "journal database path (default: GARLAND_DB)")
	cmd.Flags().StringVar(&specsDir, "specs", "", "manifest directory (default: GARLAND_SPECS)")

	return cmd
}

func runRun(cmd *cobra.Command, rootOpts *RootOptions, target, argsJSON, token, dbPath, specsDir string) error {
	formatter := newFormatter(cmd.OutOrStdout(), cmd.ErrOrStderr(), rootOpts)

	callArgs, err := parseArgsJSON(argsJSON)
	if err != nil {
		formatter.Error(ErrCodeGeneric, fmt.Sprintf("invalid --args: %v", err), nil)
		return WrapExitError(ExitCommandError, "invalid --args", err)
	}

	sess, err := openSession(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer sess.Close()

	// An explicit --specs must load; the configured default is optional
	// so a bare journal still accepts undecorated dispatches.
	dir := specsDir
	if dir == "" {
		if _, statErr := os.Stat(sess.cfg.SpecsDir); statErr == nil {
			dir = sess.cfg.SpecsDir
		}
	}
	if dir != "" {
		if err := sess.loadInto(dir); err != nil {
			formatter.Error(ErrCodeLoadFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to load manifests", err)
		}
	}

	// Reject unknown targets before anything reaches the journal; a
	// submitted call would be journaled as forever-pending.
	if _, ok := sess.registry.Lookup(target); !ok {
		msg := fmt.Sprintf("unknown target %q (registered: %s)", target, strings.Join(sess.registry.Names(), ", "))
		formatter.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	if token == "" {
		token = sess.engine.NewToken()
	}

	ctx := cmd.Context()
	var stamped ir.Call
	err = sess.dispatch(ctx, func() error {
		var submitErr error
		stamped, submitErr = sess.engine.Submit(ir.Call{
			Token:  token,
			Target: target,
			Args:   callArgs,
			Meta:   ir.Meta{Origin: "cli"},
		})
		return submitErr
	})
	if err != nil {
		return WrapExitError(ExitFailure, "dispatch failed", err)
	}

	res, err := sess.store.ReadResultForCall(ctx, stamped.ID)
	if errors.Is(err, sql.ErrNoRows) {
		// The dispatch loop logged why; the journal shows the pending call.
		msg := fmt.Sprintf("call %s journaled without a result", stamped.ID)
		formatter.Error(ErrCodeGeneric, msg, map[string]string{"token": token})
		return NewExitError(ExitFailure, msg)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read result", err)
	}

	result := RunResult{
		Token:   token,
		CallID:  stamped.ID,
		Target:  target,
		Outcome: res.Outcome,
		Output:  ir.ToInterfaceMap(res.Output),
		Seq:     res.Seq,
	}

	if rootOpts.Format == "json" {
		return formatter.SuccessWithToken(token, result)
	}
	return outputRunText(formatter, result, res.Output)
}

// outputRunText renders the dispatched result as aligned text.
func outputRunText(formatter *OutputFormatter, result RunResult, output ir.Object) error {
	w := formatter.Writer
	fmt.Fprintf(w, "%s completed\n", result.Target)
	fmt.Fprintf(w, "  Token:   %s\n", result.Token)
	fmt.Fprintf(w, "  Call:    %s\n", truncateID(result.CallID))
	fmt.Fprintf(w, "  Outcome: %s\n", result.Outcome)
	fmt.Fprintf(w, "  Output:  %s\n", canonicalJSON(output))
	return nil
}

// parseArgsJSON decodes the --args flag into call arguments. Numbers are
// kept as json.Number so integers survive intact and floats are refused
// instead of silently truncated.
func parseArgsJSON(s string) (ir.Object, error) {
	var raw map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}

	normalized, err := normalizeNumbers(raw)
	if err != nil {
		return nil, err
	}
	return ir.FromInterfaceMap(normalized.(map[string]interface{}))
}

// normalizeNumbers rewrites json.Number leaves into int64, rejecting
// anything with a fractional part.
func normalizeNumbers(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number %s: floats are forbidden - use int instead", val)
		}
		return n, nil
	case []interface{}:
		for i, elem := range val {
			converted, err := normalizeNumbers(elem)
			if err != nil {
				return nil, err
			}
			val[i] = converted
		}
		return val, nil
	case map[string]interface{}:
		for k, elem := range val {
			converted, err := normalizeNumbers(elem)
			if err != nil {
				return nil, err
			}
			val[k] = converted
		}
		return val, nil
	default:
		return v, nil
	}
}
