package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/spf13/cobra"

	"github.com/roach88/garland/internal/config"
	"github.com/roach88/garland/internal/ir"
	"github.com/roach88/garland/internal/queryfilter"
	"github.com/roach88/garland/internal/querysql"
	"github.com/roach88/garland/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Where    string
	Path     string
}

// TraceEvent represents a single event in the trace timeline.
type TraceEvent struct {
	Seq     int64                  `json:"seq"`
	Type    string                 `json:"type"` // "call" or "result"
	ID      string                 `json:"id"`
	Target  string                 `json:"target,omitempty"`
	Args    map[string]interface{} `json:"args,omitempty"`
	CallID  string                 `json:"call_id,omitempty"`
	Outcome string                 `json:"outcome,omitempty"`
	Output  map[string]interface{} `json:"output,omitempty"`
}

// ChainFiringView represents one journaled chain firing with the call
// its provenance edge points back to.
type ChainFiringView struct {
	Seq       int64  `json:"seq"`
	ChainID   string `json:"chain_id"`
	ChainHash string `json:"chain_hash"`
	CallID    string `json:"call_id,omitempty"`
	ResultID  string `json:"result_id"`
}

// PathValue is one value extracted from a result output by --path.
type PathValue struct {
	ResultID string      `json:"result_id"`
	Value    interface{} `json:"value"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Token      string            `json:"token"`
	Timeline   []TraceEvent      `json:"timeline"`
	Firings    []ChainFiringView `json:"firings"`
	PathValues []PathValue       `json:"path_values,omitempty"`
	Stats      TraceStats        `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents  int  `json:"total_events"`
	Calls        int  `json:"calls"`
	Results      int  `json:"results"`
	ChainFirings int  `json:"chain_firings"`
	Pending      int  `json:"pending"`
	IsComplete   bool `json:"is_complete"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <token>",
		Short: "Read a token's journal back",
		Long: `Read back everything journaled under a trace token.

The output includes:
- Timeline: calls and results interleaved in seq order
- Chain Firings: which chains fired, linked to the calls they decorated
- Stats: summary counts for the trace

--where narrows the timeline with a filter over the journal columns
(target, outcome, seq, token), written as comparisons joined by &&.
--path extracts a value from each result output with a JSONPath
expression; a path no output matches yields an empty section.

Examples:
  garland trace demo-part-one
  garland trace demo-part-one --where 'target == "greet"'
  garland trace demo-part-two --where 'outcome == "Ok" && seq > 3' --format json
  garland trace demo-part-one --path '$.greeting'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (default from config)")
	cmd.Flags().StringVar(&opts.Where, "where", "", "filter expression over journal columns")
	cmd.Flags().StringVar(&opts.Path, "path", "", "JSONPath applied to each result output")

	return cmd
}

func runTrace(opts *TraceOptions, token string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := newFormatter(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts.RootOptions)

	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.DBPath
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	state, err := st.GetTraceState(ctx, token)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}

	// Check if the token has any events
	if len(state.Calls) == 0 && len(state.Results) == 0 {
		if opts.Format == "json" {
			return outputTraceJSON(formatter, TraceResult{
				Token:    token,
				Timeline: []TraceEvent{},
				Firings:  []ChainFiringView{},
			})
		}
		fmt.Fprintf(formatter.Writer, "No events found for token: %s\n", token)
		return nil
	}

	// A --where filter narrows the timeline to matching calls and their
	// results. The token comparison is part of the compiled filter, so
	// the query never leaves this trace.
	keep, err := filterTraceCalls(ctx, st, token, opts.Where)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid --where filter", err)
	}

	timeline := buildTraceTimeline(state, keep)

	firings, err := buildFiringViews(ctx, st, state, keep)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read chain firings", err)
	}

	result := TraceResult{
		Token:    token,
		Timeline: timeline,
		Firings:  firings,
		Stats: TraceStats{
			TotalEvents:  len(timeline),
			Calls:        len(state.Calls),
			Results:      len(state.Results),
			ChainFirings: len(state.ChainFirings),
			Pending:      state.PendingCount,
			IsComplete:   state.IsComplete,
		},
	}

	if opts.Path != "" {
		result.PathValues = extractPathValues(opts.Path, state, keep, formatter)
	}

	if opts.Format == "json" {
		return outputTraceJSON(formatter, result)
	}

	return outputTraceText(formatter, result, opts)
}

// filterTraceCalls compiles a --where expression and returns the set of
// call IDs that match it within the token's trace. A nil map means no
// filter was given and everything shows.
func filterTraceCalls(ctx context.Context, st *store.Store, token, where string) (map[string]bool, error) {
	if where == "" {
		return nil, nil
	}

	expr, err := queryfilter.Parse(where)
	if err != nil {
		return nil, err
	}

	filter := queryfilter.And{Exprs: []queryfilter.Expr{
		queryfilter.Compare{Column: "token", Op: queryfilter.OpEq, Value: ir.String(token)},
		expr,
	}}
	if err := queryfilter.Validate(filter); err != nil {
		return nil, err
	}

	fragment, params, err := querysql.Compile(filter)
	if err != nil {
		return nil, err
	}

	calls, err := st.ReadCallsWhere(ctx, fragment, params)
	if err != nil {
		return nil, err
	}

	keep := make(map[string]bool, len(calls))
	for _, call := range calls {
		keep[call.ID] = true
	}
	return keep, nil
}

// buildTraceTimeline interleaves calls and results by seq. When keep is
// non-nil only matching calls and their results are included.
func buildTraceTimeline(state store.TraceState, keep map[string]bool) []TraceEvent {
	timeline := make([]TraceEvent, 0, len(state.Calls)+len(state.Results))

	for _, call := range state.Calls {
		if keep != nil && !keep[call.ID] {
			continue
		}
		timeline = append(timeline, TraceEvent{
			Seq:    call.Seq,
			Type:   "call",
			ID:     call.ID,
			Target: call.Target,
			Args:   ir.ToInterfaceMap(call.Args),
		})
	}

	for _, res := range state.Results {
		if keep != nil && !keep[res.CallID] {
			continue
		}
		timeline = append(timeline, TraceEvent{
			Seq:     res.Seq,
			Type:    "result",
			ID:      res.ID,
			CallID:  res.CallID,
			Outcome: res.Outcome,
			Output:  ir.ToInterfaceMap(res.Output),
		})
	}

	sort.Slice(timeline, func(i, j int) bool { return timeline[i].Seq < timeline[j].Seq })
	return timeline
}

// buildFiringViews joins chain firings with their provenance edges so
// each row names the call the firing decorated.
func buildFiringViews(ctx context.Context, st *store.Store, state store.TraceState, keep map[string]bool) ([]ChainFiringView, error) {
	views := make([]ChainFiringView, 0, len(state.ChainFirings))

	for _, firing := range state.ChainFirings {
		edges, err := st.ReadProvenanceEdgesForFiring(ctx, firing.ID)
		if err != nil {
			return nil, fmt.Errorf("read provenance for firing %d: %w", firing.ID, err)
		}

		callID := ""
		if len(edges) > 0 {
			callID = edges[0].CallID
		}
		if keep != nil && !keep[callID] {
			continue
		}

		views = append(views, ChainFiringView{
			Seq:       firing.Seq,
			ChainID:   firing.ChainID,
			ChainHash: firing.ChainHash,
			CallID:    callID,
			ResultID:  firing.ResultID,
		})
	}

	return views, nil
}

// extractPathValues applies a JSONPath expression to each result output.
// Outputs the path does not match are skipped; verbose mode logs them.
func extractPathValues(path string, state store.TraceState, keep map[string]bool, formatter *OutputFormatter) []PathValue {
	values := make([]PathValue, 0, len(state.Results))

	for _, res := range state.Results {
		if keep != nil && !keep[res.CallID] {
			continue
		}

		doc := interface{}(ir.ToInterfaceMap(res.Output))
		val, err := jsonpath.Get(path, doc)
		if err != nil {
			formatter.VerboseLog("path %s: result %s: %v", path, truncateID(res.ID), err)
			continue
		}

		values = append(values, PathValue{ResultID: res.ID, Value: val})
	}

	return values
}

// canonicalJSON renders an IR object in its canonical encoding for
// display. Falls back to fmt on a marshal failure rather than erroring
// out of an output path.
func canonicalJSON(obj ir.Object) string {
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return fmt.Sprintf("%v", obj)
	}
	return string(data)
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(formatter *OutputFormatter, result TraceResult) error {
	response := CLIResponse{
		Status:  "ok",
		Data:    result,
		TraceID: result.Token,
	}

	encoder := json.NewEncoder(formatter.Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputTraceText outputs the trace result as text.
func outputTraceText(formatter *OutputFormatter, result TraceResult, opts *TraceOptions) error {
	w := formatter.Writer

	fmt.Fprintf(w, "Trace for token: %s\n", result.Token)
	fmt.Fprintf(w, "Status: %s\n", completeStatus(result.Stats.IsComplete))
	fmt.Fprintln(w)

	// Timeline section
	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	} else {
		for _, event := range result.Timeline {
			formatTimelineEvent(w, event, formatter.Verbose)
		}
	}
	fmt.Fprintln(w)

	// Chain firings section
	fmt.Fprintln(w, "=== Chain Firings ===")
	if len(result.Firings) == 0 {
		fmt.Fprintln(w, "  (no chains fired)")
	} else {
		for _, firing := range result.Firings {
			fmt.Fprintf(w, "  %s -[%s]-> %s\n",
				truncateID(firing.CallID),
				firing.ChainID,
				truncateID(firing.ResultID))
			if formatter.Verbose {
				fmt.Fprintf(w, "       Hash: %s\n", truncateID(firing.ChainHash))
			}
		}
	}
	fmt.Fprintln(w)

	// Path values section, only when --path was given
	if opts.Path != "" {
		fmt.Fprintf(w, "=== Path %s ===\n", opts.Path)
		if len(result.PathValues) == 0 {
			fmt.Fprintln(w, "  (no matches)")
		} else {
			for _, pv := range result.PathValues {
				fmt.Fprintf(w, "  %s  %s\n", truncateID(pv.ResultID), formatValue(pv.Value))
			}
		}
		fmt.Fprintln(w)
	}

	// Stats section
	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Events:  %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Calls:         %d\n", result.Stats.Calls)
	fmt.Fprintf(w, "  Results:       %d\n", result.Stats.Results)
	fmt.Fprintf(w, "  Chain Firings: %d\n", result.Stats.ChainFirings)
	fmt.Fprintf(w, "  Pending:       %d\n", result.Stats.Pending)

	return nil
}

// formatTimelineEvent formats a single timeline event for text output.
func formatTimelineEvent(w io.Writer, event TraceEvent, verbose bool) {
	switch event.Type {
	case "call":
		fmt.Fprintf(w, "  [%d] CALL %s\n", event.Seq, event.Target)
		if verbose && len(event.Args) > 0 {
			fmt.Fprintf(w, "       Args: %s\n", formatArgs(event.Args))
		}
		if verbose {
			fmt.Fprintf(w, "       ID: %s\n", truncateID(event.ID))
		}

	case "result":
		fmt.Fprintf(w, "  [%d] RES  %s\n", event.Seq, event.Outcome)
		if verbose && len(event.Output) > 0 {
			fmt.Fprintf(w, "       Output: %s\n", formatArgs(event.Output))
		}
		if verbose {
			fmt.Fprintf(w, "       ID: %s (call %s)\n", truncateID(event.ID), truncateID(event.CallID))
		}
	}
}

// formatArgs formats a map of args for display.
// Uses sorted keys to ensure deterministic output.
func formatArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}

	// Sort keys for deterministic output
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value for display, handling nested structures deterministically.
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case map[string]interface{}:
		return formatArgs(val)
	case []interface{}:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}

// completeStatus returns a human-readable completion status.
func completeStatus(isComplete bool) string {
	if isComplete {
		return "Complete"
	}
	return "Incomplete (pending calls)"
}
