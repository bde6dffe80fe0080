package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/garland/internal/store"
)

// TargetsOptions holds flags for the targets command.
type TargetsOptions struct {
	*RootOptions
	Database string
	SpecsDir string
	Counts   bool
}

// TargetCounts aggregates journal rows and decorator counters for one
// target.
type TargetCounts struct {
	Calls   int64 `json:"calls"`
	Results int64 `json:"results"`
	Counted int64 `json:"counted"`
}

// TargetInfo describes one dispatchable target.
type TargetInfo struct {
	Name   string        `json:"name"`
	Doc    string        `json:"doc,omitempty"`
	Counts *TargetCounts `json:"counts,omitempty"`
}

// TargetsResult holds the targets listing.
type TargetsResult struct {
	Targets []TargetInfo `json:"targets"`
}

// NewTargetsCommand creates the targets command.
func NewTargetsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TargetsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List dispatchable targets",
		Long: `List the targets a dispatch would accept, with their doc strings.

The listing covers the built-in targets plus probe targets backing any
chains declared in the manifest directory. With --counts, each target
also shows its journaled call and result totals and the running tally
kept by count decorators. Counter tallies persist across processes only
when a Redis stats store is configured.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTargets(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Counts, "counts", false, "include journal and counter totals")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (default from config)")
	cmd.Flags().StringVar(&opts.SpecsDir, "specs", "", "manifest directory (default from config)")

	return cmd
}

func runTargets(opts *TargetsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts.RootOptions)

	sess, err := openSession(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer sess.Close()

	// Same manifest resolution as run: an explicit --specs must load,
	// the configured default is optional.
	dir := opts.SpecsDir
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

	names := sess.registry.Names()
	sort.Strings(names)

	infos := make([]TargetInfo, 0, len(names))
	for _, name := range names {
		t, ok := sess.registry.Lookup(name)
		if !ok {
			continue
		}
		infos = append(infos, TargetInfo{Name: name, Doc: t.Doc()})
	}

	if opts.Counts {
		ctx := cmd.Context()

		journal, err := sess.store.CountByTarget(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to count journal rows", err)
		}
		counted, err := sess.stats.Snapshot(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read counters", err)
		}

		byTarget := make(map[string]store.TargetCount, len(journal))
		for _, tc := range journal {
			byTarget[tc.Target] = tc
		}

		for i := range infos {
			tc := byTarget[infos[i].Name]
			infos[i].Counts = &TargetCounts{
				Calls:   tc.Calls,
				Results: tc.Results,
				Counted: counted[infos[i].Name],
			}
			delete(byTarget, infos[i].Name)
		}

		// Journal rows can outlive the process that registered their
		// targets; list those too so the totals add up.
		extra := make([]string, 0, len(byTarget))
		for name := range byTarget {
			extra = append(extra, name)
		}
		sort.Strings(extra)
		for _, name := range extra {
			tc := byTarget[name]
			infos = append(infos, TargetInfo{
				Name: name,
				Counts: &TargetCounts{
					Calls:   tc.Calls,
					Results: tc.Results,
					Counted: counted[name],
				},
			})
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(TargetsResult{Targets: infos})
	}

	return outputTargetsText(formatter, infos, opts.Counts)
}

// outputTargetsText renders the listing with aligned columns.
func outputTargetsText(formatter *OutputFormatter, infos []TargetInfo, withCounts bool) error {
	w := formatter.Writer

	if len(infos) == 0 {
		fmt.Fprintln(w, "No targets registered")
		return nil
	}

	nameWidth := len("NAME")
	for _, info := range infos {
		if len(info.Name) > nameWidth {
			nameWidth = len(info.Name)
		}
	}

	if !withCounts {
		for _, info := range infos {
			fmt.Fprintf(w, "  %-*s  %s\n", nameWidth, info.Name, info.Doc)
		}
		return nil
	}

	fmt.Fprintf(w, "  %-*s  %7s  %7s  %7s  %s\n", nameWidth, "NAME", "CALLS", "RESULTS", "COUNTED", "DOC")
	for _, info := range infos {
		doc := info.Doc
		if doc == "" {
			doc = "-"
		}
		fmt.Fprintf(w, "  %-*s  %7d  %7d  %7d  %s\n",
			nameWidth, info.Name,
			info.Counts.Calls, info.Counts.Results, info.Counts.Counted,
			doc)
	}
	return nil
}
