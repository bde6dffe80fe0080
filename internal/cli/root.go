package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/garland/internal/config"
)

// RootOptions holds global flags shared across all commands.
type RootOptions struct {
	Verbose bool
	Format  string
}

// ValidFormats lists the accepted output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root garland command with global flags.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "garland",
		Short: "garland - declarative function decoration",
		Long: `garland wraps the functions you register with the decorator chains you
declare. Targets are plain Go functions; chains are CUE manifests naming
which decorators stack on which target. Every dispatch is journaled to
SQLite as content-addressed call and result records, so a trace can be
read back exactly as it ran.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q (valid: text, json)", opts.Format)
			}
			// Install the default logger before any subcommand logic so
			// engine and decorator output honors the flags.
			logFormat := config.LogFormatText
			if cfg, err := config.Load(); err == nil {
				logFormat = cfg.LogFormat
			}
			installLogger(opts.Verbose, logFormat)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format: text or json")

	cmd.AddCommand(
		NewDemoCommand(opts),
		NewRunCommand(opts),
		NewCompileCommand(opts),
		NewValidateCommand(opts),
		NewTargetsCommand(opts),
		NewTraceCommand(opts),
		NewTestCommand(opts),
		NewWatchCommand(opts),
	)

	return cmd
}

// Execute runs the root command and returns the process exit code.
// cmd/garland passes the result straight to os.Exit.
func Execute(version string) int {
	cmd := NewRootCommand()
	cmd.Version = version

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return GetExitCode(err)
	}
	return ExitSuccess
}

// installLogger sets the process-wide slog default. Verbose drops the
// level to Debug and adds source locations; logs always go to stderr so
// JSON output on stdout stays parseable.
func installLogger(verbose bool, format string) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: verbose,
	}
	var handler slog.Handler
	if format == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}

// isValidFormat checks if the given format is supported.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if format == f {
			return true
		}
	}
	return false
}
