package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/garland/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult holds the compiled manifest IR.
type CompilationResult struct {
	Targets      []ir.TargetSpec    `json:"targets"`
	Decorators   []ir.DecoratorSpec `json:"decorators"`
	Chains       []ir.ChainRule     `json:"chains"`
	ManifestHash string             `json:"manifest_hash"`
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	TargetCount    int
	DecoratorCount int
	ChainCount     int
	TotalOutcomes  int
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <manifest-dir>",
		Short: "Compile CUE manifests to canonical IR",
		Long: `Compile CUE target, decorator, and chain declarations to canonical IR.

The compiler parses CUE files, validates them against the IR schema,
and outputs canonical JSON for use by the engine.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, manifestDir string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts.RootOptions)

	// Use shared loader with collect-all mode
	loadResult, loadErrors := LoadManifests(manifestDir, LoadModeCollectAll)

	// Handle load errors (directory not found, no files, etc.)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputCompileError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputCompileError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, manifestDir)

	for _, target := range loadResult.Targets {
		formatter.VerboseLog("Compiling target: %s", target.Name)
	}
	for _, decorator := range loadResult.Decorators {
		formatter.VerboseLog("Compiling decorator: %s", decorator.Name)
	}
	for _, chain := range loadResult.Chains {
		formatter.VerboseLog("Compiling chain: %s", chain.ID)
	}

	// Handle compilation errors
	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	// Build result
	result := &CompilationResult{
		Targets:      loadResult.Targets,
		Decorators:   loadResult.Decorators,
		Chains:       loadResult.Chains,
		ManifestHash: loadResult.ManifestHash,
	}

	// Calculate statistics
	stats := calculateStats(result)

	// Write to file if --output specified
	if opts.Output != "" {
		if err := writeIRToFile(result, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	// Output success
	return outputCompileSuccess(formatter, result, stats, opts.Output)
}

// calculateStats computes summary statistics from compilation result.
func calculateStats(result *CompilationResult) CompilationStats {
	stats := CompilationStats{
		TargetCount:    len(result.Targets),
		DecoratorCount: len(result.Decorators),
		ChainCount:     len(result.Chains),
	}

	for _, target := range result.Targets {
		stats.TotalOutcomes += len(target.Outcomes)
	}

	return stats
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, stats CompilationStats, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	// Human-readable text output
	fmt.Fprintf(formatter.Writer, "✓ Compiled %d target(s), %d decorator(s), %d chain(s)\n\n",
		stats.TargetCount, stats.DecoratorCount, stats.ChainCount)

	if len(result.Targets) > 0 {
		fmt.Fprintln(formatter.Writer, "Targets:")
		for _, target := range result.Targets {
			outcomeCount := len(target.Outcomes)
			outcomeSuffix := "outcomes"
			if outcomeCount == 1 {
				outcomeSuffix = "outcome"
			}
			fmt.Fprintf(formatter.Writer, "  %s: %d arg(s), %d %s\n",
				target.Name, len(target.Args), outcomeCount, outcomeSuffix)
		}
		fmt.Fprintln(formatter.Writer)
	}

	if len(result.Decorators) > 0 {
		fmt.Fprintln(formatter.Writer, "Decorators:")
		for _, decorator := range result.Decorators {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n", decorator.Name, decorator.Kind)
		}
		fmt.Fprintln(formatter.Writer)
	}

	if len(result.Chains) > 0 {
		fmt.Fprintln(formatter.Writer, "Chains:")
		for _, chain := range result.Chains {
			fmt.Fprintf(formatter.Writer, "  %s: %s ← %s\n",
				chain.ID, chain.Target, formatChainStack(chain))
		}
		fmt.Fprintln(formatter.Writer)
	}

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote canonical IR to %s\n", outputFile)
	}

	return nil
}

// formatChainStack renders a chain's decorator stack, use refs first,
// the way the engine flattens them.
func formatChainStack(chain ir.ChainRule) string {
	parts := make([]string, 0, len(chain.Use)+len(chain.Decorators))
	for _, use := range chain.Use {
		parts = append(parts, "use("+use+")")
	}
	parts = append(parts, chain.Decorators...)
	if len(parts) == 0 {
		return "(empty)"
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += " + " + p
	}
	return out
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Compilation errors are command-level errors (exit code 2)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}

// outputCompileErrors outputs multiple compilation errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.Format == "json" {
		// JSON format - use CLIResponse with first error
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			cliErrors[i] = CLIError{
				Code:    code,
				Message: message,
			}
		}

		response := CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors, // Include all errors in data
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Compilation errors are command-level errors (exit code 2)
		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		code, message := parseCompileError(err)
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(),
				loadErr.Pos.Line(),
				loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}

	// Compilation errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseCompileError extracts error code and message from an error.
// The loader has already folded compiler errors into LoadError, so this
// only needs the one shape plus a fallback.
func parseCompileError(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	return ErrCodeGeneric, err.Error()
}

// writeIRToFile writes the compilation result to a file in canonical JSON format.
func writeIRToFile(result *CompilationResult, filename string) error {
	// Use standard JSON with indentation for readability
	// (canonical JSON without indentation is used only for hashing)
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling IR: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}
