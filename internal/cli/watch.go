package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/garland/internal/engine"
)

// manifestSettle is how long the manifest directory must stay quiet
// before a recompile. Editors fire several events per save; one compile
// per settle window is enough.
const manifestSettle = 250 * time.Millisecond

// WatchOptions contains options for the watch command.
type WatchOptions struct {
	*RootOptions
	Database string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <manifest-dir>",
		Short: "Run the engine and hot-reload manifests on change",
		Long: `Watch keeps an engine running against the configured journal and
recompiles the manifest directory whenever a .cue file under it
changes. A clean compile is installed on the running engine in one
step; a broken one is logged and skipped, and the previous manifest
stays active.

Changes are debounced, so an editor that writes a temp file and renames
it over the manifest triggers one reload, not three. Stop with Ctrl+C.`,
		Example: `  garland watch ./specs
  garland watch ./specs --db ./garland.db
  GARLAND_LOG_FORMAT=json garland watch ./specs -v`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "journal database path (default: GARLAND_DB)")

	return cmd
}

func runWatch(opts *WatchOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts.RootOptions)
	logger := slog.Default()

	sess, err := openSession(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer sess.Close()

	// The first compile must succeed; watching a directory that has
	// never produced a manifest would mean running with nothing to
	// fall back to.
	if err := sess.loadInto(dir); err != nil {
		formatter.Error(ErrCodeLoadFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load manifests", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start file watcher", err)
	}
	defer watcher.Close()

	if err := watchTree(watcher, dir); err != nil {
		return WrapExitError(ExitCommandError, "failed to watch manifest directory", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Format != "json" {
		fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (manifest %s), Ctrl+C to stop\n",
			dir, truncateID(sess.engine.ManifestHash()))
	}
	logger.Info("watch started",
		"dir", dir,
		"db", sess.cfg.DBPath,
		"manifest_hash", sess.engine.ManifestHash(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sess.engine.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return watchLoop(gctx, watcher, dir, sess, logger)
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "watch stopped", err)
	}

	logger.Info("watch stopped")
	if opts.Format != "json" {
		fmt.Fprintln(cmd.OutOrStdout(), "Stopped.")
	}
	return nil
}

// watchTree registers dir and every subdirectory with the watcher.
// fsnotify watches are not recursive, and the loader picks up .cue
// files from nested directories.
func watchTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

// watchLoop turns raw filesystem events into debounced reloads. The
// settle timer starts on the first relevant event and is pushed back by
// each one after it, so a save storm compiles once.
func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, dir string, sess *session, logger *slog.Logger) error {
	var settle *time.Timer
	var settled <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Directories created mid-watch need their own entries
			// before events inside them can be seen.
			if event.Op.Has(fsnotify.Create) {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					if err := watcher.Add(event.Name); err != nil {
						logger.Warn("cannot watch new directory", "dir", event.Name, "error", err)
					}
					continue
				}
			}
			if !relevantManifestEvent(event) {
				continue
			}
			logger.Debug("manifest changed", "file", event.Name, "op", event.Op.String())
			if settle == nil {
				settle = time.NewTimer(manifestSettle)
				settled = settle.C
			} else {
				settle.Reset(manifestSettle)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)

		case <-settled:
			settle = nil
			settled = nil
			reloadManifests(ctx, dir, sess, logger)
		}
	}
}

// relevantManifestEvent reports whether an event should count toward a
// reload. Chmod-only events and non-CUE files are noise.
func relevantManifestEvent(event fsnotify.Event) bool {
	if filepath.Ext(event.Name) != ".cue" {
		return false
	}
	return event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) ||
		event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename)
}

// reloadManifests recompiles the directory and swaps the result onto
// the running engine. Any load or validation error leaves the active
// manifest untouched; the next settled edit gets a fresh attempt.
func reloadManifests(ctx context.Context, dir string, sess *session, logger *slog.Logger) {
	verrs, err := ValidateManifestDir(dir)
	if err != nil {
		logger.Error("manifest reload rejected", "dir", dir, "error", err)
		return
	}
	if len(verrs) > 0 {
		for _, verr := range verrs {
			logger.Error("manifest invalid", "code", verr.Code, "field", verr.Field, "detail", verr.Message)
		}
		logger.Warn("manifest reload rejected, previous manifest stays active", "errors", len(verrs))
		return
	}

	result, loadErrs := LoadManifests(dir, LoadModeFailFast)
	if len(loadErrs) > 0 {
		logger.Error("manifest reload rejected", "dir", dir, "error", loadErrs[0])
		return
	}

	if err := engine.EnsureChainTargets(sess.registry, result.Chains); err != nil {
		logger.Error("manifest reload rejected", "error", err)
		return
	}

	if err := sess.engine.SubmitReload(engine.ReloadPayload{
		Decorators:   result.Decorators,
		Chains:       result.Chains,
		ManifestHash: result.ManifestHash,
	}); err != nil {
		logger.Error("manifest reload rejected", "error", err)
		return
	}
	if err := sess.engine.Drain(ctx); err != nil {
		return
	}

	// The dispatch loop validates again on install and logs its own
	// rejection; the hash only moves when the swap happened.
	if sess.engine.ManifestHash() != result.ManifestHash {
		logger.Warn("manifest reload rejected by engine, previous manifest stays active")
		return
	}
	logger.Info("manifest installed",
		"decorators", len(result.Decorators),
		"chains", len(result.Chains),
		"manifest_hash", result.ManifestHash,
	)
}
