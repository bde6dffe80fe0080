package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/garland/internal/config"
	"github.com/roach88/garland/internal/engine"
	"github.com/roach88/garland/internal/stats"
	"github.com/roach88/garland/internal/store"
)

// session bundles the runtime pieces a dispatching command needs: the
// journal, the target registry, the stats sink, and an engine wired to
// all three. Manifest registration stays with the caller since commands
// differ on where manifests come from.
type session struct {
	cfg      config.Config
	store    *store.Store
	registry *engine.Registry
	stats    stats.Store
	engine   *engine.Engine

	redis *stats.RedisStore // non-nil when counters live in Redis
}

// openSession builds the standard CLI runtime from the environment
// config, with dbPath overriding the configured journal path when
// non-empty. The registry starts with the built-in demo targets.
func openSession(dbPath string) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	reg := engine.NewRegistry()
	if err := engine.RegisterDemoTargets(reg); err != nil {
		st.Close()
		return nil, fmt.Errorf("register targets: %w", err)
	}

	sess := &session{cfg: cfg, store: st, registry: reg}

	if cfg.RedisAddr != "" {
		var opts []stats.RedisOption
		if cfg.RedisPrefix != "" {
			opts = append(opts, stats.WithKeyPrefix(cfg.RedisPrefix))
		}
		rs, err := stats.NewRedisStore(cfg.RedisAddr, opts...)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("connect stats sink: %w", err)
		}
		sess.redis = rs
		sess.stats = rs
	} else {
		sess.stats = stats.NewMemoryStore()
	}

	sess.engine = engine.New(st, reg, &engine.UUIDv7Generator{},
		engine.WithLogger(slog.Default()),
		engine.WithStats(sess.stats),
		engine.WithMaxSteps(cfg.MaxSteps),
	)

	return sess, nil
}

// loadInto compiles the manifest directory and installs it on the
// session's engine, backing undeclared chain targets with probes.
func (s *session) loadInto(dir string) error {
	result, errs := LoadManifests(dir, LoadModeFailFast)
	if len(errs) > 0 {
		return errs[0]
	}
	if err := engine.EnsureChainTargets(s.registry, result.Chains); err != nil {
		return fmt.Errorf("back chain targets: %w", err)
	}
	if err := s.engine.RegisterManifest(result.Decorators, result.Chains, result.ManifestHash); err != nil {
		return fmt.Errorf("register manifest: %w", err)
	}
	return nil
}

// dispatch runs the engine loop just long enough to process whatever the
// submit callback enqueues, then shuts the loop down and waits for it.
func (s *session) dispatch(ctx context.Context, submit func() error) error {
	runErr := make(chan error, 1)
	go func() { runErr <- s.engine.Run(ctx) }()

	submitErr := submit()
	if submitErr == nil {
		submitErr = s.engine.Drain(ctx)
	}
	s.engine.Stop()

	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return submitErr
}

// Close releases the journal and any Redis connection.
func (s *session) Close() {
	if s.redis != nil {
		s.redis.Close()
	}
	s.store.Close()
}
