package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/garland/internal/ir"
)

// Target is an invokable function the engine can dispatch to. Targets are
// registered in code; manifests only declare which decorators wrap them.
//
// Invoke returns a domain outcome name and structured output on success.
// The error return is for infrastructure failure only: a target that wants
// to report a domain-level failure returns it as an outcome, not an error.
type Target interface {
	Name() string
	Doc() string
	Invoke(ctx context.Context, args ir.Object) (outcome string, output ir.Object, err error)
}

// TargetFunc adapts a plain function into a Target.
type TargetFunc struct {
	name string
	doc  string
	fn   func(ctx context.Context, args ir.Object) (string, ir.Object, error)
}

func NewTargetFunc(name, doc string, fn func(ctx context.Context, args ir.Object) (string, ir.Object, error)) *TargetFunc {
	return &TargetFunc{name: name, doc: doc, fn: fn}
}

func (t *TargetFunc) Name() string { return t.name }

func (t *TargetFunc) Doc() string { return t.doc }

func (t *TargetFunc) Invoke(ctx context.Context, args ir.Object) (string, ir.Object, error) {
	return t.fn(ctx, args)
}

// Registry holds the targets available for dispatch, keyed by name.
type Registry struct {
	mu      sync.RWMutex
	targets map[string]Target
}

func NewRegistry() *Registry {
	return &Registry{targets: make(map[string]Target)}
}

// Register adds a target. Returns an error if a target with the same name
// is already registered.
func (r *Registry) Register(t Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.targets[name]; exists {
		return fmt.Errorf("target already registered: %s", name)
	}
	r.targets[name] = t
	return nil
}

// Lookup returns the target with the given name, or false if none exists.
func (r *Registry) Lookup(name string) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[name]
	return t, ok
}

// Names returns all registered target names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
