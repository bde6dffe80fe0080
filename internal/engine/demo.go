package engine

import (
	"context"
	"strings"

	"github.com/roach88/garland/internal/ir"
)

// shoutLimit is the loudest repetition shout accepts before refusing.
const shoutLimit = 10

// RegisterDemoTargets adds the built-in demonstration targets to a
// registry: greet, shout, and the probe targets Foo and Bar. The demo
// command dispatches these through the stock manifests.
func RegisterDemoTargets(reg *Registry) error {
	targets := []Target{
		NewTargetFunc("greet", "say hello to someone", greetTarget),
		NewTargetFunc("shout", "repeat a word at volume", shoutTarget),
		NewProbeTarget("Foo"),
		NewProbeTarget("Bar"),
	}
	for _, t := range targets {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func greetTarget(ctx context.Context, args ir.Object) (string, ir.Object, error) {
	who := stringArg(args, "who", "world")
	return "Ok", ir.Object{
		"greeting": ir.String("Hello, " + who + "!"),
	}, nil
}

func shoutTarget(ctx context.Context, args ir.Object) (string, ir.Object, error) {
	who := stringArg(args, "who", "world")
	times := intArg(args, "times", 1)

	if times > shoutLimit {
		return "TooLoud", ir.Object{
			"limit":     ir.Int(shoutLimit),
			"requested": ir.Int(times),
		}, nil
	}

	return "Ok", ir.Object{
		"text": ir.String(strings.ToUpper(who) + strings.Repeat("!", int(times))),
	}, nil
}

// EnsureChainTargets backs every chain target missing from the registry
// with a probe target. Manifests can then bind chains to names that have
// no registered function yet; dispatching such a target exercises the
// full chain and journals a probe result instead of failing with an
// unknown-target error.
func EnsureChainTargets(reg *Registry, chains []ir.ChainRule) error {
	for _, c := range chains {
		if _, ok := reg.Lookup(c.Target); ok {
			continue
		}
		if err := reg.Register(NewProbeTarget(c.Target)); err != nil {
			return err
		}
	}
	return nil
}

// ProbeTarget is a target that does nothing but report its own name. The
// pair Foo and Bar exist so the name accessor surface can be demonstrated
// and listed without side effects.
type ProbeTarget struct {
	name string
}

func NewProbeTarget(name string) *ProbeTarget {
	return &ProbeTarget{name: name}
}

func (p *ProbeTarget) Name() string { return p.name }

func (p *ProbeTarget) Doc() string { return "probe target reporting its own name" }

func (p *ProbeTarget) Invoke(ctx context.Context, args ir.Object) (string, ir.Object, error) {
	return "Ok", ir.Object{
		"name": ir.String(p.name),
	}, nil
}

// stringArg reads a string arg with a fallback for missing or mistyped
// values. Demo targets tolerate loose args; declared manifests validate
// them upstream.
func stringArg(args ir.Object, key, fallback string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(ir.String); ok {
			return string(s)
		}
	}
	return fallback
}

func intArg(args ir.Object, key string, fallback int64) int64 {
	if v, ok := args[key]; ok {
		if n, ok := v.(ir.Int); ok {
			return int64(n)
		}
	}
	return fallback
}
