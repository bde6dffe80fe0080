package harness

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/garland/internal/compiler"
	"github.com/roach88/garland/internal/ir"
)

// compiledManifest is the merged result of compiling a scenario's
// manifest files.
type compiledManifest struct {
	Targets    []ir.TargetSpec
	Decorators []ir.DecoratorSpec
	Chains     []ir.ChainRule
	Hash       string
}

// loadManifestFiles compiles each listed CUE file and merges the
// declarations. Files compile independently rather than as one CUE
// instance; duplicate declarations across files surface when the
// merged manifest is installed on the engine. The hash covers the
// concatenated sources in list order.
func loadManifestFiles(paths []string) (*compiledManifest, error) {
	ctx := cuecontext.New()
	manifest := &compiledManifest{}

	var src []byte
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read manifest %s: %w", path, err)
		}
		src = append(src, data...)

		value := ctx.CompileBytes(data, cue.Filename(path))
		if err := value.Err(); err != nil {
			return nil, fmt.Errorf("compile manifest %s: %w", path, err)
		}
		if err := collectManifest(manifest, value); err != nil {
			return nil, fmt.Errorf("manifest %s: %w", path, err)
		}
	}

	manifest.Hash = ir.HashManifestSource(src)
	return manifest, nil
}

// collectManifest appends the target, decorator, and chain
// declarations found in one compiled manifest value.
func collectManifest(manifest *compiledManifest, value cue.Value) error {
	targets := value.LookupPath(cue.ParsePath("target"))
	if targets.Exists() {
		iter, err := targets.Fields()
		if err != nil {
			return fmt.Errorf("iterating targets: %w", err)
		}
		for iter.Next() {
			spec, err := compiler.CompileTarget(iter.Value())
			if err != nil {
				return fmt.Errorf("target.%s: %w", iter.Label(), err)
			}
			manifest.Targets = append(manifest.Targets, *spec)
		}
	}

	decorators := value.LookupPath(cue.ParsePath("decorator"))
	if decorators.Exists() {
		iter, err := decorators.Fields()
		if err != nil {
			return fmt.Errorf("iterating decorators: %w", err)
		}
		for iter.Next() {
			spec, err := compiler.CompileDecorator(iter.Value())
			if err != nil {
				return fmt.Errorf("decorator.%s: %w", iter.Label(), err)
			}
			manifest.Decorators = append(manifest.Decorators, *spec)
		}
	}

	chains := value.LookupPath(cue.ParsePath("chain"))
	if chains.Exists() {
		iter, err := chains.Fields()
		if err != nil {
			return fmt.Errorf("iterating chains: %w", err)
		}
		for iter.Next() {
			rule, err := compiler.CompileChain(iter.Value())
			if err != nil {
				return fmt.Errorf("chain.%s: %w", iter.Label(), err)
			}
			manifest.Chains = append(manifest.Chains, *rule)
		}
	}

	return nil
}
