package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/garland/internal/ir"
)

// keyedPattern matches keyed("arg_name")
var keyedPattern = regexp.MustCompile(`^keyed\("([^"]+)"\)$`)

// CompileChain parses a CUE value into a ChainRule.
//
// The CUE value should be the chain struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`chain: "chain-greet": { ... }`)
//	rule, err := CompileChain(v.LookupPath(cue.ParsePath(`chain."chain-greet"`)))
func CompileChain(v cue.Value) (*ir.ChainRule, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rule := &ir.ChainRule{}

	// Parse chain ID from struct label
	// e.g., `chain: "chain-greet" { ... }` → id is "chain-greet"
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		rule.ID = unquoteLabel(labels[len(labels)-1].String())
	}

	// Parse target reference (required)
	targetVal := v.LookupPath(cue.ParsePath("target"))
	if !targetVal.Exists() {
		return nil, &CompileError{
			Field:   "target",
			Message: "chain requires a 'target' field",
			Pos:     v.Pos(),
		}
	}
	target, err := targetVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	rule.Target = target

	// Parse scope (optional, defaults to per-token at runtime)
	rule.Scope, err = parseScope(v)
	if err != nil {
		return nil, err
	}

	// Parse use references (optional)
	useVal := v.LookupPath(cue.ParsePath("use"))
	if useVal.Exists() {
		iter, err := useVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			ref, err := iter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			rule.Use = append(rule.Use, ref)
		}
	}

	// Parse decorator names (optional when use is present)
	decoratorsVal := v.LookupPath(cue.ParsePath("decorators"))
	if decoratorsVal.Exists() {
		iter, err := decoratorsVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			name, err := iter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			rule.Decorators = append(rule.Decorators, name)
		}
	}

	// A chain that neither stacks decorators nor uses another chain
	// decorates nothing.
	if len(rule.Decorators) == 0 && len(rule.Use) == 0 {
		return nil, &CompileError{
			Field:   "decorators",
			Message: "chain requires at least one decorator or use reference",
			Pos:     v.Pos(),
		}
	}

	return rule, nil
}

// parseScope extracts and validates the scope specification.
// Absent scope compiles to the zero spec; the engine treats that as
// per-token.
func parseScope(v cue.Value) (ir.ScopeSpec, error) {
	scopeVal := v.LookupPath(cue.ParsePath("scope"))
	if !scopeVal.Exists() {
		return ir.ScopeSpec{}, nil
	}

	scopeStr, err := scopeVal.String()
	if err != nil {
		return ir.ScopeSpec{}, formatCUEError(err)
	}

	// Check for keyed("arg") pattern
	if matches := keyedPattern.FindStringSubmatch(scopeStr); matches != nil {
		return ir.ScopeSpec{
			Mode: "keyed",
			Key:  matches[1],
		}, nil
	}

	// Check for simple modes: token, global
	if !ir.ValidScopeModes[scopeStr] || scopeStr == "keyed" {
		return ir.ScopeSpec{}, &CompileError{
			Field:   "scope",
			Message: fmt.Sprintf("invalid scope %q, must be \"token\", \"global\", or keyed(\"arg\")", scopeStr),
			Pos:     scopeVal.Pos(),
		}
	}

	return ir.ScopeSpec{Mode: scopeStr}, nil
}

// unquoteLabel strips the quotes CUE keeps on string labels, so
// `chain: "chain-greet"` yields the ID chain-greet.
func unquoteLabel(label string) string {
	return strings.Trim(label, `"`)
}
