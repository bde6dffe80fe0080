package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/garland/internal/ir"
)

func TestCompileChainBasic(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		chain: "chain-greet": {
			target: "greet"
			decorators: ["log-all", "tag-custom"]
		}
	`)

	require.NoError(t, v.Err())
	rule, err := CompileChain(v.LookupPath(cue.ParsePath(`chain."chain-greet"`)))
	require.NoError(t, err)

	assert.Equal(t, "chain-greet", rule.ID)
	assert.Equal(t, "greet", rule.Target)
	assert.Equal(t, []string{"log-all", "tag-custom"}, rule.Decorators)
	assert.Empty(t, rule.Use)
	assert.Empty(t, rule.Scope.Mode, "absent scope compiles to the zero spec")
}

func TestCompileChainScopeModes(t *testing.T) {
	tests := []struct {
		name  string
		scope string
		want  ir.ScopeSpec
	}{
		{"token", `scope: "token"`, ir.ScopeSpec{Mode: "token"}},
		{"global", `scope: "global"`, ir.ScopeSpec{Mode: "global"}},
		{"keyed", `scope: "keyed(\"who\")"`, ir.ScopeSpec{Mode: "keyed", Key: "who"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := cuecontext.New()
			v := ctx.CompileString(`
				chain: "c": {
					target: "greet"
					` + tt.scope + `
					decorators: ["log-all"]
				}
			`)

			require.NoError(t, v.Err())
			rule, err := CompileChain(v.LookupPath(cue.ParsePath(`chain."c"`)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, rule.Scope)
		})
	}
}

func TestCompileChainInvalidScope(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		chain: "c": {
			target: "greet"
			scope: "flow"
			decorators: ["log-all"]
		}
	`)

	require.NoError(t, v.Err())
	_, err := CompileChain(v.LookupPath(cue.ParsePath(`chain."c"`)))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid scope")
	assert.Contains(t, err.Error(), "flow")
}

func TestCompileChainBareKeyedIsInvalid(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		chain: "c": {
			target: "greet"
			scope: "keyed"
			decorators: ["log-all"]
		}
	`)

	require.NoError(t, v.Err())
	_, err := CompileChain(v.LookupPath(cue.ParsePath(`chain."c"`)))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid scope")
}

func TestCompileChainMissingTarget(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		chain: "c": {
			decorators: ["log-all"]
		}
	`)

	require.NoError(t, v.Err())
	_, err := CompileChain(v.LookupPath(cue.ParsePath(`chain."c"`)))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "target")
}

func TestCompileChainUseReferences(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		chain: "chain-greet": {
			target: "greet"
			use: ["chain-base"]
			decorators: ["tag-nested"]
		}
	`)

	require.NoError(t, v.Err())
	rule, err := CompileChain(v.LookupPath(cue.ParsePath(`chain."chain-greet"`)))
	require.NoError(t, err)

	assert.Equal(t, []string{"chain-base"}, rule.Use)
	assert.Equal(t, []string{"tag-nested"}, rule.Decorators)
}

func TestCompileChainUseOnly(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		chain: "alias": {
			target: "shout"
			use: ["chain-base"]
		}
	`)

	require.NoError(t, v.Err())
	rule, err := CompileChain(v.LookupPath(cue.ParsePath(`chain."alias"`)))
	require.NoError(t, err)

	assert.Empty(t, rule.Decorators)
	assert.Equal(t, []string{"chain-base"}, rule.Use)
}

func TestCompileChainEmpty(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		chain: "hollow": {
			target: "greet"
		}
	`)

	require.NoError(t, v.Err())
	_, err := CompileChain(v.LookupPath(cue.ParsePath(`chain."hollow"`)))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one decorator or use reference")
}
