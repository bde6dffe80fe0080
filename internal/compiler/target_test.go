package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/garland/internal/ir"
)

func TestCompileTargetBasic(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		target: greet: {
			doc: "say hello to someone"

			args: {
				who: string
			}

			outcomes: [{
				case: "Ok"
				fields: { greeting: string }
			}]
		}
	`)

	require.NoError(t, v.Err())
	targetVal := v.LookupPath(cue.ParsePath("target.greet"))

	spec, err := CompileTarget(targetVal)
	require.NoError(t, err)

	assert.Equal(t, "greet", spec.Name)
	assert.Equal(t, "say hello to someone", spec.Doc)
	require.Len(t, spec.Args, 1)
	assert.Equal(t, ir.NamedArg{Name: "who", Type: "string"}, spec.Args[0])
	require.Len(t, spec.Outcomes, 1)
	assert.Equal(t, "Ok", spec.Outcomes[0].Name)
	assert.Equal(t, map[string]string{"greeting": "string"}, spec.Outcomes[0].Fields)
}

func TestCompileTargetMultipleOutcomes(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		target: shout: {
			doc: "repeat a word at volume"

			args: {
				who:   string
				times: int
			}

			outcomes: [
				{ case: "Ok", fields: { text: string } },
				{ case: "TooLoud", fields: { limit: int, requested: int } },
			]
		}
	`)

	require.NoError(t, v.Err())
	spec, err := CompileTarget(v.LookupPath(cue.ParsePath("target.shout")))
	require.NoError(t, err)

	assert.Equal(t, "shout", spec.Name)
	require.Len(t, spec.Args, 2)
	require.Len(t, spec.Outcomes, 2)
	assert.Equal(t, "TooLoud", spec.Outcomes[1].Name)
	assert.Equal(t, map[string]string{"limit": "int", "requested": "int"}, spec.Outcomes[1].Fields)
}

func TestCompileTargetDocOptional(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		target: Foo: {
			outcomes: [{ case: "Ok", fields: { name: string } }]
		}
	`)

	require.NoError(t, v.Err())
	spec, err := CompileTarget(v.LookupPath(cue.ParsePath("target.Foo")))
	require.NoError(t, err)

	assert.Equal(t, "Foo", spec.Name)
	assert.Empty(t, spec.Doc)
	assert.Empty(t, spec.Args)
}

func TestCompileTargetMissingOutcomes(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		target: bad: {
			doc: "has no outcomes"
			args: { id: string }
		}
	`)

	require.NoError(t, v.Err())
	_, err := CompileTarget(v.LookupPath(cue.ParsePath("target.bad")))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "outcomes")
	assert.Contains(t, err.Error(), "required")
}

func TestCompileTargetRejectsFloatArg(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		target: bad: {
			args: { amount: float }
			outcomes: [{ case: "Ok", fields: {} }]
		}
	`)

	require.NoError(t, v.Err())
	_, err := CompileTarget(v.LookupPath(cue.ParsePath("target.bad")))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "float")
	assert.Contains(t, err.Error(), "forbidden")
}

func TestCompileTargetRejectsFloatOutcomeField(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		target: bad: {
			outcomes: [{
				case: "Ok"
				fields: { score: float }
			}]
		}
	`)

	require.NoError(t, v.Err())
	_, err := CompileTarget(v.LookupPath(cue.ParsePath("target.bad")))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "float")
}

func TestCompileTargetCompositeTypes(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		target: batch: {
			args: {
				items:  [...string]
				config: { retries: int }
				dry:    bool
			}
			outcomes: [{ case: "Ok", fields: { report: {...} } }]
		}
	`)

	require.NoError(t, v.Err())
	spec, err := CompileTarget(v.LookupPath(cue.ParsePath("target.batch")))
	require.NoError(t, err)

	types := map[string]string{}
	for _, arg := range spec.Args {
		types[arg.Name] = arg.Type
	}
	assert.Equal(t, map[string]string{"items": "array", "config": "object", "dry": "bool"}, types)
	assert.Equal(t, map[string]string{"report": "object"}, spec.Outcomes[0].Fields)
}

func TestCompileErrorFormatting(t *testing.T) {
	err := &CompileError{
		Field:   "outcomes",
		Message: "at least one outcome is required",
	}
	assert.Equal(t, "outcomes: at least one outcome is required", err.Error())
}
