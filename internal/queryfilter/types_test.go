package queryfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/garland/internal/ir"
)

func TestCompare_Construction(t *testing.T) {
	cmp := Compare{
		Column: "target",
		Op:     OpEq,
		Value:  ir.String("greet"),
	}

	assert.Equal(t, "target", cmp.Column)
	assert.Equal(t, OpEq, cmp.Op)
	assert.Equal(t, ir.String("greet"), cmp.Value)
}

func TestCompare_ImplementsExpr(t *testing.T) {
	var e Expr = Compare{Column: "seq", Op: OpGt, Value: ir.Int(3)}
	assert.NotNil(t, e)

	// Sealed interface - type switches cover every implementation.
	switch e.(type) {
	case Compare:
		// Expected
	case And:
		t.Fatal("unexpected type")
	}
}

func TestAnd_Construction(t *testing.T) {
	and := And{Exprs: []Expr{
		Compare{Column: "target", Op: OpEq, Value: ir.String("greet")},
		Compare{Column: "seq", Op: OpLt, Value: ir.Int(10)},
	}}

	assert.Len(t, and.Exprs, 2)
}

func TestAnd_ImplementsExpr(t *testing.T) {
	var e Expr = And{Exprs: []Expr{
		Compare{Column: "outcome", Op: OpNe, Value: ir.String("Err")},
	}}
	assert.NotNil(t, e)
}

func TestAnd_Nested(t *testing.T) {
	inner := And{Exprs: []Expr{
		Compare{Column: "outcome", Op: OpNe, Value: ir.String("Err")},
	}}
	outer := And{Exprs: []Expr{
		Compare{Column: "token", Op: OpEq, Value: ir.String("tok-1")},
		inner,
	}}

	assert.Len(t, outer.Exprs, 2)
	assert.IsType(t, And{}, outer.Exprs[1])
}

func TestOp_SurfaceSyntax(t *testing.T) {
	assert.Equal(t, Op("=="), OpEq)
	assert.Equal(t, Op("!="), OpNe)
	assert.Equal(t, Op("<"), OpLt)
	assert.Equal(t, Op(">"), OpGt)
}
