package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/garland/internal/ir"
	"github.com/roach88/garland/internal/queryfilter"
)

func TestCompile_SingleComparison(t *testing.T) {
	sql, params, err := Compile(queryfilter.Compare{
		Column: "target",
		Op:     queryfilter.OpEq,
		Value:  ir.String("greet"),
	})
	require.NoError(t, err)

	assert.Equal(t, "c.target = ?", sql)
	assert.Equal(t, []any{"greet"}, params)
}

func TestCompile_PointerNodes(t *testing.T) {
	sql, params, err := Compile(&queryfilter.Compare{
		Column: "seq",
		Op:     queryfilter.OpGt,
		Value:  ir.Int(3),
	})
	require.NoError(t, err)

	assert.Equal(t, "c.seq > ?", sql)
	assert.Equal(t, []any{int64(3)}, params)
}

func TestCompile_Operators(t *testing.T) {
	cases := []struct {
		op   queryfilter.Op
		want string
	}{
		{queryfilter.OpEq, "c.seq = ?"},
		{queryfilter.OpNe, "c.seq != ?"},
		{queryfilter.OpLt, "c.seq < ?"},
		{queryfilter.OpGt, "c.seq > ?"},
	}

	for _, tc := range cases {
		t.Run(string(tc.op), func(t *testing.T) {
			sql, _, err := Compile(queryfilter.Compare{Column: "seq", Op: tc.op, Value: ir.Int(1)})
			require.NoError(t, err)
			assert.Equal(t, tc.want, sql)
		})
	}
}

func TestCompile_QualifiedColumns(t *testing.T) {
	cases := []struct {
		column string
		value  ir.Value
		want   string
	}{
		{"target", ir.String("greet"), "c.target = ?"},
		{"outcome", ir.String("Ok"), "r.outcome = ?"},
		{"token", ir.String("tok-1"), "c.token = ?"},
		{"seq", ir.Int(1), "c.seq = ?"},
	}

	for _, tc := range cases {
		t.Run(tc.column, func(t *testing.T) {
			sql, _, err := Compile(queryfilter.Compare{Column: tc.column, Op: queryfilter.OpEq, Value: tc.value})
			require.NoError(t, err)
			assert.Equal(t, tc.want, sql)
		})
	}
}

func TestCompile_Conjunction(t *testing.T) {
	sql, params, err := Compile(queryfilter.And{Exprs: []queryfilter.Expr{
		queryfilter.Compare{Column: "target", Op: queryfilter.OpEq, Value: ir.String("greet")},
		queryfilter.Compare{Column: "seq", Op: queryfilter.OpGt, Value: ir.Int(3)},
	}})
	require.NoError(t, err)

	assert.Equal(t, "c.target = ? AND c.seq > ?", sql)
	assert.Equal(t, []any{"greet", int64(3)}, params)
}

func TestCompile_NestedConjunction(t *testing.T) {
	inner := queryfilter.And{Exprs: []queryfilter.Expr{
		queryfilter.Compare{Column: "seq", Op: queryfilter.OpGt, Value: ir.Int(1)},
		queryfilter.Compare{Column: "seq", Op: queryfilter.OpLt, Value: ir.Int(9)},
	}}

	sql, params, err := Compile(queryfilter.And{Exprs: []queryfilter.Expr{
		queryfilter.Compare{Column: "token", Op: queryfilter.OpEq, Value: ir.String("tok-1")},
		inner,
	}})
	require.NoError(t, err)

	assert.Equal(t, "c.token = ? AND c.seq > ? AND c.seq < ?", sql)
	assert.Equal(t, []any{"tok-1", int64(1), int64(9)}, params)
}

func TestCompile_EmptyConjunction(t *testing.T) {
	sql, params, err := Compile(queryfilter.And{})
	require.NoError(t, err)

	assert.Equal(t, "1 = 1", sql)
	assert.Empty(t, params)
}

func TestCompile_NoStringInterpolation(t *testing.T) {
	// A value that would be dangerous if interpolated.
	dangerous := "'; DROP TABLE calls; --"

	sql, params, err := Compile(queryfilter.Compare{
		Column: "target",
		Op:     queryfilter.OpEq,
		Value:  ir.String(dangerous),
	})
	require.NoError(t, err)

	assert.NotContains(t, sql, dangerous, "literals must never be interpolated into SQL")
	assert.Equal(t, []any{dangerous}, params)
	assert.Contains(t, sql, "= ?")
}

func TestCompile_NilFilter(t *testing.T) {
	_, _, err := Compile(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil filter")
}

func TestCompile_UnknownColumn(t *testing.T) {
	_, _, err := Compile(queryfilter.Compare{
		Column: "meta",
		Op:     queryfilter.OpEq,
		Value:  ir.String("x"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allow-list")
}

func TestCompile_UnknownOperator(t *testing.T) {
	_, _, err := Compile(queryfilter.Compare{
		Column: "seq",
		Op:     queryfilter.Op(">="),
		Value:  ir.Int(1),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown operator")
}

func TestCompile_UnsupportedLiteral(t *testing.T) {
	_, _, err := Compile(queryfilter.Compare{
		Column: "target",
		Op:     queryfilter.OpEq,
		Value:  ir.Bool(true),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SQL parameter")
}

func TestCompile_ParsedFilter(t *testing.T) {
	expr, err := queryfilter.Parse(`target == "greet" && seq > 3`)
	require.NoError(t, err)
	require.NoError(t, queryfilter.Validate(expr))

	sql, params, err := Compile(expr)
	require.NoError(t, err)

	assert.Equal(t, "c.target = ? AND c.seq > ?", sql)
	assert.Equal(t, []any{"greet", int64(3)}, params)
}
