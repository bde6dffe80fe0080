package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/garland/internal/ir"
	"github.com/roach88/garland/internal/queryfilter"
)

// columnSQL is the identifier allow-list. Filter columns map to
// qualified columns of the journal's trace join, calls aliased as c
// and results as r. Only these identifiers ever appear in generated
// SQL; every literal binds through a ? placeholder.
var columnSQL = map[string]string{
	"outcome": "r.outcome",
	"seq":     "c.seq",
	"target":  "c.target",
	"token":   "c.token",
}

// opSQL maps filter operators to their SQL spelling.
var opSQL = map[queryfilter.Op]string{
	queryfilter.OpEq: "=",
	queryfilter.OpNe: "!=",
	queryfilter.OpLt: "<",
	queryfilter.OpGt: ">",
}

// Compile converts a filter expression to a SQL WHERE fragment.
// Returns (fragment, params, error).
//
// The fragment plugs into Store.ReadCallsWhere, which queries calls
// LEFT JOINed against results. Literal values are never interpolated
// into the fragment; they come back in params, one per ? placeholder,
// in placeholder order.
func Compile(expr queryfilter.Expr) (string, []any, error) {
	if expr == nil {
		return "", nil, fmt.Errorf("cannot compile nil filter")
	}

	switch e := expr.(type) {
	case queryfilter.Compare:
		return compileCompare(e)
	case *queryfilter.Compare:
		return compileCompare(*e)
	case queryfilter.And:
		return compileAnd(e)
	case *queryfilter.And:
		return compileAnd(*e)
	default:
		return "", nil, fmt.Errorf("unsupported expression type: %T", expr)
	}
}

// compileCompare compiles one comparison to "<column> <op> ?".
// The literal is always parameterized, never interpolated.
func compileCompare(cmp queryfilter.Compare) (string, []any, error) {
	col, ok := columnSQL[cmp.Column]
	if !ok {
		return "", nil, fmt.Errorf("column %q is not in the filter allow-list", cmp.Column)
	}

	op, ok := opSQL[cmp.Op]
	if !ok {
		return "", nil, fmt.Errorf("unknown operator %q", string(cmp.Op))
	}

	param, err := literalToParam(cmp.Value)
	if err != nil {
		return "", nil, fmt.Errorf("column %q: %w", cmp.Column, err)
	}

	return fmt.Sprintf("%s %s ?", col, op), []any{param}, nil
}

// compileAnd joins sub expressions with AND, collecting parameters in
// placeholder order.
func compileAnd(and queryfilter.And) (string, []any, error) {
	if len(and.Exprs) == 0 {
		return "1 = 1", nil, nil // matches everything
	}

	var fragments []string
	var params []any

	for _, sub := range and.Exprs {
		sql, subParams, err := Compile(sub)
		if err != nil {
			return "", nil, err
		}
		fragments = append(fragments, sql)
		params = append(params, subParams...)
	}

	return strings.Join(fragments, " AND "), params, nil
}

// literalToParam converts a filter literal to a driver-friendly value.
// Journal filter columns are text and integer, so only ir.String and
// ir.Int convert.
func literalToParam(v ir.Value) (any, error) {
	switch val := v.(type) {
	case ir.String:
		return string(val), nil
	case ir.Int:
		return int64(val), nil
	default:
		return nil, fmt.Errorf("unsupported literal type for SQL parameter: %T", v)
	}
}
