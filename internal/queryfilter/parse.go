package queryfilter

import (
	"fmt"
	"strconv"
	"strings"

	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/literal"
	"cuelang.org/go/cue/parser"
	"cuelang.org/go/cue/token"

	"github.com/roach88/garland/internal/ir"
)

// opForToken maps CUE comparison tokens to filter operators.
var opForToken = map[token.Token]Op{
	token.EQL: OpEq,
	token.NEQ: OpNe,
	token.LSS: OpLt,
	token.GTR: OpGt,
}

// Parse reads a --where string into an expression tree.
//
// The input is parsed with the CUE expression grammar and then
// restricted to the filter fragment: column comparisons joined by &&.
// Parse covers syntax only; run Validate on the result to check column
// names and literal types.
func Parse(input string) (Expr, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("empty filter expression")
	}

	parsed, err := parser.ParseExpr("--where", input)
	if err != nil {
		return nil, fmt.Errorf("parse filter: %w", err)
	}

	return fromAST(parsed)
}

// fromAST converts a CUE expression into a filter Expr, rejecting
// everything outside the fragment.
func fromAST(node ast.Expr) (Expr, error) {
	switch n := node.(type) {
	case *ast.ParenExpr:
		return fromAST(n.X)

	case *ast.BinaryExpr:
		if n.Op == token.LAND {
			return conjunctionFromAST(n)
		}
		if _, ok := opForToken[n.Op]; ok {
			return compareFromAST(n)
		}
		return nil, fmt.Errorf("unsupported operator %q: filters use ==, !=, <, > and &&", n.Op.String())

	default:
		return nil, fmt.Errorf("filter must be a comparison or a && conjunction")
	}
}

// conjunctionFromAST flattens a && tree into a single And node, so
// grouping parentheses never change the shape of the result.
func conjunctionFromAST(n *ast.BinaryExpr) (Expr, error) {
	left, err := fromAST(n.X)
	if err != nil {
		return nil, err
	}
	right, err := fromAST(n.Y)
	if err != nil {
		return nil, err
	}

	var exprs []Expr
	if and, ok := left.(And); ok {
		exprs = append(exprs, and.Exprs...)
	} else {
		exprs = append(exprs, left)
	}
	if and, ok := right.(And); ok {
		exprs = append(exprs, and.Exprs...)
	} else {
		exprs = append(exprs, right)
	}

	return And{Exprs: exprs}, nil
}

// compareFromAST converts one comparison node. The column sits on the
// left, the literal on the right.
func compareFromAST(n *ast.BinaryExpr) (Expr, error) {
	col, ok := n.X.(*ast.Ident)
	if !ok {
		return nil, fmt.Errorf("left side of a comparison must be a column name")
	}

	val, err := literalFromAST(n.Y)
	if err != nil {
		return nil, fmt.Errorf("comparison on %q: %w", col.Name, err)
	}

	return Compare{Column: col.Name, Op: opForToken[n.Op], Value: val}, nil
}

// literalFromAST converts the right side of a comparison. Only quoted
// strings and integers appear in filters.
func literalFromAST(node ast.Expr) (ir.Value, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		switch n.Kind {
		case token.STRING:
			s, err := literal.Unquote(n.Value)
			if err != nil {
				return nil, fmt.Errorf("bad string literal %s: %w", n.Value, err)
			}
			return ir.String(s), nil
		case token.INT:
			i, err := strconv.ParseInt(n.Value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bad integer literal %s: %w", n.Value, err)
			}
			return ir.Int(i), nil
		case token.FLOAT:
			return nil, fmt.Errorf("float literals are forbidden - use int instead")
		default:
			return nil, fmt.Errorf("literal must be a quoted string or an integer")
		}

	case *ast.UnaryExpr:
		if n.Op != token.SUB {
			return nil, fmt.Errorf("literal must be a quoted string or an integer")
		}
		inner, err := literalFromAST(n.X)
		if err != nil {
			return nil, err
		}
		i, ok := inner.(ir.Int)
		if !ok {
			return nil, fmt.Errorf("only integers can be negated")
		}
		return ir.Int(-int64(i)), nil

	case *ast.Ident:
		return nil, fmt.Errorf("unquoted literal %s: strings need double quotes", n.Name)

	default:
		return nil, fmt.Errorf("literal must be a quoted string or an integer")
	}
}
