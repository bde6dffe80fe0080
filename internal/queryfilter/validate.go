package queryfilter

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/garland/internal/ir"
)

// columnType classifies what a journal column holds, which decides the
// literal types and operators a comparison may use.
type columnType int

const (
	columnText columnType = iota
	columnInt
)

// journalColumns is the set of filterable columns. The querysql
// package carries the matching identifier allow-list; the two must
// stay in step.
var journalColumns = map[string]columnType{
	"outcome": columnText,
	"seq":     columnInt,
	"target":  columnText,
	"token":   columnText,
}

// ColumnNames returns the filterable column names, sorted for error
// messages and help output.
func ColumnNames() []string {
	names := make([]string, 0, len(journalColumns))
	for name := range journalColumns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks a filter expression against the journal column set:
// known columns, matching literal types, ordering only on integer
// columns. Problems are collected across the whole expression before
// reporting, so a filter with two bad comparisons surfaces both.
func Validate(expr Expr) error {
	v := &validator{}
	v.validateExpr(expr)

	if len(v.problems) == 0 {
		return nil
	}
	return errors.New(strings.Join(v.problems, "; "))
}

// validator accumulates problems during traversal.
type validator struct {
	problems []string
}

// addProblem appends a problem message.
func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

// validateExpr recursively validates an expression node.
func (v *validator) validateExpr(e Expr) {
	if e == nil {
		v.addProblem("nil expression")
		return
	}

	switch expr := e.(type) {
	case Compare:
		v.validateCompare(expr)
	case *Compare:
		v.validateCompare(*expr)
	case And:
		v.validateAnd(expr)
	case *And:
		v.validateAnd(*expr)
	default:
		v.addProblem("unknown expression type %T", e)
	}
}

// validateCompare checks one comparison against the column registry.
func (v *validator) validateCompare(cmp Compare) {
	ct, known := journalColumns[cmp.Column]
	if !known {
		v.addProblem("unknown column %q: filters cover %s", cmp.Column, strings.Join(ColumnNames(), ", "))
		return
	}

	switch cmp.Op {
	case OpEq, OpNe:
	case OpLt, OpGt:
		if ct != columnInt {
			v.addProblem("operator %s on %q: ordering comparisons apply to integer columns only", cmp.Op, cmp.Column)
		}
	default:
		v.addProblem("unknown operator %q on column %q", string(cmp.Op), cmp.Column)
	}

	switch cmp.Value.(type) {
	case ir.String:
		if ct != columnText {
			v.addProblem("column %q compares against integer literals", cmp.Column)
		}
	case ir.Int:
		if ct != columnInt {
			v.addProblem("column %q compares against string literals", cmp.Column)
		}
	case nil:
		v.addProblem("column %q has no literal value", cmp.Column)
	default:
		v.addProblem("column %q compared against %T: literals must be string or int", cmp.Column, cmp.Value)
	}
}

// validateAnd recursively validates conjunction members.
func (v *validator) validateAnd(and And) {
	if len(and.Exprs) == 0 {
		v.addProblem("empty conjunction")
		return
	}
	for _, sub := range and.Exprs {
		v.validateExpr(sub)
	}
}
