package queryfilter

import "github.com/roach88/garland/internal/ir"

// Op identifies a comparison operator. The constants use the surface
// syntax of the filter language so parsed and hand-built expressions
// read the same way.
type Op string

const (
	OpEq Op = "=="
	OpNe Op = "!="
	OpLt Op = "<"
	OpGt Op = ">"
)

// Expr represents a node of a parsed trace filter.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and
// enables exhaustive type switches in the validator and the SQL
// compiler.
//
// Expr types:
//   - Compare: one journal column against a literal
//   - And: all sub expressions must match
type Expr interface {
	exprNode() // Marker method - seals interface to this package
}

// Compare matches a single journal column against a literal value.
//
// Example (conceptual SQL translation):
//
//	Compare{Column: "target", Op: OpEq, Value: ir.String("greet")}
//
// Translates to SQL:
//
//	target = ?    with parameter "greet"
//
// Value holds ir.String or ir.Int; the journal has no boolean or
// composite filter columns, and the validator rejects everything else.
type Compare struct {
	Column string   // journal column name (target, outcome, seq, token)
	Op     Op       // comparison operator
	Value  ir.Value // literal the column is compared against
}

func (Compare) exprNode() {}

// And is the conjunction of sub expressions. A row matches when every
// entry matches.
//
// Example (conceptual SQL translation):
//
//	And{Exprs: []Expr{
//	  Compare{Column: "target", Op: OpEq, Value: ir.String("greet")},
//	  Compare{Column: "seq", Op: OpGt, Value: ir.Int(3)},
//	}}
//
// Translates to SQL:
//
//	target = ? AND seq > ?
//
// Parse flattens nested conjunctions, so `a && b && c` becomes one And
// with three entries regardless of grouping.
type And struct {
	Exprs []Expr
}

func (And) exprNode() {}
