// Package queryfilter defines the expression language behind the trace
// command's --where flag.
//
// A filter is a conjunction of comparisons over journal columns:
//
//	target == "greet"
//	outcome != "Err" && seq > 3
//	token == "tok-7f3a" && target == "shout"
//
// GRAMMAR:
//
// Filters are parsed as CUE expressions, the same syntax the manifest
// compiler already speaks. Only a small fragment is accepted:
//
//	filter     = comparison { "&&" comparison }
//	comparison = column op literal
//	op         = "==" | "!=" | "<" | ">"
//	literal    = quoted string | integer
//
// Parentheses group as usual. The fragment excludes:
//   - || (run the trace command twice instead)
//   - negation and regex matching
//   - floats (journal values are content-addressed; filters follow the
//     same value discipline as call arguments)
//   - comparisons between two columns
//
// COLUMNS:
//
// The journal exposes four filterable columns:
//
//	target   string   declared target name
//	outcome  string   outcome variant of the journaled result
//	seq      int      logical clock position
//	token    string   dispatch token grouping one request
//
// Ordering comparisons (< and >) apply to integer columns only, which
// means seq. A call whose dispatch is still pending has no result row
// and never matches an outcome comparison.
//
// SEALED INTERFACES:
//
// Expr is a sealed interface using the marker method pattern. Only
// Compare and And implement it, so consumers can type switch
// exhaustively:
//
//	switch e := expr.(type) {
//	case queryfilter.Compare:
//	    // single column comparison
//	case queryfilter.And:
//	    // conjunction
//	}
//
// Parse produces the Expr tree, Validate checks columns and literal
// types, and the querysql package compiles the result to a
// parameterized WHERE fragment. Literal values never reach SQL text
// directly.
package queryfilter
