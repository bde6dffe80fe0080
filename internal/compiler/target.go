package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/garland/internal/ir"
)

// CompileTarget parses a CUE value into a TargetSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the target struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`target: greet: { ... }`)
//	spec, err := CompileTarget(v.LookupPath(cue.ParsePath("target.greet")))
func CompileTarget(v cue.Value) (*ir.TargetSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.TargetSpec{}

	// Parse target name from struct label (the path selector)
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = unquoteLabel(labels[len(labels)-1].String())
	}

	// Parse doc (optional)
	docVal := v.LookupPath(cue.ParsePath("doc"))
	if docVal.Exists() {
		doc, err := docVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		spec.Doc = doc
	}

	// Parse args (optional, can be empty)
	var err error
	spec.Args, err = parseArgs(v)
	if err != nil {
		return nil, err
	}

	// Parse outcomes (required, at least one)
	spec.Outcomes, err = parseOutcomes(v)
	if err != nil {
		return nil, err
	}
	if len(spec.Outcomes) == 0 {
		return nil, &CompileError{
			Field:   "outcomes",
			Message: "at least one outcome is required",
			Pos:     v.Pos(),
		}
	}

	return spec, nil
}

// parseArgs extracts the typed argument list from the target.
func parseArgs(v cue.Value) ([]ir.NamedArg, error) {
	var args []ir.NamedArg

	argsVal := v.LookupPath(cue.ParsePath("args"))
	if !argsVal.Exists() {
		return args, nil // args are optional
	}

	iter, err := argsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		argName := iter.Label()
		argType, err := extractTypeName(iter.Value())
		if err != nil {
			return nil, err
		}
		args = append(args, ir.NamedArg{
			Name: argName,
			Type: argType,
		})
	}

	return args, nil
}

// parseOutcomes extracts the outcome variants from the target.
func parseOutcomes(v cue.Value) ([]ir.OutcomeSpec, error) {
	var outcomes []ir.OutcomeSpec

	outcomesVal := v.LookupPath(cue.ParsePath("outcomes"))
	if !outcomesVal.Exists() {
		return outcomes, nil
	}

	iter, err := outcomesVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		outVal := iter.Value()

		caseName, err := outVal.LookupPath(cue.ParsePath("case")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}

		outcome := ir.OutcomeSpec{
			Name:   caseName,
			Fields: make(map[string]string),
		}

		fieldsVal := outVal.LookupPath(cue.ParsePath("fields"))
		if fieldsVal.Exists() {
			fieldsIter, err := fieldsVal.Fields()
			if err != nil {
				return nil, formatCUEError(err)
			}

			for fieldsIter.Next() {
				fieldName := fieldsIter.Label()
				fieldType, err := extractTypeName(fieldsIter.Value())
				if err != nil {
					return nil, err
				}
				outcome.Fields[fieldName] = fieldType
			}
		}

		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

// extractTypeName converts a CUE type to an IR type string.
// Floats are forbidden: records are content-addressed and float
// formatting is not byte-stable.
func extractTypeName(v cue.Value) (string, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return "string", nil
	case cue.IntKind:
		return "int", nil
	case cue.BoolKind:
		return "bool", nil
	case cue.ListKind:
		return "array", nil
	case cue.StructKind:
		return "object", nil
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   "type",
			Message: "float types are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
