package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/garland/internal/ir"
)

// CompileDecorator parses a CUE value into a DecoratorSpec.
//
// The CUE value should be the decorator struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`decorator: "tag-custom": { ... }`)
//	spec, err := CompileDecorator(v.LookupPath(cue.ParsePath(`decorator."tag-custom"`)))
func CompileDecorator(v cue.Value) (*ir.DecoratorSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.DecoratorSpec{}

	// Parse decorator name from struct label
	// e.g., `decorator: "tag-custom": { ... }` → name is "tag-custom"
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = unquoteLabel(labels[len(labels)-1].String())
	}

	// Parse kind (required)
	kindVal := v.LookupPath(cue.ParsePath("kind"))
	if !kindVal.Exists() {
		return nil, &CompileError{
			Field:   "kind",
			Message: "decorator kind is required",
			Pos:     v.Pos(),
		}
	}
	kind, err := kindVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	spec.Kind = kind

	// Parse params (optional struct of constrained values)
	paramsVal := v.LookupPath(cue.ParsePath("params"))
	if paramsVal.Exists() {
		params, err := objectFromCUE(paramsVal)
		if err != nil {
			return nil, err
		}
		spec.Params = params
	}

	return spec, nil
}

// objectFromCUE converts a concrete CUE struct into an IR Object.
func objectFromCUE(v cue.Value) (ir.Object, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	obj := ir.Object{}
	for iter.Next() {
		val, err := valueFromCUE(iter.Value())
		if err != nil {
			return nil, err
		}
		obj[iter.Label()] = val
	}
	return obj, nil
}

// valueFromCUE converts a concrete CUE value into the constrained IR
// value universe. Floats are rejected, same as everywhere else records
// are content-addressed.
func valueFromCUE(v cue.Value) (ir.Value, error) {
	switch v.Kind() {
	case cue.NullKind:
		return ir.Null{}, nil

	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.String(s), nil

	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Int(n), nil

	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bool(b), nil

	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.Array{}
		for iter.Next() {
			elem, err := valueFromCUE(iter.Value())
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil

	case cue.StructKind:
		return objectFromCUE(v)

	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Field:   "params",
			Message: "float values are forbidden - use int instead",
			Pos:     v.Pos(),
		}

	default:
		return nil, &CompileError{
			Field:   "params",
			Message: fmt.Sprintf("unsupported value kind: %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}
