package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// ValidTypes defines the allowed type strings for target args and outcome
// fields. NO "float" - records are content-addressed and float formatting
// is not byte-stable.
var ValidTypes = map[string]bool{
	"string": true,
	"int":    true,
	"bool":   true,
	"array":  true,
	"object": true,
}

// ValidDecoratorKinds defines the built-in decorator kinds.
var ValidDecoratorKinds = map[string]bool{
	"log":      true,
	"trace":    true,
	"tag":      true,
	"stub":     true,
	"throttle": true,
	"count":    true,
	"time":     true,
}

// ValidationError represents a validation error with field path and message.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks TargetSpec against schema rules.
// Returns all errors (not fail-fast) for better developer experience.
func (t *TargetSpec) Validate() []ValidationError {
	var errs []ValidationError

	// Rule: At least one outcome required
	if len(t.Outcomes) == 0 {
		errs = append(errs, ValidationError{
			Field:   "outcomes",
			Message: "at least one outcome is required",
		})
	}

	// Rule: Unique outcome names
	seenOutcomes := make(map[string]bool)
	for i, out := range t.Outcomes {
		if seenOutcomes[out.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("outcomes[%d].name", i),
				Message: fmt.Sprintf("duplicate outcome name: %q", out.Name),
			})
		}
		seenOutcomes[out.Name] = true

		// Validate field types within OutcomeSpec
		for fieldName, fieldType := range out.Fields {
			if !ValidTypes[fieldType] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("outcomes[%d].fields.%s", i, fieldName),
					Message: fmt.Sprintf("invalid type %q, must be one of: string, int, bool, array, object", fieldType),
				})
			}
		}
	}

	// Rule: Unique arg names, valid arg types
	seenArgs := make(map[string]bool)
	for i, arg := range t.Args {
		if seenArgs[arg.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("args[%d].name", i),
				Message: fmt.Sprintf("duplicate arg name: %q", arg.Name),
			})
		}
		seenArgs[arg.Name] = true

		if !ValidTypes[arg.Type] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("args[%d].type", i),
				Message: fmt.Sprintf("invalid type %q for arg %q, must be one of: string, int, bool, array, object", arg.Type, arg.Name),
			})
		}
	}

	return errs
}

// Validate checks DecoratorSpec against per-kind parameter rules.
// Returns all errors (not fail-fast).
func (d *DecoratorSpec) Validate() []ValidationError {
	var errs []ValidationError

	if d.Name == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "decorator name is required",
		})
	}

	if !ValidDecoratorKinds[d.Kind] {
		errs = append(errs, ValidationError{
			Field:   "kind",
			Message: fmt.Sprintf("unknown decorator kind %q, must be one of: log, trace, tag, stub, throttle, count, time", d.Kind),
		})
		return errs
	}

	switch d.Kind {
	case "tag":
		label, ok := d.Params["label"].(String)
		if !ok || label == "" {
			errs = append(errs, ValidationError{
				Field:   "params.label",
				Message: `tag decorator requires a non-empty string "label" param`,
			})
		}
	case "stub":
		if raw, exists := d.Params["result"]; exists {
			if _, ok := raw.(Object); !ok {
				errs = append(errs, ValidationError{
					Field:   "params.result",
					Message: `stub "result" param must be an object`,
				})
			}
		}
		if raw, exists := d.Params["outcome"]; exists {
			if _, ok := raw.(String); !ok {
				errs = append(errs, ValidationError{
					Field:   "params.outcome",
					Message: `stub "outcome" param must be a string`,
				})
			}
		}
	case "throttle":
		rps, ok := d.Params["rps"].(Int)
		if !ok || rps <= 0 {
			errs = append(errs, ValidationError{
				Field:   "params.rps",
				Message: `throttle decorator requires a positive int "rps" param`,
			})
		}
		if raw, exists := d.Params["burst"]; exists {
			burst, ok := raw.(Int)
			if !ok || burst <= 0 {
				errs = append(errs, ValidationError{
					Field:   "params.burst",
					Message: `throttle "burst" param must be a positive int`,
				})
			}
		}
	}

	return errs
}

// MarshalJSON produces JSON with sorted keys for determinism.
// Fields are in alphabetical order: args, doc, name, outcomes.
// NOTE: this is NOT canonical marshaling. Use MarshalCanonical for hashing.
func (t TargetSpec) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString(`"args":`)
	argsBytes, err := json.Marshal(t.Args)
	if err != nil {
		return nil, err
	}
	buf.Write(argsBytes)

	buf.WriteString(`,"doc":`)
	docBytes, err := json.Marshal(t.Doc)
	if err != nil {
		return nil, err
	}
	buf.Write(docBytes)

	buf.WriteString(`,"name":`)
	nameBytes, err := json.Marshal(t.Name)
	if err != nil {
		return nil, err
	}
	buf.Write(nameBytes)

	buf.WriteString(`,"outcomes":`)
	outcomesBytes, err := marshalOutcomeSpecs(t.Outcomes)
	if err != nil {
		return nil, err
	}
	buf.Write(outcomesBytes)

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalOutcomeSpecs marshals a slice of OutcomeSpec with sorted keys.
func marshalOutcomeSpecs(outcomes []OutcomeSpec) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')

	for i, out := range outcomes {
		if i > 0 {
			buf.WriteByte(',')
		}
		outBytes, err := out.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(outBytes)
	}

	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// MarshalJSON produces JSON with sorted field keys for determinism.
// Fields are in order: fields (sorted by RFC 8785), name.
func (o OutcomeSpec) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString(`"fields":{`)

	keys := make([]string, 0, len(o.Fields))
	for k := range o.Fields {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)

	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		valBytes, err := json.Marshal(o.Fields[k])
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		buf.Write(valBytes)
	}
	buf.WriteString(`},"name":`)

	nameBytes, err := json.Marshal(o.Name)
	if err != nil {
		return nil, err
	}
	buf.Write(nameBytes)

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON produces JSON with sorted keys for NamedArg.
// Fields are in order: name, type (alphabetical).
func (n NamedArg) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString(`"name":`)
	nameBytes, err := json.Marshal(n.Name)
	if err != nil {
		return nil, err
	}
	buf.Write(nameBytes)

	buf.WriteString(`,"type":`)
	typeBytes, err := json.Marshal(n.Type)
	if err != nil {
		return nil, err
	}
	buf.Write(typeBytes)

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
