package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/garland/internal/ir"
)

// marshalArgs converts an args Object to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON so the stored text matches the hashed bytes.
func marshalArgs(args ir.Object) (string, error) {
	data, err := ir.MarshalCanonical(args)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	return string(data), nil
}

// marshalOutput converts an output Object to canonical JSON TEXT for storage.
func marshalOutput(output ir.Object) (string, error) {
	data, err := ir.MarshalCanonical(output)
	if err != nil {
		return "", fmt.Errorf("marshal output: %w", err)
	}
	return string(data), nil
}

// marshalMeta converts Meta to JSON TEXT.
// Meta is a struct (not a Value), so we use json.Encoder with sorted map
// keys to keep the stored text stable for golden traces. Labels are
// normalized to an empty array so null never appears in the journal.
func marshalMeta(meta ir.Meta) (string, error) {
	labels := meta.Labels
	if labels == nil {
		labels = []string{}
	}

	m := map[string]any{
		"labels":   labels,
		"operator": meta.Operator,
		"origin":   meta.Origin,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return "", fmt.Errorf("marshal meta: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalArgs parses canonical JSON TEXT to an args Object.
// Uses ir.Object.UnmarshalJSON which handles large integers via json.Number
// to avoid float64 precision loss for values > 2^53.
func unmarshalArgs(data string) (ir.Object, error) {
	if data == "" || data == "{}" {
		return ir.Object{}, nil
	}
	var obj ir.Object
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	return obj, nil
}

// unmarshalOutput parses canonical JSON TEXT to an output Object.
func unmarshalOutput(data string) (ir.Object, error) {
	if data == "" || data == "{}" {
		return ir.Object{}, nil
	}
	var obj ir.Object
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal output: %w", err)
	}
	return obj, nil
}

// unmarshalMeta parses JSON TEXT to Meta.
func unmarshalMeta(data string) (ir.Meta, error) {
	var meta ir.Meta
	if data == "" || data == "{}" {
		return meta, nil
	}
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return ir.Meta{}, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}
