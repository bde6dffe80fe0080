package ir

// TargetSpec represents a compiled target declaration: a named callable
// with typed arguments and outcome variants.
type TargetSpec struct {
	Name     string        `json:"name"`
	Doc      string        `json:"doc"`
	Args     []NamedArg    `json:"args"`
	Outcomes []OutcomeSpec `json:"outcomes"`
}

// OutcomeSpec represents a typed outcome variant (success or error).
type OutcomeSpec struct {
	Name   string            `json:"name"`   // "Ok", "Throttled", etc.
	Fields map[string]string `json:"fields"` // field name -> type name
}

// NamedArg represents a named argument with type.
type NamedArg struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// DecoratorSpec represents a compiled decorator declaration.
// Kind selects the built-in behavior; Params configure it.
type DecoratorSpec struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Params Object `json:"params,omitempty"`
}

// ChainRule binds an ordered decorator stack to a target.
// Decorators apply outermost-first in declaration order, so the rule reads
// like stacked decorators above a function definition.
type ChainRule struct {
	ID         string    `json:"id"`
	Target     string    `json:"target"`
	Scope      ScopeSpec `json:"scope"`
	Decorators []string  `json:"decorators"`
	Use        []string  `json:"use,omitempty"` // other chain IDs spliced in before Decorators
}

// ScopeSpec defines the scoping mode for a chain rule.
type ScopeSpec struct {
	Mode string `json:"mode"`          // "token", "global", or "keyed"
	Key  string `json:"key,omitempty"` // arg name for keyed mode
}

// ValidScopeModes defines allowed scope modes.
var ValidScopeModes = map[string]bool{
	"token":  true,
	"global": true,
	"keyed":  true,
}

// Call represents a dispatched call record.
type Call struct {
	ID            string `json:"id"` // Content-addressed hash
	Token         string `json:"token"`
	Target        string `json:"target"`
	Args          Object `json:"args"` // Constrained to Value types
	Seq           int64  `json:"seq"`  // Logical clock
	Meta          Meta   `json:"meta"` // Always present
	ManifestHash  string `json:"manifest_hash"`
	EngineVersion string `json:"engine_version"`
	IRVersion     string `json:"ir_version"`
}

// Result represents a call result record.
type Result struct {
	ID      string `json:"id"` // Content-addressed hash
	CallID  string `json:"call_id"`
	Outcome string `json:"outcome"` // "Ok", error variant
	Output  Object `json:"output"`  // Constrained to Value types
	Seq     int64  `json:"seq"`     // Logical clock
	Meta    Meta   `json:"meta"`    // Always present
}

// Meta carries audit metadata on every Call and Result.
// MUST be non-pointer and always present.
type Meta struct {
	Origin   string   `json:"origin"` // "cli", "engine", "harness"
	Operator string   `json:"operator"`
	Labels   []string `json:"labels"`
}
