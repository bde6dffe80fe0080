package ir

// TargetRef is a typed reference to a registered target.
// Format: bare target name, e.g. "greet".
type TargetRef string

// DecoratorRef is a typed reference to a declared decorator.
type DecoratorRef struct {
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
}
