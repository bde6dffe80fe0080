package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/garland/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation

	// TargetSpec errors (E101-E109)
	ErrTargetNoOutcomes   = "E101" // target must have outcomes
	ErrInvalidFieldType   = "E102" // invalid type string
	ErrDuplicateName      = "E103" // duplicate target/decorator/chain/outcome/arg name
	ErrFloatTypeForbidden = "E104" // float types not allowed
	ErrMissingField       = "E105" // required field missing

	// DecoratorSpec errors (E110-E119)
	ErrUnknownDecoratorKind  = "E110" // kind not a built-in decorator
	ErrInvalidDecoratorParam = "E111" // param missing or wrong type for the kind

	// ChainRule errors (E120-E129)
	ErrInvalidScopeMode    = "E120" // invalid scope mode or missing keyed key
	ErrUnknownDecoratorRef = "E121" // chain references undeclared decorator
	ErrUnknownTargetRef    = "E122" // chain references undeclared target
	ErrChainTargetConflict = "E123" // two chains bound to one target
	ErrUnknownUseRef       = "E124" // use references undeclared chain
	ErrChainUseCycle       = "E125" // use references form a cycle
	ErrEmptyChain          = "E126" // chain has no decorators and no use refs
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates compiled IR against schema rules.
// Returns all errors found (does not fail-fast).
// Supports TargetSpec, DecoratorSpec, and ChainRule types.
func Validate(v any) []ValidationError {
	switch spec := v.(type) {
	case *ir.TargetSpec:
		return validateTargetSpec(spec)
	case ir.TargetSpec:
		return validateTargetSpec(&spec)
	case *ir.DecoratorSpec:
		return validateDecoratorSpec(spec)
	case ir.DecoratorSpec:
		return validateDecoratorSpec(&spec)
	case *ir.ChainRule:
		return validateChainRule(spec)
	case ir.ChainRule:
		return validateChainRule(&spec)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

// validateTargetSpec validates a target specification.
func validateTargetSpec(spec *ir.TargetSpec) []ValidationError {
	var errs []ValidationError

	// E105: name is required
	if strings.TrimSpace(spec.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "target name is required",
			Code:    ErrMissingField,
		})
	}

	// E101: at least one outcome required
	if len(spec.Outcomes) == 0 {
		errs = append(errs, ValidationError{
			Field:   "outcomes",
			Message: "at least one outcome is required",
			Code:    ErrTargetNoOutcomes,
		})
	}

	// Track names for duplicate detection
	outcomeNames := make(map[string]bool)
	argNames := make(map[string]bool)

	for i, out := range spec.Outcomes {
		// E103: duplicate outcome name
		if outcomeNames[out.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("outcomes[%d].name", i),
				Message: fmt.Sprintf("duplicate outcome name: %q", out.Name),
				Code:    ErrDuplicateName,
			})
		}
		outcomeNames[out.Name] = true

		// Validate outcome field types
		for fieldName, fieldType := range out.Fields {
			typeErrs := validateFieldType(fieldType, fmt.Sprintf("outcomes[%d].fields.%s", i, fieldName), fieldName)
			errs = append(errs, typeErrs...)
		}
	}

	for i, arg := range spec.Args {
		// E103: duplicate arg name
		if argNames[arg.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("args[%d].name", i),
				Message: fmt.Sprintf("duplicate arg name: %q", arg.Name),
				Code:    ErrDuplicateName,
			})
		}
		argNames[arg.Name] = true

		typeErrs := validateFieldType(arg.Type, fmt.Sprintf("args[%d].type", i), arg.Name)
		errs = append(errs, typeErrs...)
	}

	return errs
}

// validateFieldType validates a type string, returning errors for invalid types and floats.
func validateFieldType(fieldType, fieldPath, fieldName string) []ValidationError {
	var errs []ValidationError

	// E102: check for valid type
	if !ir.ValidTypes[fieldType] {
		errs = append(errs, ValidationError{
			Field:   fieldPath,
			Message: fmt.Sprintf("invalid type %q for field %q", fieldType, fieldName),
			Code:    ErrInvalidFieldType,
		})
	}

	// E104: float forbidden (explicit check even if not in valid types)
	if isFloatType(fieldType) {
		errs = append(errs, ValidationError{
			Field:   fieldPath,
			Message: fmt.Sprintf("float type forbidden for field %q, use int instead", fieldName),
			Code:    ErrFloatTypeForbidden,
		})
	}

	return errs
}

// validateDecoratorSpec validates a decorator specification.
func validateDecoratorSpec(spec *ir.DecoratorSpec) []ValidationError {
	var errs []ValidationError

	// E105: name is required
	if strings.TrimSpace(spec.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "decorator name is required",
			Code:    ErrMissingField,
		})
	}

	// E110: kind must be a built-in
	if !ir.ValidDecoratorKinds[spec.Kind] {
		errs = append(errs, ValidationError{
			Field:   "kind",
			Message: fmt.Sprintf("unknown decorator kind %q, must be one of: log, trace, tag, stub, throttle, count, time", spec.Kind),
			Code:    ErrUnknownDecoratorKind,
		})
		return errs
	}

	// E111: per-kind param rules
	switch spec.Kind {
	case "tag":
		label, ok := spec.Params["label"].(ir.String)
		if !ok || label == "" {
			errs = append(errs, ValidationError{
				Field:   "params.label",
				Message: `tag decorator requires a non-empty string "label" param`,
				Code:    ErrInvalidDecoratorParam,
			})
		}
	case "stub":
		if raw, exists := spec.Params["result"]; exists {
			if _, ok := raw.(ir.Object); !ok {
				errs = append(errs, ValidationError{
					Field:   "params.result",
					Message: `stub "result" param must be an object`,
					Code:    ErrInvalidDecoratorParam,
				})
			}
		}
		if raw, exists := spec.Params["outcome"]; exists {
			if _, ok := raw.(ir.String); !ok {
				errs = append(errs, ValidationError{
					Field:   "params.outcome",
					Message: `stub "outcome" param must be a string`,
					Code:    ErrInvalidDecoratorParam,
				})
			}
		}
	case "throttle":
		rps, ok := spec.Params["rps"].(ir.Int)
		if !ok || rps <= 0 {
			errs = append(errs, ValidationError{
				Field:   "params.rps",
				Message: `throttle decorator requires a positive int "rps" param`,
				Code:    ErrInvalidDecoratorParam,
			})
		}
		if raw, exists := spec.Params["burst"]; exists {
			burst, ok := raw.(ir.Int)
			if !ok || burst <= 0 {
				errs = append(errs, ValidationError{
					Field:   "params.burst",
					Message: `throttle "burst" param must be a positive int`,
					Code:    ErrInvalidDecoratorParam,
				})
			}
		}
	}

	return errs
}

// validateChainRule validates a single chain rule.
// Cross-chain checks (refs, cycles, target conflicts) live in
// ValidateManifest.
func validateChainRule(rule *ir.ChainRule) []ValidationError {
	var errs []ValidationError

	// E105: id and target are required
	if strings.TrimSpace(rule.ID) == "" {
		errs = append(errs, ValidationError{
			Field:   "id",
			Message: "chain id is required",
			Code:    ErrMissingField,
		})
	}
	if strings.TrimSpace(rule.Target) == "" {
		errs = append(errs, ValidationError{
			Field:   "target",
			Message: "chain target is required",
			Code:    ErrMissingField,
		})
	}

	// E120: validate scope mode (empty means per-token)
	if rule.Scope.Mode != "" && !ir.ValidScopeModes[rule.Scope.Mode] {
		errs = append(errs, ValidationError{
			Field:   "scope.mode",
			Message: fmt.Sprintf("invalid scope mode %q, must be \"token\", \"global\", or \"keyed\"", rule.Scope.Mode),
			Code:    ErrInvalidScopeMode,
		})
	}

	// E120: keyed scope must have non-empty key
	if rule.Scope.Mode == "keyed" && strings.TrimSpace(rule.Scope.Key) == "" {
		errs = append(errs, ValidationError{
			Field:   "scope.key",
			Message: "keyed scope requires a non-empty key field",
			Code:    ErrInvalidScopeMode,
		})
	}

	// E126: chain must decorate something
	if len(rule.Decorators) == 0 && len(rule.Use) == 0 {
		errs = append(errs, ValidationError{
			Field:   "decorators",
			Message: "chain requires at least one decorator or use reference",
			Code:    ErrEmptyChain,
		})
	}

	return errs
}

// ValidateManifest validates a complete compiled manifest: per-entity
// rules plus the cross-entity checks only the whole picture can answer
// (duplicate names, dangling references, one chain per target, use
// cycles). Returns all errors found.
func ValidateManifest(targets []ir.TargetSpec, decorators []ir.DecoratorSpec, chains []ir.ChainRule) []ValidationError {
	var errs []ValidationError

	targetNames := make(map[string]bool)
	for i := range targets {
		for _, e := range validateTargetSpec(&targets[i]) {
			e.Field = fmt.Sprintf("target.%s.%s", targets[i].Name, e.Field)
			errs = append(errs, e)
		}

		// E103: duplicate target name
		if targetNames[targets[i].Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("target.%s", targets[i].Name),
				Message: fmt.Sprintf("duplicate target name: %q", targets[i].Name),
				Code:    ErrDuplicateName,
			})
		}
		targetNames[targets[i].Name] = true
	}

	decoratorNames := make(map[string]bool)
	for i := range decorators {
		for _, e := range validateDecoratorSpec(&decorators[i]) {
			e.Field = fmt.Sprintf("decorator.%s.%s", decorators[i].Name, e.Field)
			errs = append(errs, e)
		}

		// E103: duplicate decorator name
		if decoratorNames[decorators[i].Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("decorator.%s", decorators[i].Name),
				Message: fmt.Sprintf("duplicate decorator name: %q", decorators[i].Name),
				Code:    ErrDuplicateName,
			})
		}
		decoratorNames[decorators[i].Name] = true
	}

	chainIDs := make(map[string]bool)
	chainByTarget := make(map[string]string)
	for i := range chains {
		rule := &chains[i]

		for _, e := range validateChainRule(rule) {
			e.Field = fmt.Sprintf("chain.%s.%s", rule.ID, e.Field)
			errs = append(errs, e)
		}

		// E103: duplicate chain ID
		if chainIDs[rule.ID] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("chain.%s", rule.ID),
				Message: fmt.Sprintf("duplicate chain id: %q", rule.ID),
				Code:    ErrDuplicateName,
			})
		}
		chainIDs[rule.ID] = true

		// E123: at most one chain per target
		if prev, bound := chainByTarget[rule.Target]; bound {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("chain.%s.target", rule.ID),
				Message: fmt.Sprintf("target %q bound by both chain %q and chain %q", rule.Target, prev, rule.ID),
				Code:    ErrChainTargetConflict,
			})
		} else {
			chainByTarget[rule.Target] = rule.ID
		}

		// E122: chain target must be declared when the manifest declares
		// targets at all. A chains-only manifest binds to code-registered
		// targets and skips this check.
		if len(targets) > 0 && !targetNames[rule.Target] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("chain.%s.target", rule.ID),
				Message: fmt.Sprintf("chain references undeclared target %q", rule.Target),
				Code:    ErrUnknownTargetRef,
			})
		}

		// E121: decorator refs must be declared
		for j, name := range rule.Decorators {
			if !decoratorNames[name] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("chain.%s.decorators[%d]", rule.ID, j),
					Message: fmt.Sprintf("chain references undeclared decorator %q", name),
					Code:    ErrUnknownDecoratorRef,
				})
			}
		}
	}

	// E124: use refs must name declared chains
	for i := range chains {
		for j, ref := range chains[i].Use {
			if !chainIDs[ref] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("chain.%s.use[%d]", chains[i].ID, j),
					Message: fmt.Sprintf("use references undeclared chain %q", ref),
					Code:    ErrUnknownUseRef,
				})
			}
		}
	}

	// E125: use refs must not cycle
	for _, cycle := range FindUseCycles(chains) {
		errs = append(errs, ValidationError{
			Field:   fmt.Sprintf("chain.%s.use", cycle[0]),
			Message: fmt.Sprintf("use cycle detected: %s", strings.Join(cycle, " -> ")),
			Code:    ErrChainUseCycle,
		})
	}

	return errs
}

// isFloatType checks if a type string represents a float type.
func isFloatType(t string) bool {
	floatTypes := map[string]bool{
		"float":   true,
		"float32": true,
		"float64": true,
		"number":  true,
		"double":  true,
	}
	return floatTypes[t]
}
