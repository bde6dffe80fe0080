package engine

import (
	"fmt"

	"github.com/roach88/garland/internal/ir"
)

// ScopeMode defines the bucket within which the reentry guard tracks a
// chain's firings.
type ScopeMode string

const (
	// ScopeModeToken tracks firings per trace token (default).
	// This is the safest mode - a chain may fire once per distinct
	// argument set within each trace.
	ScopeModeToken ScopeMode = "token"

	// ScopeModeGlobal tracks firings across all traces.
	// Requires explicit opt-in via `scope: "global"` in the chain rule.
	// Use for process-wide once-only dispatches such as deduplication.
	ScopeModeGlobal ScopeMode = "global"

	// ScopeModeKeyed tracks firings per value of a named argument.
	// Allows cross-trace coordination within entity boundaries.
	// Use for per-user or per-session once-only dispatches.
	ScopeModeKeyed ScopeMode = "keyed"
)

// ValidateScopeMode checks if mode is a valid scope mode.
// Returns error if mode is not one of: token, global, keyed.
func ValidateScopeMode(mode string) error {
	switch ScopeMode(mode) {
	case ScopeModeToken, ScopeModeGlobal, ScopeModeKeyed:
		return nil
	case "":
		// Empty is valid - will default to token
		return nil
	default:
		return fmt.Errorf("invalid scope mode %q: must be token, global, or keyed", mode)
	}
}

// DefaultScope returns the default scope spec (token mode).
// The default is per-token so chains on unrelated traces never collide.
func DefaultScope() ir.ScopeSpec {
	return ir.ScopeSpec{
		Mode: string(ScopeModeToken),
	}
}

// NormalizeScope ensures a scope spec has a valid mode.
// Returns the scope with defaulted mode if empty.
func NormalizeScope(scope ir.ScopeSpec) ir.ScopeSpec {
	if scope.Mode == "" {
		scope.Mode = string(ScopeModeToken)
	}
	return scope
}

// reentryBucket computes the reentry guard bucket for a dispatch.
//
// Token mode buckets by trace token, global mode shares one bucket for
// the whole process, and keyed mode buckets by the canonical form of the
// named argument's value.
func reentryBucket(scope ir.ScopeSpec, token string, args ir.Object) (string, error) {
	scope = NormalizeScope(scope)
	if err := ValidateScopeMode(scope.Mode); err != nil {
		return "", err
	}

	switch ScopeMode(scope.Mode) {
	case ScopeModeToken:
		return token, nil

	case ScopeModeGlobal:
		return "global", nil

	case ScopeModeKeyed:
		value, err := extractKeyValue(args, scope.Key)
		if err != nil {
			return "", err
		}
		canonical, err := ir.MarshalCanonical(value)
		if err != nil {
			return "", fmt.Errorf("canonicalize key value for %q: %w", scope.Key, err)
		}
		return scope.Key + "=" + string(canonical), nil

	default:
		return "", fmt.Errorf("invalid scope mode %q", scope.Mode)
	}
}

// extractKeyValue extracts the key field value from call args.
// Returns error if key not found (required for keyed scope).
func extractKeyValue(args ir.Object, key string) (ir.Value, error) {
	if key == "" {
		return nil, fmt.Errorf("keyed scope requires non-empty key field")
	}

	value, exists := args[key]
	if !exists {
		return nil, fmt.Errorf("key field %q not found in call args (required for keyed scope)", key)
	}

	return value, nil
}
