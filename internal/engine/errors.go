package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected during dispatch.
//
// Runtime errors include:
//   - Unknown target: Submitted call names a target nobody registered
//   - Unknown chain: A chain rule references a decorator that doesn't exist
//   - Reentry: Same (chain, hash) would fire twice in a scope bucket
//   - Quota exceeded: Trace exceeds max steps limit
//   - Store: The journal rejected a write
//
// RuntimeError includes structured fields for diagnostics and recovery.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Token identifies the affected trace.
	Token string

	// Target identifies the call target (for unknown_target errors).
	Target string

	// ChainID identifies the chain rule (for reentry/unknown_chain errors).
	ChainID string

	// ChainHash identifies the specific arguments (for reentry errors).
	ChainHash string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnknownTarget indicates the call names an unregistered target.
	ErrCodeUnknownTarget RuntimeErrorCode = "unknown_target"

	// ErrCodeUnknownChain indicates a chain references a missing decorator.
	ErrCodeUnknownChain RuntimeErrorCode = "unknown_chain"

	// ErrCodeReentry indicates the same (chain, hash) would fire twice.
	ErrCodeReentry RuntimeErrorCode = "reentry"

	// ErrCodeQuotaExceeded indicates the trace exceeded max steps.
	ErrCodeQuotaExceeded RuntimeErrorCode = "quota"

	// ErrCodeStore indicates the journal rejected a write.
	ErrCodeStore RuntimeErrorCode = "store"

	// ErrCodeCanceled indicates the dispatch context was canceled.
	ErrCodeCanceled RuntimeErrorCode = "canceled"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Token != "" && e.ChainID != "" {
		return fmt.Sprintf("%s: %s (token=%s, chain=%s)", e.Code, e.Message, e.Token, e.ChainID)
	}
	if e.Token != "" && e.Target != "" {
		return fmt.Sprintf("%s: %s (token=%s, target=%s)", e.Code, e.Message, e.Token, e.Target)
	}
	if e.Token != "" {
		return fmt.Sprintf("%s: %s (token=%s)", e.Code, e.Message, e.Token)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As chains.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsUnknownTargetError returns true if the error is an unknown target error.
// Uses errors.As to handle wrapped errors.
func IsUnknownTargetError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeUnknownTarget
	}
	return false
}

// IsUnknownChainError returns true if the error is an unknown chain error.
// Uses errors.As to handle wrapped errors.
func IsUnknownChainError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeUnknownChain
	}
	return false
}

// IsReentryError returns true if the error is a reentry detection error.
// Uses errors.As to handle wrapped errors.
func IsReentryError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeReentry
	}
	return false
}

// IsQuotaError returns true if the error is a quota exceeded error.
// Matches both RuntimeError with ErrCodeQuotaExceeded and StepsExceededError.
// Uses errors.As to handle wrapped errors.
func IsQuotaError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeQuotaExceeded
	}
	var se *StepsExceededError
	return errors.As(err, &se)
}

// IsStoreError returns true if the error is a journal write error.
// Uses errors.As to handle wrapped errors.
func IsStoreError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeStore
	}
	return false
}

// NewUnknownTargetError creates a RuntimeError for an unregistered target.
func NewUnknownTargetError(token, target string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownTarget,
		Message: fmt.Sprintf("no registered target %q", target),
		Token:   token,
		Target:  target,
	}
}

// NewUnknownChainError creates a RuntimeError for a chain that references
// a decorator nobody declared.
func NewUnknownChainError(token, chainID, decorator string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownChain,
		Message: fmt.Sprintf("chain references unknown decorator %q", decorator),
		Token:   token,
		ChainID: chainID,
		Details: map[string]string{
			"decorator": decorator,
		},
	}
}

// NewReentryError creates a RuntimeError for reentry detection.
func NewReentryError(token, chainID, chainHash string) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeReentry,
		Message:   "chain would fire same arguments twice in scope",
		Token:     token,
		ChainID:   chainID,
		ChainHash: chainHash,
	}
}

// NewQuotaError creates a RuntimeError for quota exceeded.
func NewQuotaError(token string, steps, maxSteps int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeQuotaExceeded,
		Message: fmt.Sprintf("trace exceeded max steps (%d >= %d)", steps, maxSteps),
		Token:   token,
		Details: map[string]string{
			"steps":     fmt.Sprintf("%d", steps),
			"max_steps": fmt.Sprintf("%d", maxSteps),
		},
	}
}

// NewStoreError creates a RuntimeError wrapping a journal write failure.
func NewStoreError(token string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeStore,
		Message: err.Error(),
		Token:   token,
		Err:     err,
	}
}

// NewCanceledError creates a RuntimeError for a dispatch cut short by
// context cancellation.
func NewCanceledError(token, target string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeCanceled,
		Message: err.Error(),
		Token:   token,
		Target:  target,
		Err:     err,
	}
}
