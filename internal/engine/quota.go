package engine

import (
	"errors"
	"fmt"
)

// QuotaEnforcer tracks the number of dispatches per trace token and
// enforces a maximum steps limit.
//
// Each token has its own QuotaEnforcer instance. The quota is checked
// on every dispatch before the chain runs.
//
// This catches runaway traces where many distinct calls pile up under
// one token (linear explosion), as opposed to repeated identical calls
// caught by the reentry guard.
//
// DISTINCTION from reentry detection:
//   - Reentry guard: catches the same chain firing again (A → A)
//   - Max-steps quota: catches linear explosions (A → B → C → ... → Z)
//
// Together they guarantee a trace terminates.
type QuotaEnforcer struct {
	maxSteps int // Maximum allowed steps for this trace
	current  int // Current step count
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit.
//
// maxSteps: Maximum number of dispatches allowed per trace token.
// Typical default: 1000 (configurable via engine.WithMaxSteps())
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{
		maxSteps: maxSteps,
		current:  0,
	}
}

// Check increments the step counter and validates against the limit.
//
// Returns StepsExceededError if the quota is exceeded.
// This should be called before dispatching each call.
func (q *QuotaEnforcer) Check(token string) error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{
			Token: token,
			Steps: q.current,
			Limit: q.maxSteps,
		}
	}
	return nil
}

// Reset resets the step counter to 0.
// Used when reusing the same enforcer for a fresh trace (rare).
func (q *QuotaEnforcer) Reset() {
	q.current = 0
}

// Current returns the current step count.
// Used for logging and diagnostics.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the maximum steps limit.
// Used for logging and diagnostics.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError is returned when a trace exceeds the max steps quota.
//
// This error terminates the trace. Unlike a reentry rejection (which
// skips the one firing), quota exceeded stops dispatching under the token.
type StepsExceededError struct {
	Token string // The trace token that exceeded the quota
	Steps int    // Number of steps taken
	Limit int    // Maximum allowed steps
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("trace %s exceeded max steps quota: %d steps > %d limit",
		e.Token, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
// Uses errors.As to handle wrapped errors.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
