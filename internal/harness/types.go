package harness

import (
	"fmt"

	"github.com/roach88/garland/internal/ir"
)

// Trace event type markers.
const (
	EventCall   = "call"
	EventResult = "result"
)

// TraceEvent is one journaled record in sequence order. Call events
// carry the target and args; result events carry the outcome and
// output, plus the target of the call they answer.
type TraceEvent struct {
	Type    string    `json:"type"` // "call" or "result"
	Seq     int64     `json:"seq"`
	Target  string    `json:"target,omitempty"`
	Args    ir.Object `json:"args,omitempty"`
	Outcome string    `json:"outcome,omitempty"`
	Output  ir.Object `json:"output,omitempty"`
}

// Result is the outcome of running one scenario.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains the journaled calls and results in sequence order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists every expectation and assertion failure.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Log holds the engine's log lines, one per entry.
	Log []string `json:"log,omitempty"`

	// Stats is the counter snapshot after the run. Keys are whatever
	// the manifest's count decorators incremented, typically target
	// names.
	Stats map[string]int64 `json:"stats,omitempty"`
}

// NewResult creates a passing result; recorded failures flip it.
func NewResult() *Result {
	return &Result{
		Pass:  true,
		Trace: []TraceEvent{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}
