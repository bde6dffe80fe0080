package harness

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"github.com/roach88/garland/internal/ir"
	"github.com/roach88/garland/internal/store"
)

// AssertionError is returned when an assertion fails. It includes the
// full trace so a failure can be diagnosed from the message alone.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for context, may be nil
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  actual: %s", e.Actual)

	if len(e.Trace) > 0 {
		buf.WriteString("\n\nfull trace:\n")
		for _, event := range e.Trace {
			switch event.Type {
			case EventCall:
				fmt.Fprintf(&buf, "  [%d] call %s %s\n", event.Seq, event.Target, compactObject(event.Args))
			case EventResult:
				fmt.Fprintf(&buf, "  [%d] result %s %s %s\n", event.Seq, event.Target, event.Outcome, compactObject(event.Output))
			}
		}
	}

	return buf.String()
}

// compactObject renders an object on one line for failure messages.
func compactObject(obj ir.Object) string {
	if len(obj) == 0 {
		return "{}"
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return fmt.Sprintf("%v", obj)
	}
	return string(data)
}

// AssertionContext provides journal access for assertions that read
// past the trace the result already carries.
type AssertionContext struct {
	Ctx   context.Context
	Store *store.Store
	Token string
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns one message per failed assertion. The actx parameter gives
// firing_count access to the journaled chain firings.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFiringCount:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertions[%d]: firing_count requires journal context", i)
			} else {
				err = assertFiringCount(actx, assertion)
			}
		case AssertOutputPath:
			err = assertOutputPath(result.Trace, assertion)
		case AssertLogContains:
			err = assertLogContains(result.Log, assertion)
		case AssertStatsEqual:
			err = assertStatsEqual(result.Stats, assertion)
		default:
			err = fmt.Errorf("assertions[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			failures = append(failures, err.Error())
		}
	}

	return failures
}

// assertTraceContains checks that the trace has a call to the target
// whose args contain the asserted args (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	want, err := ir.FromInterfaceMap(assertion.Args)
	if err != nil {
		return fmt.Errorf("trace_contains args: %w", err)
	}

	for _, event := range trace {
		if event.Type == EventCall && event.Target == assertion.Target {
			if matchArgs(event.Args, want) {
				return nil
			}
		}
	}

	expected := fmt.Sprintf("call to %s", assertion.Target)
	if len(want) > 0 {
		expected = fmt.Sprintf("call to %s with args %s", assertion.Target, compactObject(want))
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "no matching call in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the targets were first called in the
// given order. Calls to other targets may interleave.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	// First position of each target among call events, 1-indexed so
	// the zero value means "never called".
	positions := make(map[string]int)
	pos := 0
	for _, event := range trace {
		if event.Type != EventCall {
			continue
		}
		pos++
		if positions[event.Target] == 0 {
			positions[event.Target] = pos
		}
	}

	for _, target := range assertion.Targets {
		if positions[target] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all targets called: %v", assertion.Targets),
				Actual:   fmt.Sprintf("%s was never called", target),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Targets); i++ {
		prev := assertion.Targets[i-1]
		curr := assertion.Targets[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("targets called in order: %v", assertion.Targets),
				Actual: fmt.Sprintf("%s (call %d) should come before %s (call %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks that the target was called exactly Count
// times. Zero asserts the target never ran.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventCall && event.Target == assertion.Target {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d call(s) to %s", assertion.Count, assertion.Target),
			Actual:   fmt.Sprintf("%d call(s)", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertFiringCount checks how many times a chain fired during the
// run, read from the journaled chain firing records.
func assertFiringCount(actx *AssertionContext, assertion Assertion) error {
	state, err := actx.Store.GetTraceState(actx.Ctx, actx.Token)
	if err != nil {
		return fmt.Errorf("firing_count: read trace state: %w", err)
	}

	count := 0
	for _, firing := range state.ChainFirings {
		if firing.ChainID == assertion.Chain {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertFiringCount,
			Expected: fmt.Sprintf("chain %s fired %d time(s)", assertion.Chain, assertion.Count),
			Actual:   fmt.Sprintf("fired %d time(s)", count),
		}
	}

	return nil
}

// assertOutputPath applies a JSONPath expression to the target's last
// journaled output and compares the resolved value.
func assertOutputPath(trace []TraceEvent, assertion Assertion) error {
	var output ir.Object
	found := false
	for _, event := range trace {
		if event.Type == EventResult && event.Target == assertion.Target {
			output = event.Output
			found = true
		}
	}
	if !found {
		return &AssertionError{
			Type:     AssertOutputPath,
			Expected: fmt.Sprintf("a result for %s", assertion.Target),
			Actual:   "no result in trace",
			Trace:    trace,
		}
	}

	doc := interface{}(ir.ToInterfaceMap(output))
	got, err := jsonpath.Get(assertion.Path, doc)
	if err != nil {
		return &AssertionError{
			Type:     AssertOutputPath,
			Expected: fmt.Sprintf("%s to resolve in output %s", assertion.Path, compactObject(output)),
			Actual:   err.Error(),
			Trace:    trace,
		}
	}

	if !looseEqual(got, assertion.Equals) {
		return &AssertionError{
			Type:     AssertOutputPath,
			Expected: fmt.Sprintf("%s = %v (type %T)", assertion.Path, assertion.Equals, assertion.Equals),
			Actual:   fmt.Sprintf("%v (type %T)", got, got),
			Trace:    trace,
		}
	}

	return nil
}

// assertLogContains checks that some engine log line contains the
// message substring.
func assertLogContains(log []string, assertion Assertion) error {
	for _, line := range log {
		if strings.Contains(line, assertion.Message) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertLogContains,
		Expected: fmt.Sprintf("a log line containing %q", assertion.Message),
		Actual:   fmt.Sprintf("%d log line(s), none matching", len(log)),
	}
}

// assertStatsEqual checks a counter's final reading. Counters nothing
// incremented read zero, so asserting zero checks absence.
func assertStatsEqual(counters map[string]int64, assertion Assertion) error {
	got := counters[assertion.Counter]
	if got != assertion.Value {
		return &AssertionError{
			Type:     AssertStatsEqual,
			Expected: fmt.Sprintf("counter %s = %d", assertion.Counter, assertion.Value),
			Actual:   fmt.Sprintf("counter %s = %d", assertion.Counter, got),
		}
	}

	return nil
}

// matchArgs checks that the journaled args contain every expected
// field with an equal value. Extra journaled fields are ignored.
func matchArgs(actual ir.Object, expected ir.Object) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// looseEqual compares a JSONPath result against an expected YAML
// value. Integer widths differ between the two decoders, so ints
// compare by value; everything else falls through to DeepEqual.
func looseEqual(actual, expected interface{}) bool {
	ai, aok := asInt64(actual)
	bi, bok := asInt64(expected)
	if aok && bok {
		return ai == bi
	}
	return reflect.DeepEqual(actual, expected)
}

// asInt64 normalizes the integer types the decoders produce.
func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}
