package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/garland/internal/ir"
)

// TraceSnapshot is the canonical form of a finished run used for
// golden comparison. Canonical JSON keeps the bytes stable across
// runs and platforms.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Token        string       `json:"token,omitempty"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts the snapshot into plain maps for canonical
// serialization. Empty fields are omitted so the golden bytes don't
// churn when an optional field gains a value elsewhere.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"type": event.Type,
			"seq":  event.Seq,
		}
		if event.Target != "" {
			eventMap["target"] = event.Target
		}
		if event.Args != nil {
			eventMap["args"] = event.Args
		}
		if event.Outcome != "" {
			eventMap["outcome"] = event.Outcome
		}
		if event.Output != nil {
			eventMap["output"] = event.Output
		}
		traceList[i] = eventMap
	}

	snapshot := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
	if s.Token != "" {
		snapshot["token"] = s.Token
	}
	return snapshot
}

// Canonical serializes the snapshot as canonical JSON.
func (s *TraceSnapshot) Canonical() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its trace against the
// golden file testdata/golden/{scenario.Name}.golden, relative to the
// calling test's package. Regenerate golden files with:
//
//	go test ./... -update
//
// Scenario failures (expect clauses, assertions) fail the test before
// the golden comparison runs; a trace that drifted from its golden
// file fails via goldie's diff.
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("run scenario %s: %v", scenario.Name, err)
	}
	if !result.Pass {
		for _, msg := range result.Errors {
			t.Error(msg)
		}
		return result
	}

	AssertGolden(t, scenario.Name, &TraceSnapshot{
		ScenarioName: scenario.Name,
		Token:        scenario.Token,
		Trace:        result.Trace,
	})
	return result
}

// AssertGolden compares a snapshot against its golden file. Split out
// from RunWithGolden for tests that already hold a result.
func AssertGolden(t *testing.T, name string, snapshot *TraceSnapshot) {
	t.Helper()

	data, err := snapshot.Canonical()
	if err != nil {
		t.Fatalf("serialize snapshot %s: %v", name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}
