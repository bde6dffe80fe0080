// Package harness runs declarative scenarios against a real engine.
//
// A scenario names a set of CUE manifests, a list of calls to submit,
// and assertions over what the journal recorded. The harness compiles
// the manifests, builds an engine over a fresh in-memory journal,
// dispatches every step through the single-writer loop, and reads the
// trace back out of the journal. Nothing is simulated: the outcomes,
// chain firings, counters, and log lines the assertions see are the
// ones the engine produced.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: scenario_name
//	description: "What this scenario demonstrates"
//	manifests:
//	  - manifests/demo.cue
//	token: "fixed-trace-token"
//	steps:
//	  - invoke: greet
//	    args: { who: "Ada" }
//	    expect:
//	      outcome: Ok
//	      output: { greeting: "Hello, Ada!" }
//	assertions:
//	  - type: trace_contains
//	    target: greet
//	    args: { who: "Ada" }
//	  - type: firing_count
//	    chain: chain-greet
//	    count: 1
//
// Manifest paths resolve relative to the scenario file unless the
// caller supplies a different base via LoadScenarioWithBasePath.
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - trace_contains: a call to the target was journaled, optionally
//     with matching args (subset match)
//   - trace_order: targets were first called in the given order
//   - trace_count: the target was called exactly N times
//   - firing_count: the chain fired exactly N times
//   - output_path: a JSONPath into the target's last output equals a
//     value
//   - log_contains: the engine log contains a substring
//   - stats_equal: a stats counter holds an exact value
//
// Trace assertions read the journaled trace, firing counts come from
// the chain firing records, and stats_equal reads the in-memory
// counter sink the engine incremented through its count decorators.
//
// # Determinism
//
// Each scenario runs in its own engine over an in-memory SQLite
// journal, with a fixed trace token and a logical clock starting at
// zero. Two runs of the same scenario against the same manifests
// produce identical traces, which is what makes golden file
// comparison possible.
//
// # Usage
//
// Load and run a scenario:
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/greet.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
