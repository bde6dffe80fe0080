package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeManifest drops a placeholder manifest file into dir. Loading
// only checks that manifest files exist; compilation happens at run
// time.
func writeManifest(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, []byte("// placeholder manifest\n"), 0o644)
	require.NoError(t, err)
	return path
}

// writeScenario drops a scenario YAML file into dir.
func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, []byte(content), 0o644)
	require.NoError(t, err)
	return path
}

const validScenarioYAML = `name: test_scenario
description: A test scenario
manifests:
  - demo.cue
token: fixed-token-0001
steps:
  - invoke: greet
    args:
      who: Ada
    expect:
      outcome: Ok
      output:
        greeting: "Hello, Ada!"
  - invoke: shout
    args: {}
assertions:
  - type: trace_contains
    target: greet
    args:
      who: Ada
  - type: trace_order
    targets: [greet, shout]
`

func TestLoadScenario(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "demo.cue")
	path := writeScenario(t, dir, "test.yaml", validScenarioYAML)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "A test scenario", scenario.Description)
	assert.Equal(t, "fixed-token-0001", scenario.Token)

	// Relative manifest paths resolve against the scenario's directory.
	require.Len(t, scenario.Manifests, 1)
	assert.Equal(t, filepath.Join(dir, "demo.cue"), scenario.Manifests[0])

	require.Len(t, scenario.Steps, 2)
	assert.Equal(t, "greet", scenario.Steps[0].Invoke)
	assert.Equal(t, map[string]interface{}{"who": "Ada"}, scenario.Steps[0].Args)
	require.NotNil(t, scenario.Steps[0].Expect)
	assert.Equal(t, "Ok", scenario.Steps[0].Expect.Outcome)
	assert.Equal(t, map[string]interface{}{"greeting": "Hello, Ada!"}, scenario.Steps[0].Expect.Output)

	// A step may carry empty args and no expect clause.
	assert.Equal(t, "shout", scenario.Steps[1].Invoke)
	assert.NotNil(t, scenario.Steps[1].Args)
	assert.Empty(t, scenario.Steps[1].Args)
	assert.Nil(t, scenario.Steps[1].Expect)

	require.Len(t, scenario.Assertions, 2)
	assert.Equal(t, AssertTraceContains, scenario.Assertions[0].Type)
	assert.Equal(t, "greet", scenario.Assertions[0].Target)
	assert.Equal(t, AssertTraceOrder, scenario.Assertions[1].Type)
	assert.Equal(t, []string{"greet", "shout"}, scenario.Assertions[1].Targets)
}

func TestLoadScenarioFileNotFound(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenarioMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "bad.yaml", "name: [unclosed\n")

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenarioRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "demo.cue")
	path := writeScenario(t, dir, "typo.yaml", `name: typo
description: An assertion key typo should not silently drop assertions
manifests:
  - demo.cue
steps:
  - invoke: greet
    args: {}
assertion:
  - type: log_contains
    message: calling greet
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenarioValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing name",
			content: `description: d
manifests: [demo.cue]
steps:
  - invoke: greet
    args: {}
assertions:
  - type: log_contains
    message: m
`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			content: `name: n
manifests: [demo.cue]
steps:
  - invoke: greet
    args: {}
assertions:
  - type: log_contains
    message: m
`,
			wantErr: "description is required",
		},
		{
			name: "empty manifests",
			content: `name: n
description: d
manifests: []
steps:
  - invoke: greet
    args: {}
assertions:
  - type: log_contains
    message: m
`,
			wantErr: "manifests list is required",
		},
		{
			name: "manifest not found",
			content: `name: n
description: d
manifests: [nope.cue]
steps:
  - invoke: greet
    args: {}
assertions:
  - type: log_contains
    message: m
`,
			wantErr: "manifest file not found",
		},
		{
			name: "empty steps",
			content: `name: n
description: d
manifests: [demo.cue]
steps: []
assertions:
  - type: log_contains
    message: m
`,
			wantErr: "steps list is required",
		},
		{
			name: "empty assertions",
			content: `name: n
description: d
manifests: [demo.cue]
steps:
  - invoke: greet
    args: {}
assertions: []
`,
			wantErr: "assertions list is required",
		},
		{
			name: "step missing invoke",
			content: `name: n
description: d
manifests: [demo.cue]
steps:
  - args: {}
assertions:
  - type: log_contains
    message: m
`,
			wantErr: "steps[0]: invoke is required",
		},
		{
			name: "step missing args",
			content: `name: n
description: d
manifests: [demo.cue]
steps:
  - invoke: greet
assertions:
  - type: log_contains
    message: m
`,
			wantErr: "steps[0]: args is required",
		},
		{
			name: "expect missing outcome",
			content: `name: n
description: d
manifests: [demo.cue]
steps:
  - invoke: greet
    args: {}
    expect:
      output:
        greeting: hi
assertions:
  - type: log_contains
    message: m
`,
			wantErr: "steps[0].expect: outcome is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, "demo.cue")
			path := writeScenario(t, dir, "case.yaml", tt.content)

			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenarioAssertionValidation(t *testing.T) {
	tests := []struct {
		name      string
		assertion string
		wantErr   string // empty means the assertion is valid
	}{
		{
			name:      "trace_contains missing target",
			assertion: "- type: trace_contains",
			wantErr:   "target is required for trace_contains",
		},
		{
			name:      "trace_order missing targets",
			assertion: "- type: trace_order",
			wantErr:   "targets list is required for trace_order",
		},
		{
			name:      "trace_count missing target",
			assertion: "- type: trace_count\n    count: 1",
			wantErr:   "target is required for trace_count",
		},
		{
			name:      "trace_count negative",
			assertion: "- type: trace_count\n    target: greet\n    count: -1",
			wantErr:   "count must be non-negative for trace_count",
		},
		{
			name:      "trace_count zero is allowed",
			assertion: "- type: trace_count\n    target: greet\n    count: 0",
		},
		{
			name:      "firing_count missing chain",
			assertion: "- type: firing_count\n    count: 1",
			wantErr:   "chain is required for firing_count",
		},
		{
			name:      "firing_count zero is allowed",
			assertion: "- type: firing_count\n    chain: chain-greet\n    count: 0",
		},
		{
			name:      "output_path missing target",
			assertion: "- type: output_path\n    path: $.a\n    equals: 1",
			wantErr:   "target is required for output_path",
		},
		{
			name:      "output_path missing path",
			assertion: "- type: output_path\n    target: greet\n    equals: 1",
			wantErr:   "path is required for output_path",
		},
		{
			name:      "output_path without root selector",
			assertion: "- type: output_path\n    target: greet\n    path: greeting\n    equals: 1",
			wantErr:   "path must start with $ for output_path",
		},
		{
			name:      "output_path missing equals",
			assertion: "- type: output_path\n    target: greet\n    path: $.greeting",
			wantErr:   "equals is required for output_path",
		},
		{
			name:      "log_contains missing message",
			assertion: "- type: log_contains",
			wantErr:   "message is required for log_contains",
		},
		{
			name:      "stats_equal missing counter",
			assertion: "- type: stats_equal\n    value: 1",
			wantErr:   "counter is required for stats_equal",
		},
		{
			name:      "stats_equal zero is allowed",
			assertion: "- type: stats_equal\n    counter: greet\n    value: 0",
		},
		{
			name:      "missing type",
			assertion: "- target: greet",
			wantErr:   "type is required",
		},
		{
			name:      "unknown type",
			assertion: "- type: final_state",
			wantErr:   `unknown assertion type "final_state"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, "demo.cue")
			content := `name: n
description: d
manifests: [demo.cue]
steps:
  - invoke: greet
    args: {}
assertions:
  ` + tt.assertion + "\n"
			path := writeScenario(t, dir, "case.yaml", content)

			_, err := LoadScenario(path)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenarioWithBasePath(t *testing.T) {
	scenarioDir := t.TempDir()
	manifestDir := t.TempDir()
	writeManifest(t, manifestDir, "demo.cue")

	path := writeScenario(t, scenarioDir, "apart.yaml", `name: apart
description: Scenario and manifests in different trees
manifests: [demo.cue]
steps:
  - invoke: greet
    args: {}
assertions:
  - type: trace_count
    target: greet
    count: 1
`)

	// Default resolution looks next to the scenario and fails.
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest file not found")

	// An explicit base path finds the manifests.
	scenario, err := LoadScenarioWithBasePath(path, manifestDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(manifestDir, "demo.cue"), scenario.Manifests[0])
}

func TestLoadScenarioAbsoluteManifestPath(t *testing.T) {
	dir := t.TempDir()
	absManifest := writeManifest(t, dir, "demo.cue")

	path := writeScenario(t, t.TempDir(), "abs.yaml", `name: abs
description: Absolute manifest paths pass through untouched
manifests: ["`+absManifest+`"]
steps:
  - invoke: greet
    args: {}
assertions:
  - type: trace_count
    target: greet
    count: 1
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, absManifest, scenario.Manifests[0])
}

func TestLoadScenarioMultipleManifests(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "one.cue")
	writeManifest(t, dir, "two.cue")

	path := writeScenario(t, dir, "multi.yaml", `name: multi
description: Manifests merge in list order
manifests:
  - one.cue
  - two.cue
steps:
  - invoke: greet
    args: {}
assertions:
  - type: trace_count
    target: greet
    count: 1
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	require.Len(t, scenario.Manifests, 2)
	assert.Equal(t, filepath.Join(dir, "one.cue"), scenario.Manifests[0])
	assert.Equal(t, filepath.Join(dir, "two.cue"), scenario.Manifests[1])
}

func TestAssertionConstants(t *testing.T) {
	assert.Equal(t, "trace_contains", AssertTraceContains)
	assert.Equal(t, "trace_order", AssertTraceOrder)
	assert.Equal(t, "trace_count", AssertTraceCount)
	assert.Equal(t, "firing_count", AssertFiringCount)
	assert.Equal(t, "output_path", AssertOutputPath)
	assert.Equal(t, "log_contains", AssertLogContains)
	assert.Equal(t, "stats_equal", AssertStatsEqual)
}

// Every shipped example scenario must load. Run semantics are covered
// by the golden tests.
func TestLoadExampleScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no example scenarios found")

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.NotEmpty(t, scenario.Name)
			assert.NotEmpty(t, scenario.Steps)
			assert.NotEmpty(t, scenario.Assertions)
		})
	}
}
