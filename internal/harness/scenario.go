package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines one harness run: the manifests to install, the
// calls to submit, and the assertions over the resulting journal.
type Scenario struct {
	// Name uniquely identifies the scenario. Golden files are keyed
	// by it.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description"`

	// Manifests lists CUE manifest files to compile and install.
	// Relative paths resolve against the scenario file's directory.
	Manifests []string `yaml:"manifests"`

	// Token is the trace token every step is submitted under. If
	// empty, a fixed default keeps the run deterministic anyway.
	Token string `yaml:"token,omitempty"`

	// Steps are the calls to submit, in order. Each step drains the
	// engine before the next, so the journal interleaves calls and
	// results deterministically.
	Steps []Step `yaml:"steps"`

	// Assertions validate the journaled trace, chain firings, log,
	// and counters after the final step.
	Assertions []Assertion `yaml:"assertions"`
}

// Step submits one call and optionally checks its journaled result.
type Step struct {
	// Invoke is the target name to call.
	Invoke string `yaml:"invoke"`

	// Args are the call arguments. Required; use an empty map for
	// targets that take none.
	Args map[string]interface{} `yaml:"args"`

	// Expect checks the step's own result. Nil means the step only
	// has to produce a result, not any particular one.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause pins a step's journaled result.
type ExpectClause struct {
	// Outcome is the expected outcome tag (e.g. "Ok", "TooLoud").
	Outcome string `yaml:"outcome"`

	// Output lists expected output fields. Subset match: fields not
	// named here are ignored. Nil checks the outcome alone.
	Output map[string]interface{} `yaml:"output,omitempty"`
}

// Assertion validates one aspect of the finished run. Which fields
// apply depends on Type.
type Assertion struct {
	// Type selects the assertion:
	//   - "trace_contains": target called, optionally with args
	//   - "trace_order": targets first called in the given order
	//   - "trace_count": target called exactly Count times
	//   - "firing_count": chain fired exactly Count times
	//   - "output_path": JSONPath into the target's last output
	//   - "log_contains": engine log contains Message
	//   - "stats_equal": counter holds exactly Value
	Type string `yaml:"type"`

	// Target names the called target (trace_contains, trace_count,
	// output_path).
	Target string `yaml:"target,omitempty"`

	// Args are expected call arguments (trace_contains). Subset
	// match: extra journaled fields are ignored.
	Args map[string]interface{} `yaml:"args,omitempty"`

	// Targets is the expected first-call order (trace_order).
	Targets []string `yaml:"targets,omitempty"`

	// Count is the expected occurrence count (trace_count,
	// firing_count). Zero asserts absence.
	Count int `yaml:"count,omitempty"`

	// Chain names the chain rule (firing_count).
	Chain string `yaml:"chain,omitempty"`

	// Path is a JSONPath expression over the output (output_path).
	Path string `yaml:"path,omitempty"`

	// Equals is the value Path must resolve to (output_path).
	Equals interface{} `yaml:"equals,omitempty"`

	// Message is the substring to find (log_contains).
	Message string `yaml:"message,omitempty"`

	// Value is the expected counter reading (stats_equal). A counter
	// nothing incremented reads zero.
	Value int64 `yaml:"value,omitempty"`

	// Counter names the stats counter (stats_equal).
	Counter string `yaml:"counter,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFiringCount   = "firing_count"
	AssertOutputPath    = "output_path"
	AssertLogContains   = "log_contains"
	AssertStatsEqual    = "stats_equal"
)

// LoadScenario reads and parses a scenario YAML file. Relative
// manifest paths resolve against the scenario file's directory.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving relative manifest paths against basePath instead of the
// scenario file's directory. Useful when scenarios live apart from
// the manifests they reference.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict decode catches typos like "assertion:" for "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve manifest paths before validation so the existence check
	// sees final paths.
	for i, manifestPath := range scenario.Manifests {
		if !filepath.IsAbs(manifestPath) && basePath != "" {
			scenario.Manifests[i] = filepath.Join(basePath, manifestPath)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Manifests) == 0 {
		return fmt.Errorf("manifests list is required and must be non-empty")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, manifestPath := range s.Manifests {
		if _, err := os.Stat(manifestPath); os.IsNotExist(err) {
			return fmt.Errorf("manifest file not found: %s", manifestPath)
		}
	}

	for i, step := range s.Steps {
		if step.Invoke == "" {
			return fmt.Errorf("steps[%d]: invoke is required", i)
		}
		if step.Args == nil {
			return fmt.Errorf("steps[%d]: args is required (use empty map if no args)", i)
		}
		if step.Expect != nil && step.Expect.Outcome == "" {
			return fmt.Errorf("steps[%d].expect: outcome is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Target == "" {
			return fmt.Errorf("assertions[%d]: target is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Targets) == 0 {
			return fmt.Errorf("assertions[%d]: targets list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Target == "" {
			return fmt.Errorf("assertions[%d]: target is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFiringCount:
		if a.Chain == "" {
			return fmt.Errorf("assertions[%d]: chain is required for firing_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for firing_count", index)
		}
	case AssertOutputPath:
		if a.Target == "" {
			return fmt.Errorf("assertions[%d]: target is required for output_path", index)
		}
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for output_path", index)
		}
		if !strings.HasPrefix(a.Path, "$") {
			return fmt.Errorf("assertions[%d]: path must start with $ for output_path", index)
		}
		if a.Equals == nil {
			return fmt.Errorf("assertions[%d]: equals is required for output_path", index)
		}
	case AssertLogContains:
		if a.Message == "" {
			return fmt.Errorf("assertions[%d]: message is required for log_contains", index)
		}
	case AssertStatsEqual:
		if a.Counter == "" {
			return fmt.Errorf("assertions[%d]: counter is required for stats_equal", index)
		}
		if a.Value < 0 {
			return fmt.Errorf("assertions[%d]: value must be non-negative for stats_equal", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
