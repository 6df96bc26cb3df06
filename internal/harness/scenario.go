package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario scripts a runtime session and the expectations on its outcome.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Root is the registered node type mounted at the root.
	Root string `yaml:"root"`

	// IDPrefix prefixes generated node ids. Defaults to "n".
	IDPrefix string `yaml:"id_prefix,omitempty"`

	// MaxEvaluations overrides the per-write evaluation bound when > 0.
	MaxEvaluations int `yaml:"max_evaluations,omitempty"`

	// Env entries are visible to every node.
	Env map[string]string `yaml:"env,omitempty"`

	Steps []Step `yaml:"steps"`

	Expect []Expectation `yaml:"expect"`
}

// Step is one scripted operation. Exactly one of Set, Signal or Restart is
// given.
type Step struct {
	// At is the target node path for Set. Defaults to "root".
	At string `yaml:"at,omitempty"`

	// Set writes named values on the target node in one write.
	Set map[string]any `yaml:"set,omitempty"`

	// Signal replaces the pending intent with this wire-form intent.
	Signal *string `yaml:"signal,omitempty"`

	// Restart snapshots the tree, stops the runtime and starts a fresh one
	// from the snapshot.
	Restart bool `yaml:"restart,omitempty"`

	// Error is the RuntimeError code this step must fail with. Empty means
	// the step must succeed.
	Error string `yaml:"error,omitempty"`
}

// Expectation is a boolean expr-lang expression over the final tree.
type Expectation struct {
	Expr    string `yaml:"expr"`
	Message string `yaml:"message,omitempty"`
}

// Step operations.
const (
	OpSet     = "set"
	OpSignal  = "signal"
	OpRestart = "restart"
)

// Op reports which operation the step performs.
func (s Step) Op() string {
	switch {
	case s.Set != nil:
		return OpSet
	case s.Signal != nil:
		return OpSignal
	case s.Restart:
		return OpRestart
	default:
		return ""
	}
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Root == "" {
		return fmt.Errorf("root is required")
	}
	if _, ok := lookupNode(s.Root); !ok {
		return fmt.Errorf("root: unknown node type %q", s.Root)
	}
	if s.MaxEvaluations < 0 {
		return fmt.Errorf("max_evaluations must be non-negative")
	}
	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, e := range s.Expect {
		if e.Expr == "" {
			return fmt.Errorf("expect[%d]: expr is required", i)
		}
	}
	return nil
}

func validateStep(index int, s Step) error {
	ops := 0
	if s.Set != nil {
		ops++
	}
	if s.Signal != nil {
		ops++
	}
	if s.Restart {
		ops++
	}
	if ops != 1 {
		return fmt.Errorf("steps[%d]: exactly one of set, signal or restart is required", index)
	}
	if s.At != "" && s.Set == nil {
		return fmt.Errorf("steps[%d]: at is only valid with set", index)
	}
	return nil
}
