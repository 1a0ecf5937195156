package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted session against a fresh store: models to install,
// then steps that create, change, retract and find entities, each with
// optional expectations.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario checks.
	Description string `yaml:"description"`

	// Models lists CUE files declaring the models.
	// Paths are relative to the scenario file location.
	Models []string `yaml:"models"`

	// Steps run in order against one store.
	Steps []Step `yaml:"steps"`
}

// Step is one operation. Exactly one of Create, Change, Retract or Find
// is set: Create and Find name a model, Change and Retract an alias.
type Step struct {
	Create  string `yaml:"create,omitempty"`
	Change  string `yaml:"change,omitempty"`
	Retract string `yaml:"retract,omitempty"`
	Find    string `yaml:"find,omitempty"`

	// As names the created entity. Later steps refer to it as "@<as>".
	As string `yaml:"as,omitempty"`

	// Attrs are assigned by create and change. A null value retracts.
	Attrs map[string]any `yaml:"attrs,omitempty"`

	// Where constrains find.
	Where map[string]any `yaml:"where,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Op returns the step's operation name.
func (s Step) Op() string {
	switch {
	case s.Create != "":
		return OpCreate
	case s.Change != "":
		return OpChange
	case s.Retract != "":
		return OpRetract
	case s.Find != "":
		return OpFind
	}
	return ""
}

// Target returns the model or alias the step acts on.
func (s Step) Target() string {
	return s.Create + s.Change + s.Retract + s.Find
}

// Expect describes the outcome a step must have.
type Expect struct {
	// Error is the kind of failure expected; see ErrorKind. Empty means
	// the step must succeed.
	Error string `yaml:"error,omitempty"`

	// Errors lists attributes the validation error must name.
	Errors []string `yaml:"errors,omitempty"`

	// Attrs is a subset of attribute values the resulting entity must have.
	Attrs map[string]any `yaml:"attrs,omitempty"`

	// Count is the number of entities find must return.
	Count *int `yaml:"count,omitempty"`

	// Found lists the aliases find must return, in order.
	Found []string `yaml:"found,omitempty"`
}

// Step operations.
const (
	OpCreate  = "create"
	OpChange  = "change"
	OpRetract = "retract"
	OpFind    = "find"
)

// LoadScenario reads and parses a scenario YAML file, resolving model
// paths relative to the file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "expects:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, p := range scenario.Models {
		if !filepath.IsAbs(p) {
			scenario.Models[i] = filepath.Join(base, p)
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
	if len(s.Models) == 0 {
		return fmt.Errorf("models list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for _, p := range s.Models {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("model file not found: %s", p)
		}
	}

	aliases := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, step, aliases); err != nil {
			return err
		}
		if step.As != "" {
			aliases[step.As] = true
		}
	}
	return nil
}

func validateStep(i int, step Step, aliases map[string]bool) error {
	ops := 0
	for _, v := range []string{step.Create, step.Change, step.Retract, step.Find} {
		if v != "" {
			ops++
		}
	}
	if ops != 1 {
		return fmt.Errorf("steps[%d]: exactly one of create, change, retract or find is required", i)
	}

	switch step.Op() {
	case OpCreate:
		if step.Where != nil {
			return fmt.Errorf("steps[%d]: where is only valid on find", i)
		}
		if step.As != "" && aliases[step.As] {
			return fmt.Errorf("steps[%d]: alias %q already defined", i, step.As)
		}
	case OpChange, OpRetract:
		if !aliases[step.Target()] {
			return fmt.Errorf("steps[%d]: unknown alias %q", i, step.Target())
		}
		if step.As != "" {
			return fmt.Errorf("steps[%d]: as is only valid on create", i)
		}
		if step.Op() == OpRetract && step.Attrs != nil {
			return fmt.Errorf("steps[%d]: retract takes no attrs", i)
		}
	case OpFind:
		if step.Attrs != nil || step.As != "" {
			return fmt.Errorf("steps[%d]: find takes only where", i)
		}
	}

	if e := step.Expect; e != nil {
		if e.Count != nil && *e.Count < 0 {
			return fmt.Errorf("steps[%d].expect: count must be non-negative", i)
		}
		if (e.Count != nil || e.Found != nil) && step.Op() != OpFind {
			return fmt.Errorf("steps[%d].expect: count and found are only valid on find", i)
		}
		if e.Error != "" && !knownErrorKinds[e.Error] {
			return fmt.Errorf("steps[%d].expect: unknown error kind %q", i, e.Error)
		}
		if len(e.Errors) > 0 && e.Error != ErrKindValidation {
			return fmt.Errorf("steps[%d].expect: errors requires error: %s", i, ErrKindValidation)
		}
		for _, a := range e.Found {
			if !aliases[a] {
				return fmt.Errorf("steps[%d].expect: unknown alias %q", i, a)
			}
		}
	}
	return nil
}
