package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a mass-recording scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Scopes are opened before the first step and again after a restart
	// when recovery did not bring them back.
	Scopes []string `yaml:"scopes,omitempty"`

	// Sessions log in, in order, when the server starts.
	Sessions []SessionDecl `yaml:"sessions,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// SessionDecl declares a session by a scenario-local name.
type SessionDecl struct {
	Name string `yaml:"name"`
	User string `yaml:"user"`
	// Kind defaults to "user".
	Kind string `yaml:"kind,omitempty"`
}

// Step is one action. Exactly one of the action fields is set.
type Step struct {
	Submit   *SubmitStep `yaml:"submit,omitempty"`
	Login    string      `yaml:"login,omitempty"`
	Logoff   string      `yaml:"logoff,omitempty"`
	ReadOnly *bool       `yaml:"read_only,omitempty"`
	Snapshot bool        `yaml:"snapshot,omitempty"`
	Restart  bool        `yaml:"restart,omitempty"`

	// Expect is checked for submit steps when set.
	Expect string `yaml:"expect,omitempty"`
}

// SubmitStep is a transmission submitted through a declared session.
type SubmitStep struct {
	Session string         `yaml:"session"`
	Type    string         `yaml:"type"`
	Scope   string         `yaml:"scope,omitempty"`
	Payload map[string]any `yaml:"payload,omitempty"`
}

// Assertion validates the state after the last step.
type Assertion struct {
	Type string `yaml:"type"`

	// Session and Types are used by mailbox_contains.
	Session string   `yaml:"session,omitempty"`
	Types   []string `yaml:"types,omitempty"`

	// Count is used by dropped.
	Count int `yaml:"count,omitempty"`

	// Step is the step index used by seq_unchanged.
	Step int `yaml:"step,omitempty"`

	// Scope and Entries are used by final_entries.
	Scope   string            `yaml:"scope,omitempty"`
	Entries map[string]string `yaml:"entries,omitempty"`
}

// Assertion type constants.
const (
	AssertChecksumEqualAfterReplay = "checksum_equal_after_replay"
	AssertMailboxContains          = "mailbox_contains"
	AssertDropped                  = "dropped"
	AssertSeqUnchanged             = "seq_unchanged"
	AssertFinalEntries             = "final_entries"
)

// Submission outcomes.
const (
	OutcomeApplied  = "applied"
	OutcomeFailed   = "failed"
	OutcomeDropped  = "dropped"
	OutcomeRejected = "rejected"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
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
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	declared := make(map[string]bool, len(s.Sessions))
	for i, d := range s.Sessions {
		if d.Name == "" || d.User == "" {
			return fmt.Errorf("sessions[%d]: name and user are required", i)
		}
		if declared[d.Name] {
			return fmt.Errorf("sessions[%d]: duplicate session %q", i, d.Name)
		}
		declared[d.Name] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step, declared); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, declared, len(s.Steps)); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step, declared map[string]bool) error {
	actions := 0
	for _, set := range []bool{
		step.Submit != nil, step.Login != "", step.Logoff != "",
		step.ReadOnly != nil, step.Snapshot, step.Restart,
	} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", index, actions)
	}

	switch {
	case step.Submit != nil:
		if !declared[step.Submit.Session] {
			return fmt.Errorf("steps[%d]: undeclared session %q", index, step.Submit.Session)
		}
		if step.Submit.Type == "" {
			return fmt.Errorf("steps[%d]: submit type is required", index)
		}
		switch step.Expect {
		case "", OutcomeApplied, OutcomeFailed, OutcomeDropped, OutcomeRejected:
		default:
			return fmt.Errorf("steps[%d]: unknown expect %q", index, step.Expect)
		}
	case step.Login != "" && !declared[step.Login]:
		return fmt.Errorf("steps[%d]: undeclared session %q", index, step.Login)
	case step.Logoff != "" && !declared[step.Logoff]:
		return fmt.Errorf("steps[%d]: undeclared session %q", index, step.Logoff)
	}
	if step.Submit == nil && step.Expect != "" {
		return fmt.Errorf("steps[%d]: expect applies to submit steps only", index)
	}
	return nil
}

func validateAssertion(index int, a Assertion, declared map[string]bool, steps int) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertChecksumEqualAfterReplay:
	case AssertMailboxContains:
		if !declared[a.Session] {
			return fmt.Errorf("assertions[%d]: undeclared session %q", index, a.Session)
		}
		if len(a.Types) == 0 {
			return fmt.Errorf("assertions[%d]: types list is required for mailbox_contains", index)
		}
	case AssertDropped:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for dropped", index)
		}
	case AssertSeqUnchanged:
		if a.Step < 0 || a.Step >= steps {
			return fmt.Errorf("assertions[%d]: step %d out of range", index, a.Step)
		}
	case AssertFinalEntries:
		if a.Scope == "" {
			return fmt.Errorf("assertions[%d]: scope is required for final_entries", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
