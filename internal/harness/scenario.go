package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Store kinds a scenario can run against.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Scenario drives the notification engine through a list of steps and
// records everything it observes as a text trace.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Store is memory (default) or sqlite. A sqlite scenario runs against
	// a fresh temporary database file.
	Store string `yaml:"store,omitempty"`

	// Specifications is an inline CUE document. Subscriptions and read
	// steps refer to its specifications and queries by name.
	Specifications string `yaml:"specifications,omitempty"`

	// Facts are hashed up front; steps refer to them by id.
	Facts []FactDef `yaml:"facts"`

	// Subscriptions are registered by subscribe steps.
	Subscriptions []SubscriptionDef `yaml:"subscriptions,omitempty"`

	Steps []Step `yaml:"steps"`

	// Expect, when set, must equal the trace line for line.
	Expect []string `yaml:"expect,omitempty"`

	// Assertions check the trace more loosely than Expect.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// SubscriptionDef is either an observable (root plus query or
// specification) or, with Listener set, a specification listener.
type SubscriptionDef struct {
	ID string `yaml:"id"`

	// Root is the fact id the observable starts from.
	Root string `yaml:"root,omitempty"`

	// Query is a descriptive query string, or the name of a query in the
	// scenario's CUE document.
	Query string `yaml:"query,omitempty"`

	// Specification names a specification in the CUE document.
	Specification string `yaml:"specification,omitempty"`

	// Listener registers a specification listener instead of an
	// observable. It fires for every new fact of the given's type.
	Listener bool `yaml:"listener,omitempty"`
}

// Step is one action. Exactly one of Save, Subscribe, Dispose, Read or
// Query is set.
type Step struct {
	Save      []string   `yaml:"save,omitempty"`
	Subscribe string     `yaml:"subscribe,omitempty"`
	Dispose   string     `yaml:"dispose,omitempty"`
	Read      *ReadStep  `yaml:"read,omitempty"`
	Query     *QueryStep `yaml:"query,omitempty"`

	// Error, when set, is a substring the step's error must contain. The
	// step then fails the scenario if it succeeds.
	Error string `yaml:"error,omitempty"`
}

// ReadStep evaluates a named specification from given fact ids.
type ReadStep struct {
	Specification string   `yaml:"specification"`
	Given         []string `yaml:"given"`
}

// QueryStep walks a query from a root fact id.
type QueryStep struct {
	Root  string `yaml:"root"`
	Query string `yaml:"query"`
}

// kind names the action a step performs.
func (s Step) kind() (string, error) {
	var kinds []string
	if len(s.Save) > 0 {
		kinds = append(kinds, "save")
	}
	if s.Subscribe != "" {
		kinds = append(kinds, "subscribe")
	}
	if s.Dispose != "" {
		kinds = append(kinds, "dispose")
	}
	if s.Read != nil {
		kinds = append(kinds, "read")
	}
	if s.Query != nil {
		kinds = append(kinds, "query")
	}
	if len(kinds) != 1 {
		return "", fmt.Errorf("exactly one of save, subscribe, dispose, read or query is required, found %v", kinds)
	}
	return kinds[0], nil
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // reject typos like "step:" for "steps:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks the fields that do not need the facts built or
// the CUE document compiled.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch s.Store {
	case "", StoreMemory, StoreSQLite:
	default:
		return fmt.Errorf("store must be %s or %s, got %q", StoreMemory, StoreSQLite, s.Store)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	subs := map[string]bool{}
	for i, sub := range s.Subscriptions {
		if sub.ID == "" {
			return fmt.Errorf("subscriptions[%d]: id is required", i)
		}
		if subs[sub.ID] {
			return fmt.Errorf("subscriptions[%d]: duplicate id %q", i, sub.ID)
		}
		subs[sub.ID] = true
		if (sub.Query == "") == (sub.Specification == "") {
			return fmt.Errorf("subscriptions[%d]: exactly one of query or specification is required", i)
		}
		if sub.Listener && sub.Specification == "" {
			return fmt.Errorf("subscriptions[%d]: a listener needs a specification", i)
		}
		if !sub.Listener && sub.Root == "" {
			return fmt.Errorf("subscriptions[%d]: root is required", i)
		}
	}

	for i, step := range s.Steps {
		kind, err := step.kind()
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		switch kind {
		case "subscribe":
			if !subs[step.Subscribe] {
				return fmt.Errorf("steps[%d]: unknown subscription %q", i, step.Subscribe)
			}
		case "dispose":
			if !subs[step.Dispose] {
				return fmt.Errorf("steps[%d]: unknown subscription %q", i, step.Dispose)
			}
		case "read":
			if step.Read.Specification == "" || len(step.Read.Given) == 0 {
				return fmt.Errorf("steps[%d]: read needs a specification and given ids", i)
			}
		case "query":
			if step.Query.Root == "" || step.Query.Query == "" {
				return fmt.Errorf("steps[%d]: query needs a root and a query", i)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}
