package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/statekit/internal/catalog"
	"github.com/roach88/statekit/internal/operation"
)

// Scenario is a scripted sequence of dispatches and settlements followed by
// assertions on the final state and on what observers saw.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Catalog is a CUE file or directory declaring operation kinds.
	// Relative paths are resolved from the scenario file. Empty means
	// catalog.Default().
	Catalog string `yaml:"catalog,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step holds exactly one action.
type Step struct {
	Upsert  *EntityStep  `yaml:"upsert,omitempty"`
	Patch   *EntityStep  `yaml:"patch,omitempty"`
	Remove  *EntityStep  `yaml:"remove,omitempty"`
	Request *RequestStep `yaml:"request,omitempty"`
	Resolve *SettleStep  `yaml:"resolve,omitempty"`
	Reject  *SettleStep  `yaml:"reject,omitempty"`
	Reset   *ResetStep   `yaml:"reset,omitempty"`

	// Fails expects the action to be refused with an error containing
	// this text.
	Fails string `yaml:"fails,omitempty"`
}

// EntityStep writes or removes one entity. Attrs is ignored by remove.
type EntityStep struct {
	Key   string         `yaml:"key"`
	Attrs map[string]any `yaml:"attrs,omitempty"`
}

// RequestStep starts an asynchronous operation.
type RequestStep struct {
	// Op is the operation key, "kind:target".
	Op     string         `yaml:"op"`
	Policy string         `yaml:"policy,omitempty"`
	Args   map[string]any `yaml:"args,omitempty"`
	// As names the call for later resolve and reject steps. Defaults to Op.
	As string `yaml:"as,omitempty"`
}

// SettleStep completes a call started by an earlier request step.
type SettleStep struct {
	Call   string `yaml:"call"`
	Result any    `yaml:"result,omitempty"`
	Error  string `yaml:"error,omitempty"`
	// Code is the remote error code for reject steps.
	Code string `yaml:"code,omitempty"`
}

// ResetStep returns a settled operation to idle.
type ResetStep struct {
	Op string `yaml:"op"`
}

// Assertion validates the final state or the observed history.
type Assertion struct {
	// Type is one of entity, status, transitions or notifications.
	Type string `yaml:"type"`

	// Key is the entity key (entity).
	Key string `yaml:"key,omitempty"`
	// Expect is the exact entity payload (entity).
	Expect map[string]any `yaml:"expect,omitempty"`
	// Absent requires that no entity exists at Key (entity).
	Absent bool `yaml:"absent,omitempty"`

	// Op is the operation key (status, transitions).
	Op string `yaml:"op,omitempty"`
	// Status is the expected status (status).
	Status string `yaml:"status,omitempty"`
	// Error is the expected normalized error (status). Checked only when set.
	Error string `yaml:"error,omitempty"`
	// Statuses is the expected deduplicated status sequence (transitions).
	Statuses []string `yaml:"statuses,omitempty"`

	// Count is the expected number of notifications (notifications).
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertEntity        = "entity"
	AssertStatus        = "status"
	AssertTransitions   = "transitions"
	AssertNotifications = "notifications"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Catalog != "" && !filepath.IsAbs(scenario.Catalog) {
		scenario.Catalog = filepath.Join(filepath.Dir(path), scenario.Catalog)
	}
	if scenario.Catalog != "" {
		if _, err := os.Stat(scenario.Catalog); err != nil {
			return nil, fmt.Errorf("invalid scenario: catalog not found: %s", scenario.Catalog)
		}
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML without touching the filesystem.
// A relative Catalog path is left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches typos like "assertion:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the scenario files at path: the file itself, or
// every .yaml and .yml file directly inside a directory, sorted.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}

// LoadCatalog compiles the scenario's catalog, or returns catalog.Default()
// when none is named.
func (s *Scenario) LoadCatalog() (*catalog.Catalog, error) {
	if s.Catalog == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(s.Catalog)
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	names := map[string]bool{}
	for i, step := range s.Steps {
		if err := validateStep(step, names); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

// validateStep checks the step shape. names collects call names declared by
// earlier request steps so settle steps cannot reference a later call.
func validateStep(step Step, names map[string]bool) error {
	set := 0
	for _, present := range []bool{
		step.Upsert != nil, step.Patch != nil, step.Remove != nil,
		step.Request != nil, step.Resolve != nil, step.Reject != nil, step.Reset != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one action is required, found %d", set)
	}

	switch {
	case step.Upsert != nil, step.Patch != nil, step.Remove != nil:
		es := firstEntityStep(step)
		if es.Key == "" {
			return fmt.Errorf("key is required")
		}
	case step.Request != nil:
		if _, err := operation.ParseKey(step.Request.Op); err != nil {
			return err
		}
		if step.Request.Policy != "" && !catalog.Policy(step.Request.Policy).Valid() {
			return fmt.Errorf("unknown policy %q", step.Request.Policy)
		}
		names[callName(step.Request)] = true
	case step.Resolve != nil, step.Reject != nil:
		ss := step.Resolve
		if ss == nil {
			ss = step.Reject
			if ss.Error == "" {
				return fmt.Errorf("reject requires error")
			}
		}
		if ss.Call == "" {
			return fmt.Errorf("call is required")
		}
		if !names[ss.Call] {
			return fmt.Errorf("call %q is not declared by an earlier request", ss.Call)
		}
	case step.Reset != nil:
		if _, err := operation.ParseKey(step.Reset.Op); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertEntity:
		if a.Key == "" {
			return fmt.Errorf("key is required for entity")
		}
		if a.Absent == (a.Expect != nil) {
			return fmt.Errorf("entity requires exactly one of expect or absent")
		}
	case AssertStatus:
		if _, err := operation.ParseKey(a.Op); err != nil {
			return err
		}
		if !operation.Status(a.Status).Valid() {
			return fmt.Errorf("unknown status %q", a.Status)
		}
	case AssertTransitions:
		if _, err := operation.ParseKey(a.Op); err != nil {
			return err
		}
		for _, s := range a.Statuses {
			if !operation.Status(s).Valid() {
				return fmt.Errorf("unknown status %q", s)
			}
		}
	case AssertNotifications:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("non-negative count is required for notifications")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func firstEntityStep(step Step) *EntityStep {
	switch {
	case step.Upsert != nil:
		return step.Upsert
	case step.Patch != nil:
		return step.Patch
	default:
		return step.Remove
	}
}

func callName(r *RequestStep) string {
	if r.As != "" {
		return r.As
	}
	return r.Op
}

// watchedKeys lists every operation key the scenario mentions, in first
// mention order.
func watchedKeys(s *Scenario) []operation.Key {
	var (
		keys []operation.Key
		seen = map[operation.Key]bool{}
	)
	add := func(raw string) {
		k, err := operation.ParseKey(raw)
		if err != nil || seen[k] {
			return
		}
		seen[k] = true
		keys = append(keys, k)
	}
	for _, step := range s.Steps {
		switch {
		case step.Request != nil:
			add(step.Request.Op)
		case step.Reset != nil:
			add(step.Reset.Op)
		}
	}
	for _, a := range s.Assertions {
		if a.Op != "" {
			add(a.Op)
		}
	}
	return keys
}
