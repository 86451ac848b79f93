package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/statekit/internal/ir"
)

// TraceSnapshot captures what a scenario produced: the published snapshot
// sequence plus the final entities and operation statuses.
type TraceSnapshot struct {
	ScenarioName string
	Result       *Result
}

// toCanonicalMap converts the snapshot to plain data for ir.MarshalCanonical,
// which only handles IR types and primitives.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Result.Trace))
	for i, ev := range s.Result.Trace {
		trace[i] = map[string]any{
			"seq":      ev.Seq,
			"cause":    ev.Cause,
			"entities": ev.Entities,
			"pending":  ev.Pending,
		}
	}

	out := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
	}
	if final := s.Result.Final; final != nil {
		entities := map[string]any{}
		for _, e := range final.Entities.All() {
			entities[e.Key] = e.Attrs()
		}
		ops := []any{}
		for _, d := range final.Operations.All() {
			op := map[string]any{
				"key":    d.Key.String(),
				"status": string(d.Status),
			}
			if d.Error != "" {
				op["error"] = d.Error
			}
			if d.RequestID != "" {
				op["request_id"] = d.RequestID
			}
			ops = append(ops, op)
		}
		out["entities"] = entities
		out["operations"] = ops
	}
	return out
}

// CanonicalTrace renders result as canonical JSON, the golden file format.
func CanonicalTrace(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: name, Result: result}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. Test failure (via goldie)
// occurs if the trace doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := CanonicalTrace(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
