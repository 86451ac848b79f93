package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/statekit/internal/catalog"
	"github.com/roach88/statekit/internal/engine"
	"github.com/roach88/statekit/internal/entity"
	"github.com/roach88/statekit/internal/ir"
	"github.com/roach88/statekit/internal/metrics"
	"github.com/roach88/statekit/internal/operation"
	"github.com/roach88/statekit/internal/state"
	"github.com/roach88/statekit/internal/testutil"
)

// scenarioTimeout bounds a whole scenario so a wedged engine fails the run
// instead of hanging it.
const scenarioTimeout = 10 * time.Second

// Harness executes one scenario against a fresh engine.
type Harness struct {
	engine    *engine.Engine
	performer *testutil.ManualPerformer
	calls     map[string]*engine.Handle
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Load the catalog and start a fresh engine with deterministic helpers
//  2. Subscribe an observer that records every published snapshot
//  3. Execute steps in order; resolve and reject wait until the
//     settlement is applied
//  4. Stop the engine and evaluate assertions
//
// The returned error covers setup problems only. Step and assertion
// failures are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	cat, err := scenario.LoadCatalog()
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return RunWith(scenario, Options{Catalog: cat})
}

// Options configures RunWith.
type Options struct {
	// Catalog overrides the scenario's catalog. Required by RunWith.
	Catalog *catalog.Catalog
	// Journal records every applied event when set.
	Journal engine.Recorder
	// Metrics collects engine metrics when set.
	Metrics *metrics.Collector
	// Attach is called with the engine before the first step, e.g. to
	// subscribe extra observers.
	Attach func(eng *engine.Engine)
	// Entities and StartSeq resume from an earlier run, typically the
	// result of replaying the journal the run appends to.
	Entities *entity.Store
	StartSeq int64
}

// RunWith executes a scenario with an already compiled catalog and optional
// journal and metrics.
func RunWith(scenario *Scenario, opts Options) (*Result, error) {
	if opts.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), scenarioTimeout)
	defer cancel()

	perf := testutil.NewManualPerformer()
	clock := testutil.NewStepClock(time.Time{}, 0)
	engineOpts := []engine.EngineOption{
		engine.WithPerformer(perf),
		engine.WithRequestIDs(testutil.NewSequenceGenerator("req")),
		engine.WithNow(clock.Now),
	}
	if opts.Journal != nil {
		engineOpts = append(engineOpts, engine.WithJournal(opts.Journal))
	}
	if opts.Metrics != nil {
		engineOpts = append(engineOpts, engine.WithMetrics(opts.Metrics))
	}
	if opts.Entities != nil {
		engineOpts = append(engineOpts, engine.WithEntities(opts.Entities))
	}
	if opts.StartSeq > 0 {
		engineOpts = append(engineOpts, engine.WithStartSeq(opts.StartSeq))
	}
	eng := engine.New(opts.Catalog, engineOpts...)

	result := NewResult()
	watched := watchedKeys(scenario)
	eng.Subscribe(func(s *state.Snapshot) {
		result.addSnapshot(s)
		result.observe(s, watched)
	})
	if opts.Attach != nil {
		opts.Attach(eng)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	h := &Harness{engine: eng, performer: perf, calls: make(map[string]*engine.Handle)}
	for i, step := range scenario.Steps {
		err := h.execute(ctx, step)
		if msg := checkStep(step, err); msg != "" {
			result.AddError(fmt.Sprintf("step %d (%s): %s", i+1, describeStep(step), msg))
		}
	}

	eng.Stop()
	if err := <-runErr; err != nil {
		return nil, fmt.Errorf("engine stopped with error: %w", err)
	}

	result.Final = eng.Current()
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// checkStep compares the step outcome with its fails clause and returns a
// failure message, or "" when the step behaved as declared.
func checkStep(step Step, err error) string {
	switch {
	case step.Fails == "" && err != nil:
		return err.Error()
	case step.Fails != "" && err == nil:
		return fmt.Sprintf("expected failure containing %q, got success", step.Fails)
	case step.Fails != "" && !strings.Contains(err.Error(), step.Fails):
		return fmt.Sprintf("expected failure containing %q, got %q", step.Fails, err.Error())
	}
	return ""
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	switch {
	case step.Upsert != nil:
		attrs, err := ir.ObjectFromAny(step.Upsert.Attrs)
		if err != nil {
			return fmt.Errorf("attrs: %w", err)
		}
		return h.dispatch(ctx, engine.Upsert{Key: step.Upsert.Key, Attrs: attrs})

	case step.Patch != nil:
		attrs, err := ir.ObjectFromAny(step.Patch.Attrs)
		if err != nil {
			return fmt.Errorf("attrs: %w", err)
		}
		return h.dispatch(ctx, engine.Patch{Key: step.Patch.Key, Attrs: attrs})

	case step.Remove != nil:
		return h.dispatch(ctx, engine.Remove{Key: step.Remove.Key})

	case step.Request != nil:
		return h.request(ctx, step.Request)

	case step.Resolve != nil:
		value, err := ir.FromAny(step.Resolve.Result)
		if err != nil {
			return fmt.Errorf("result: %w", err)
		}
		return h.settle(ctx, step.Resolve.Call, func(id string) error {
			return h.performer.Resolve(id, value)
		})

	case step.Reject != nil:
		remote := &engine.RemoteError{Code: step.Reject.Code, Message: step.Reject.Error}
		return h.settle(ctx, step.Reject.Call, func(id string) error {
			return h.performer.Reject(id, remote)
		})

	case step.Reset != nil:
		key, err := operation.ParseKey(step.Reset.Op)
		if err != nil {
			return err
		}
		return h.dispatch(ctx, engine.ResetOperation{Key: key})
	}
	return errors.New("empty step")
}

func (h *Harness) dispatch(ctx context.Context, in engine.Intent) error {
	_, err := h.engine.Dispatch(ctx, in)
	return err
}

func (h *Harness) request(ctx context.Context, rs *RequestStep) error {
	key, err := operation.ParseKey(rs.Op)
	if err != nil {
		return err
	}
	args, err := ir.ObjectFromAny(rs.Args)
	if err != nil {
		return fmt.Errorf("args: %w", err)
	}
	handle, err := h.engine.Dispatch(ctx, engine.Request{Key: key, Args: args, Policy: catalog.Policy(rs.Policy)})
	if err != nil {
		return err
	}
	h.calls[callName(rs)] = handle
	return nil
}

// settle hands the call's request ID to fn and waits until the engine has
// applied the settlement.
func (h *Harness) settle(ctx context.Context, call string, fn func(requestID string) error) error {
	handle, ok := h.calls[call]
	if !ok {
		return fmt.Errorf("call %q was never started", call)
	}
	if err := fn(handle.RequestID()); err != nil {
		return err
	}
	return h.engine.Sync(ctx)
}

func describeStep(step Step) string {
	switch {
	case step.Upsert != nil:
		return "upsert " + step.Upsert.Key
	case step.Patch != nil:
		return "patch " + step.Patch.Key
	case step.Remove != nil:
		return "remove " + step.Remove.Key
	case step.Request != nil:
		return "request " + step.Request.Op
	case step.Resolve != nil:
		return "resolve " + step.Resolve.Call
	case step.Reject != nil:
		return "reject " + step.Reject.Call
	case step.Reset != nil:
		return "reset " + step.Reset.Op
	}
	return "empty"
}
