package harness

import (
	"github.com/roach88/statekit/internal/operation"
	"github.com/roach88/statekit/internal/state"
)

// TraceEvent is one published snapshot.
type TraceEvent struct {
	Seq   int64  `json:"seq"`
	Cause string `json:"cause"`
	// Entities is the entity count after the change.
	Entities int `json:"entities"`
	// Pending is the number of pending operations after the change.
	Pending int `json:"pending"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step behaved as declared and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace lists every snapshot observers were notified of, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step and assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Final is the snapshot current when the scenario ended.
	Final *state.Snapshot `json:"-"`

	// Transitions holds the deduplicated statuses observed per operation key.
	Transitions map[string][]operation.Status `json:"transitions,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:        true,
		Trace:       []TraceEvent{},
		Errors:      []string{},
		Transitions: make(map[string][]operation.Status),
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addSnapshot(s *state.Snapshot) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:      s.Seq,
		Cause:    s.Cause,
		Entities: s.Entities.Len(),
		Pending:  len(s.Operations.Pending()),
	})
}

// observe appends the status of each watched key when it differs from the
// last one seen. Keys start out idle.
func (r *Result) observe(s *state.Snapshot, watched []operation.Key) {
	for _, key := range watched {
		status := s.Operation(key).Status
		seen := r.Transitions[key.String()]
		last := operation.StatusIdle
		if len(seen) > 0 {
			last = seen[len(seen)-1]
		}
		if status != last {
			r.Transitions[key.String()] = append(seen, status)
		}
	}
}
