package operation

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// Registry maps operation keys to descriptors. Use Empty to obtain one.
type Registry struct {
	ops map[Key]Descriptor
}

var emptyRegistry = &Registry{ops: map[Key]Descriptor{}}

// Empty returns the shared empty registry.
func Empty() *Registry {
	return emptyRegistry
}

// Get returns the descriptor for key; never-referenced keys are idle.
func (r *Registry) Get(key Key) Descriptor {
	if d, ok := r.ops[key]; ok {
		return d
	}
	return Idle(key)
}

// Status is shorthand for Get(key).Status.
func (r *Registry) Status(key Key) Status {
	return r.Get(key).Status
}

// Len returns the number of keys that have left the initial idle state.
func (r *Registry) Len() int {
	return len(r.ops)
}

// Begin moves key to pending under requestID.
// Allowed from idle, fulfilled and rejected.
func (r *Registry) Begin(key Key, requestID string, at time.Time, seq int64) (*Registry, error) {
	cur := r.Get(key)
	if cur.Status == StatusPending {
		return nil, &TransitionError{Key: key, From: cur.Status, Action: "begin"}
	}
	return r.with(Descriptor{
		Key:       key,
		Status:    StatusPending,
		RequestID: requestID,
		StartedAt: at,
		Seq:       seq,
	}), nil
}

// Supersede hands the pending slot of key to a newer request.
// The status stays pending; only the owning request changes.
func (r *Registry) Supersede(key Key, requestID string, at time.Time, seq int64) (*Registry, error) {
	cur := r.Get(key)
	if cur.Status != StatusPending {
		return nil, &TransitionError{Key: key, From: cur.Status, Action: "supersede"}
	}
	cur.RequestID = requestID
	cur.StartedAt = at
	cur.Seq = seq
	return r.with(cur), nil
}

// Fulfill settles the pending request successfully.
func (r *Registry) Fulfill(key Key, requestID string, at time.Time, seq int64) (*Registry, error) {
	cur, err := r.settleable(key, requestID, "fulfill")
	if err != nil {
		return nil, err
	}
	cur.Status = StatusFulfilled
	cur.Error = ""
	cur.SettledAt = at
	cur.Seq = seq
	return r.with(cur), nil
}

// Reject settles the pending request with a failure message.
func (r *Registry) Reject(key Key, requestID, message string, at time.Time, seq int64) (*Registry, error) {
	cur, err := r.settleable(key, requestID, "reject")
	if err != nil {
		return nil, err
	}
	cur.Status = StatusRejected
	cur.Error = message
	cur.SettledAt = at
	cur.Seq = seq
	return r.with(cur), nil
}

// Reset returns a terminal key to idle. Resetting an idle key returns the
// receiver unchanged; resetting a pending key is refused.
func (r *Registry) Reset(key Key, seq int64) (*Registry, error) {
	cur := r.Get(key)
	switch cur.Status {
	case StatusIdle:
		return r, nil
	case StatusPending:
		return nil, &TransitionError{Key: key, From: cur.Status, Action: "reset"}
	}
	d := Idle(key)
	d.Seq = seq
	return r.with(d), nil
}

// Keys returns every tracked key ordered by its string form.
func (r *Registry) Keys() []Key {
	keys := make([]Key, 0, len(r.ops))
	for k := range r.ops {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b Key) int {
		return cmp.Or(cmp.Compare(a.Kind, b.Kind), cmp.Compare(a.Target, b.Target))
	})
	return keys
}

// All returns every tracked descriptor ordered by key.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.ops))
	for _, k := range r.Keys() {
		out = append(out, r.ops[k])
	}
	return out
}

// Pending returns descriptors currently pending, ordered by key.
func (r *Registry) Pending() []Descriptor {
	var out []Descriptor
	for _, d := range r.All() {
		if d.Status == StatusPending {
			out = append(out, d)
		}
	}
	return out
}

func (r *Registry) settleable(key Key, requestID, action string) (Descriptor, error) {
	cur := r.Get(key)
	if cur.Status != StatusPending {
		return Descriptor{}, &TransitionError{Key: key, From: cur.Status, Action: action}
	}
	if cur.RequestID != requestID {
		return Descriptor{}, fmt.Errorf("%w: %s owned by %s, got %s", ErrStaleRequest, key, cur.RequestID, requestID)
	}
	return cur, nil
}

func (r *Registry) with(d Descriptor) *Registry {
	m := make(map[Key]Descriptor, len(r.ops)+1)
	for k, v := range r.ops {
		m[k] = v
	}
	m[d.Key] = d
	return &Registry{ops: m}
}
