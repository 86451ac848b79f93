// Package state defines the Snapshot: the immutable, point-in-time view of
// the entity store and operation registry published after every dispatch.
package state

import (
	"github.com/roach88/statekit/internal/entity"
	"github.com/roach88/statekit/internal/operation"
)

// Snapshot is published by pointer and never mutated afterwards.
type Snapshot struct {
	// Seq is the logical sequence of the event that produced this snapshot.
	Seq        int64
	Entities   *entity.Store
	Operations *operation.Registry
	// Cause names the applied event, e.g. "upsert u1" or "fulfilled fetchEntity:u1".
	Cause string
}

// Empty returns the seq-0 snapshot.
func Empty() *Snapshot {
	return &Snapshot{
		Entities:   entity.Empty(),
		Operations: operation.Empty(),
		Cause:      "init",
	}
}

// Next builds the successor snapshot. Nil stores carry over from s.
func (s *Snapshot) Next(seq int64, entities *entity.Store, ops *operation.Registry, cause string) *Snapshot {
	if entities == nil {
		entities = s.Entities
	}
	if ops == nil {
		ops = s.Operations
	}
	return &Snapshot{Seq: seq, Entities: entities, Operations: ops, Cause: cause}
}

// Entity is shorthand for s.Entities.Get.
func (s *Snapshot) Entity(key string) (entity.Entity, bool) {
	return s.Entities.Get(key)
}

// Operation is shorthand for s.Operations.Get.
func (s *Snapshot) Operation(key operation.Key) operation.Descriptor {
	return s.Operations.Get(key)
}
