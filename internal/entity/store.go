// Package entity implements the normalized entity store: a persistent,
// immutable mapping from key to entity.
//
// Every mutation returns a new *Store and leaves the receiver untouched, so a
// *Store published inside a snapshot can be read from any goroutine without
// locking. Pointer identity doubles as the change signal for memoized
// selectors: an operation that changes nothing returns the receiver itself.
package entity

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/roach88/statekit/internal/ir"
)

// Entity is a domain record with an opaque payload.
//
// The payload is private to the store that holds it. Attrs hands out a copy,
// so nothing read from a published snapshot can change it.
type Entity struct {
	Key string
	// Rev is the logical sequence at which the entity was last written.
	Rev   int64
	attrs ir.Object
}

// New builds an unstored entity, e.g. one element of an UpsertMany batch.
func New(key string, attrs ir.Object) Entity {
	return Entity{Key: key, attrs: attrs}
}

// Attrs returns a deep copy of the payload.
func (e Entity) Attrs() ir.Object {
	return e.attrs.DeepClone()
}

// Field returns a copy of one payload field.
func (e Entity) Field(name string) (ir.Value, bool) {
	v, ok := e.attrs[name]
	if !ok {
		return nil, false
	}
	return ir.Copy(v), true
}

// StringField returns the string value of name, if present and a String.
func (e Entity) StringField(name string) (string, bool) {
	return e.attrs.StringField(name)
}

// MarshalJSON emits {"key", "attrs", "rev"} with canonical attrs.
func (e Entity) MarshalJSON() ([]byte, error) {
	attrs, err := ir.MarshalCanonical(e.attrs)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Key   string          `json:"key"`
		Attrs json.RawMessage `json:"attrs"`
		Rev   int64           `json:"rev"`
	}{e.Key, attrs, e.Rev})
}

// Store maps keys to entities. The zero value is not usable; use Empty.
type Store struct {
	entities map[string]Entity
}

var empty = &Store{entities: map[string]Entity{}}

// Empty returns the shared empty store.
func Empty() *Store {
	return empty
}

// Get returns the entity stored under key.
func (s *Store) Get(key string) (Entity, bool) {
	e, ok := s.entities[key]
	return e, ok
}

// Has reports whether key is present.
func (s *Store) Has(key string) bool {
	_, ok := s.entities[key]
	return ok
}

// Len returns the number of entities.
func (s *Store) Len() int {
	return len(s.entities)
}

// Upsert stores attrs under key, replacing any prior entity entirely.
func (s *Store) Upsert(key string, attrs ir.Object, rev int64) *Store {
	next := s.clone(1)
	next.entities[key] = Entity{Key: key, attrs: attrs.DeepClone(), Rev: rev}
	return next
}

// Patch merges attrs into the entity under key (see ir.Merge).
// Patching an absent key creates the entity from the patch alone.
func (s *Store) Patch(key string, attrs ir.Object, rev int64) *Store {
	base := s.entities[key].attrs
	next := s.clone(1)
	next.entities[key] = Entity{Key: key, attrs: ir.Merge(base, attrs.DeepClone()), Rev: rev}
	return next
}

// Remove deletes key. Removing an absent key returns the receiver unchanged.
func (s *Store) Remove(key string) *Store {
	if !s.Has(key) {
		return s
	}
	next := s.clone(0)
	delete(next.entities, key)
	return next
}

// UpsertMany stores several entities in one step.
func (s *Store) UpsertMany(entities []Entity, rev int64) *Store {
	if len(entities) == 0 {
		return s
	}
	next := s.clone(len(entities))
	for _, e := range entities {
		next.entities[e.Key] = Entity{Key: e.Key, attrs: e.attrs.DeepClone(), Rev: rev}
	}
	return next
}

// Keys returns all keys in sorted order.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.entities))
	for k := range s.entities {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// All returns every entity ordered by key.
func (s *Store) All() []Entity {
	out := make([]Entity, 0, len(s.entities))
	for _, k := range s.Keys() {
		out = append(out, s.entities[k])
	}
	return out
}

// Digest hashes the store contents (keys and attributes, not revisions).
// Two stores holding the same data produce the same digest.
func (s *Store) Digest() (string, error) {
	obj := make(ir.Object, len(s.entities))
	for k, e := range s.entities {
		obj[k] = e.attrs
	}
	d, err := ir.Digest(ir.DomainStore, obj)
	if err != nil {
		return "", fmt.Errorf("store digest: %w", err)
	}
	return d, nil
}

func (s *Store) clone(extra int) *Store {
	m := make(map[string]Entity, len(s.entities)+extra)
	for k, v := range s.entities {
		m[k] = v
	}
	return &Store{entities: m}
}
