// Package catalog declares the operation kinds an engine accepts.
//
// Dispatching an asynchronous intent whose kind is not in the catalog is a
// caller contract violation and fails fast. Each kind also decides how a
// fulfilled payload is applied to the entity store and what happens when the
// same key is requested again while pending.
package catalog

import (
	"fmt"
	"slices"
	"strings"
)

// ApplyMode selects how a fulfilled payload changes the entity store.
type ApplyMode string

const (
	// ApplyUpsert stores the payload object as the entity at the target key.
	ApplyUpsert ApplyMode = "upsert"
	// ApplyPatch merges the payload object into the entity at the target key.
	ApplyPatch ApplyMode = "patch"
	// ApplyRemove removes the target key; the payload is ignored.
	ApplyRemove ApplyMode = "remove"
	// ApplyUpsertMany stores each object of a payload array under its KeyField.
	ApplyUpsertMany ApplyMode = "upsertMany"
	// ApplyNone records the status only.
	ApplyNone ApplyMode = "none"
)

// Policy decides what a second request does while the key is pending.
type Policy string

const (
	// PolicyCoalesce attaches the second caller to the in-flight request.
	PolicyCoalesce Policy = "coalesce"
	// PolicySupersede starts a new request and discards the older result
	// (last dispatch wins).
	PolicySupersede Policy = "supersede"
)

// DefaultKeyField is the payload field that keys entities for upsertMany.
const DefaultKeyField = "id"

var (
	validModes    = []ApplyMode{ApplyUpsert, ApplyPatch, ApplyRemove, ApplyUpsertMany, ApplyNone}
	validPolicies = []Policy{PolicyCoalesce, PolicySupersede}
)

// Kind describes one operation kind.
type Kind struct {
	Name        string    `json:"name"`
	Apply       ApplyMode `json:"apply"`
	Policy      Policy    `json:"policy"`
	KeyField    string    `json:"key_field,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Validate checks the kind and reports the first problem found.
func (k Kind) Validate() error {
	if k.Name == "" {
		return &CompileError{Field: "name", Message: "operation kind name is required"}
	}
	if strings.Contains(k.Name, ":") {
		return &CompileError{Field: k.Name, Message: "operation kind name must not contain ':'"}
	}
	if !slices.Contains(validModes, k.Apply) {
		return &CompileError{Field: k.Name + ".apply", Message: fmt.Sprintf("unknown apply mode %q", k.Apply)}
	}
	if !slices.Contains(validPolicies, k.Policy) {
		return &CompileError{Field: k.Name + ".policy", Message: fmt.Sprintf("unknown policy %q", k.Policy)}
	}
	if k.Apply == ApplyUpsertMany && k.KeyField == "" {
		return &CompileError{Field: k.Name + ".keyField", Message: "upsertMany requires a key field"}
	}
	return nil
}

// Catalog is an immutable set of kinds.
type Catalog struct {
	kinds map[string]Kind
}

// New builds a catalog, filling defaults (coalesce policy, "id" key field)
// and rejecting invalid or duplicate kinds.
func New(kinds ...Kind) (*Catalog, error) {
	c := &Catalog{kinds: make(map[string]Kind, len(kinds))}
	for _, k := range kinds {
		if k.Policy == "" {
			k.Policy = PolicyCoalesce
		}
		if k.Apply == ApplyUpsertMany && k.KeyField == "" {
			k.KeyField = DefaultKeyField
		}
		if err := k.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.kinds[k.Name]; dup {
			return nil, &CompileError{Field: k.Name, Message: "duplicate operation kind"}
		}
		c.kinds[k.Name] = k
	}
	return c, nil
}

// MustNew is like New but panics on error. Use only in tests and for
// catalogs built from constants.
func MustNew(kinds ...Kind) *Catalog {
	c, err := New(kinds...)
	if err != nil {
		panic(err)
	}
	return c
}

// Default returns the conventional entity catalog:
// fetchEntity, updateEntity, deleteEntity and fetchAll.
func Default() *Catalog {
	return MustNew(
		Kind{Name: "fetchEntity", Apply: ApplyUpsert, Description: "load one entity"},
		Kind{Name: "updateEntity", Apply: ApplyPatch, Policy: PolicySupersede, Description: "save a partial update"},
		Kind{Name: "deleteEntity", Apply: ApplyRemove, Description: "delete one entity"},
		Kind{Name: "fetchAll", Apply: ApplyUpsertMany, Description: "load a collection"},
	)
}

// Lookup returns the kind registered under name.
func (c *Catalog) Lookup(name string) (Kind, bool) {
	k, ok := c.kinds[name]
	return k, ok
}

// Kinds returns every kind ordered by name.
func (c *Catalog) Kinds() []Kind {
	out := make([]Kind, 0, len(c.kinds))
	for _, k := range c.kinds {
		out = append(out, k)
	}
	slices.SortFunc(out, func(a, b Kind) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Len returns the number of kinds.
func (c *Catalog) Len() int {
	return len(c.kinds)
}

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	return slices.Contains(validPolicies, p)
}
