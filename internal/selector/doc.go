// Package selector implements memoized, composable derivations over
// snapshots.
//
// A Selector reads a *state.Snapshot and returns a value. Input selectors
// (Entities, Operations, EntityByKey, OperationByKey, Func) are plain reads.
// Memoized selectors built with New1, New2 and New3 record the concrete input
// values used for their cached result and return that same result for as long
// as every input is unchanged. Inputs are compared per field with Same:
// comparable values by ==, maps, slices, pointers and funcs by reference.
//
// Evaluation is pull-based. Selecting a memo evaluates only its own inputs,
// so invalidation follows exactly the dependency graph that is traversed and
// nothing is invalidated globally.
//
// Selectors never modify the snapshot. A compute error is returned to the
// caller and leaves the cache at its previous valid entry; the next call
// recomputes.
package selector
