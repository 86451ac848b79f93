// Package journal records applied engine events in SQLite.
//
// The journal is optional and write-only from the engine's point of view:
// one row per applied intent, settlement or discarded stale resolution, and
// a checkpoint row holding the entity store digest when the engine stops.
//
// Rows are ordered by an autoincrement id; seq is the snapshot seq the event
// produced (or observed, for stale resolutions) and is therefore not unique.
//
// Replay rebuilds the entity store from the recorded entity mutations and
// verifies it against the latest checkpoint. Operation statuses are not
// rebuilt: a journal is a history of data, and requests in flight at the
// time of a crash cannot be resumed.
//
// Payloads are stored as canonical JSON (see ir.MarshalCanonical) so a
// replayed store hashes identically to the live one.
package journal
