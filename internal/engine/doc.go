// Package engine implements the action dispatcher.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Intents and settlements share one FIFO queue. Engine.Run dequeues them one
// at a time, so every change to the entity store and the operation registry
// happens on a single goroutine:
//
//  1. Dispatch validates an intent and enqueues it
//  2. Run dequeues it and applies it to the current Snapshot
//  3. the new Snapshot is stored and published to the notify.Hub
//  4. for a Request, the remote call runs on its own goroutine and its
//     settlement re-enters the queue as an ordinary event
//
// Observers are invoked on the loop goroutine before the next event is
// dequeued. They may submit follow-up intents with Enqueue, never Dispatch.
//
// Operation Policies:
// A Request for a key that is already pending either coalesces (the caller
// receives the in-flight Handle and no second remote call starts) or
// supersedes (a new request ID replaces the old one, the old call's context
// is cancelled with ErrSuperseded and its late resolution is discarded).
// The policy comes from the catalog kind unless the Request overrides it.
//
// Logical Clock:
// Every applied event is stamped with a monotonic seq from Clock.Next. Wall
// time is recorded for diagnostics only and never used for ordering.
package engine
