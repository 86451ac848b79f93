// Package operation tracks the lifecycle of asynchronous operations.
//
// Each logical operation is identified by a Key (kind + target) and moves
// through a small state machine:
//
//	idle ──Begin──▶ pending ──Fulfill──▶ fulfilled
//	                   │  ▲                  │
//	                   │  └──Supersede       │
//	                   └─────Reject──▶ rejected
//
//	fulfilled|rejected ──Begin──▶ pending
//	fulfilled|rejected ──Reset──▶ idle
//
// Terminal states are resting states, not absorbing ones. A terminal state is
// never reached without passing through pending, and a settlement is only
// accepted from the request that currently owns the pending slot.
//
// Like entity.Store, Registry is an immutable value: transitions return a new
// *Registry and never modify a published one.
package operation
