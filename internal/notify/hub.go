// Package notify delivers published snapshots to observers.
//
// Delivery is synchronous: Publish returns after every observer subscribed at
// the start of the round has been invoked exactly once, in subscription
// order. The engine calls Publish from its Run loop, so the next intent is
// not applied until the round completes.
package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/statekit/internal/state"
)

// Observer receives published snapshots.
//
// Observers run on the engine's loop goroutine. They must not block on the
// engine (use Engine.Enqueue, never Engine.Dispatch, from an observer).
type Observer func(s *state.Snapshot)

type subscription struct {
	id     uint64
	fn     Observer
	active atomic.Bool
}

// Hub is a registry of observers. The zero value is not usable; use NewHub.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   []*subscription
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Subscribe registers fn and returns its unsubscribe handle.
// The handle is idempotent.
func (h *Hub) Subscribe(fn Observer) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &subscription{id: h.nextID, fn: fn}
	sub.active.Store(true)
	h.subs = append(h.subs, sub)

	return func() { h.remove(sub) }
}

// Len returns the number of current subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish invokes every observer with s.
//
// The observer list is copied before iterating, so subscribing or
// unsubscribing during a round never skips or repeats delivery to anyone
// else. An observer unsubscribed earlier in the same round is not invoked.
// A panicking observer is logged and the round continues.
func (h *Hub) Publish(s *state.Snapshot) {
	h.mu.Lock()
	round := make([]*subscription, len(h.subs))
	copy(round, h.subs)
	h.mu.Unlock()

	for _, sub := range round {
		if !sub.active.Load() {
			continue
		}
		h.deliver(sub, s)
	}
}

func (h *Hub) deliver(sub *subscription, s *state.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("observer panicked",
				"subscription", sub.id,
				"seq", s.Seq,
				"cause", s.Cause,
				"panic", r,
			)
		}
	}()
	sub.fn(s)
}

func (h *Hub) remove(sub *subscription) {
	if !sub.active.Swap(false) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, cur := range h.subs {
		if cur == sub {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			return
		}
	}
}
