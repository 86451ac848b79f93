package engine

import (
	"sync"

	"github.com/roach88/statekit/internal/ir"
	"github.com/roach88/statekit/internal/operation"
)

// eventType distinguishes the two things the loop applies.
type eventType int

const (
	// eventIntent is a caller intent (synchronous mutation or request).
	eventIntent eventType = iota + 1
	// eventSettlement is a performer result re-entering the loop.
	eventSettlement
	// eventBarrier changes nothing; its reply proves earlier events are applied.
	eventBarrier
)

// event is one unit of work for the Run loop.
type event struct {
	typ        eventType
	intent     Intent
	reply      chan reply // nil for fire-and-forget intents
	settlement *settlement
}

type reply struct {
	handle *Handle
	err    error
}

type settlement struct {
	key       operation.Key
	requestID string
	value     ir.Value
	err       error
}

// eventQueue is an unbounded, thread-safe FIFO shared by Dispatch, Enqueue
// and performer goroutines. Only the Run loop dequeues.
//
// The signal channel (buffered, size 1) lets the loop wait with a select
// that also watches its context.
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends e. Returns false once the queue is closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}
	e := q.events[0]
	// Clear the slot so the backing array does not pin payloads.
	q.events[0] = event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns the availability signal. It is closed by Close.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close refuses further events and wakes the waiter.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Drain closes the queue and returns whatever was still queued.
func (q *eventQueue) Drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.signal)
	}
	rest := q.events
	q.events = nil
	return rest
}

// Closed reports whether Close or Drain was called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
