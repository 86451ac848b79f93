package engine

import (
	"context"
	"sync"

	"github.com/roach88/statekit/internal/ir"
	"github.com/roach88/statekit/internal/operation"
)

// Handle is the completion of a dispatched intent. Handles of synchronous
// intents are settled when Dispatch returns. Coalesced requests share the
// handle of the in-flight request.
type Handle struct {
	key       operation.Key
	requestID string

	once  sync.Once
	done  chan struct{}
	value ir.Value
	err   error
}

func newHandle(key operation.Key, requestID string) *Handle {
	return &Handle{key: key, requestID: requestID, done: make(chan struct{})}
}

func settledHandle(value ir.Value, err error) *Handle {
	h := newHandle(operation.Key{}, "")
	h.settle(value, err)
	return h
}

// settle records the outcome. Only the first call has an effect.
func (h *Handle) settle(value ir.Value, err error) {
	h.once.Do(func() {
		h.value, h.err = value, err
		close(h.done)
	})
}

// Done is closed once the outcome is known.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the outcome is known or ctx ends. The value is the
// fulfilled payload; the error is the performer's error, ErrSuperseded, or
// an engine-stopped RuntimeError.
func (h *Handle) Wait(ctx context.Context) (ir.Value, error) {
	select {
	case <-h.done:
		return h.value, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Key returns the operation key; zero for synchronous intents.
func (h *Handle) Key() operation.Key {
	return h.key
}

// RequestID returns the request this handle follows; empty for synchronous
// intents.
func (h *Handle) RequestID() string {
	return h.requestID
}
