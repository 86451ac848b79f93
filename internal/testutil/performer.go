package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/statekit/internal/engine"
	"github.com/roach88/statekit/internal/ir"
)

// ErrUnknownCall is returned when a request ID was never started.
var ErrUnknownCall = errors.New("unknown call")

// ErrAlreadySettled is returned when a call is settled twice.
var ErrAlreadySettled = errors.New("call already settled")

// ManualPerformer records every call the engine starts and lets the test
// settle them by hand, in any order. It implements engine.AsyncPerformer, so
// Resolve and Reject enqueue the settlement before they return; follow them
// with Engine.Sync to wait until it is applied.
//
// Cancellation is recorded but does not settle the call: a remote response
// may still arrive after the engine gave up on it, and tests use that to
// exercise stale resolutions.
type ManualPerformer struct {
	mu     sync.Mutex
	calls  []*manualCall
	byID   map[string]*manualCall
	notify chan struct{}
}

type manualCall struct {
	call    engine.Call
	ctx     context.Context
	settle  engine.SettleFunc
	settled bool
}

// NewManualPerformer creates an empty performer.
func NewManualPerformer() *ManualPerformer {
	return &ManualPerformer{
		byID:   make(map[string]*manualCall),
		notify: make(chan struct{}, 1),
	}
}

// Start implements engine.AsyncPerformer.
func (p *ManualPerformer) Start(ctx context.Context, call engine.Call, settle engine.SettleFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mc := &manualCall{call: call, ctx: ctx, settle: settle}
	p.calls = append(p.calls, mc)
	p.byID[call.RequestID] = mc

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Perform implements engine.Performer by blocking until the call is settled
// by hand. The engine prefers Start; Perform exists for direct use.
func (p *ManualPerformer) Perform(ctx context.Context, call engine.Call) (ir.Value, error) {
	type outcome struct {
		value ir.Value
		err   error
	}
	done := make(chan outcome, 1)
	p.Start(ctx, call, func(v ir.Value, err error) { done <- outcome{v, err} })

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// Calls returns every started call in start order.
func (p *ManualPerformer) Calls() []engine.Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]engine.Call, len(p.calls))
	for i, mc := range p.calls {
		out[i] = mc.call
	}
	return out
}

// Outstanding returns the calls not yet settled, in start order.
func (p *ManualPerformer) Outstanding() []engine.Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []engine.Call
	for _, mc := range p.calls {
		if !mc.settled {
			out = append(out, mc.call)
		}
	}
	return out
}

// Len returns the number of started calls.
func (p *ManualPerformer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// WaitForCalls blocks until at least n calls were started or ctx ends.
func (p *ManualPerformer) WaitForCalls(ctx context.Context, n int) error {
	for {
		if p.Len() >= n {
			return nil
		}
		select {
		case <-p.notify:
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d calls (have %d): %w", n, p.Len(), ctx.Err())
		}
	}
}

// Resolve fulfills the call with value.
func (p *ManualPerformer) Resolve(requestID string, value ir.Value) error {
	return p.finish(requestID, value, nil)
}

// Reject fails the call with err.
func (p *ManualPerformer) Reject(requestID string, err error) error {
	return p.finish(requestID, nil, err)
}

// CancelCause reports whether the engine cancelled the call and why
// (engine.ErrSuperseded when a newer request replaced it).
func (p *ManualPerformer) CancelCause(requestID string) (bool, error) {
	p.mu.Lock()
	mc, ok := p.byID[requestID]
	p.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownCall, requestID)
	}
	if mc.ctx.Err() == nil {
		return false, nil
	}
	return true, context.Cause(mc.ctx)
}

func (p *ManualPerformer) finish(requestID string, value ir.Value, err error) error {
	p.mu.Lock()
	mc, ok := p.byID[requestID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownCall, requestID)
	}
	if mc.settled {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadySettled, requestID)
	}
	mc.settled = true
	p.mu.Unlock()

	mc.settle(value, err)
	return nil
}
