package engine

import (
	"context"

	"github.com/roach88/statekit/internal/ir"
	"github.com/roach88/statekit/internal/operation"
)

// Call is one remote invocation handed to a Performer.
type Call struct {
	Key       operation.Key
	RequestID string
	Args      ir.Object
}

// Performer carries out remote operations. Perform runs on its own goroutine
// and its return settles the request exactly once. The context is cancelled
// when the request is superseded (cause ErrSuperseded) or the engine stops.
type Performer interface {
	Perform(ctx context.Context, call Call) (ir.Value, error)
}

// PerformerFunc adapts a function to Performer.
type PerformerFunc func(ctx context.Context, call Call) (ir.Value, error)

// Perform calls f.
func (f PerformerFunc) Perform(ctx context.Context, call Call) (ir.Value, error) {
	return f(ctx, call)
}

// SettleFunc delivers the outcome of a started call. Calls after the first
// are ignored.
type SettleFunc func(value ir.Value, err error)

// AsyncPerformer is implemented by performers that prefer to be told about a
// call and settle it later, instead of blocking a goroutine in Perform.
// The engine calls Start on its loop goroutine, so Start must not block.
type AsyncPerformer interface {
	Start(ctx context.Context, call Call, settle SettleFunc)
}
