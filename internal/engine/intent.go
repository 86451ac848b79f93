package engine

import (
	"github.com/roach88/statekit/internal/catalog"
	"github.com/roach88/statekit/internal/ir"
	"github.com/roach88/statekit/internal/operation"
)

// Intent is a sealed interface over the things a caller can dispatch.
// Upsert, Patch, Remove and ResetOperation apply synchronously; Request
// starts an asynchronous operation.
type Intent interface {
	intentName() string
}

// Upsert replaces the entity at Key with Attrs.
type Upsert struct {
	Key   string
	Attrs ir.Object
}

// Patch merges Attrs into the entity at Key (see ir.Merge).
type Patch struct {
	Key   string
	Attrs ir.Object
}

// Remove deletes the entity at Key. Removing an absent key is a no-op.
type Remove struct {
	Key string
}

// ResetOperation returns a settled operation to idle ("clear error").
type ResetOperation struct {
	Key operation.Key
}

// Request starts the remote operation Key. Policy overrides the catalog
// kind's policy when set.
type Request struct {
	Key    operation.Key
	Args   ir.Object
	Policy catalog.Policy
}

func (Upsert) intentName() string         { return "upsert" }
func (Patch) intentName() string          { return "patch" }
func (Remove) intentName() string         { return "remove" }
func (ResetOperation) intentName() string { return "reset" }
func (Request) intentName() string        { return "request" }

// Fetch builds a Request for kind and target with the kind's own policy.
func Fetch(kind, target string) Request {
	return Request{Key: operation.NewKey(kind, target)}
}

// describe renders an intent for logs.
func describe(in Intent) string {
	switch in := in.(type) {
	case Upsert:
		return "upsert " + in.Key
	case Patch:
		return "patch " + in.Key
	case Remove:
		return "remove " + in.Key
	case ResetOperation:
		return "reset " + in.Key.String()
	case Request:
		if in.Policy != "" {
			return "request " + in.Key.String() + " (" + string(in.Policy) + ")"
		}
		return "request " + in.Key.String()
	case nil:
		return "<nil>"
	default:
		return in.intentName()
	}
}

// argsPayload is the journal payload of a request: its args, or nil.
func argsPayload(in Request) ir.Value {
	if len(in.Args) == 0 {
		return nil
	}
	return in.Args.Clone()
}
