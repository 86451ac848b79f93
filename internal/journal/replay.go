package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/statekit/internal/catalog"
	"github.com/roach88/statekit/internal/entity"
	"github.com/roach88/statekit/internal/ir"
	"github.com/roach88/statekit/internal/operation"
)

// ErrDigestMismatch means the replayed store differs from the checkpoint.
var ErrDigestMismatch = errors.New("replayed store does not match checkpoint")

// ReplayResult is the outcome of Replay.
type ReplayResult struct {
	Entities *entity.Store
	LastSeq  int64
	Applied  int
	Digest   string
	// Checkpoint is the verified checkpoint; nil if the journal has none.
	Checkpoint *Checkpoint
}

// Replay rebuilds the entity store from recorded entity mutations.
//
// If a checkpoint exists, the store rebuilt up to the checkpoint's seq must
// hash to its digest; otherwise Replay returns ErrDigestMismatch along with
// the partial result.
func (j *Journal) Replay(ctx context.Context) (ReplayResult, error) {
	events, err := j.Events(ctx, Filter{})
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay: %w", err)
	}
	cp, hasCP, err := j.LastCheckpoint(ctx)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay: %w", err)
	}

	res := ReplayResult{Entities: entity.Empty()}
	verified := !hasCP
	for _, ev := range events {
		if !verified && ev.Seq > cp.Seq {
			if err := verify(res.Entities, cp); err != nil {
				return res, err
			}
			verified = true
		}
		next, changed, err := applyEvent(res.Entities, ev)
		if err != nil {
			return res, fmt.Errorf("replay event %d (seq=%d): %w", ev.ID, ev.Seq, err)
		}
		if changed {
			res.Entities = next
			res.Applied++
		}
		res.LastSeq = max(res.LastSeq, ev.Seq)
	}
	if !verified {
		if err := verify(res.Entities, cp); err != nil {
			return res, err
		}
	}
	if hasCP {
		res.Checkpoint = &cp
	}

	res.Digest, err = res.Entities.Digest()
	if err != nil {
		return res, fmt.Errorf("replay: %w", err)
	}
	return res, nil
}

func verify(store *entity.Store, cp Checkpoint) error {
	got, err := store.Digest()
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	if got != cp.Digest {
		return fmt.Errorf("%w at seq %d: got %s, want %s", ErrDigestMismatch, cp.Seq, got, cp.Digest)
	}
	return nil
}

// applyEvent reports whether ev mutates entities and returns the new store.
func applyEvent(store *entity.Store, ev Event) (*entity.Store, bool, error) {
	switch ev.Kind {
	case KindUpsert, KindPatch:
		obj, ok := ev.Payload.(ir.Object)
		if !ok {
			return nil, false, fmt.Errorf("%s payload is %T, want object", ev.Kind, ev.Payload)
		}
		if ev.Kind == KindUpsert {
			return store.Upsert(ev.EntityKey, obj, ev.Seq), true, nil
		}
		return store.Patch(ev.EntityKey, obj, ev.Seq), true, nil

	case KindRemove:
		return store.Remove(ev.EntityKey), true, nil

	case KindFulfilled:
		key, err := operation.ParseKey(ev.OpKey)
		if err != nil {
			return nil, false, err
		}
		kind := catalog.Kind{Name: key.Kind, Apply: catalog.ApplyMode(ev.Apply), KeyField: ev.KeyField}
		next, err := kind.ApplyTo(store, key.Target, ev.Payload, ev.Seq)
		if err != nil {
			return nil, false, err
		}
		return next, kind.Apply != catalog.ApplyNone, nil

	default:
		return store, false, nil
	}
}
