package catalog

import (
	"fmt"

	"github.com/roach88/statekit/internal/entity"
	"github.com/roach88/statekit/internal/ir"
)

// ApplyTo folds a fulfilled payload for target into store according to the
// kind's apply mode. A payload of the wrong shape is an error and leaves the
// store unchanged.
func (k Kind) ApplyTo(store *entity.Store, target string, payload ir.Value, rev int64) (*entity.Store, error) {
	switch k.Apply {
	case ApplyUpsert:
		obj, err := asObject(payload)
		if err != nil {
			return nil, err
		}
		return store.Upsert(target, obj, rev), nil

	case ApplyPatch:
		obj, err := asObject(payload)
		if err != nil {
			return nil, err
		}
		return store.Patch(target, obj, rev), nil

	case ApplyRemove:
		return store.Remove(target), nil

	case ApplyUpsertMany:
		arr, ok := payload.(ir.Array)
		if !ok {
			return nil, fmt.Errorf("invalid payload: %s expects an array, got %T", k.Name, payload)
		}
		batch := make([]entity.Entity, 0, len(arr))
		for i, elem := range arr {
			obj, ok := elem.(ir.Object)
			if !ok {
				return nil, fmt.Errorf("invalid payload: %s[%d] is %T, want object", k.Name, i, elem)
			}
			key, err := entityKey(obj, k.KeyField)
			if err != nil {
				return nil, fmt.Errorf("invalid payload: %s[%d]: %w", k.Name, i, err)
			}
			batch = append(batch, entity.New(key, obj))
		}
		return store.UpsertMany(batch, rev), nil

	case ApplyNone:
		return store, nil

	default:
		return nil, fmt.Errorf("unknown apply mode %q", k.Apply)
	}
}

// NeedsTarget reports whether the apply mode addresses a single entity key.
func (k Kind) NeedsTarget() bool {
	switch k.Apply {
	case ApplyUpsert, ApplyPatch, ApplyRemove:
		return true
	}
	return false
}

func asObject(payload ir.Value) (ir.Object, error) {
	obj, ok := payload.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("invalid payload: want object, got %T", payload)
	}
	return obj, nil
}

func entityKey(obj ir.Object, field string) (string, error) {
	switch v := obj[field].(type) {
	case ir.String:
		if v == "" {
			return "", fmt.Errorf("empty key field %q", field)
		}
		return string(v), nil
	case ir.Int:
		return fmt.Sprintf("%d", int64(v)), nil
	default:
		return "", fmt.Errorf("missing key field %q", field)
	}
}
