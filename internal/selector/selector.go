package selector

import (
	"github.com/roach88/statekit/internal/entity"
	"github.com/roach88/statekit/internal/operation"
	"github.com/roach88/statekit/internal/state"
)

// Selector derives a value from a snapshot.
type Selector[T any] interface {
	Select(s *state.Snapshot) (T, error)
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc[T any] func(s *state.Snapshot) (T, error)

// Select calls f(s).
func (f SelectorFunc[T]) Select(s *state.Snapshot) (T, error) {
	return f(s)
}

// Func wraps an infallible read as an input selector. It is not memoized;
// it should be a cheap field access.
func Func[T any](fn func(s *state.Snapshot) T) Selector[T] {
	return SelectorFunc[T](func(s *state.Snapshot) (T, error) {
		return fn(s), nil
	})
}

// Entities selects the whole entity store.
func Entities() Selector[*entity.Store] {
	return Func(func(s *state.Snapshot) *entity.Store { return s.Entities })
}

// Operations selects the whole operation registry.
func Operations() Selector[*operation.Registry] {
	return Func(func(s *state.Snapshot) *operation.Registry { return s.Operations })
}

// EntityByKey selects one entity. An absent key yields the zero Entity
// (empty Key).
func EntityByKey(key string) Selector[entity.Entity] {
	return Func(func(s *state.Snapshot) entity.Entity {
		e, _ := s.Entities.Get(key)
		return e
	})
}

// OperationByKey selects one operation descriptor.
func OperationByKey(key operation.Key) Selector[operation.Descriptor] {
	return Func(func(s *state.Snapshot) operation.Descriptor {
		return s.Operations.Get(key)
	})
}

// Select evaluates sel against s. It exists for call-site symmetry with
// Family.Select.
func Select[T any](s *state.Snapshot, sel Selector[T]) (T, error) {
	return sel.Select(s)
}
