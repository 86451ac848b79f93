package selector

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statekit/internal/entity"
	"github.com/roach88/statekit/internal/ir"
	"github.com/roach88/statekit/internal/operation"
	"github.com/roach88/statekit/internal/state"
)

func withStore(prev *state.Snapshot, store *entity.Store) *state.Snapshot {
	return prev.Next(prev.Seq+1, store, nil, "test")
}

func withOps(prev *state.Snapshot, ops *operation.Registry) *state.Snapshot {
	return prev.Next(prev.Seq+1, nil, ops, "test")
}

func names(store *entity.Store) ([]string, error) {
	out := []string{}
	for _, e := range store.All() {
		n, _ := e.StringField("name")
		out = append(out, n)
	}
	return out, nil
}

func TestMemo_SameReferenceWhenInputsUnchanged(t *testing.T) {
	s1 := withStore(state.Empty(), entity.Empty().Upsert("u1", ir.Object{"name": ir.String("Ann")}, 1))
	sel := New1(Entities(), names)

	a, err := sel.Select(s1)
	require.NoError(t, err)

	// Only the registry changes; the entity store pointer is carried over.
	ops, err := s1.Operations.Begin(operation.NewKey("fetchEntity", "u2"), "r1", time.Time{}, 2)
	require.NoError(t, err)
	s2 := withOps(s1, ops)

	b, err := sel.Select(s2)
	require.NoError(t, err)

	assert.Equal(t, []string{"Ann"}, b)
	assert.Same(t, &a[0], &b[0], "cached slice must be returned unchanged")
	assert.Equal(t, Stats{Hits: 1, Recomputes: 1}, sel.Stats())
}

func TestMemo_RecomputesWhenDependencyChanges(t *testing.T) {
	s1 := withStore(state.Empty(), entity.Empty().Upsert("u1", ir.Object{"name": ir.String("Ann")}, 1))
	sel := New1(Entities(), names)

	a, err := sel.Select(s1)
	require.NoError(t, err)

	// Same content, different store value: recomputed, equal by content.
	s2 := withStore(s1, s1.Entities.Upsert("u1", ir.Object{"name": ir.String("Ann")}, 2))
	b, err := sel.Select(s2)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotSame(t, &a[0], &b[0])
	assert.Equal(t, uint64(2), sel.Stats().Recomputes)
}

func TestMemo_RemoveAbsentKeepsCache(t *testing.T) {
	s1 := withStore(state.Empty(), entity.Empty().Upsert("u1", ir.Object{}, 1))
	sel := New1(Entities(), func(s *entity.Store) (int, error) { return s.Len(), nil })

	_, err := sel.Select(s1)
	require.NoError(t, err)
	_, err = sel.Select(withStore(s1, s1.Entities.Remove("missing")))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), sel.Stats().Hits)
}

func TestMemo_ComposesAlongTraversedGraph(t *testing.T) {
	u1 := operation.NewKey("fetchEntity", "u1")

	var entityCalls, opCalls, combinedCalls int
	nameOf := New1(EntityByKey("u1"), func(e entity.Entity) (string, error) {
		entityCalls++
		n, _ := e.StringField("name")
		return n, nil
	})
	loading := New1(OperationByKey(u1), func(d operation.Descriptor) (bool, error) {
		opCalls++
		return d.Status == operation.StatusPending, nil
	})
	label := New2(nameOf, loading, func(name string, busy bool) (string, error) {
		combinedCalls++
		if busy {
			return name + " (loading)", nil
		}
		return name, nil
	})

	s1 := withStore(state.Empty(), entity.Empty().Upsert("u1", ir.Object{"name": ir.String("Ann")}, 1))
	got, err := label.Select(s1)
	require.NoError(t, err)
	assert.Equal(t, "Ann", got)

	// Unrelated entity changes: u1's entity value is unchanged, so only the
	// cheap input reads run; no derivation recomputes.
	s2 := withStore(s1, s1.Entities.Upsert("u2", ir.Object{"name": ir.String("Bo")}, 2))
	_, err = label.Select(s2)
	require.NoError(t, err)
	assert.Equal(t, 1, entityCalls)
	assert.Equal(t, 1, opCalls)
	assert.Equal(t, 1, combinedCalls)

	// The u1 operation goes pending: loading and label recompute, nameOf does not.
	ops, err := s2.Operations.Begin(u1, "r1", time.Time{}, 3)
	require.NoError(t, err)
	got, err = label.Select(withOps(s2, ops))
	require.NoError(t, err)
	assert.Equal(t, "Ann (loading)", got)
	assert.Equal(t, 1, entityCalls)
	assert.Equal(t, 2, opCalls)
	assert.Equal(t, 2, combinedCalls)
}

func TestMemo_ErrorLeavesCacheIntact(t *testing.T) {
	boom := errors.New("boom")
	fail := false
	sel := New1(Entities(), func(s *entity.Store) (int, error) {
		if fail {
			return 0, boom
		}
		return s.Len(), nil
	}, WithName("count"))

	s1 := withStore(state.Empty(), entity.Empty().Upsert("u1", ir.Object{}, 1))
	n, err := sel.Select(s1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	fail = true
	s2 := withStore(s1, s1.Entities.Upsert("u2", ir.Object{}, 2))
	_, err = sel.Select(s2)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "selector count")

	// Prior valid entry is still served for its own inputs.
	n, err = sel.Select(s1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Next call with the changed inputs recomputes from scratch.
	fail = false
	n, err = sel.Select(s2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, Stats{Hits: 1, Recomputes: 2, Errors: 1}, sel.Stats())
}

func TestMemo_PanicDoesNotCorruptCache(t *testing.T) {
	explode := false
	sel := New1(Entities(), func(s *entity.Store) (int, error) {
		if explode {
			panic("compute exploded")
		}
		return s.Len(), nil
	})

	s1 := withStore(state.Empty(), entity.Empty())
	_, err := sel.Select(s1)
	require.NoError(t, err)

	explode = true
	s2 := withStore(s1, s1.Entities.Upsert("u1", ir.Object{}, 1))
	assert.Panics(t, func() { _, _ = sel.Select(s2) })

	explode = false
	n, err := sel.Select(s2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemo_InputErrorPropagates(t *testing.T) {
	bad := SelectorFunc[int](func(*state.Snapshot) (int, error) { return 0, errors.New("bad input") })
	sel := New1[int, int](bad, func(n int) (int, error) { return n, nil })

	_, err := sel.Select(state.Empty())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input 0")
}

func TestMemo_WithInputEqualByContent(t *testing.T) {
	calls := 0
	sel := New1(EntityByKey("u1"), func(e entity.Entity) (string, error) {
		calls++
		n, _ := e.StringField("name")
		return n, nil
	}, WithInputEqual(0, func(a, b any) bool {
		return ir.Equal(a.(entity.Entity).Attrs(), b.(entity.Entity).Attrs())
	}))

	s1 := withStore(state.Empty(), entity.Empty().Upsert("u1", ir.Object{"name": ir.String("Ann")}, 1))
	s2 := withStore(s1, s1.Entities.Upsert("u1", ir.Object{"name": ir.String("Ann")}, 2))

	_, err := sel.Select(s1)
	require.NoError(t, err)
	_, err = sel.Select(s2)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestMemo_New3AndReset(t *testing.T) {
	count := New1(Entities(), func(s *entity.Store) (int, error) { return s.Len(), nil })
	pending := New1(Operations(), func(r *operation.Registry) (int, error) { return len(r.Pending()), nil })
	seq := Func(func(s *state.Snapshot) int64 { return s.Seq })

	sum := New3(count, pending, seq, func(a, b int, c int64) (int64, error) {
		return int64(a+b) + c, nil
	})

	s := withStore(state.Empty(), entity.Empty().Upsert("u1", ir.Object{}, 1))
	got, err := sum.Select(s)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)

	sum.Reset()
	_, err = sum.Select(s)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), sum.Stats().Recomputes)
}

func TestMemo_ConcurrentSelect(t *testing.T) {
	sel := New1(Entities(), names)
	s := withStore(state.Empty(), entity.Empty().Upsert("u1", ir.Object{"name": ir.String("Ann")}, 1))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := sel.Select(s)
			assert.NoError(t, err)
			assert.Equal(t, []string{"Ann"}, got)
		}()
	}
	wg.Wait()

	st := sel.Stats()
	assert.Equal(t, uint64(1), st.Recomputes)
	assert.Equal(t, uint64(19), st.Hits)
}
