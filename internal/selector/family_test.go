package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statekit/internal/entity"
	"github.com/roach88/statekit/internal/ir"
	"github.com/roach88/statekit/internal/state"
)

func nameFamily(t *testing.T, size int, builds *int) *Family[string, string] {
	t.Helper()
	f, err := NewFamily(size, func(key string) Selector[string] {
		*builds++
		return New1(EntityByKey(key), func(e entity.Entity) (string, error) {
			n, _ := e.StringField("name")
			return n, nil
		})
	})
	require.NoError(t, err)
	return f
}

func TestFamily_OneMemoPerArgument(t *testing.T) {
	builds := 0
	f := nameFamily(t, 4, &builds)

	store := entity.Empty().
		Upsert("u1", ir.Object{"name": ir.String("Ann")}, 1).
		Upsert("u2", ir.Object{"name": ir.String("Bo")}, 2)
	s := state.Empty().Next(2, store, nil, "test")

	a, err := f.Select(s, "u1")
	require.NoError(t, err)
	b, err := f.Select(s, "u2")
	require.NoError(t, err)
	_, err = f.Select(s, "u1")
	require.NoError(t, err)

	assert.Equal(t, "Ann", a)
	assert.Equal(t, "Bo", b)
	assert.Equal(t, 2, builds)
	assert.Equal(t, 2, f.Len())
	assert.Same(t, f.Get("u1"), f.Get("u1"))
}

func TestFamily_EvictsLeastRecentlyUsed(t *testing.T) {
	builds := 0
	f := nameFamily(t, 2, &builds)
	s := state.Empty()

	_, _ = f.Select(s, "a")
	_, _ = f.Select(s, "b")
	_, _ = f.Select(s, "a") // a is now most recent
	_, _ = f.Select(s, "c") // evicts b

	assert.True(t, f.Contains("a"))
	assert.False(t, f.Contains("b"))
	assert.True(t, f.Contains("c"))
	assert.Equal(t, 3, builds)

	_, _ = f.Select(s, "b")
	assert.Equal(t, 4, builds, "evicted argument is rebuilt")
}

func TestFamily_DefaultSize(t *testing.T) {
	f, err := NewFamily(0, func(k int) Selector[int] {
		return Func(func(*state.Snapshot) int { return k })
	})
	require.NoError(t, err)

	got, err := f.Select(state.Empty(), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}
