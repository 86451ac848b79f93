package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statekit/internal/ir"
)

func TestStore_UpsertGetRoundTrip(t *testing.T) {
	attrs := ir.Object{"id": ir.String("u1"), "name": ir.String("Ann")}

	s := Empty().Upsert("u1", attrs, 1)

	got, ok := s.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "u1", got.Key)
	assert.True(t, ir.Equal(attrs, got.Attrs()))
	assert.Equal(t, int64(1), got.Rev)
}

func TestStore_IsImmutable(t *testing.T) {
	s0 := Empty()
	s1 := s0.Upsert("u1", ir.Object{"n": ir.Int(1)}, 1)
	s2 := s1.Upsert("u1", ir.Object{"n": ir.Int(2)}, 2)

	assert.False(t, s0.Has("u1"))

	e1, _ := s1.Get("u1")
	e2, _ := s2.Get("u1")
	assert.Equal(t, ir.Int(1), e1.Attrs()["n"])
	assert.Equal(t, ir.Int(2), e2.Attrs()["n"])
}

func TestStore_ReadsCannotMutateEarlierStores(t *testing.T) {
	s1 := Empty().Upsert("u1", ir.Object{
		"name": ir.String("Ann"),
		"addr": ir.Object{"city": ir.String("Oslo")},
	}, 1)
	s2 := s1.Upsert("u2", ir.Object{"name": ir.String("Bo")}, 2)

	e, ok := s2.Get("u1")
	require.True(t, ok)
	attrs := e.Attrs()
	attrs["name"] = ir.String("Mallory")
	attrs["addr"].(ir.Object)["city"] = ir.String("Nowhere")

	for _, all := range s2.All() {
		a := all.Attrs()
		a["name"] = ir.String("Mallory")
	}
	addr, ok := e.Field("addr")
	require.True(t, ok)
	addr.(ir.Object)["city"] = ir.String("Nowhere")

	for _, s := range []*Store{s1, s2} {
		got, _ := s.Get("u1")
		assert.Equal(t, ir.Object{
			"name": ir.String("Ann"),
			"addr": ir.Object{"city": ir.String("Oslo")},
		}, got.Attrs())
	}
	got, _ := s2.Get("u2")
	assert.Equal(t, ir.String("Bo"), got.Attrs()["name"])
}

func TestStore_UpsertCopiesNestedAttrs(t *testing.T) {
	addr := ir.Object{"city": ir.String("Oslo")}
	s := Empty().
		Upsert("u1", ir.Object{"addr": addr}, 1).
		Patch("u2", ir.Object{"addr": addr}, 2)

	addr["city"] = ir.String("Bergen")

	for _, key := range []string{"u1", "u2"} {
		got, _ := s.Get(key)
		city, _ := got.Field("addr")
		assert.Equal(t, ir.Object{"city": ir.String("Oslo")}, city, key)
	}
}

func TestEntity_MarshalJSON(t *testing.T) {
	s := Empty().Upsert("u1", ir.Object{"name": ir.String("Ann"), "age": ir.Int(3)}, 4)
	e, _ := s.Get("u1")

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"u1","attrs":{"age":3,"name":"Ann"},"rev":4}`, string(data))

	name, ok := e.StringField("name")
	assert.True(t, ok)
	assert.Equal(t, "Ann", name)
	_, ok = e.Field("missing")
	assert.False(t, ok)
}

func TestStore_UpsertReplacesEntirely(t *testing.T) {
	s := Empty().
		Upsert("u1", ir.Object{"name": ir.String("Ann"), "age": ir.Int(3)}, 1).
		Upsert("u1", ir.Object{"name": ir.String("Bo")}, 2)

	got, _ := s.Get("u1")
	assert.Equal(t, ir.Object{"name": ir.String("Bo")}, got.Attrs())
	assert.Equal(t, 1, s.Len(), "at most one live copy per key")
}

func TestStore_UpsertCopiesAttrs(t *testing.T) {
	attrs := ir.Object{"name": ir.String("Ann")}
	s := Empty().Upsert("u1", attrs, 1)

	attrs["name"] = ir.String("mutated")

	got, _ := s.Get("u1")
	assert.Equal(t, ir.String("Ann"), got.Attrs()["name"])
}

func TestStore_PatchMerges(t *testing.T) {
	s := Empty().
		Upsert("u1", ir.Object{"name": ir.String("Ann"), "age": ir.Int(3)}, 1).
		Patch("u1", ir.Object{"age": ir.Int(4)}, 2)

	got, _ := s.Get("u1")
	assert.Equal(t, ir.Object{"name": ir.String("Ann"), "age": ir.Int(4)}, got.Attrs())
	assert.Equal(t, int64(2), got.Rev)
}

func TestStore_PatchAbsentCreates(t *testing.T) {
	s := Empty().Patch("u9", ir.Object{"name": ir.String("Cy")}, 5)

	got, ok := s.Get("u9")
	require.True(t, ok)
	assert.Equal(t, ir.Object{"name": ir.String("Cy")}, got.Attrs())
}

func TestStore_Remove(t *testing.T) {
	s1 := Empty().Upsert("u1", ir.Object{}, 1)
	s2 := s1.Remove("u1")

	assert.False(t, s2.Has("u1"))
	assert.True(t, s1.Has("u1"))
}

func TestStore_RemoveAbsentIsNoop(t *testing.T) {
	s := Empty().Upsert("u1", ir.Object{}, 1)
	assert.Same(t, s, s.Remove("nope"))
}

func TestStore_UpsertMany(t *testing.T) {
	s := Empty().UpsertMany([]Entity{
		New("b", ir.Object{"n": ir.Int(2)}),
		New("a", ir.Object{"n": ir.Int(1)}),
	}, 7)

	assert.Equal(t, []string{"a", "b"}, s.Keys())
	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Key)
	assert.Equal(t, int64(7), all[1].Rev)

	assert.Same(t, s, s.UpsertMany(nil, 8))
}

func TestStore_DigestIgnoresRevisions(t *testing.T) {
	a := Empty().Upsert("u1", ir.Object{"n": ir.Int(1)}, 1)
	b := Empty().Upsert("u1", ir.Object{"n": ir.Int(1)}, 99)
	c := Empty().Upsert("u1", ir.Object{"n": ir.Int(2)}, 1)

	da, err := a.Digest()
	require.NoError(t, err)
	db, err := b.Digest()
	require.NoError(t, err)
	dc, err := c.Digest()
	require.NoError(t, err)

	assert.Equal(t, da, db)
	assert.NotEqual(t, da, dc)
}
