package operation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestKey_StringAndParse(t *testing.T) {
	k := NewKey("fetchEntity", "u1")
	assert.Equal(t, "fetchEntity:u1", k.String())

	parsed, err := ParseKey("fetchEntity:u1")
	require.NoError(t, err)
	assert.Equal(t, k, parsed)

	parsed, err = ParseKey("fetchPage:users:2")
	require.NoError(t, err)
	assert.Equal(t, Key{Kind: "fetchPage", Target: "users:2"}, parsed)

	_, err = ParseKey("nocolon")
	assert.Error(t, err)
	_, err = ParseKey(":u1")
	assert.Error(t, err)
}

func TestRegistry_UnreferencedIsIdle(t *testing.T) {
	k := NewKey("fetchEntity", "u1")
	d := Empty().Get(k)
	assert.Equal(t, StatusIdle, d.Status)
	assert.Equal(t, k, d.Key)
	assert.Equal(t, 0, Empty().Len())
}

func TestRegistry_FulfillLifecycle(t *testing.T) {
	k := NewKey("fetchEntity", "u1")

	r1, err := Empty().Begin(k, "req-1", t0, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r1.Status(k))
	assert.Equal(t, StatusIdle, Empty().Status(k), "published registry must not change")

	r2, err := r1.Fulfill(k, "req-1", t0.Add(time.Second), 2)
	require.NoError(t, err)
	d := r2.Get(k)
	assert.Equal(t, StatusFulfilled, d.Status)
	assert.Equal(t, t0, d.StartedAt)
	assert.Equal(t, t0.Add(time.Second), d.SettledAt)
	assert.Equal(t, int64(2), d.Seq)
	assert.Empty(t, d.Error)
}

func TestRegistry_RejectLifecycle(t *testing.T) {
	k := NewKey("fetchEntity", "u1")
	r, err := Empty().Begin(k, "req-1", t0, 1)
	require.NoError(t, err)

	r, err = r.Reject(k, "req-1", "network down", t0, 2)
	require.NoError(t, err)

	d := r.Get(k)
	assert.Equal(t, StatusRejected, d.Status)
	assert.Equal(t, "network down", d.Error)
}

func TestRegistry_TerminalStatesAreResting(t *testing.T) {
	k := NewKey("fetchEntity", "u1")
	r, _ := Empty().Begin(k, "req-1", t0, 1)
	r, _ = r.Reject(k, "req-1", "boom", t0, 2)

	r, err := r.Begin(k, "req-2", t0, 3)
	require.NoError(t, err)
	d := r.Get(k)
	assert.Equal(t, StatusPending, d.Status)
	assert.Equal(t, "req-2", d.RequestID)
	assert.Empty(t, d.Error, "re-entering pending clears the previous error")

	r, err = r.Fulfill(k, "req-2", t0, 4)
	require.NoError(t, err)
	assert.Equal(t, StatusFulfilled, r.Status(k))
}

func TestRegistry_NoTerminalWithoutPending(t *testing.T) {
	k := NewKey("fetchEntity", "u1")

	_, err := Empty().Fulfill(k, "req-1", t0, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	r, _ := Empty().Begin(k, "req-1", t0, 1)
	r, _ = r.Fulfill(k, "req-1", t0, 2)

	_, err = r.Reject(k, "req-1", "late", t0, 3)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusFulfilled, te.From)
	assert.Equal(t, "reject", te.Action)
}

func TestRegistry_BeginWhilePendingRefused(t *testing.T) {
	k := NewKey("fetchEntity", "u1")
	r, _ := Empty().Begin(k, "req-1", t0, 1)

	_, err := r.Begin(k, "req-2", t0, 2)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRegistry_SupersedeAndStaleSettlement(t *testing.T) {
	k := NewKey("fetchEntity", "u1")
	r, _ := Empty().Begin(k, "A", t0, 1)

	r, err := r.Supersede(k, "B", t0.Add(time.Second), 2)
	require.NoError(t, err)
	d := r.Get(k)
	assert.Equal(t, StatusPending, d.Status)
	assert.Equal(t, "B", d.RequestID)

	_, err = r.Fulfill(k, "A", t0, 3)
	assert.ErrorIs(t, err, ErrStaleRequest)

	r, err = r.Fulfill(k, "B", t0, 4)
	require.NoError(t, err)
	assert.Equal(t, StatusFulfilled, r.Status(k))
}

func TestRegistry_SupersedeRequiresPending(t *testing.T) {
	_, err := Empty().Supersede(NewKey("fetchEntity", "u1"), "B", t0, 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRegistry_Reset(t *testing.T) {
	k := NewKey("fetchEntity", "u1")

	same, err := Empty().Reset(k, 1)
	require.NoError(t, err)
	assert.Same(t, Empty(), same, "reset of idle key is a no-op")

	r, _ := Empty().Begin(k, "req-1", t0, 1)
	_, err = r.Reset(k, 2)
	assert.ErrorIs(t, err, ErrInvalidTransition, "reset of pending key is refused")

	r, _ = r.Reject(k, "req-1", "boom", t0, 2)
	r, err = r.Reset(k, 3)
	require.NoError(t, err)
	d := r.Get(k)
	assert.Equal(t, StatusIdle, d.Status)
	assert.Empty(t, d.Error)
	assert.Empty(t, d.RequestID)
}

func TestRegistry_KeysAndPending(t *testing.T) {
	a := NewKey("fetchEntity", "b")
	b := NewKey("fetchEntity", "a")
	c := NewKey("deleteEntity", "z")

	r, _ := Empty().Begin(a, "1", t0, 1)
	r, _ = r.Begin(b, "2", t0, 2)
	r, _ = r.Begin(c, "3", t0, 3)
	r, _ = r.Fulfill(b, "2", t0, 4)

	assert.Equal(t, []Key{c, b, a}, r.Keys())
	pending := r.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, c, pending[0].Key)
	assert.Equal(t, a, pending[1].Key)
	assert.Len(t, r.All(), 3)
}

func TestStatus_Helpers(t *testing.T) {
	assert.True(t, StatusFulfilled.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusIdle.Valid())
	assert.False(t, Status("done").Valid())
}
