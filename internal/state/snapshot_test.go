package state

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/statekit/internal/entity"
	"github.com/roach88/statekit/internal/ir"
	"github.com/roach88/statekit/internal/operation"
)

func TestEmpty(t *testing.T) {
	s := Empty()
	assert.Equal(t, int64(0), s.Seq)
	assert.Equal(t, 0, s.Entities.Len())
	assert.Equal(t, operation.StatusIdle, s.Operation(operation.NewKey("fetchEntity", "u1")).Status)
}

func TestNext_CarriesUnchangedParts(t *testing.T) {
	s0 := Empty()
	store := entity.Empty().Upsert("u1", ir.Object{"n": ir.Int(1)}, 1)

	s1 := s0.Next(1, store, nil, "upsert u1")

	assert.Same(t, store, s1.Entities)
	assert.Same(t, s0.Operations, s1.Operations)
	assert.Equal(t, "upsert u1", s1.Cause)
	_, ok := s0.Entity("u1")
	assert.False(t, ok, "previous snapshot untouched")
	_, ok = s1.Entity("u1")
	assert.True(t, ok)
}
