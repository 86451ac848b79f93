package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statekit/internal/entity"
	"github.com/roach88/statekit/internal/ir"
	"github.com/roach88/statekit/internal/operation"
	"github.com/roach88/statekit/internal/selector"
	"github.com/roach88/statekit/internal/state"
)

func TestNewCollector_DefaultNamespace(t *testing.T) {
	c := NewCollector("")
	c.RecordDispatch("upsert")

	n, err := testutil.GatherAndCount(c.Registry(), "statekit_dispatch_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCollector_Counters(t *testing.T) {
	c := NewCollector("test")

	c.RecordDispatch("request")
	c.RecordDispatch("request")
	c.RecordTransition("fetchEntity", operation.StatusPending)
	c.RecordTransition("fetchEntity", operation.StatusFulfilled)
	c.RecordCoalesced("fetchEntity")
	c.RecordStale("updateEntity")
	c.RecordStale("updateEntity")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.dispatchTotal.WithLabelValues("request")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitionsTotal.WithLabelValues("fetchEntity", "pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.coalescedTotal.WithLabelValues("fetchEntity")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.staleTotal.WithLabelValues("updateEntity")))
}

func TestCollector_Gauges(t *testing.T) {
	c := NewCollector("test")
	c.RecordInflight(3)
	c.RecordQueueDepth(7)
	c.RecordInflight(1)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.inflight))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.queueDepth))
}

func TestCollector_NotifyHistogram(t *testing.T) {
	c := NewCollector("test")
	c.RecordNotify(2 * time.Millisecond)

	expected := `
# HELP test_stale_resolutions_total Resolutions discarded because a newer request owns the key
# TYPE test_stale_resolutions_total counter
test_stale_resolutions_total{kind="fetchEntity"} 1
`
	c.RecordStale("fetchEntity")
	require.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "test_stale_resolutions_total"))

	n, err := testutil.GatherAndCount(c.Registry(), "test_notify_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordDispatch("upsert")
		c.RecordTransition("k", operation.StatusRejected)
		c.RecordStale("k")
		c.RecordCoalesced("k")
		c.RecordInflight(1)
		c.RecordQueueDepth(1)
		c.RecordNotify(time.Second)
	})
}

func TestCollector_WatchSelector(t *testing.T) {
	c := NewCollector("test")
	count := selector.New1(selector.Entities(), func(s *entity.Store) (int, error) {
		return s.Len(), nil
	}, selector.WithName("entity_count"))
	require.NoError(t, c.WatchSelector(count))

	s := state.Empty().Next(1, entity.Empty().Upsert("u1", ir.Object{}, 1), nil, "test")
	_, _ = count.Select(s)
	_, _ = count.Select(s)

	expected := `
# HELP test_selector_hits_total Selector calls served from the cache
# TYPE test_selector_hits_total counter
test_selector_hits_total{selector="entity_count"} 1
# HELP test_selector_recomputes_total Selector derivations that ran
# TYPE test_selector_recomputes_total counter
test_selector_recomputes_total{selector="entity_count"} 1
`
	require.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected),
		"test_selector_hits_total", "test_selector_recomputes_total"))

	err := c.WatchSelector(count)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity_count")
}
