package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepClock_Defaults(t *testing.T) {
	c := NewStepClock(time.Time{}, 0)
	assert.Equal(t, DefaultEpoch, c.Now())
	assert.Equal(t, DefaultEpoch.Add(time.Second), c.Now())
}

func TestStepClock_AdvancesByStep(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewStepClock(start, time.Millisecond)

	assert.Equal(t, start, c.Peek())
	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(time.Millisecond), c.Now())
	assert.Equal(t, start.Add(2*time.Millisecond), c.Peek(), "Peek must not advance")
}

func TestStepClock_Reset(t *testing.T) {
	c := NewStepClock(time.Time{}, time.Minute)
	c.Now()
	c.Now()

	c.Reset()
	assert.Equal(t, DefaultEpoch, c.Now())
}

func TestStepClock_Deterministic(t *testing.T) {
	a := NewStepClock(time.Time{}, time.Second)
	b := NewStepClock(time.Time{}, time.Second)
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Now(), b.Now())
	}
}

func TestStepClock_ConcurrentNowIsUnique(t *testing.T) {
	c := NewStepClock(time.Time{}, time.Nanosecond)
	const workers, calls = 20, 50

	var (
		mu   sync.Mutex
		seen = make(map[time.Time]struct{})
		wg   sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				now := c.Now()
				mu.Lock()
				seen[now] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*calls)
}
