package selector

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/statekit/internal/state"
)

// DefaultFamilySize bounds the number of per-argument memos a Family keeps.
const DefaultFamilySize = 256

// Family memoizes a parameterized selector: one selector per argument,
// created on first use and kept in a bounded LRU. Evicting an argument only
// drops its cache; the next use rebuilds it.
type Family[K comparable, T any] struct {
	mu    sync.Mutex
	build func(K) Selector[T]
	cache *lru.Cache[K, Selector[T]]
}

// NewFamily creates a family holding at most size selectors.
// A size <= 0 uses DefaultFamilySize.
func NewFamily[K comparable, T any](size int, build func(K) Selector[T]) (*Family[K, T], error) {
	if size <= 0 {
		size = DefaultFamilySize
	}
	cache, err := lru.New[K, Selector[T]](size)
	if err != nil {
		return nil, fmt.Errorf("selector family: %w", err)
	}
	return &Family[K, T]{build: build, cache: cache}, nil
}

// Get returns the selector for arg, building it if needed.
func (f *Family[K, T]) Get(arg K) Selector[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sel, ok := f.cache.Get(arg); ok {
		return sel
	}
	sel := f.build(arg)
	f.cache.Add(arg, sel)
	return sel
}

// Select evaluates the selector for arg against s.
func (f *Family[K, T]) Select(s *state.Snapshot, arg K) (T, error) {
	return f.Get(arg).Select(s)
}

// Len returns the number of cached selectors.
func (f *Family[K, T]) Len() int {
	return f.cache.Len()
}

// Contains reports whether a selector for arg is cached, without touching
// its recency.
func (f *Family[K, T]) Contains(arg K) bool {
	return f.cache.Contains(arg)
}
