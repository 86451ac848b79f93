package selector

import (
	"fmt"
	"sync"

	"github.com/roach88/statekit/internal/state"
)

// Stats counts memo activity.
type Stats struct {
	Hits       uint64
	Recomputes uint64
	Errors     uint64
}

// Option configures a memo.
type Option func(*config)

type config struct {
	name   string
	equals map[int]func(a, b any) bool
}

// WithName labels the memo for logs and metrics.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithInputEqual overrides the comparison of input i (zero based).
// Use it to compare an input by content instead of by reference.
func WithInputEqual(i int, eq func(a, b any) bool) Option {
	return func(c *config) { c.equals[i] = eq }
}

// Memo is a memoized selector. Safe for concurrent use.
type Memo[R any] struct {
	cfg     config
	inputs  []func(*state.Snapshot) (any, error)
	compute func(args []any) (R, error)

	mu    sync.Mutex
	valid bool
	last  []any
	value R
	stats Stats
}

func newMemo[R any](inputs []func(*state.Snapshot) (any, error), compute func([]any) (R, error), opts []Option) *Memo[R] {
	cfg := config{equals: map[int]func(a, b any) bool{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Memo[R]{cfg: cfg, inputs: inputs, compute: compute}
}

func input[T any](sel Selector[T]) func(*state.Snapshot) (any, error) {
	return func(s *state.Snapshot) (any, error) {
		return sel.Select(s)
	}
}

// as converts an input back to its static type; a nil interface input
// becomes the zero value instead of panicking.
func as[T any](v any) T {
	t, _ := v.(T)
	return t
}

// New1 memoizes fn over one input selector.
func New1[A, R any](a Selector[A], fn func(A) (R, error), opts ...Option) *Memo[R] {
	return newMemo(
		[]func(*state.Snapshot) (any, error){input(a)},
		func(args []any) (R, error) { return fn(as[A](args[0])) },
		opts,
	)
}

// New2 memoizes fn over two input selectors.
func New2[A, B, R any](a Selector[A], b Selector[B], fn func(A, B) (R, error), opts ...Option) *Memo[R] {
	return newMemo(
		[]func(*state.Snapshot) (any, error){input(a), input(b)},
		func(args []any) (R, error) { return fn(as[A](args[0]), as[B](args[1])) },
		opts,
	)
}

// New3 memoizes fn over three input selectors.
func New3[A, B, C, R any](a Selector[A], b Selector[B], c Selector[C], fn func(A, B, C) (R, error), opts ...Option) *Memo[R] {
	return newMemo(
		[]func(*state.Snapshot) (any, error){input(a), input(b), input(c)},
		func(args []any) (R, error) { return fn(as[A](args[0]), as[B](args[1]), as[C](args[2])) },
		opts,
	)
}

// Select returns the cached value when every input is unchanged since the
// last successful computation, and recomputes otherwise.
func (m *Memo[R]) Select(s *state.Snapshot) (R, error) {
	var zero R

	args := make([]any, len(m.inputs))
	for i, in := range m.inputs {
		v, err := in(s)
		if err != nil {
			m.mu.Lock()
			m.stats.Errors++
			m.mu.Unlock()
			return zero, m.wrap(fmt.Errorf("input %d: %w", i, err))
		}
		args[i] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.valid && m.sameArgs(args) {
		m.stats.Hits++
		return m.value, nil
	}

	v, err := m.compute(args)
	if err != nil {
		m.stats.Errors++
		return zero, m.wrap(err)
	}
	m.value = v
	m.last = args
	m.valid = true
	m.stats.Recomputes++
	return v, nil
}

// Stats returns a copy of the activity counters.
func (m *Memo[R]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Name returns the configured name, or "" when unnamed.
func (m *Memo[R]) Name() string {
	return m.cfg.name
}

// Reset drops the cached value; the next Select recomputes.
func (m *Memo[R]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero R
	m.valid = false
	m.last = nil
	m.value = zero
}

func (m *Memo[R]) sameArgs(args []any) bool {
	for i, a := range args {
		eq := m.cfg.equals[i]
		if eq == nil {
			eq = Same
		}
		if !eq(m.last[i], a) {
			return false
		}
	}
	return true
}

func (m *Memo[R]) wrap(err error) error {
	if m.cfg.name == "" {
		return err
	}
	return fmt.Errorf("selector %s: %w", m.cfg.name, err)
}
