package notify

import (
	"log/slog"
	"sync"

	"github.com/roach88/statekit/internal/selector"
	"github.com/roach88/statekit/internal/state"
)

// Watch subscribes fn to a derived view. fn is called with the selected value
// on the first snapshot and afterwards only when the value is no longer
// selector.Same as the last delivered one. Selector errors are logged and
// skipped; the last delivered value is kept.
func Watch[T any](h *Hub, sel selector.Selector[T], fn func(T)) (unsubscribe func()) {
	var (
		mu        sync.Mutex
		delivered bool
		last      T
	)
	return h.Subscribe(func(s *state.Snapshot) {
		v, err := sel.Select(s)
		if err != nil {
			slog.Warn("watched selector failed",
				"seq", s.Seq,
				"cause", s.Cause,
				"error", err,
			)
			return
		}

		mu.Lock()
		changed := !delivered || !selector.Same(last, v)
		if changed {
			delivered = true
			last = v
		}
		mu.Unlock()

		if changed {
			fn(v)
		}
	})
}
