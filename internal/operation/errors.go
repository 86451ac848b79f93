package operation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is wrapped by every TransitionError.
	ErrInvalidTransition = errors.New("invalid operation transition")

	// ErrStaleRequest reports a settlement from a request that no longer
	// owns the pending slot.
	ErrStaleRequest = errors.New("stale operation request")
)

// TransitionError describes a refused state machine transition.
type TransitionError struct {
	Key    Key
	From   Status
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot %s from %s", ErrInvalidTransition, e.Key, e.Action, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
