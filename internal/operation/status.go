package operation

import "time"

// Status is the lifecycle state of an operation.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPending   Status = "pending"
	StatusFulfilled Status = "fulfilled"
	StatusRejected  Status = "rejected"
)

// Terminal reports whether s is fulfilled or rejected.
func (s Status) Terminal() bool {
	return s == StatusFulfilled || s == StatusRejected
}

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusPending, StatusFulfilled, StatusRejected:
		return true
	}
	return false
}

// Descriptor is the recorded state of one operation key.
type Descriptor struct {
	Key    Key    `json:"key"`
	Status Status `json:"status"`
	// Error is the normalized failure message; set only when rejected.
	Error string `json:"error,omitempty"`
	// RequestID identifies the request owning the current pending or
	// terminal state. Empty while idle.
	RequestID string    `json:"request_id,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	SettledAt time.Time `json:"settled_at,omitzero"`
	// Seq is the logical sequence of the last transition.
	Seq int64 `json:"seq"`
}

// Idle returns the descriptor of a key that was never referenced.
func Idle(key Key) Descriptor {
	return Descriptor{Key: key, Status: StatusIdle}
}
