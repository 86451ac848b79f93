package journal

import (
	"time"

	"github.com/roach88/statekit/internal/ir"
)

// Kind names what an event did.
type Kind string

const (
	KindUpsert    Kind = "upsert"
	KindPatch     Kind = "patch"
	KindRemove    Kind = "remove"
	KindReset     Kind = "reset"
	KindPending   Kind = "pending"
	KindSupersede Kind = "supersede"
	KindFulfilled Kind = "fulfilled"
	KindRejected  Kind = "rejected"
	// KindStale is a resolution discarded because a newer request owns the key.
	KindStale Kind = "stale"
)

// Event is one journal row.
type Event struct {
	// ID is assigned by the journal; zero on Record.
	ID         int64     `json:"id"`
	Seq        int64     `json:"seq"`
	Kind       Kind      `json:"kind"`
	OpKey      string    `json:"op_key,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	EntityKey  string    `json:"entity_key,omitempty"`
	Apply      string    `json:"apply,omitempty"`
	KeyField   string    `json:"key_field,omitempty"`
	Payload    ir.Value  `json:"payload,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Checkpoint is the digest of the entity store at Seq.
type Checkpoint struct {
	Seq         int64     `json:"seq"`
	Digest      string    `json:"digest"`
	EntityCount int       `json:"entity_count"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Filter narrows Events. Zero fields match everything.
type Filter struct {
	OpKey    string
	Kind     Kind
	AfterSeq int64
	Limit    int
}
