package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/statekit/internal/ir"
)

const timeLayout = time.RFC3339Nano

// Record appends ev. A zero RecordedAt is stored as the current time.
func (j *Journal) Record(ctx context.Context, ev Event) error {
	payload, err := marshalPayload(ev.Payload)
	if err != nil {
		return fmt.Errorf("record event seq=%d: %w", ev.Seq, err)
	}
	at := ev.RecordedAt
	if at.IsZero() {
		at = time.Now()
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO events
		(seq, kind, op_key, request_id, status, error, entity_key, apply, key_field, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.Seq,
		string(ev.Kind),
		ev.OpKey,
		ev.RequestID,
		ev.Status,
		ev.Error,
		ev.EntityKey,
		ev.Apply,
		ev.KeyField,
		payload,
		at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record event seq=%d: %w", ev.Seq, err)
	}
	return nil
}

// Checkpoint stores the entity store digest reached at seq. Writing the
// same seq twice keeps the latest digest.
func (j *Journal) Checkpoint(ctx context.Context, cp Checkpoint) error {
	at := cp.RecordedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO checkpoints (seq, entities_digest, entity_count, recorded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(seq) DO UPDATE SET
			entities_digest = excluded.entities_digest,
			entity_count = excluded.entity_count,
			recorded_at = excluded.recorded_at
	`, cp.Seq, cp.Digest, cp.EntityCount, at.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("write checkpoint seq=%d: %w", cp.Seq, err)
	}
	return nil
}

// marshalPayload stores nil as SQL NULL and everything else as canonical JSON.
func marshalPayload(v ir.Value) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal payload: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalPayload(ns sql.NullString) (ir.Value, error) {
	if !ns.Valid {
		return nil, nil
	}
	v, err := ir.ParseJSON([]byte(ns.String))
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return v, nil
}
