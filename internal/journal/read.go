package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Events returns matching events in recording order (id ASC).
// Returns an empty slice, not nil, when nothing matches.
func (j *Journal) Events(ctx context.Context, f Filter) ([]Event, error) {
	var (
		where []string
		args  []any
	)
	if f.OpKey != "" {
		where = append(where, "op_key = ?")
		args = append(args, f.OpKey)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.AfterSeq > 0 {
		where = append(where, "seq > ?")
		args = append(args, f.AfterSeq)
	}

	query := `
		SELECT id, seq, kind, op_key, request_id, status, error, entity_key, apply, key_field, payload, recorded_at
		FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// LastSeq returns the highest recorded seq, or 0 for an empty journal.
func (j *Journal) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := j.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM events").Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// LastCheckpoint returns the checkpoint with the highest seq.
// The boolean is false when no checkpoint was written.
func (j *Journal) LastCheckpoint(ctx context.Context) (Checkpoint, bool, error) {
	var (
		cp Checkpoint
		at string
	)
	err := j.db.QueryRowContext(ctx, `
		SELECT seq, entities_digest, entity_count, recorded_at
		FROM checkpoints
		ORDER BY seq DESC
		LIMIT 1
	`).Scan(&cp.Seq, &cp.Digest, &cp.EntityCount, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("last checkpoint: %w", err)
	}
	cp.RecordedAt, err = time.Parse(timeLayout, at)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("last checkpoint: parse recorded_at: %w", err)
	}
	return cp, true, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var (
		ev      Event
		kind    string
		payload sql.NullString
		at      string
	)
	err := rows.Scan(
		&ev.ID, &ev.Seq, &kind, &ev.OpKey, &ev.RequestID, &ev.Status, &ev.Error,
		&ev.EntityKey, &ev.Apply, &ev.KeyField, &payload, &at,
	)
	if err != nil {
		return Event{}, fmt.Errorf("scan event: %w", err)
	}
	ev.Kind = Kind(kind)
	if ev.Payload, err = unmarshalPayload(payload); err != nil {
		return Event{}, fmt.Errorf("event %d: %w", ev.ID, err)
	}
	if ev.RecordedAt, err = time.Parse(timeLayout, at); err != nil {
		return Event{}, fmt.Errorf("event %d: parse recorded_at: %w", ev.ID, err)
	}
	return ev, nil
}
