// Package events appends audit records for actor operations.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event kinds written by the actors.
const (
	FormInitialized = "form.initialized"
	StepUpdated     = "step.updated"
	CommentAdded    = "comment.added"
	StatusChanged   = "status.changed"
	IndexUpdated    = "index.updated"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Detail map[string]any

// Append records one event. Failures here are the caller's to handle; the
// actors log and continue rather than fail the operation.
func (w Writer) Append(ctx context.Context, actorID, kind, actorSub string, detail Detail) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if detail == nil {
		detail = Detail{}
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal event detail: %w", err)
	}
	_, err = w.DB.ExecContext(ctx,
		`INSERT INTO events(occurred_at, actor_id, kind, actor_sub, detail_json) VALUES (?,?,?,?,?)`,
		w.Now().UTC().Format(time.RFC3339), actorID, kind, actorSub, string(data))
	return err
}

// Recent returns the latest events for an actor, newest first.
func (w Writer) Recent(ctx context.Context, actorID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := w.DB.QueryContext(ctx,
		`SELECT occurred_at, kind, actor_sub, detail_json FROM events WHERE actor_id=? ORDER BY id DESC LIMIT ?`,
		actorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		var detail string
		if err := rows.Scan(&r.OccurredAt, &r.Kind, &r.ActorSub, &detail); err != nil {
			return nil, err
		}
		r.Detail = json.RawMessage(detail)
		out = append(out, r)
	}
	return out, rows.Err()
}

type Record struct {
	OccurredAt string          `json:"occurredAt"`
	Kind       string          `json:"kind"`
	ActorSub   string          `json:"actorSub"`
	Detail     json.RawMessage `json:"detail"`
}
