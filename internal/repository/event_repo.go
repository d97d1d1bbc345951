package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"wifi_provisioner/internal/models"

	"github.com/google/uuid"
)

type EventSQLite struct {
	db *sql.DB
}

func NewEventSQLite(db *sql.DB) *EventSQLite { return &EventSQLite{db: db} }

const (
	insertEventSQL = `
		INSERT INTO attempt_events (id, attempt_id, occurred_at, type, message, meta)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	selectEventsByAttemptSQL = `
		SELECT id, attempt_id, occurred_at, type, message, meta
		FROM attempt_events WHERE attempt_id = ?
		ORDER BY occurred_at ASC, rowid ASC
	`
)

// Append inserts a new event. If EventID or OccurredAt are empty, they’re set.
func (r *EventSQLite) Append(ctx context.Context, e models.AttemptEvent) error {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	} else {
		e.OccurredAt = e.OccurredAt.UTC()
	}

	var metaPtr *string
	if e.Metadata != nil {
		if b, err := json.Marshal(e.Metadata); err == nil {
			s := string(b)
			metaPtr = &s
		}
	}

	_, err := r.db.ExecContext(ctx, insertEventSQL,
		e.EventID,
		e.AttemptID,
		e.OccurredAt,
		strings.ToUpper(strings.TrimSpace(e.Type)),
		e.Description,
		metaPtr,
	)
	return err
}

// ListByAttempt returns the steps of one attempt in the order they happened.
func (r *EventSQLite) ListByAttempt(ctx context.Context, attemptID string) ([]models.AttemptEvent, error) {
	rows, err := r.db.QueryContext(ctx, selectEventsByAttemptSQL, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.AttemptEvent, 0, 8)
	for rows.Next() {
		var ev models.AttemptEvent
		var metaStr sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.AttemptID, &ev.OccurredAt, &ev.Type, &ev.Description, &metaStr); err != nil {
			return nil, err
		}
		ev.OccurredAt = ev.OccurredAt.UTC()

		if metaStr.Valid && metaStr.String != "" {
			var v any
			if err := json.Unmarshal([]byte(metaStr.String), &v); err == nil {
				ev.Metadata = v
			} else {
				ev.Metadata = metaStr.String // keep raw if malformed
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
