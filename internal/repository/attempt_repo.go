package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"wifi_provisioner/internal/models"

	"github.com/google/uuid"
)

type AttemptSQLite struct {
	db *sql.DB
}

func NewAttemptSQLite(db *sql.DB) *AttemptSQLite {
	return &AttemptSQLite{db: db}
}

const (
	insertAttemptSQL = `
		INSERT INTO provisioning_attempts (id, code, device_id, ssid, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	finishAttemptSQL = `
		UPDATE provisioning_attempts
		SET status = ?, ip = ?, reason = ?, kind = ?, finished_at = ?
		WHERE id = ?
	`

	selectAttemptColumns = `SELECT id, code, device_id, ssid, status, ip, reason, kind, started_at, finished_at FROM provisioning_attempts`

	// Running attempts are never pruned.
	deleteAttemptsBeforeSQL = `DELETE FROM provisioning_attempts WHERE started_at < ? AND status <> 'RUNNING'`
)

// Create stores a RUNNING attempt, filling ID and StartedAt when empty.
func (r *AttemptSQLite) Create(ctx context.Context, a *models.Attempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now().UTC()
	} else {
		a.StartedAt = a.StartedAt.UTC()
	}
	a.Status = models.AttemptRunning

	if _, err := r.db.ExecContext(ctx, insertAttemptSQL,
		a.ID, a.Code, a.DeviceID, a.SSID, a.Status, a.StartedAt,
	); err != nil {
		return fmt.Errorf("insert attempt %s: %w", a.ID, err)
	}
	return nil
}

// Finish records the final outcome of attempt id.
func (r *AttemptSQLite) Finish(ctx context.Context, id string, out models.Outcome, at time.Time) error {
	status := models.AttemptRejected
	if out.Confirmed {
		status = models.AttemptConfirmed
	}
	res, err := r.db.ExecContext(ctx, finishAttemptSQL, status, out.IP, out.Reason, out.Kind, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("finish attempt %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish attempt %s: %w", id, err)
	}
	if n == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (r *AttemptSQLite) Get(ctx context.Context, id string) (models.Attempt, error) {
	a, err := scanAttempt(r.db.QueryRowContext(ctx, selectAttemptColumns+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Attempt{}, ErrAttemptNotFound
		}
		return models.Attempt{}, fmt.Errorf("select attempt %s: %w", id, err)
	}
	return a, nil
}

// Latest returns the most recently started attempt.
func (r *AttemptSQLite) Latest(ctx context.Context) (models.Attempt, error) {
	a, err := scanAttempt(r.db.QueryRowContext(ctx, selectAttemptColumns+" ORDER BY started_at DESC LIMIT 1"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Attempt{}, ErrAttemptNotFound
		}
		return models.Attempt{}, fmt.Errorf("select latest attempt: %w", err)
	}
	return a, nil
}

// List returns attempts started within [from, to] (zero bounds are open),
// optionally with the given status, newest first.
func (r *AttemptSQLite) List(ctx context.Context, from, to time.Time, status string) ([]models.Attempt, error) {
	var (
		conds []string
		args  []any
	)
	if !from.IsZero() {
		conds = append(conds, "started_at >= ?")
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		conds = append(conds, "started_at <= ?")
		args = append(args, to.UTC())
	}
	if status = strings.ToUpper(strings.TrimSpace(status)); status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
	}

	q := selectAttemptColumns
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY started_at DESC"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Attempt, 0, 16)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteBefore prunes finished attempts started before cutoff. Their events
// go with them through the foreign key cascade.
func (r *AttemptSQLite) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteAttemptsBeforeSQL, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete attempts before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (models.Attempt, error) {
	var (
		a        models.Attempt
		finished sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.Code, &a.DeviceID, &a.SSID, &a.Status,
		&a.IP, &a.Reason, &a.Kind, &a.StartedAt, &finished); err != nil {
		return models.Attempt{}, err
	}
	a.StartedAt = a.StartedAt.UTC()
	if finished.Valid {
		a.FinishedAt = finished.Time.UTC()
	}
	return a, nil
}
