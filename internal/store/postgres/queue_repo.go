package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"shifttrack.service/internal/core/model"
)

type QueueRepository struct {
	q DBTX
}

const queueColumns = `id, update_id, payload, status, attempts, last_error, next_run_at, created_at`

func scanQueueEntry(row interface{ Scan(...any) error }) (*model.UpdateQueueEntry, error) {
	var (
		e       model.UpdateQueueEntry
		payload []byte
	)
	err := row.Scan(&e.ID, &e.UpdateID, &payload, &e.Status, &e.Attempts, &e.LastError, &e.NextRunAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	return &e, nil
}

// Insert records the update exactly once. ON CONFLICT DO NOTHING makes
// redelivery harmless and never overwrites the stored payload.
func (r *QueueRepository) Insert(ctx context.Context, updateID int64, payload json.RawMessage, now time.Time) (bool, error) {
	query := `INSERT INTO update_queue (update_id, payload, status, attempts, next_run_at, created_at)
              VALUES ($1, $2, 'pending', 0, $3, $3)
              ON CONFLICT (update_id) DO NOTHING`

	result, err := r.q.ExecContext(ctx, query, updateID, []byte(payload), now)
	if err != nil {
		return false, fmt.Errorf("enqueue update: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *QueueRepository) DuePending(ctx context.Context, now time.Time, limit int) ([]*model.UpdateQueueEntry, error) {
	query := `SELECT ` + queueColumns + `
              FROM update_queue
              WHERE status = 'pending' AND next_run_at <= $1
              ORDER BY created_at ASC
              LIMIT $2`

	rows, err := r.q.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due queue entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.UpdateQueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Claim transitions one entry from pending to processing. Zero rows affected
// means another worker already claimed it.
func (r *QueueRepository) Claim(ctx context.Context, id int64, now time.Time) (int64, error) {
	query := `UPDATE update_queue
              SET status = 'processing'
              WHERE id = $1 AND status = 'pending' AND next_run_at <= $2`

	result, err := r.q.ExecContext(ctx, query, id, now)
	if err != nil {
		return 0, fmt.Errorf("claim queue entry: %w", err)
	}
	return result.RowsAffected()
}

func (r *QueueRepository) MarkDone(ctx context.Context, id int64) error {
	query := `UPDATE update_queue SET status = 'done' WHERE id = $1`
	if _, err := r.q.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark queue entry done: %w", err)
	}
	return nil
}

func (r *QueueRepository) MarkFailure(ctx context.Context, id int64, attempts int, lastError string, nextRunAt time.Time, status model.QueueStatus) error {
	query := `UPDATE update_queue
              SET status = $2, attempts = $3, last_error = $4, next_run_at = $5
              WHERE id = $1`

	if _, err := r.q.ExecContext(ctx, query, id, status, attempts, lastError, nextRunAt); err != nil {
		return fmt.Errorf("mark queue entry failure: %w", err)
	}
	return nil
}

func (r *QueueRepository) FindByUpdateID(ctx context.Context, updateID int64) (*model.UpdateQueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM update_queue WHERE update_id = $1`
	entry, err := scanQueueEntry(r.q.QueryRowContext(ctx, query, updateID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find queue entry: %w", err)
	}
	return entry, nil
}
