package postgres

import (
	"context"
	"fmt"
	"time"

	"shifttrack.service/internal/core/model"
)

type EventLogRepository struct {
	q DBTX
}

func (r *EventLogRepository) Insert(ctx context.Context, entry *model.EventLogEntry) error {
	query := `INSERT INTO event_log
              (correlation_id, level, kind, update_id, chat_id, from_id, message_id, update_type,
               meta, error_name, error_msg, error_stack, fingerprint, created_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
              RETURNING id`

	var meta any
	if len(entry.Meta) > 0 {
		meta = []byte(entry.Meta)
	}

	err := r.q.QueryRowContext(ctx, query,
		entry.CorrelationID, entry.Level, entry.Kind, entry.UpdateID, entry.ChatID, entry.FromID,
		entry.MessageID, entry.UpdateType, meta, entry.ErrorName, entry.ErrorMsg, entry.ErrorStack,
		entry.Fingerprint, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert event log entry: %w", err)
	}
	return nil
}

func (r *EventLogRepository) HasRecentFingerprint(ctx context.Context, fingerprint string, cutoff time.Time) (bool, error) {
	query := `SELECT EXISTS (
                SELECT 1 FROM event_log WHERE fingerprint = $1 AND created_at >= $2
              )`

	var exists bool
	if err := r.q.QueryRowContext(ctx, query, fingerprint, cutoff).Scan(&exists); err != nil {
		return false, fmt.Errorf("check event fingerprint: %w", err)
	}
	return exists, nil
}

func (r *EventLogRepository) ClearExpiredFingerprint(ctx context.Context, fingerprint string, cutoff time.Time) error {
	query := `UPDATE event_log SET fingerprint = NULL WHERE fingerprint = $1 AND created_at < $2`
	if _, err := r.q.ExecContext(ctx, query, fingerprint, cutoff); err != nil {
		return fmt.Errorf("clear expired fingerprint: %w", err)
	}
	return nil
}

func (r *EventLogRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	query := `DELETE FROM event_log
              WHERE id IN (
                SELECT id FROM event_log WHERE created_at < $1 ORDER BY created_at ASC LIMIT $2
              )`

	result, err := r.q.ExecContext(ctx, query, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("purge event log: %w", err)
	}
	return result.RowsAffected()
}
