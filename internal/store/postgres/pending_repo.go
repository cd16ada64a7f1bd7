package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shifttrack.service/internal/core/model"
	"shifttrack.service/internal/store"
)

type PendingActionRepository struct {
	q DBTX
}

const pendingColumns = `id, employee_id, telegram_user_id, chat_id, action_type, photo_file_id,
       photo_message_id, created_at, expires_at, status, updated_at`

func scanPendingAction(row interface{ Scan(...any) error }) (*model.PendingAction, error) {
	var p model.PendingAction
	err := row.Scan(&p.ID, &p.EmployeeID, &p.TelegramUserID, &p.ChatID, &p.ActionType, &p.PhotoFileID,
		&p.PhotoMessageID, &p.CreatedAt, &p.ExpiresAt, &p.Status, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PendingActionRepository) Create(ctx context.Context, in store.PendingActionCreate) (*model.PendingAction, error) {
	query := `INSERT INTO pending_actions
              (employee_id, telegram_user_id, chat_id, action_type, photo_file_id, photo_message_id, created_at, expires_at, status, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'PENDING', $7)
              RETURNING ` + pendingColumns

	pending, err := scanPendingAction(r.q.QueryRowContext(ctx, query,
		in.EmployeeID, in.TelegramUserID, in.ChatID, in.ActionType, in.PhotoFileID, in.PhotoMessageID, in.CreatedAt, in.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("create pending action: %w", err)
	}
	return pending, nil
}

func (r *PendingActionRepository) FindByID(ctx context.Context, id int64) (*model.PendingAction, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_actions WHERE id = $1`
	pending, err := scanPendingAction(r.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find pending action: %w", err)
	}
	return pending, nil
}

func (r *PendingActionRepository) FindByChatMessage(ctx context.Context, chatID string, messageID int64) (*model.PendingAction, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_actions WHERE chat_id = $1 AND photo_message_id = $2`
	pending, err := scanPendingAction(r.q.QueryRowContext(ctx, query, chatID, messageID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find pending action by message: %w", err)
	}
	return pending, nil
}

func (r *PendingActionRepository) UpdateStatus(ctx context.Context, id int64, status model.PendingActionStatus, now time.Time) error {
	query := `UPDATE pending_actions SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.q.ExecContext(ctx, query, id, status, now); err != nil {
		return fmt.Errorf("update pending action status: %w", err)
	}
	return nil
}

// UpdateStatusIfPending is the compare-and-swap that prevents double
// processing: of all concurrent confirm/cancel callers exactly one sees a
// non-zero row count.
func (r *PendingActionRepository) UpdateStatusIfPending(ctx context.Context, id int64, status model.PendingActionStatus, now time.Time) (int64, error) {
	query := `UPDATE pending_actions
              SET status = $2, updated_at = $3
              WHERE id = $1 AND status = 'PENDING' AND expires_at > $3`

	result, err := r.q.ExecContext(ctx, query, id, status, now)
	if err != nil {
		return 0, fmt.Errorf("conditional pending action update: %w", err)
	}
	return result.RowsAffected()
}

func (r *PendingActionRepository) ExpirePendingActions(ctx context.Context, now time.Time, limit int) (int64, error) {
	query := `UPDATE pending_actions
              SET status = 'EXPIRED', updated_at = $1
              WHERE id IN (
                SELECT id FROM pending_actions
                WHERE status = 'PENDING' AND expires_at <= $1
                ORDER BY expires_at ASC
                LIMIT $2
              ) AND status = 'PENDING'`

	result, err := r.q.ExecContext(ctx, query, now, limit)
	if err != nil {
		return 0, fmt.Errorf("expire pending actions: %w", err)
	}
	return result.RowsAffected()
}

func (r *PendingActionRepository) HasActiveForUser(ctx context.Context, telegramUserID string, now time.Time) (bool, error) {
	query := `SELECT EXISTS (
                SELECT 1 FROM pending_actions
                WHERE telegram_user_id = $1 AND status = 'PENDING' AND expires_at > $2
              )`

	var exists bool
	if err := r.q.QueryRowContext(ctx, query, telegramUserID, now).Scan(&exists); err != nil {
		return false, fmt.Errorf("check active pending action: %w", err)
	}
	return exists, nil
}
