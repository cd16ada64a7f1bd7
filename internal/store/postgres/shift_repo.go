package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"shifttrack.service/internal/core/model"
	"shifttrack.service/internal/store"
)

type ShiftRepository struct {
	q DBTX
}

const shiftColumns = `id, employee_id, start_time, end_time, start_photo_file_id, end_photo_file_id,
       start_message_id, start_chat_id, end_message_id, end_chat_id,
       closed_reason, duration_minutes, auto_closed_at, alerted_at, photos_purged_at`

func scanShift(row interface{ Scan(...any) error }) (*model.Shift, error) {
	var (
		s            model.Shift
		closedReason sql.NullString
	)
	err := row.Scan(&s.ID, &s.EmployeeID, &s.StartTime, &s.EndTime, &s.StartPhotoFileID, &s.EndPhotoFileID,
		&s.StartMessageID, &s.StartChatID, &s.EndMessageID, &s.EndChatID,
		&closedReason, &s.DurationMinutes, &s.AutoClosedAt, &s.AlertedAt, &s.PhotosPurgedAt)
	if err != nil {
		return nil, err
	}
	if closedReason.Valid {
		reason := model.ClosedReason(closedReason.String)
		s.ClosedReason = &reason
	}
	return &s, nil
}

func (r *ShiftRepository) FindOpenShift(ctx context.Context, employeeID int64) (*model.Shift, error) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("app.employee_id", employeeID))

	query := `SELECT ` + shiftColumns + `
              FROM shifts
              WHERE employee_id = $1 AND end_time IS NULL
              ORDER BY start_time DESC
              LIMIT 1`

	shift, err := scanShift(r.q.QueryRowContext(ctx, query, employeeID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open shift: %w", err)
	}
	return shift, nil
}

func (r *ShiftRepository) FindByID(ctx context.Context, id int64) (*model.Shift, error) {
	query := `SELECT ` + shiftColumns + ` FROM shifts WHERE id = $1`
	shift, err := scanShift(r.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find shift: %w", err)
	}
	return shift, nil
}

func (r *ShiftRepository) IsMessageProcessed(ctx context.Context, chatID string, messageID int64) (bool, error) {
	query := `SELECT EXISTS (
                SELECT 1 FROM shifts
                WHERE (start_chat_id = $1 AND start_message_id = $2)
                   OR (end_chat_id = $1 AND end_message_id = $2)
              )`

	var exists bool
	if err := r.q.QueryRowContext(ctx, query, chatID, messageID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check message processed: %w", err)
	}
	return exists, nil
}

func (r *ShiftRepository) CreateShiftStart(ctx context.Context, in store.ShiftStart) (*model.Shift, error) {
	query := `INSERT INTO shifts (employee_id, start_time, start_photo_file_id, start_message_id, start_chat_id)
              VALUES ($1, $2, $3, $4, $5)
              RETURNING ` + shiftColumns

	shift, err := scanShift(r.q.QueryRowContext(ctx, query,
		in.EmployeeID, in.StartTime, in.PhotoFileID, in.PhotoMessageID, in.ChatID))
	if err != nil {
		return nil, fmt.Errorf("create shift: %w", err)
	}
	return shift, nil
}

func (r *ShiftRepository) CloseShiftByPhoto(ctx context.Context, in store.ShiftClose) (*model.Shift, error) {
	query := `UPDATE shifts
              SET end_time = $2,
                  end_photo_file_id = $3,
                  end_message_id = $4,
                  end_chat_id = $5,
                  closed_reason = $6,
                  duration_minutes = $7
              WHERE id = $1
              RETURNING ` + shiftColumns

	shift, err := scanShift(r.q.QueryRowContext(ctx, query,
		in.ShiftID, in.EndTime, in.PhotoFileID, in.PhotoMessageID, in.ChatID, model.ClosedByPhoto, in.DurationMinutes))
	if err != nil {
		return nil, fmt.Errorf("close shift: %w", err)
	}
	return shift, nil
}

// AutoCloseShift is the guarded auto-close transition. The alerted_at IS NULL
// condition guarantees only one caller wins per shift; zero rows affected
// means someone else already closed it and the caller gets nil.
func (r *ShiftRepository) AutoCloseShift(ctx context.Context, shiftID int64, endTime time.Time, durationMinutes int, now time.Time) (*model.Shift, error) {
	query := `UPDATE shifts
              SET end_time = $2,
                  closed_reason = $3,
                  duration_minutes = $4,
                  auto_closed_at = $5,
                  alerted_at = $5
              WHERE id = $1 AND end_time IS NULL AND alerted_at IS NULL
              RETURNING ` + shiftColumns

	shift, err := scanShift(r.q.QueryRowContext(ctx, query,
		shiftID, endTime, model.ClosedAutoTimeout, durationMinutes, now))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auto-close shift: %w", err)
	}
	return shift, nil
}

func (r *ShiftRepository) FindOverdueShifts(ctx context.Context, cutoff time.Time, limit int) ([]*model.Shift, error) {
	query := `SELECT ` + shiftColumns + `
              FROM shifts
              WHERE end_time IS NULL AND alerted_at IS NULL AND start_time <= $1
              ORDER BY start_time ASC
              LIMIT $2`

	rows, err := r.q.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("find overdue shifts: %w", err)
	}
	defer rows.Close()

	var shifts []*model.Shift
	for rows.Next() {
		shift, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, shift)
	}
	return shifts, rows.Err()
}

func (r *ShiftRepository) CreateViolation(ctx context.Context, shiftID int64, violationType model.ViolationType) error {
	query := `INSERT INTO shift_violations (shift_id, type)
              VALUES ($1, $2)
              ON CONFLICT (shift_id, type) DO NOTHING`

	if _, err := r.q.ExecContext(ctx, query, shiftID, violationType); err != nil {
		return fmt.Errorf("create violation: %w", err)
	}
	return nil
}

func (r *ShiftRepository) ListViolations(ctx context.Context, shiftID int64) ([]*model.ShiftViolation, error) {
	query := `SELECT id, shift_id, type, created_at FROM shift_violations WHERE shift_id = $1 ORDER BY created_at`

	rows, err := r.q.QueryContext(ctx, query, shiftID)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	defer rows.Close()

	var violations []*model.ShiftViolation
	for rows.Next() {
		var v model.ShiftViolation
		if err := rows.Scan(&v.ID, &v.ShiftID, &v.Type, &v.CreatedAt); err != nil {
			return nil, err
		}
		violations = append(violations, &v)
	}
	return violations, rows.Err()
}

func (r *ShiftRepository) PurgeOldPhotos(ctx context.Context, cutoff, now time.Time, limit int) (int64, error) {
	query := `UPDATE shifts
              SET start_photo_file_id = NULL,
                  end_photo_file_id = NULL,
                  photos_purged_at = $2
              WHERE id IN (
                SELECT id FROM shifts
                WHERE start_time < $1 AND photos_purged_at IS NULL
                ORDER BY start_time ASC
                LIMIT $3
              ) AND photos_purged_at IS NULL`

	result, err := r.q.ExecContext(ctx, query, cutoff, now, limit)
	if err != nil {
		return 0, fmt.Errorf("purge old photos: %w", err)
	}
	return result.RowsAffected()
}
