// Package store defines the persistence contract for the service. All
// correctness-critical transitions are expressed as conditional updates so
// concurrent callers never need in-process locks.
package store

import (
	"context"
	"encoding/json"
	"time"

	"shifttrack.service/internal/core/model"
)

// Store bundles the repositories behind a single unit of work. InTx hands the
// closure a Store bound to one transaction; repositories obtained from that
// Store read and write inside it. Repositories are only reachable through a
// Store, which makes "inside a transaction" visible at the call site.
type Store interface {
	Employees() EmployeeRepository
	Shifts() ShiftRepository
	PendingActions() PendingActionRepository
	Queue() QueueRepository
	EventLog() EventLogRepository

	InTx(ctx context.Context, fn func(tx Store) error) error
}

// ChatUserInput carries the identity fields delivered with an inbound update.
type ChatUserInput struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

type EmployeeRepository interface {
	// UpsertFromChat creates the employee on first contact and refreshes
	// the name fields afterwards.
	UpsertFromChat(ctx context.Context, user ChatUserInput) (*model.Employee, error)
	FindByID(ctx context.Context, id int64) (*model.Employee, error)
	FindByTelegramUserID(ctx context.Context, telegramUserID string) (*model.Employee, error)
	// ListAdminChatIDs returns the chat ids of employees with the ADMIN
	// role override, used for operational notifications.
	ListAdminChatIDs(ctx context.Context) ([]string, error)
}

// ShiftStart holds everything needed to open a shift from a confirmed photo.
type ShiftStart struct {
	EmployeeID     int64
	StartTime      time.Time
	PhotoFileID    string
	PhotoMessageID int64
	ChatID         string
}

// ShiftClose holds everything needed to close a shift from a confirmed photo.
type ShiftClose struct {
	ShiftID         int64
	EndTime         time.Time
	PhotoFileID     string
	PhotoMessageID  int64
	ChatID          string
	DurationMinutes int
}

type ShiftRepository interface {
	FindOpenShift(ctx context.Context, employeeID int64) (*model.Shift, error)
	FindByID(ctx context.Context, id int64) (*model.Shift, error)
	// IsMessageProcessed reports whether this chat+message pair already
	// opened or closed a shift (redelivery guard).
	IsMessageProcessed(ctx context.Context, chatID string, messageID int64) (bool, error)
	CreateShiftStart(ctx context.Context, in ShiftStart) (*model.Shift, error)
	CloseShiftByPhoto(ctx context.Context, in ShiftClose) (*model.Shift, error)
	// AutoCloseShift conditionally closes the shift with reason
	// AUTO_TIMEOUT. The WHERE end_time IS NULL AND alerted_at IS NULL
	// guard makes it idempotent; nil, nil means another caller won.
	AutoCloseShift(ctx context.Context, shiftID int64, endTime time.Time, durationMinutes int, now time.Time) (*model.Shift, error)
	FindOverdueShifts(ctx context.Context, cutoff time.Time, limit int) ([]*model.Shift, error)
	// CreateViolation has insert-if-absent semantics: at most one
	// violation per (shift, type).
	CreateViolation(ctx context.Context, shiftID int64, violationType model.ViolationType) error
	ListViolations(ctx context.Context, shiftID int64) ([]*model.ShiftViolation, error)
	// PurgeOldPhotos nulls photo references on shifts started before
	// cutoff and stamps photos_purged_at. Returns rows purged.
	PurgeOldPhotos(ctx context.Context, cutoff, now time.Time, limit int) (int64, error)
}

// PendingActionCreate is the insert shape for a new confirmation request.
type PendingActionCreate struct {
	EmployeeID     int64
	TelegramUserID string
	ChatID         string
	ActionType     model.PendingActionType
	PhotoFileID    string
	PhotoMessageID int64
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

type PendingActionRepository interface {
	Create(ctx context.Context, in PendingActionCreate) (*model.PendingAction, error)
	FindByID(ctx context.Context, id int64) (*model.PendingAction, error)
	FindByChatMessage(ctx context.Context, chatID string, messageID int64) (*model.PendingAction, error)
	// UpdateStatus sets the status unconditionally.
	UpdateStatus(ctx context.Context, id int64, status model.PendingActionStatus, now time.Time) error
	// UpdateStatusIfPending is the compare-and-swap used by confirm and
	// cancel: WHERE status = PENDING AND expires_at > now. Returns rows
	// affected; zero means a concurrent caller won.
	UpdateStatusIfPending(ctx context.Context, id int64, status model.PendingActionStatus, now time.Time) (int64, error)
	// ExpirePendingActions bulk-moves stale PENDING rows to EXPIRED.
	ExpirePendingActions(ctx context.Context, now time.Time, limit int) (int64, error)
	HasActiveForUser(ctx context.Context, telegramUserID string, now time.Time) (bool, error)
}

type QueueRepository interface {
	// Insert records the update once; a duplicate update id is a no-op
	// and the existing payload is never overwritten. Returns whether a
	// row was inserted.
	Insert(ctx context.Context, updateID int64, payload json.RawMessage, now time.Time) (bool, error)
	// DuePending lists pending entries with next_run_at <= now, oldest
	// first.
	DuePending(ctx context.Context, now time.Time, limit int) ([]*model.UpdateQueueEntry, error)
	// Claim is the conditional pending -> processing transition. Returns
	// rows affected; zero means another worker claimed the entry.
	Claim(ctx context.Context, id int64, now time.Time) (int64, error)
	MarkDone(ctx context.Context, id int64) error
	// MarkFailure records a handler failure: attempt count, truncated
	// error, next run deadline and the resulting status (pending for a
	// retry, failed at the attempt cap).
	MarkFailure(ctx context.Context, id int64, attempts int, lastError string, nextRunAt time.Time, status model.QueueStatus) error
	FindByUpdateID(ctx context.Context, updateID int64) (*model.UpdateQueueEntry, error)
}

type EventLogRepository interface {
	Insert(ctx context.Context, entry *model.EventLogEntry) error
	// HasRecentFingerprint reports whether a non-expired entry with this
	// fingerprint exists (created at or after cutoff).
	HasRecentFingerprint(ctx context.Context, fingerprint string, cutoff time.Time) (bool, error)
	// ClearExpiredFingerprint nulls the fingerprint on entries older than
	// cutoff so a recurrence outside the window logs again.
	ClearExpiredFingerprint(ctx context.Context, fingerprint string, cutoff time.Time) error
	PurgeOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}
