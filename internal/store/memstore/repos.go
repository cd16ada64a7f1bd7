package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"shifttrack.service/internal/core/model"
	"shifttrack.service/internal/store"
)

type employeeRepo struct{ s *Store }

func displayName(user store.ChatUserInput) string {
	parts := make([]string, 0, 2)
	if user.FirstName != "" {
		parts = append(parts, user.FirstName)
	}
	if user.LastName != "" {
		parts = append(parts, user.LastName)
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	if user.Username != "" {
		return "@" + user.Username
	}
	return "user:" + strconv.FormatInt(user.ID, 10)
}

func (r *employeeRepo) UpsertFromChat(ctx context.Context, user store.ChatUserInput) (*model.Employee, error) {
	r.s.lock()
	defer r.s.unlock()

	id := strconv.FormatInt(user.ID, 10)
	for _, e := range r.s.d.employees {
		if e.TelegramUserID == id {
			e.Username = user.Username
			e.FirstName = user.FirstName
			e.LastName = user.LastName
			e.DisplayName = displayName(user)
			copied := *e
			return &copied, nil
		}
	}

	r.s.d.nextEmployeeID++
	employee := &model.Employee{
		ID:             r.s.d.nextEmployeeID,
		TelegramUserID: id,
		Username:       user.Username,
		FirstName:      user.FirstName,
		LastName:       user.LastName,
		DisplayName:    displayName(user),
		IsActive:       true,
		RoleOverride:   model.RoleNone,
	}
	r.s.d.employees = append(r.s.d.employees, employee)
	copied := *employee
	return &copied, nil
}

func (r *employeeRepo) FindByID(ctx context.Context, id int64) (*model.Employee, error) {
	r.s.lock()
	defer r.s.unlock()
	for _, e := range r.s.d.employees {
		if e.ID == id {
			copied := *e
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *employeeRepo) FindByTelegramUserID(ctx context.Context, telegramUserID string) (*model.Employee, error) {
	r.s.lock()
	defer r.s.unlock()
	for _, e := range r.s.d.employees {
		if e.TelegramUserID == telegramUserID {
			copied := *e
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *employeeRepo) ListAdminChatIDs(ctx context.Context) ([]string, error) {
	r.s.lock()
	defer r.s.unlock()
	var ids []string
	for _, e := range r.s.d.employees {
		if e.RoleOverride == model.RoleAdmin && e.IsActive {
			ids = append(ids, e.TelegramUserID)
		}
	}
	return ids, nil
}

type shiftRepo struct{ s *Store }

func (r *shiftRepo) FindOpenShift(ctx context.Context, employeeID int64) (*model.Shift, error) {
	r.s.lock()
	defer r.s.unlock()
	var latest *model.Shift
	for _, sh := range r.s.d.shifts {
		if sh.EmployeeID == employeeID && sh.EndTime == nil {
			if latest == nil || sh.StartTime.After(latest.StartTime) {
				latest = sh
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyShift(latest), nil
}

func (r *shiftRepo) FindByID(ctx context.Context, id int64) (*model.Shift, error) {
	r.s.lock()
	defer r.s.unlock()
	for _, sh := range r.s.d.shifts {
		if sh.ID == id {
			return copyShift(sh), nil
		}
	}
	return nil, nil
}

func (r *shiftRepo) IsMessageProcessed(ctx context.Context, chatID string, messageID int64) (bool, error) {
	r.s.lock()
	defer r.s.unlock()
	for _, sh := range r.s.d.shifts {
		if sh.StartChatID == chatID && sh.StartMessageID == messageID {
			return true, nil
		}
		if sh.EndChatID != nil && *sh.EndChatID == chatID && sh.EndMessageID != nil && *sh.EndMessageID == messageID {
			return true, nil
		}
	}
	return false, nil
}

func (r *shiftRepo) CreateShiftStart(ctx context.Context, in store.ShiftStart) (*model.Shift, error) {
	r.s.lock()
	defer r.s.unlock()

	r.s.d.nextShiftID++
	photo := in.PhotoFileID
	shift := &model.Shift{
		ID:               r.s.d.nextShiftID,
		EmployeeID:       in.EmployeeID,
		StartTime:        in.StartTime,
		StartPhotoFileID: &photo,
		StartMessageID:   in.PhotoMessageID,
		StartChatID:      in.ChatID,
	}
	r.s.d.shifts = append(r.s.d.shifts, shift)
	return copyShift(shift), nil
}

func (r *shiftRepo) CloseShiftByPhoto(ctx context.Context, in store.ShiftClose) (*model.Shift, error) {
	r.s.lock()
	defer r.s.unlock()

	for _, sh := range r.s.d.shifts {
		if sh.ID == in.ShiftID {
			endTime := in.EndTime
			photo := in.PhotoFileID
			messageID := in.PhotoMessageID
			chatID := in.ChatID
			reason := model.ClosedByPhoto
			duration := in.DurationMinutes
			sh.EndTime = &endTime
			sh.EndPhotoFileID = &photo
			sh.EndMessageID = &messageID
			sh.EndChatID = &chatID
			sh.ClosedReason = &reason
			sh.DurationMinutes = &duration
			return copyShift(sh), nil
		}
	}
	return nil, nil
}

func (r *shiftRepo) AutoCloseShift(ctx context.Context, shiftID int64, endTime time.Time, durationMinutes int, now time.Time) (*model.Shift, error) {
	r.s.lock()
	defer r.s.unlock()

	for _, sh := range r.s.d.shifts {
		if sh.ID == shiftID && sh.EndTime == nil && sh.AlertedAt == nil {
			end := endTime
			reason := model.ClosedAutoTimeout
			duration := durationMinutes
			stamp := now
			sh.EndTime = &end
			sh.ClosedReason = &reason
			sh.DurationMinutes = &duration
			sh.AutoClosedAt = &stamp
			sh.AlertedAt = &stamp
			return copyShift(sh), nil
		}
	}
	return nil, nil
}

func (r *shiftRepo) FindOverdueShifts(ctx context.Context, cutoff time.Time, limit int) ([]*model.Shift, error) {
	r.s.lock()
	defer r.s.unlock()

	var overdue []*model.Shift
	for _, sh := range r.s.d.shifts {
		if sh.EndTime == nil && sh.AlertedAt == nil && !sh.StartTime.After(cutoff) {
			overdue = append(overdue, copyShift(sh))
		}
	}
	sort.Slice(overdue, func(i, j int) bool { return overdue[i].StartTime.Before(overdue[j].StartTime) })
	if limit > 0 && len(overdue) > limit {
		overdue = overdue[:limit]
	}
	return overdue, nil
}

func (r *shiftRepo) CreateViolation(ctx context.Context, shiftID int64, violationType model.ViolationType) error {
	r.s.lock()
	defer r.s.unlock()

	for _, v := range r.s.d.violations {
		if v.ShiftID == shiftID && v.Type == violationType {
			return nil
		}
	}
	r.s.d.nextViolationID++
	r.s.d.violations = append(r.s.d.violations, &model.ShiftViolation{
		ID:        r.s.d.nextViolationID,
		ShiftID:   shiftID,
		Type:      violationType,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (r *shiftRepo) ListViolations(ctx context.Context, shiftID int64) ([]*model.ShiftViolation, error) {
	r.s.lock()
	defer r.s.unlock()

	var out []*model.ShiftViolation
	for _, v := range r.s.d.violations {
		if v.ShiftID == shiftID {
			copied := *v
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *shiftRepo) PurgeOldPhotos(ctx context.Context, cutoff, now time.Time, limit int) (int64, error) {
	r.s.lock()
	defer r.s.unlock()

	var purged int64
	for _, sh := range r.s.d.shifts {
		if limit > 0 && purged >= int64(limit) {
			break
		}
		if sh.StartTime.Before(cutoff) && sh.PhotosPurgedAt == nil {
			stamp := now
			sh.StartPhotoFileID = nil
			sh.EndPhotoFileID = nil
			sh.PhotosPurgedAt = &stamp
			purged++
		}
	}
	return purged, nil
}

type pendingRepo struct{ s *Store }

func (r *pendingRepo) Create(ctx context.Context, in store.PendingActionCreate) (*model.PendingAction, error) {
	r.s.lock()
	defer r.s.unlock()

	r.s.d.nextPendingID++
	pending := &model.PendingAction{
		ID:             r.s.d.nextPendingID,
		EmployeeID:     in.EmployeeID,
		TelegramUserID: in.TelegramUserID,
		ChatID:         in.ChatID,
		ActionType:     in.ActionType,
		PhotoFileID:    in.PhotoFileID,
		PhotoMessageID: in.PhotoMessageID,
		CreatedAt:      in.CreatedAt,
		ExpiresAt:      in.ExpiresAt,
		Status:         model.PendingStatusPending,
		UpdatedAt:      in.CreatedAt,
	}
	r.s.d.pendingActions = append(r.s.d.pendingActions, pending)
	return copyPending(pending), nil
}

func (r *pendingRepo) FindByID(ctx context.Context, id int64) (*model.PendingAction, error) {
	r.s.lock()
	defer r.s.unlock()
	for _, p := range r.s.d.pendingActions {
		if p.ID == id {
			return copyPending(p), nil
		}
	}
	return nil, nil
}

func (r *pendingRepo) FindByChatMessage(ctx context.Context, chatID string, messageID int64) (*model.PendingAction, error) {
	r.s.lock()
	defer r.s.unlock()
	for _, p := range r.s.d.pendingActions {
		if p.ChatID == chatID && p.PhotoMessageID == messageID {
			return copyPending(p), nil
		}
	}
	return nil, nil
}

func (r *pendingRepo) UpdateStatus(ctx context.Context, id int64, status model.PendingActionStatus, now time.Time) error {
	r.s.lock()
	defer r.s.unlock()
	for _, p := range r.s.d.pendingActions {
		if p.ID == id {
			p.Status = status
			p.UpdatedAt = now
		}
	}
	return nil
}

func (r *pendingRepo) UpdateStatusIfPending(ctx context.Context, id int64, status model.PendingActionStatus, now time.Time) (int64, error) {
	r.s.lock()
	defer r.s.unlock()
	for _, p := range r.s.d.pendingActions {
		if p.ID == id && p.Status == model.PendingStatusPending && p.ExpiresAt.After(now) {
			p.Status = status
			p.UpdatedAt = now
			return 1, nil
		}
	}
	return 0, nil
}

func (r *pendingRepo) ExpirePendingActions(ctx context.Context, now time.Time, limit int) (int64, error) {
	r.s.lock()
	defer r.s.unlock()

	var stale []*model.PendingAction
	for _, p := range r.s.d.pendingActions {
		if p.Status == model.PendingStatusPending && !p.ExpiresAt.After(now) {
			stale = append(stale, p)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ExpiresAt.Before(stale[j].ExpiresAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	for _, p := range stale {
		p.Status = model.PendingStatusExpired
		p.UpdatedAt = now
	}
	return int64(len(stale)), nil
}

func (r *pendingRepo) HasActiveForUser(ctx context.Context, telegramUserID string, now time.Time) (bool, error) {
	r.s.lock()
	defer r.s.unlock()
	for _, p := range r.s.d.pendingActions {
		if p.TelegramUserID == telegramUserID && p.Status == model.PendingStatusPending && p.ExpiresAt.After(now) {
			return true, nil
		}
	}
	return false, nil
}

type queueRepo struct{ s *Store }

func (r *queueRepo) Insert(ctx context.Context, updateID int64, payload json.RawMessage, now time.Time) (bool, error) {
	r.s.lock()
	defer r.s.unlock()

	for _, e := range r.s.d.queue {
		if e.UpdateID == updateID {
			return false, nil
		}
	}
	r.s.d.nextQueueID++
	r.s.d.queue = append(r.s.d.queue, &model.UpdateQueueEntry{
		ID:        r.s.d.nextQueueID,
		UpdateID:  updateID,
		Payload:   append(json.RawMessage(nil), payload...),
		Status:    model.QueuePending,
		NextRunAt: now,
		CreatedAt: now,
	})
	return true, nil
}

func (r *queueRepo) DuePending(ctx context.Context, now time.Time, limit int) ([]*model.UpdateQueueEntry, error) {
	r.s.lock()
	defer r.s.unlock()

	var due []*model.UpdateQueueEntry
	for _, e := range r.s.d.queue {
		if e.Status == model.QueuePending && !e.NextRunAt.After(now) {
			copied := *e
			due = append(due, &copied)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *queueRepo) Claim(ctx context.Context, id int64, now time.Time) (int64, error) {
	r.s.lock()
	defer r.s.unlock()
	for _, e := range r.s.d.queue {
		if e.ID == id && e.Status == model.QueuePending && !e.NextRunAt.After(now) {
			e.Status = model.QueueProcessing
			return 1, nil
		}
	}
	return 0, nil
}

func (r *queueRepo) MarkDone(ctx context.Context, id int64) error {
	r.s.lock()
	defer r.s.unlock()
	for _, e := range r.s.d.queue {
		if e.ID == id {
			e.Status = model.QueueDone
		}
	}
	return nil
}

func (r *queueRepo) MarkFailure(ctx context.Context, id int64, attempts int, lastError string, nextRunAt time.Time, status model.QueueStatus) error {
	r.s.lock()
	defer r.s.unlock()
	for _, e := range r.s.d.queue {
		if e.ID == id {
			e.Status = status
			e.Attempts = attempts
			msg := lastError
			e.LastError = &msg
			e.NextRunAt = nextRunAt
		}
	}
	return nil
}

func (r *queueRepo) FindByUpdateID(ctx context.Context, updateID int64) (*model.UpdateQueueEntry, error) {
	r.s.lock()
	defer r.s.unlock()
	for _, e := range r.s.d.queue {
		if e.UpdateID == updateID {
			copied := *e
			return &copied, nil
		}
	}
	return nil, nil
}

type eventLogRepo struct{ s *Store }

func (r *eventLogRepo) Insert(ctx context.Context, entry *model.EventLogEntry) error {
	r.s.lock()
	defer r.s.unlock()

	r.s.d.nextEventID++
	entry.ID = r.s.d.nextEventID
	copied := *entry
	r.s.d.events = append(r.s.d.events, &copied)
	return nil
}

func (r *eventLogRepo) HasRecentFingerprint(ctx context.Context, fingerprint string, cutoff time.Time) (bool, error) {
	r.s.lock()
	defer r.s.unlock()
	for _, e := range r.s.d.events {
		if e.Fingerprint != nil && *e.Fingerprint == fingerprint && !e.CreatedAt.Before(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

func (r *eventLogRepo) ClearExpiredFingerprint(ctx context.Context, fingerprint string, cutoff time.Time) error {
	r.s.lock()
	defer r.s.unlock()
	for _, e := range r.s.d.events {
		if e.Fingerprint != nil && *e.Fingerprint == fingerprint && e.CreatedAt.Before(cutoff) {
			e.Fingerprint = nil
		}
	}
	return nil
}

func (r *eventLogRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	r.s.lock()
	defer r.s.unlock()

	var kept []*model.EventLogEntry
	var purged int64
	for _, e := range r.s.d.events {
		if e.CreatedAt.Before(cutoff) && (limit <= 0 || purged < int64(limit)) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	r.s.d.events = kept
	return purged, nil
}
