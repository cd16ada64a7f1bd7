package core

import (
	"context"
	"fmt"
	"time"

	"shifttrack.service/internal/core/model"
	"shifttrack.service/internal/store"
)

// AutoCloseNotice is one shift the sweep closed, with the employee loaded
// so the caller can notify them.
type AutoCloseNotice struct {
	Shift           *model.Shift
	Employee        *model.Employee
	EndTime         time.Time
	DurationMinutes int
}

// ShiftService owns the sweep-side shift operations: closing overdue
// shifts, status lookups and photo retention.
type ShiftService struct {
	store store.Store
	clock Clock
	rules ShiftRules
}

func NewShiftService(st store.Store, clock Clock, rules ShiftRules) *ShiftService {
	return &ShiftService{store: st, clock: clock, rules: rules}
}

// AutoCloseOverdueShifts closes every open shift older than the max shift
// window, up to limit. Each shift is closed in its own transaction under
// the end_time IS NULL AND alerted_at IS NULL guard, so the sweep and the
// confirmation path can race freely; a shift lost to another caller is
// silently dropped from the result.
func (s *ShiftService) AutoCloseOverdueShifts(ctx context.Context, now time.Time, limit int) ([]AutoCloseNotice, error) {
	cutoff := now.Add(-s.rules.MaxShift)
	overdue, err := s.store.Shifts().FindOverdueShifts(ctx, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("find overdue shifts: %w", err)
	}

	var notices []AutoCloseNotice
	for _, shift := range overdue {
		var closed *AutoClose
		err := s.store.InTx(ctx, func(tx store.Store) error {
			var err error
			closed, err = autoCloseShift(ctx, tx, shift, s.rules, now)
			return err
		})
		if err != nil {
			return notices, err
		}
		if closed == nil {
			continue
		}

		employee, err := s.store.Employees().FindByID(ctx, closed.Shift.EmployeeID)
		if err != nil {
			return notices, fmt.Errorf("load employee: %w", err)
		}
		notices = append(notices, AutoCloseNotice{
			Shift:           closed.Shift,
			Employee:        employee,
			EndTime:         closed.EndTime,
			DurationMinutes: closed.DurationMinutes,
		})
	}
	return notices, nil
}

// OpenShiftStatus returns the employee's current open shift, or nil when
// the employee is unknown or clocked out.
func (s *ShiftService) OpenShiftStatus(ctx context.Context, telegramUserID string) (*model.Shift, *model.Employee, error) {
	employee, err := s.store.Employees().FindByTelegramUserID(ctx, telegramUserID)
	if err != nil {
		return nil, nil, fmt.Errorf("find employee: %w", err)
	}
	if employee == nil {
		return nil, nil, nil
	}
	shift, err := s.store.Shifts().FindOpenShift(ctx, employee.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("find open shift: %w", err)
	}
	return shift, employee, nil
}

// PurgeOldPhotos drops photo references from shifts started before the
// retention cutoff. Returns the number of shifts scrubbed.
func (s *ShiftService) PurgeOldPhotos(ctx context.Context, now time.Time, retentionDays, limit int) (int64, error) {
	cutoff := now.AddDate(0, 0, -retentionDays)
	purged, err := s.store.Shifts().PurgeOldPhotos(ctx, cutoff, now, limit)
	if err != nil {
		return 0, fmt.Errorf("purge shift photos: %w", err)
	}
	return purged, nil
}

// PurgeEventLog deletes event log entries older than the retention cutoff.
func (s *ShiftService) PurgeEventLog(ctx context.Context, now time.Time, retentionDays, limit int) (int64, error) {
	cutoff := now.AddDate(0, 0, -retentionDays)
	purged, err := s.store.EventLog().PurgeOlderThan(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("purge event log: %w", err)
	}
	return purged, nil
}
