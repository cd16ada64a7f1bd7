package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shifttrack.service/internal/core/model"
	"shifttrack.service/internal/store"
	"shifttrack.service/internal/store/memstore"
)

func newShiftFixture(t *testing.T) (*ShiftService, *PendingActionService, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	clock := &fixedClock{now: baseTime}
	rules := defaultRules()
	return NewShiftService(st, clock, rules), NewPendingActionService(st, clock, rules), st
}

func TestAutoCloseOverdueShifts(t *testing.T) {
	shiftSvc, pendingSvc, st := newShiftFixture(t)
	ctx := context.Background()

	overdue := startShift(t, pendingSvc, 1, 10, baseTime)
	fresh := startShift(t, pendingSvc, 2, 20, baseTime.Add(6*time.Hour))

	now := baseTime.Add(12*time.Hour + time.Minute)
	notices, err := shiftSvc.AutoCloseOverdueShifts(ctx, now, 50)
	require.NoError(t, err)
	require.Len(t, notices, 1)

	notice := notices[0]
	assert.Equal(t, overdue.ID, notice.Shift.ID)
	assert.Equal(t, baseTime.Add(12*time.Hour), notice.EndTime)
	assert.Equal(t, 720, notice.DurationMinutes)
	require.NotNil(t, notice.Employee)
	assert.Equal(t, "1", notice.Employee.TelegramUserID)

	closed, err := st.Shifts().FindByID(ctx, overdue.ID)
	require.NoError(t, err)
	require.NotNil(t, closed.EndTime)
	require.NotNil(t, closed.ClosedReason)
	assert.Equal(t, model.ClosedAutoTimeout, *closed.ClosedReason)
	require.NotNil(t, closed.AlertedAt)

	stillOpen, err := st.Shifts().FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.True(t, stillOpen.Open())

	violations, err := st.Shifts().ListViolations(ctx, overdue.ID)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, model.ViolationNotClosedInTime, violations[0].Type)
}

func TestAutoCloseSweepIsIdempotent(t *testing.T) {
	shiftSvc, pendingSvc, st := newShiftFixture(t)
	ctx := context.Background()

	shift := startShift(t, pendingSvc, 1, 10, baseTime)

	now := baseTime.Add(13 * time.Hour)
	first, err := shiftSvc.AutoCloseOverdueShifts(ctx, now, 50)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A second pass over the same state closes nothing and books no
	// duplicate violations.
	second, err := shiftSvc.AutoCloseOverdueShifts(ctx, now.Add(time.Hour), 50)
	require.NoError(t, err)
	assert.Empty(t, second)

	violations, err := st.Shifts().ListViolations(ctx, shift.ID)
	require.NoError(t, err)
	assert.Len(t, violations, 1)
}

func TestAutoCloseRespectsLimit(t *testing.T) {
	shiftSvc, pendingSvc, _ := newShiftFixture(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		startShift(t, pendingSvc, i, 10*i, baseTime)
	}

	now := baseTime.Add(13 * time.Hour)
	notices, err := shiftSvc.AutoCloseOverdueShifts(ctx, now, 2)
	require.NoError(t, err)
	assert.Len(t, notices, 2)

	rest, err := shiftSvc.AutoCloseOverdueShifts(ctx, now, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestOpenShiftStatus(t *testing.T) {
	shiftSvc, pendingSvc, _ := newShiftFixture(t)
	ctx := context.Background()

	shift, employee, err := shiftSvc.OpenShiftStatus(ctx, "1")
	require.NoError(t, err)
	assert.Nil(t, shift)
	assert.Nil(t, employee)

	opened := startShift(t, pendingSvc, 1, 10, baseTime)

	shift, employee, err = shiftSvc.OpenShiftStatus(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, shift)
	require.NotNil(t, employee)
	assert.Equal(t, opened.ID, shift.ID)
	assert.Equal(t, "1", employee.TelegramUserID)
}

func TestPurgeOldPhotos(t *testing.T) {
	shiftSvc, _, st := newShiftFixture(t)
	ctx := context.Background()

	old, err := st.Shifts().CreateShiftStart(ctx, store.ShiftStart{
		EmployeeID:     1,
		StartTime:      baseTime.AddDate(0, 0, -120),
		PhotoFileID:    "old-photo",
		PhotoMessageID: 1,
		ChatID:         "100",
	})
	require.NoError(t, err)
	recent, err := st.Shifts().CreateShiftStart(ctx, store.ShiftStart{
		EmployeeID:     2,
		StartTime:      baseTime.AddDate(0, 0, -5),
		PhotoFileID:    "recent-photo",
		PhotoMessageID: 2,
		ChatID:         "100",
	})
	require.NoError(t, err)

	purged, err := shiftSvc.PurgeOldPhotos(ctx, baseTime, 90, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	scrubbed, err := st.Shifts().FindByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Nil(t, scrubbed.StartPhotoFileID)
	require.NotNil(t, scrubbed.PhotosPurgedAt)

	kept, err := st.Shifts().FindByID(ctx, recent.ID)
	require.NoError(t, err)
	require.NotNil(t, kept.StartPhotoFileID)
	assert.Equal(t, "recent-photo", *kept.StartPhotoFileID)

	// Re-running finds nothing left to scrub.
	purged, err = shiftSvc.PurgeOldPhotos(ctx, baseTime, 90, 50)
	require.NoError(t, err)
	assert.Zero(t, purged)
}

func TestPurgeEventLog(t *testing.T) {
	shiftSvc, _, st := newShiftFixture(t)
	ctx := context.Background()

	oldEntry := &model.EventLogEntry{Level: "info", Kind: "test_event", CreatedAt: baseTime.AddDate(0, 0, -40)}
	newEntry := &model.EventLogEntry{Level: "info", Kind: "test_event", CreatedAt: baseTime.AddDate(0, 0, -1)}
	require.NoError(t, st.EventLog().Insert(ctx, oldEntry))
	require.NoError(t, st.EventLog().Insert(ctx, newEntry))

	purged, err := shiftSvc.PurgeEventLog(ctx, baseTime, 30, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	assert.Len(t, st.EventLogEntries(), 1)
}
