package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shifttrack.service/internal/core/model"
	"shifttrack.service/internal/store"
	"shifttrack.service/internal/store/memstore"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

var baseTime = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

func defaultRules() ShiftRules {
	return ShiftRules{
		PendingActionTTL: 10 * time.Minute,
		MaxShift:         12 * time.Hour,
		MinShiftMinutes:  8 * 60,
		GraceMinutes:     0,
	}
}

func newPendingFixture(t *testing.T) (*PendingActionService, *memstore.Store, *fixedClock) {
	t.Helper()
	st := memstore.New()
	clock := &fixedClock{now: baseTime}
	return NewPendingActionService(st, clock, defaultRules()), st, clock
}

func photoInput(userID int64, messageID int64, at time.Time) PhotoInput {
	return PhotoInput{
		User:        store.ChatUserInput{ID: userID, FirstName: "Anna", LastName: "K"},
		ChatID:      "100",
		MessageID:   messageID,
		FileID:      "file-1",
		MessageDate: at,
	}
}

// startShift drives a full photo -> confirm cycle so tests start from a
// realistic open shift.
func startShift(t *testing.T, svc *PendingActionService, userID, messageID int64, at time.Time) *model.Shift {
	t.Helper()
	ctx := context.Background()

	created, err := svc.CreateFromPhoto(ctx, photoInput(userID, messageID, at))
	require.NoError(t, err)
	require.False(t, created.Duplicate)
	require.Equal(t, model.ActionStart, created.ActionType)

	result, err := svc.ConfirmAction(ctx, created.Pending.ID, created.Employee.TelegramUserID, at.Add(5*time.Second))
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmedStart, result.Outcome)
	return result.Shift
}

func TestCreateFromPhotoSelectsActionType(t *testing.T) {
	svc, _, _ := newPendingFixture(t)
	ctx := context.Background()

	// No open shift: the photo must open one.
	created, err := svc.CreateFromPhoto(ctx, photoInput(1, 10, baseTime))
	require.NoError(t, err)
	assert.Equal(t, model.ActionStart, created.ActionType)

	startShift(t, svc, 2, 20, baseTime)

	// Open, not overdue: the photo must close it.
	created, err = svc.CreateFromPhoto(ctx, photoInput(2, 21, baseTime.Add(9*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, model.ActionEnd, created.ActionType)

	// Open but past the max-shift window: treated as a fresh start.
	created, err = svc.CreateFromPhoto(ctx, photoInput(2, 22, baseTime.Add(13*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, model.ActionStart, created.ActionType)
}

func TestCreateFromPhotoDuplicateMessage(t *testing.T) {
	svc, _, _ := newPendingFixture(t)
	ctx := context.Background()

	first, err := svc.CreateFromPhoto(ctx, photoInput(1, 10, baseTime))
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	// Redelivery of the same chat+message while the action is pending.
	second, err := svc.CreateFromPhoto(ctx, photoInput(1, 10, baseTime))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	// And after the action turned into a shift.
	_, err = svc.ConfirmAction(ctx, first.Pending.ID, first.Employee.TelegramUserID, baseTime.Add(time.Second))
	require.NoError(t, err)
	third, err := svc.CreateFromPhoto(ctx, photoInput(1, 10, baseTime))
	require.NoError(t, err)
	assert.True(t, third.Duplicate)
}

func TestConfirmStartOpensShift(t *testing.T) {
	svc, st, _ := newPendingFixture(t)
	ctx := context.Background()

	shift := startShift(t, svc, 1, 10, baseTime)
	assert.True(t, shift.Open())
	assert.Equal(t, baseTime, shift.StartTime)

	open, err := st.Shifts().FindOpenShift(ctx, shift.EmployeeID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, shift.ID, open.ID)
}

func TestConfirmStartAutoClosesOverdueShift(t *testing.T) {
	svc, st, _ := newPendingFixture(t)
	ctx := context.Background()

	shift := startShift(t, svc, 1, 10, baseTime)

	// A start photo long after the cap: confirming it closes the forgotten
	// shift at start + max shift and opens the new one in the same pass.
	created, err := svc.CreateFromPhoto(ctx, photoInput(1, 11, baseTime.Add(13*time.Hour)))
	require.NoError(t, err)
	require.Equal(t, model.ActionStart, created.ActionType)

	result, err := svc.ConfirmAction(ctx, created.Pending.ID, created.Employee.TelegramUserID, baseTime.Add(13*time.Hour))
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmedStart, result.Outcome)
	require.NotNil(t, result.AutoClosed)
	assert.Equal(t, shift.ID, result.AutoClosed.Shift.ID)
	assert.Equal(t, 720, result.AutoClosed.DurationMinutes)
	assert.Equal(t, baseTime.Add(12*time.Hour), result.AutoClosed.EndTime)
	assert.True(t, result.Shift.Open())

	violations, err := st.Shifts().ListViolations(ctx, shift.ID)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, model.ViolationNotClosedInTime, violations[0].Type)
}

func TestConfirmStartOpenShiftExists(t *testing.T) {
	svc, st, _ := newPendingFixture(t)
	ctx := context.Background()

	// The START action is created first; a second photo opens a shift
	// before the first one is confirmed.
	created, err := svc.CreateFromPhoto(ctx, photoInput(1, 10, baseTime))
	require.NoError(t, err)
	require.Equal(t, model.ActionStart, created.ActionType)

	startShift(t, svc, 1, 11, baseTime.Add(time.Minute))

	result, err := svc.ConfirmAction(ctx, created.Pending.ID, created.Employee.TelegramUserID, baseTime.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, OutcomeOpenShiftExists, result.Outcome)

	// The rejected action must be cancelled, not reusable.
	pending, err := st.PendingActions().FindByID(ctx, created.Pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PendingStatusCancelled, pending.Status)
}

func TestConfirmEndClosesShift(t *testing.T) {
	svc, st, _ := newPendingFixture(t)
	ctx := context.Background()

	shift := startShift(t, svc, 1, 10, baseTime)

	endAt := baseTime.Add(9 * time.Hour)
	created, err := svc.CreateFromPhoto(ctx, photoInput(1, 11, endAt))
	require.NoError(t, err)
	require.Equal(t, model.ActionEnd, created.ActionType)

	result, err := svc.ConfirmAction(ctx, created.Pending.ID, created.Employee.TelegramUserID, endAt.Add(5*time.Second))
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmedEnd, result.Outcome)
	assert.Equal(t, 540, result.DurationMinutes)

	closed, err := st.Shifts().FindByID(ctx, shift.ID)
	require.NoError(t, err)
	require.NotNil(t, closed.EndTime)
	assert.Equal(t, endAt, *closed.EndTime)
	require.NotNil(t, closed.ClosedReason)
	assert.Equal(t, model.ClosedByPhoto, *closed.ClosedReason)

	violations, err := st.Shifts().ListViolations(ctx, shift.ID)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestConfirmEndShortShiftViolation(t *testing.T) {
	svc, st, _ := newPendingFixture(t)
	ctx := context.Background()

	shift := startShift(t, svc, 1, 10, baseTime)

	endAt := baseTime.Add(3 * time.Hour)
	created, err := svc.CreateFromPhoto(ctx, photoInput(1, 11, endAt))
	require.NoError(t, err)

	result, err := svc.ConfirmAction(ctx, created.Pending.ID, created.Employee.TelegramUserID, endAt)
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmedEnd, result.Outcome)
	assert.Equal(t, 180, result.DurationMinutes)

	violations, err := st.Shifts().ListViolations(ctx, shift.ID)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, model.ViolationShortShift, violations[0].Type)
}

func TestConfirmEndClampsNegativeDuration(t *testing.T) {
	svc, _, _ := newPendingFixture(t)
	ctx := context.Background()

	startShift(t, svc, 1, 10, baseTime)

	// Event clock skew: the end photo reports a time before the start.
	endAt := baseTime.Add(-2 * time.Minute)
	created, err := svc.CreateFromPhoto(ctx, photoInput(1, 11, endAt))
	require.NoError(t, err)
	require.Equal(t, model.ActionEnd, created.ActionType)

	result, err := svc.ConfirmAction(ctx, created.Pending.ID, created.Employee.TelegramUserID, baseTime)
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmedEnd, result.Outcome)
	assert.Equal(t, 0, result.DurationMinutes)
}

func TestConfirmEndNoOpenShift(t *testing.T) {
	svc, st, _ := newPendingFixture(t)
	ctx := context.Background()

	startShift(t, svc, 1, 10, baseTime)

	endAt := baseTime.Add(time.Hour)
	created, err := svc.CreateFromPhoto(ctx, photoInput(1, 11, endAt))
	require.NoError(t, err)
	require.Equal(t, model.ActionEnd, created.ActionType)

	// A concurrent end closes the shift before this one is confirmed.
	other, err := svc.CreateFromPhoto(ctx, photoInput(1, 12, endAt))
	require.NoError(t, err)
	_, err = svc.ConfirmAction(ctx, other.Pending.ID, other.Employee.TelegramUserID, endAt)
	require.NoError(t, err)

	result, err := svc.ConfirmAction(ctx, created.Pending.ID, created.Employee.TelegramUserID, endAt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOpenShift, result.Outcome)

	pending, err := st.PendingActions().FindByID(ctx, created.Pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PendingStatusCancelled, pending.Status)
}

func TestConfirmEndOverdueAutoCloses(t *testing.T) {
	svc, st, _ := newPendingFixture(t)
	ctx := context.Background()

	shift := startShift(t, svc, 1, 10, baseTime)

	endAt := baseTime.Add(time.Hour)
	created, err := svc.CreateFromPhoto(ctx, photoInput(1, 11, endAt))
	require.NoError(t, err)
	require.Equal(t, model.ActionEnd, created.ActionType)

	// Before the END is confirmed the open shift changes hands: the fresh
	// one closes and an old, already-overdue one takes its place. The
	// confirmation must not close the stale shift with bogus numbers.
	_, err = st.Shifts().CloseShiftByPhoto(ctx, store.ShiftClose{
		ShiftID:         shift.ID,
		EndTime:         endAt,
		PhotoFileID:     "file-x",
		PhotoMessageID:  12,
		ChatID:          "100",
		DurationMinutes: 60,
	})
	require.NoError(t, err)
	stale, err := st.Shifts().CreateShiftStart(ctx, store.ShiftStart{
		EmployeeID:     created.Employee.ID,
		StartTime:      baseTime.Add(-14 * time.Hour),
		PhotoFileID:    "file-y",
		PhotoMessageID: 13,
		ChatID:         "100",
	})
	require.NoError(t, err)

	result, err := svc.ConfirmAction(ctx, created.Pending.ID, created.Employee.TelegramUserID, endAt.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, OutcomeAutoClosed, result.Outcome)
	require.NotNil(t, result.AutoClosed)
	assert.Equal(t, stale.ID, result.AutoClosed.Shift.ID)
	assert.Equal(t, 720, result.AutoClosed.DurationMinutes)
	assert.Equal(t, baseTime.Add(-2*time.Hour), result.AutoClosed.EndTime)

	violations, err := st.Shifts().ListViolations(ctx, stale.ID)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, model.ViolationNotClosedInTime, violations[0].Type)
}

func TestConfirmExpiredAction(t *testing.T) {
	svc, st, _ := newPendingFixture(t)
	ctx := context.Background()

	created, err := svc.CreateFromPhoto(ctx, photoInput(1, 10, baseTime))
	require.NoError(t, err)

	late := baseTime.Add(11 * time.Minute)
	result, err := svc.ConfirmAction(ctx, created.Pending.ID, created.Employee.TelegramUserID, late)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, result.Outcome)

	pending, err := st.PendingActions().FindByID(ctx, created.Pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PendingStatusExpired, pending.Status)
}

func TestConfirmForbiddenAndNotFound(t *testing.T) {
	svc, _, _ := newPendingFixture(t)
	ctx := context.Background()

	created, err := svc.CreateFromPhoto(ctx, photoInput(1, 10, baseTime))
	require.NoError(t, err)

	result, err := svc.ConfirmAction(ctx, created.Pending.ID, "someone-else", baseTime)
	require.NoError(t, err)
	assert.Equal(t, OutcomeForbidden, result.Outcome)

	result, err = svc.ConfirmAction(ctx, 9999, created.Employee.TelegramUserID, baseTime)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, result.Outcome)
}

func TestConfirmTwiceAlreadyHandled(t *testing.T) {
	svc, _, _ := newPendingFixture(t)
	ctx := context.Background()

	created, err := svc.CreateFromPhoto(ctx, photoInput(1, 10, baseTime))
	require.NoError(t, err)

	first, err := svc.ConfirmAction(ctx, created.Pending.ID, created.Employee.TelegramUserID, baseTime.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmedStart, first.Outcome)

	second, err := svc.ConfirmAction(ctx, created.Pending.ID, created.Employee.TelegramUserID, baseTime.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyHandled, second.Outcome)
	assert.Equal(t, model.PendingStatusConfirmed, second.PriorStatus)
}

func TestCancelAction(t *testing.T) {
	svc, st, _ := newPendingFixture(t)
	ctx := context.Background()

	created, err := svc.CreateFromPhoto(ctx, photoInput(1, 10, baseTime))
	require.NoError(t, err)

	result, err := svc.CancelAction(ctx, created.Pending.ID, created.Employee.TelegramUserID, baseTime.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, result.Outcome)

	pending, err := st.PendingActions().FindByID(ctx, created.Pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PendingStatusCancelled, pending.Status)

	// Cancelling after confirm/cancel reports already_handled.
	again, err := svc.CancelAction(ctx, created.Pending.ID, created.Employee.TelegramUserID, baseTime.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyHandled, again.Outcome)
}

func TestConcurrentConfirmExactlyOneWins(t *testing.T) {
	svc, st, _ := newPendingFixture(t)
	ctx := context.Background()

	created, err := svc.CreateFromPhoto(ctx, photoInput(1, 10, baseTime))
	require.NoError(t, err)

	const callers = 8
	results := make([]ActionResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.ConfirmAction(ctx, created.Pending.ID, created.Employee.TelegramUserID, baseTime.Add(time.Second))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	confirmed := 0
	for _, result := range results {
		switch result.Outcome {
		case OutcomeConfirmedStart:
			confirmed++
		case OutcomeAlreadyHandled:
		default:
			t.Fatalf("unexpected outcome %q", result.Outcome)
		}
	}
	assert.Equal(t, 1, confirmed)

	// At most one shift resulted.
	open, err := st.Shifts().FindOpenShift(ctx, created.Employee.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
}

func TestConcurrentStartsSingleOpenShift(t *testing.T) {
	svc, st, _ := newPendingFixture(t)
	ctx := context.Background()

	first, err := svc.CreateFromPhoto(ctx, photoInput(1, 10, baseTime))
	require.NoError(t, err)
	second, err := svc.CreateFromPhoto(ctx, photoInput(1, 11, baseTime))
	require.NoError(t, err)
	require.Equal(t, model.ActionStart, second.ActionType)

	var wg sync.WaitGroup
	results := make([]ActionResult, 2)
	errs := make([]error, 2)
	for i, created := range []CreateResult{first, second} {
		wg.Add(1)
		go func(i int, created CreateResult) {
			defer wg.Done()
			results[i], errs[i] = svc.ConfirmAction(ctx, created.Pending.ID, created.Employee.TelegramUserID, baseTime.Add(time.Second))
		}(i, created)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	started, rejected := 0, 0
	for _, result := range results {
		switch result.Outcome {
		case OutcomeConfirmedStart:
			started++
		case OutcomeOpenShiftExists:
			rejected++
		default:
			t.Fatalf("unexpected outcome %q", result.Outcome)
		}
	}
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, rejected)

	open, err := st.Shifts().FindOpenShift(ctx, first.Employee.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
}

func TestExpirePendingActions(t *testing.T) {
	svc, st, _ := newPendingFixture(t)
	ctx := context.Background()

	for i := int64(0); i < 3; i++ {
		_, err := svc.CreateFromPhoto(ctx, photoInput(i+1, 10+i, baseTime))
		require.NoError(t, err)
	}

	count, err := svc.ExpirePendingActions(ctx, baseTime.Add(11*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// A second pass finds nothing left.
	count, err = svc.ExpirePendingActions(ctx, baseTime.Add(11*time.Minute), 10)
	require.NoError(t, err)
	assert.Zero(t, count)

	active, err := st.PendingActions().HasActiveForUser(ctx, "1", baseTime.Add(11*time.Minute))
	require.NoError(t, err)
	assert.False(t, active)
}

func TestHasActivePendingAction(t *testing.T) {
	svc, _, _ := newPendingFixture(t)
	ctx := context.Background()

	created, err := svc.CreateFromPhoto(ctx, photoInput(1, 10, baseTime))
	require.NoError(t, err)

	active, err := svc.HasActivePendingAction(ctx, created.Employee.TelegramUserID, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, active)

	active, err = svc.HasActivePendingAction(ctx, created.Employee.TelegramUserID, baseTime.Add(11*time.Minute))
	require.NoError(t, err)
	assert.False(t, active)
}

func TestShiftLifecycleEndToEnd(t *testing.T) {
	svc, st, _ := newPendingFixture(t)
	shiftSvc := NewShiftService(st, &fixedClock{now: baseTime}, defaultRules())
	ctx := context.Background()

	// Employee 1: clean 9h day.
	startShift(t, svc, 1, 10, baseTime)
	endAt := baseTime.Add(9 * time.Hour)
	end, err := svc.CreateFromPhoto(ctx, photoInput(1, 11, endAt))
	require.NoError(t, err)
	result, err := svc.ConfirmAction(ctx, end.Pending.ID, end.Employee.TelegramUserID, endAt.Add(5*time.Second))
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmedEnd, result.Outcome)
	assert.Equal(t, 540, result.DurationMinutes)
	violations, err := st.Shifts().ListViolations(ctx, result.Shift.ID)
	require.NoError(t, err)
	assert.Empty(t, violations)

	// Employee 2: never confirmed an end; the sweep closes it at the cap.
	forgotten := startShift(t, svc, 2, 20, baseTime)
	notices, err := shiftSvc.AutoCloseOverdueShifts(ctx, baseTime.Add(12*time.Hour+time.Minute), 50)
	require.NoError(t, err)
	require.Len(t, notices, 1)
	assert.Equal(t, forgotten.ID, notices[0].Shift.ID)
	assert.Equal(t, 720, notices[0].DurationMinutes)

	violations, err = st.Shifts().ListViolations(ctx, forgotten.ID)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, model.ViolationNotClosedInTime, violations[0].Type)
}
