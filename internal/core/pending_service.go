package core

import (
	"context"
	"fmt"
	"time"

	"shifttrack.service/internal/core/model"
	"shifttrack.service/internal/store"
)

// ShiftRules are the policy knobs for the shift lifecycle.
type ShiftRules struct {
	PendingActionTTL time.Duration
	MaxShift         time.Duration
	MinShiftMinutes  int
	GraceMinutes     int
}

// Outcome tags the result of a pending-action operation. Business
// rejections and races are outcomes, not errors.
type Outcome string

const (
	OutcomeConfirmedStart  Outcome = "confirmed_start"
	OutcomeConfirmedEnd    Outcome = "confirmed_end"
	OutcomeAutoClosed      Outcome = "auto_closed"
	OutcomeNoOpenShift     Outcome = "no_open_shift"
	OutcomeOpenShiftExists Outcome = "open_shift_exists"
	OutcomeCancelled       Outcome = "cancelled"
	OutcomeExpired         Outcome = "expired"
	OutcomeNotFound        Outcome = "not_found"
	OutcomeForbidden       Outcome = "forbidden"
	OutcomeAlreadyHandled  Outcome = "already_handled"
)

// AutoClose describes one shift closed by timeout.
type AutoClose struct {
	Shift           *model.Shift
	EndTime         time.Time
	DurationMinutes int
}

// ActionResult is the outcome of confirming or cancelling a pending action.
// Shift/Employee/DurationMinutes are set for confirmed outcomes; AutoClosed
// is set when an overdue shift was closed along the way; PriorStatus is set
// for already_handled.
type ActionResult struct {
	Outcome         Outcome
	Shift           *model.Shift
	Employee        *model.Employee
	DurationMinutes int
	AutoClosed      *AutoClose
	PriorStatus     model.PendingActionStatus
}

// CreateResult is the outcome of recording an inbound photo.
type CreateResult struct {
	Duplicate  bool
	Pending    *model.PendingAction
	ActionType model.PendingActionType
	Employee   *model.Employee
}

// PhotoInput is one inbound photo message.
type PhotoInput struct {
	User        store.ChatUserInput
	ChatID      string
	MessageID   int64
	FileID      string
	MessageDate time.Time
}

// PendingActionService owns the confirmation flow between an inbound photo
// and the shift transition it implies. All confirm/cancel paths run inside
// one transaction and resolve races through a single conditional status
// update, never through in-process locks.
type PendingActionService struct {
	store store.Store
	clock Clock
	rules ShiftRules
}

func NewPendingActionService(st store.Store, clock Clock, rules ShiftRules) *PendingActionService {
	return &PendingActionService{store: st, clock: clock, rules: rules}
}

// CreateFromPhoto records a confirmation request for the photo, unless the
// same chat+message already produced a shift transition or a pending
// action (redelivery). The action type is START unless the employee has an
// open shift that is not yet overdue.
func (s *PendingActionService) CreateFromPhoto(ctx context.Context, in PhotoInput) (CreateResult, error) {
	processed, err := s.store.Shifts().IsMessageProcessed(ctx, in.ChatID, in.MessageID)
	if err != nil {
		return CreateResult{}, fmt.Errorf("check processed message: %w", err)
	}
	if processed {
		return CreateResult{Duplicate: true}, nil
	}

	existing, err := s.store.PendingActions().FindByChatMessage(ctx, in.ChatID, in.MessageID)
	if err != nil {
		return CreateResult{}, fmt.Errorf("check duplicate pending action: %w", err)
	}
	if existing != nil {
		return CreateResult{Duplicate: true}, nil
	}

	employee, err := s.store.Employees().UpsertFromChat(ctx, in.User)
	if err != nil {
		return CreateResult{}, fmt.Errorf("upsert employee: %w", err)
	}

	openShift, err := s.store.Shifts().FindOpenShift(ctx, employee.ID)
	if err != nil {
		return CreateResult{}, fmt.Errorf("find open shift: %w", err)
	}

	actionType := model.ActionStart
	if openShift != nil && !s.overdue(openShift, in.MessageDate) {
		actionType = model.ActionEnd
	}

	pending, err := s.store.PendingActions().Create(ctx, store.PendingActionCreate{
		EmployeeID:     employee.ID,
		TelegramUserID: employee.TelegramUserID,
		ChatID:         in.ChatID,
		ActionType:     actionType,
		PhotoFileID:    in.FileID,
		PhotoMessageID: in.MessageID,
		CreatedAt:      in.MessageDate,
		ExpiresAt:      in.MessageDate.Add(s.rules.PendingActionTTL),
	})
	if err != nil {
		return CreateResult{}, fmt.Errorf("create pending action: %w", err)
	}

	return CreateResult{Pending: pending, ActionType: actionType, Employee: employee}, nil
}

// ConfirmAction turns the pending action into a shift transition. Exactly
// one of concurrent confirm/cancel callers wins the conditional status
// update; the rest observe already_handled or expired.
func (s *PendingActionService) ConfirmAction(ctx context.Context, id int64, telegramUserID string, now time.Time) (ActionResult, error) {
	var result ActionResult
	err := s.store.InTx(ctx, func(tx store.Store) error {
		pending, outcome, err := s.claimPending(ctx, tx, id, telegramUserID, model.PendingStatusConfirmed, now)
		if err != nil {
			return err
		}
		if outcome != nil {
			result = *outcome
			return nil
		}

		employee, err := tx.Employees().FindByID(ctx, pending.EmployeeID)
		if err != nil {
			return fmt.Errorf("load employee: %w", err)
		}
		if employee == nil {
			if err := tx.PendingActions().UpdateStatus(ctx, pending.ID, model.PendingStatusCancelled, now); err != nil {
				return err
			}
			result = ActionResult{Outcome: OutcomeNotFound}
			return nil
		}

		if pending.ActionType == model.ActionStart {
			result, err = s.confirmStart(ctx, tx, pending, employee, now)
			return err
		}
		result, err = s.confirmEnd(ctx, tx, pending, employee, now)
		return err
	})
	return result, err
}

// CancelAction marks the action cancelled under the same claim discipline
// as confirmation.
func (s *PendingActionService) CancelAction(ctx context.Context, id int64, telegramUserID string, now time.Time) (ActionResult, error) {
	var result ActionResult
	err := s.store.InTx(ctx, func(tx store.Store) error {
		_, outcome, err := s.claimPending(ctx, tx, id, telegramUserID, model.PendingStatusCancelled, now)
		if err != nil {
			return err
		}
		if outcome != nil {
			result = *outcome
			return nil
		}
		result = ActionResult{Outcome: OutcomeCancelled}
		return nil
	})
	return result, err
}

// ExpirePendingActions bulk-transitions stale PENDING actions to EXPIRED.
func (s *PendingActionService) ExpirePendingActions(ctx context.Context, now time.Time, limit int) (int64, error) {
	return s.store.PendingActions().ExpirePendingActions(ctx, now, limit)
}

// HasActivePendingAction reports whether the user already has an
// unconfirmed, unexpired action.
func (s *PendingActionService) HasActivePendingAction(ctx context.Context, telegramUserID string, now time.Time) (bool, error) {
	return s.store.PendingActions().HasActiveForUser(ctx, telegramUserID, now)
}

// claimPending loads, authorizes and conditionally transitions the action
// to targetStatus. A nil outcome with a nil error means the caller won the
// claim and owns the follow-up business logic.
func (s *PendingActionService) claimPending(
	ctx context.Context,
	tx store.Store,
	id int64,
	telegramUserID string,
	targetStatus model.PendingActionStatus,
	now time.Time,
) (*model.PendingAction, *ActionResult, error) {
	pending, err := tx.PendingActions().FindByID(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load pending action: %w", err)
	}
	if pending == nil {
		return nil, &ActionResult{Outcome: OutcomeNotFound}, nil
	}
	if pending.TelegramUserID != telegramUserID {
		return nil, &ActionResult{Outcome: OutcomeForbidden}, nil
	}
	if pending.Status != model.PendingStatusPending {
		return nil, &ActionResult{Outcome: OutcomeAlreadyHandled, PriorStatus: pending.Status}, nil
	}
	if !pending.ExpiresAt.After(now) {
		if err := tx.PendingActions().UpdateStatus(ctx, pending.ID, model.PendingStatusExpired, now); err != nil {
			return nil, nil, err
		}
		return nil, &ActionResult{Outcome: OutcomeExpired}, nil
	}

	claimed, err := tx.PendingActions().UpdateStatusIfPending(ctx, pending.ID, targetStatus, now)
	if err != nil {
		return nil, nil, err
	}
	if claimed == 0 {
		// A concurrent confirm/cancel won; report what actually happened.
		refreshed, err := tx.PendingActions().FindByID(ctx, pending.ID)
		if err != nil {
			return nil, nil, err
		}
		if refreshed == nil {
			return nil, &ActionResult{Outcome: OutcomeNotFound}, nil
		}
		if refreshed.Status == model.PendingStatusPending && !refreshed.ExpiresAt.After(now) {
			if err := tx.PendingActions().UpdateStatus(ctx, refreshed.ID, model.PendingStatusExpired, now); err != nil {
				return nil, nil, err
			}
			return nil, &ActionResult{Outcome: OutcomeExpired}, nil
		}
		return nil, &ActionResult{Outcome: OutcomeAlreadyHandled, PriorStatus: refreshed.Status}, nil
	}
	return pending, nil, nil
}

// confirmStart re-checks the open shift inside the transaction: the state
// may have changed between photo intake and confirmation.
func (s *PendingActionService) confirmStart(ctx context.Context, tx store.Store, pending *model.PendingAction, employee *model.Employee, now time.Time) (ActionResult, error) {
	openShift, err := tx.Shifts().FindOpenShift(ctx, employee.ID)
	if err != nil {
		return ActionResult{}, fmt.Errorf("find open shift: %w", err)
	}

	var autoClosed *AutoClose
	if openShift != nil {
		if !s.overdue(openShift, pending.CreatedAt) {
			if err := tx.PendingActions().UpdateStatus(ctx, pending.ID, model.PendingStatusCancelled, now); err != nil {
				return ActionResult{}, err
			}
			return ActionResult{Outcome: OutcomeOpenShiftExists}, nil
		}

		autoClosed, err = autoCloseShift(ctx, tx, openShift, s.rules, now)
		if err != nil {
			return ActionResult{}, err
		}
		if autoClosed == nil {
			// Another caller closed it first; the employee state is unclear,
			// so reject the start rather than guessing.
			if err := tx.PendingActions().UpdateStatus(ctx, pending.ID, model.PendingStatusCancelled, now); err != nil {
				return ActionResult{}, err
			}
			return ActionResult{Outcome: OutcomeOpenShiftExists}, nil
		}
	}

	shift, err := tx.Shifts().CreateShiftStart(ctx, store.ShiftStart{
		EmployeeID:     employee.ID,
		StartTime:      pending.CreatedAt,
		PhotoFileID:    pending.PhotoFileID,
		PhotoMessageID: pending.PhotoMessageID,
		ChatID:         pending.ChatID,
	})
	if err != nil {
		return ActionResult{}, fmt.Errorf("create shift: %w", err)
	}

	return ActionResult{Outcome: OutcomeConfirmedStart, Shift: shift, Employee: employee, AutoClosed: autoClosed}, nil
}

func (s *PendingActionService) confirmEnd(ctx context.Context, tx store.Store, pending *model.PendingAction, employee *model.Employee, now time.Time) (ActionResult, error) {
	openShift, err := tx.Shifts().FindOpenShift(ctx, employee.ID)
	if err != nil {
		return ActionResult{}, fmt.Errorf("find open shift: %w", err)
	}
	if openShift == nil {
		if err := tx.PendingActions().UpdateStatus(ctx, pending.ID, model.PendingStatusCancelled, now); err != nil {
			return ActionResult{}, err
		}
		return ActionResult{Outcome: OutcomeNoOpenShift}, nil
	}

	if s.overdue(openShift, pending.CreatedAt) {
		autoClosed, err := autoCloseShift(ctx, tx, openShift, s.rules, now)
		if err != nil {
			return ActionResult{}, err
		}
		if autoClosed != nil {
			return ActionResult{Outcome: OutcomeAutoClosed, AutoClosed: autoClosed}, nil
		}
		if err := tx.PendingActions().UpdateStatus(ctx, pending.ID, model.PendingStatusCancelled, now); err != nil {
			return ActionResult{}, err
		}
		return ActionResult{Outcome: OutcomeNoOpenShift}, nil
	}

	durationMinutes := durationMinutesBetween(openShift.StartTime, pending.CreatedAt)
	shift, err := tx.Shifts().CloseShiftByPhoto(ctx, store.ShiftClose{
		ShiftID:         openShift.ID,
		EndTime:         pending.CreatedAt,
		PhotoFileID:     pending.PhotoFileID,
		PhotoMessageID:  pending.PhotoMessageID,
		ChatID:          pending.ChatID,
		DurationMinutes: durationMinutes,
	})
	if err != nil {
		return ActionResult{}, fmt.Errorf("close shift: %w", err)
	}

	if err := applyShortShiftViolation(ctx, tx, shift.ID, durationMinutes, s.rules); err != nil {
		return ActionResult{}, err
	}

	return ActionResult{Outcome: OutcomeConfirmedEnd, Shift: shift, Employee: employee, DurationMinutes: durationMinutes}, nil
}

// autoCloseShift closes an overdue shift with the AUTO_TIMEOUT reason and
// books its violations. The end time is start + max shift, not the current
// instant, so the recorded duration is the cap itself. nil, nil means a
// concurrent caller already closed the shift.
func autoCloseShift(ctx context.Context, tx store.Store, shift *model.Shift, rules ShiftRules, now time.Time) (*AutoClose, error) {
	endTime := shift.StartTime.Add(rules.MaxShift)
	durationMinutes := int(rules.MaxShift.Minutes())

	closed, err := tx.Shifts().AutoCloseShift(ctx, shift.ID, endTime, durationMinutes, now)
	if err != nil {
		return nil, fmt.Errorf("auto-close shift: %w", err)
	}
	if closed == nil {
		return nil, nil
	}

	if err := tx.Shifts().CreateViolation(ctx, closed.ID, model.ViolationNotClosedInTime); err != nil {
		return nil, fmt.Errorf("record violation: %w", err)
	}
	if err := applyShortShiftViolation(ctx, tx, closed.ID, durationMinutes, rules); err != nil {
		return nil, err
	}

	return &AutoClose{Shift: closed, EndTime: endTime, DurationMinutes: durationMinutes}, nil
}

func applyShortShiftViolation(ctx context.Context, tx store.Store, shiftID int64, durationMinutes int, rules ShiftRules) error {
	threshold := rules.MinShiftMinutes - rules.GraceMinutes
	if durationMinutes >= threshold {
		return nil
	}
	if err := tx.Shifts().CreateViolation(ctx, shiftID, model.ViolationShortShift); err != nil {
		return fmt.Errorf("record violation: %w", err)
	}
	return nil
}

func (s *PendingActionService) overdue(shift *model.Shift, at time.Time) bool {
	return !at.Before(shift.StartTime.Add(s.rules.MaxShift))
}

// durationMinutesBetween clamps at zero: a skewed event clock must not
// produce a negative duration.
func durationMinutesBetween(start, end time.Time) int {
	minutes := int(end.Sub(start).Round(time.Minute) / time.Minute)
	if minutes < 0 {
		return 0
	}
	return minutes
}
