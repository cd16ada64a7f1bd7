// Package bot turns queued Telegram updates into shift-lifecycle calls and
// sends the resulting user and admin messages.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"shifttrack.service/internal/core"
	"shifttrack.service/internal/core/model"
	"shifttrack.service/internal/store"
	"shifttrack.service/internal/telegram"
)

const (
	callbackConfirmPrefix = "pending_confirm:"
	callbackCancelPrefix  = "pending_cancel:"
)

// Sender is the outbound message surface the dispatcher needs; satisfied by
// telegram.SafeSender. Sends are best-effort: a failed delivery never fails
// the update.
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string) telegram.Result
	SendMessageWithKeyboard(ctx context.Context, chatID, text string, keyboard *telegram.InlineKeyboardMarkup) telegram.Result
	AnswerCallbackQuery(ctx context.Context, callbackQueryID, text string) telegram.Result
}

// Options carries the notification policy knobs.
type Options struct {
	MaxShiftHours             int
	NotifyEmployeeOnAutoClose bool
}

// Dispatcher is the business handler behind the update queue. A returned
// error sends the update back for a retry, so only infrastructure failures
// are errors; every business outcome is handled by replying.
type Dispatcher struct {
	pending *core.PendingActionService
	shifts  *core.ShiftService
	store   store.Store
	sender  Sender
	clock   core.Clock
	opts    Options
}

func NewDispatcher(pending *core.PendingActionService, shifts *core.ShiftService, st store.Store, sender Sender, clock core.Clock, opts Options) *Dispatcher {
	return &Dispatcher{pending: pending, shifts: shifts, store: st, sender: sender, clock: clock, opts: opts}
}

func (d *Dispatcher) HandleUpdate(ctx context.Context, payload json.RawMessage) error {
	var update telegram.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		return fmt.Errorf("decode update: %w", err)
	}

	switch {
	case update.CallbackQuery != nil:
		return d.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && len(update.Message.Photo) > 0:
		return d.handlePhoto(ctx, update.Message)
	case update.Message != nil && strings.HasPrefix(update.Message.Text, "/status"):
		return d.handleStatus(ctx, update.Message)
	default:
		// Update kinds this bot does not act on are done, not failed.
		return nil
	}
}

func (d *Dispatcher) handlePhoto(ctx context.Context, msg *telegram.Message) error {
	if msg.From == nil {
		return nil
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	// Renditions arrive smallest first; keep the original.
	photo := msg.Photo[len(msg.Photo)-1]

	result, err := d.pending.CreateFromPhoto(ctx, core.PhotoInput{
		User: store.ChatUserInput{
			ID:        msg.From.ID,
			Username:  msg.From.Username,
			FirstName: msg.From.FirstName,
			LastName:  msg.From.LastName,
		},
		ChatID:      chatID,
		MessageID:   msg.MessageID,
		FileID:      photo.FileID,
		MessageDate: messageTime(msg),
	})
	if err != nil {
		return err
	}
	if result.Duplicate {
		return nil
	}

	prompt := msgConfirmEndPrompt
	if result.ActionType == model.ActionStart {
		prompt = msgConfirmStartPrompt
	}
	d.reply(ctx, chatID, prompt, confirmationKeyboard(result.Pending.ID))
	return nil
}

func (d *Dispatcher) handleCallback(ctx context.Context, cq *telegram.CallbackQuery) error {
	if cq.From == nil || cq.Message == nil {
		return nil
	}
	d.sender.AnswerCallbackQuery(ctx, cq.ID, "")

	chatID := strconv.FormatInt(cq.Message.Chat.ID, 10)
	userID := strconv.FormatInt(cq.From.ID, 10)
	now := d.clock.Now()

	switch {
	case strings.HasPrefix(cq.Data, callbackConfirmPrefix):
		id, ok := parsePendingID(cq.Data, callbackConfirmPrefix)
		if !ok {
			return nil
		}
		result, err := d.pending.ConfirmAction(ctx, id, userID, now)
		if err != nil {
			d.reply(ctx, chatID, msgTryLater, nil)
			return err
		}
		d.replyConfirmOutcome(ctx, chatID, result)
		return nil

	case strings.HasPrefix(cq.Data, callbackCancelPrefix):
		id, ok := parsePendingID(cq.Data, callbackCancelPrefix)
		if !ok {
			return nil
		}
		result, err := d.pending.CancelAction(ctx, id, userID, now)
		if err != nil {
			d.reply(ctx, chatID, msgTryLater, nil)
			return err
		}
		d.replyCancelOutcome(ctx, chatID, result)
		return nil
	}
	return nil
}

func (d *Dispatcher) replyConfirmOutcome(ctx context.Context, chatID string, result core.ActionResult) {
	switch result.Outcome {
	case core.OutcomeConfirmedStart:
		if result.AutoClosed != nil {
			d.notifyAutoClosed(ctx, result.Employee, result.AutoClosed)
		}
		d.reply(ctx, chatID, msgShiftStarted(result.Shift.StartTime), nil)
		d.notifyAdmins(ctx, msgAdminShiftStarted(result.Employee.DisplayName, result.Shift.StartTime))
	case core.OutcomeConfirmedEnd:
		endTime := result.Shift.StartTime
		if result.Shift.EndTime != nil {
			endTime = *result.Shift.EndTime
		}
		d.reply(ctx, chatID, msgShiftClosed(endTime, result.DurationMinutes), nil)
		d.notifyAdmins(ctx, msgAdminShiftClosed(result.Employee.DisplayName, result.DurationMinutes))
	case core.OutcomeAutoClosed:
		d.notifyAdminsAutoClosed(ctx, result.AutoClosed)
		if d.opts.NotifyEmployeeOnAutoClose {
			d.reply(ctx, chatID, msgAutoClosedEmployee(d.opts.MaxShiftHours), nil)
		} else {
			d.reply(ctx, chatID, msgNoOpenShift, nil)
		}
	case core.OutcomeOpenShiftExists:
		d.reply(ctx, chatID, msgOpenShiftExists, nil)
	case core.OutcomeNoOpenShift:
		d.reply(ctx, chatID, msgNoOpenShift, nil)
	case core.OutcomeExpired:
		d.reply(ctx, chatID, msgPendingExpired, nil)
	case core.OutcomeAlreadyHandled:
		d.reply(ctx, chatID, msgPendingAlreadyHandled, nil)
	case core.OutcomeForbidden:
		d.reply(ctx, chatID, msgNoAccess, nil)
	case core.OutcomeNotFound:
		d.reply(ctx, chatID, msgPendingNotFound, nil)
	}
}

func (d *Dispatcher) replyCancelOutcome(ctx context.Context, chatID string, result core.ActionResult) {
	switch result.Outcome {
	case core.OutcomeCancelled:
		d.reply(ctx, chatID, "Cancelled.", nil)
	case core.OutcomeExpired:
		d.reply(ctx, chatID, msgPendingExpired, nil)
	case core.OutcomeAlreadyHandled:
		d.reply(ctx, chatID, msgPendingAlreadyHandled, nil)
	case core.OutcomeForbidden:
		d.reply(ctx, chatID, msgNoAccess, nil)
	case core.OutcomeNotFound:
		d.reply(ctx, chatID, msgPendingNotFound, nil)
	}
}

func (d *Dispatcher) handleStatus(ctx context.Context, msg *telegram.Message) error {
	if msg.From == nil {
		return nil
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	userID := strconv.FormatInt(msg.From.ID, 10)

	shift, _, err := d.shifts.OpenShiftStatus(ctx, userID)
	if err != nil {
		return err
	}
	if shift == nil {
		d.reply(ctx, chatID, msgNoOpenShift, nil)
		return nil
	}
	d.reply(ctx, chatID, msgStatusOpen(shift.StartTime), nil)
	return nil
}

// NotifyAutoClosed reports sweep-closed shifts to admins and, per policy,
// to the affected employees. Used by the periodic sweep.
func (d *Dispatcher) NotifyAutoClosed(ctx context.Context, notices []core.AutoCloseNotice) {
	for _, notice := range notices {
		d.notifyAutoClosed(ctx, notice.Employee, &core.AutoClose{
			Shift:           notice.Shift,
			EndTime:         notice.EndTime,
			DurationMinutes: notice.DurationMinutes,
		})
	}
}

func (d *Dispatcher) notifyAutoClosed(ctx context.Context, employee *model.Employee, closed *core.AutoClose) {
	displayName := "unknown"
	if employee != nil {
		displayName = employee.DisplayName
	}
	d.notifyAdmins(ctx, msgAdminAutoClosed(displayName, closed.EndTime, d.opts.MaxShiftHours))

	if d.opts.NotifyEmployeeOnAutoClose && employee != nil {
		d.reply(ctx, employee.TelegramUserID, msgAutoClosedEmployee(d.opts.MaxShiftHours), nil)
	}
}

func (d *Dispatcher) notifyAdminsAutoClosed(ctx context.Context, closed *core.AutoClose) {
	var employee *model.Employee
	if closed != nil && closed.Shift != nil {
		var err error
		employee, err = d.store.Employees().FindByID(ctx, closed.Shift.EmployeeID)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to load employee for auto-close notice")
		}
	}
	if closed != nil {
		d.notifyAutoClosed(ctx, employee, closed)
	}
}

func (d *Dispatcher) notifyAdmins(ctx context.Context, text string) {
	chatIDs, err := d.store.Employees().ListAdminChatIDs(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to list admin chats")
		return
	}
	for _, chatID := range chatIDs {
		d.reply(ctx, chatID, text, nil)
	}
}

// reply sends best-effort: delivery failures are already recorded by the
// safe sender, so the dispatcher only proceeds.
func (d *Dispatcher) reply(ctx context.Context, chatID, text string, keyboard *telegram.InlineKeyboardMarkup) {
	if keyboard != nil {
		d.sender.SendMessageWithKeyboard(ctx, chatID, text, keyboard)
		return
	}
	d.sender.SendMessage(ctx, chatID, text)
}

func confirmationKeyboard(pendingID int64) *telegram.InlineKeyboardMarkup {
	id := strconv.FormatInt(pendingID, 10)
	return &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{{
			{Text: "✅ Confirm", CallbackData: callbackConfirmPrefix + id},
			{Text: "❌ Cancel", CallbackData: callbackCancelPrefix + id},
		}},
	}
}

func parsePendingID(data, prefix string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(data, prefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// messageTime is the event time as reported by Telegram, not the time of
// processing; retries must not shift shift boundaries.
func messageTime(msg *telegram.Message) time.Time {
	return time.Unix(msg.Date, 0).UTC()
}
