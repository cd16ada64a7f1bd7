package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shifttrack.service/internal/core"
	"shifttrack.service/internal/core/model"
	"shifttrack.service/internal/store"
	"shifttrack.service/internal/store/memstore"
	"shifttrack.service/internal/telegram"
)

func storeChatUser(id int64, firstName string) store.ChatUserInput {
	return store.ChatUserInput{ID: id, FirstName: firstName}
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type sentMessage struct {
	ChatID   string
	Text     string
	Keyboard *telegram.InlineKeyboardMarkup
}

type fakeSender struct {
	messages []sentMessage
	answered []string
}

func (s *fakeSender) SendMessage(ctx context.Context, chatID, text string) telegram.Result {
	s.messages = append(s.messages, sentMessage{ChatID: chatID, Text: text})
	return telegram.Result{OK: true}
}

func (s *fakeSender) SendMessageWithKeyboard(ctx context.Context, chatID, text string, keyboard *telegram.InlineKeyboardMarkup) telegram.Result {
	s.messages = append(s.messages, sentMessage{ChatID: chatID, Text: text, Keyboard: keyboard})
	return telegram.Result{OK: true}
}

func (s *fakeSender) AnswerCallbackQuery(ctx context.Context, callbackQueryID, text string) telegram.Result {
	s.answered = append(s.answered, callbackQueryID)
	return telegram.Result{OK: true}
}

var botBase = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

func newDispatcherFixture(t *testing.T) (*Dispatcher, *fakeSender, *memstore.Store, *fixedClock) {
	t.Helper()
	st := memstore.New()
	clock := &fixedClock{now: botBase}
	rules := core.ShiftRules{
		PendingActionTTL: 10 * time.Minute,
		MaxShift:         12 * time.Hour,
		MinShiftMinutes:  8 * 60,
	}
	sender := &fakeSender{}
	d := NewDispatcher(
		core.NewPendingActionService(st, clock, rules),
		core.NewShiftService(st, clock, rules),
		st,
		sender,
		clock,
		Options{MaxShiftHours: 12, NotifyEmployeeOnAutoClose: true},
	)
	return d, sender, st, clock
}

func photoUpdate(updateID, userID, messageID int64, at time.Time) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"update_id":%d,"message":{"message_id":%d,"date":%d,"from":{"id":%d,"first_name":"Anna"},"chat":{"id":%d},"photo":[{"file_id":"small"},{"file_id":"original"}]}}`,
		updateID, messageID, at.Unix(), userID, userID,
	))
}

func callbackUpdate(updateID, userID int64, data string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"update_id":%d,"callback_query":{"id":"cbq-%d","data":%q,"from":{"id":%d},"message":{"message_id":5,"chat":{"id":%d}}}}`,
		updateID, updateID, data, userID, userID,
	))
}

func TestHandlePhotoCreatesPendingAndPrompts(t *testing.T) {
	d, sender, st, _ := newDispatcherFixture(t)
	ctx := context.Background()

	require.NoError(t, d.HandleUpdate(ctx, photoUpdate(1, 7, 10, botBase)))

	require.Len(t, sender.messages, 1)
	msg := sender.messages[0]
	assert.Equal(t, "7", msg.ChatID)
	assert.Equal(t, msgConfirmStartPrompt, msg.Text)
	require.NotNil(t, msg.Keyboard)
	require.Len(t, msg.Keyboard.InlineKeyboard, 1)
	row := msg.Keyboard.InlineKeyboard[0]
	require.Len(t, row, 2)
	assert.Equal(t, "pending_confirm:1", row[0].CallbackData)
	assert.Equal(t, "pending_cancel:1", row[1].CallbackData)

	pending, err := st.PendingActions().FindByID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, model.ActionStart, pending.ActionType)
	// The original rendition is kept, not the thumbnail.
	assert.Equal(t, "original", pending.PhotoFileID)
	assert.Equal(t, botBase, pending.CreatedAt)
}

func TestHandlePhotoRedeliveryIsSilent(t *testing.T) {
	d, sender, _, _ := newDispatcherFixture(t)
	ctx := context.Background()

	require.NoError(t, d.HandleUpdate(ctx, photoUpdate(1, 7, 10, botBase)))
	require.NoError(t, d.HandleUpdate(ctx, photoUpdate(1, 7, 10, botBase)))

	assert.Len(t, sender.messages, 1, "a redelivered photo must not prompt twice")
}

func TestConfirmCallbackStartsShift(t *testing.T) {
	d, sender, st, _ := newDispatcherFixture(t)
	ctx := context.Background()

	require.NoError(t, d.HandleUpdate(ctx, photoUpdate(1, 7, 10, botBase)))
	require.NoError(t, d.HandleUpdate(ctx, callbackUpdate(2, 7, "pending_confirm:1")))

	assert.Len(t, sender.answered, 1)

	employee, err := st.Employees().FindByTelegramUserID(ctx, "7")
	require.NoError(t, err)
	require.NotNil(t, employee)
	shift, err := st.Shifts().FindOpenShift(ctx, employee.ID)
	require.NoError(t, err)
	require.NotNil(t, shift)

	// Prompt, then the started confirmation.
	require.Len(t, sender.messages, 2)
	assert.Equal(t, msgShiftStarted(botBase), sender.messages[1].Text)
}

func TestConfirmCallbackNotifiesAdmins(t *testing.T) {
	d, sender, st, _ := newDispatcherFixture(t)
	ctx := context.Background()

	// Seed an admin in the directory.
	admin, err := st.Employees().UpsertFromChat(ctx, storeChatUser(99, "Boss"))
	require.NoError(t, err)
	st.SetRoleOverride(admin.ID, model.RoleAdmin)

	require.NoError(t, d.HandleUpdate(ctx, photoUpdate(1, 7, 10, botBase)))
	require.NoError(t, d.HandleUpdate(ctx, callbackUpdate(2, 7, "pending_confirm:1")))

	var adminTexts []string
	for _, msg := range sender.messages {
		if msg.ChatID == "99" {
			adminTexts = append(adminTexts, msg.Text)
		}
	}
	require.Len(t, adminTexts, 1)
	assert.Equal(t, msgAdminShiftStarted("Anna", botBase), adminTexts[0])
}

func TestCancelCallback(t *testing.T) {
	d, sender, st, _ := newDispatcherFixture(t)
	ctx := context.Background()

	require.NoError(t, d.HandleUpdate(ctx, photoUpdate(1, 7, 10, botBase)))
	require.NoError(t, d.HandleUpdate(ctx, callbackUpdate(2, 7, "pending_cancel:1")))

	pending, err := st.PendingActions().FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.PendingStatusCancelled, pending.Status)

	employee, err := st.Employees().FindByTelegramUserID(ctx, "7")
	require.NoError(t, err)
	shift, err := st.Shifts().FindOpenShift(ctx, employee.ID)
	require.NoError(t, err)
	assert.Nil(t, shift)

	assert.Equal(t, "Cancelled.", sender.messages[len(sender.messages)-1].Text)
}

func TestForeignConfirmIsRejected(t *testing.T) {
	d, sender, st, _ := newDispatcherFixture(t)
	ctx := context.Background()

	require.NoError(t, d.HandleUpdate(ctx, photoUpdate(1, 7, 10, botBase)))
	// A different user presses the button.
	require.NoError(t, d.HandleUpdate(ctx, callbackUpdate(2, 8, "pending_confirm:1")))

	assert.Equal(t, msgNoAccess, sender.messages[len(sender.messages)-1].Text)

	pending, err := st.PendingActions().FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.PendingStatusPending, pending.Status, "the action stays claimable by its owner")
}

func TestExpiredConfirmReplies(t *testing.T) {
	d, sender, _, clock := newDispatcherFixture(t)
	ctx := context.Background()

	require.NoError(t, d.HandleUpdate(ctx, photoUpdate(1, 7, 10, botBase)))
	clock.now = botBase.Add(11 * time.Minute)
	require.NoError(t, d.HandleUpdate(ctx, callbackUpdate(2, 7, "pending_confirm:1")))

	assert.Equal(t, msgPendingExpired, sender.messages[len(sender.messages)-1].Text)
}

func TestMalformedCallbackDataIsDropped(t *testing.T) {
	d, sender, _, _ := newDispatcherFixture(t)
	ctx := context.Background()

	require.NoError(t, d.HandleUpdate(ctx, callbackUpdate(1, 7, "pending_confirm:nonsense")))
	require.NoError(t, d.HandleUpdate(ctx, callbackUpdate(2, 7, "pending_confirm:-4")))
	require.NoError(t, d.HandleUpdate(ctx, callbackUpdate(3, 7, "unrelated")))

	// Callback queries are acknowledged but nothing else happens.
	assert.Len(t, sender.answered, 3)
	assert.Empty(t, sender.messages)
}

func TestStatusCommand(t *testing.T) {
	d, sender, _, _ := newDispatcherFixture(t)
	ctx := context.Background()

	statusUpdate := json.RawMessage(fmt.Sprintf(
		`{"update_id":5,"message":{"message_id":20,"date":%d,"text":"/status","from":{"id":7},"chat":{"id":7}}}`,
		botBase.Unix(),
	))

	require.NoError(t, d.HandleUpdate(ctx, statusUpdate))
	assert.Equal(t, msgNoOpenShift, sender.messages[len(sender.messages)-1].Text)

	require.NoError(t, d.HandleUpdate(ctx, photoUpdate(1, 7, 10, botBase)))
	require.NoError(t, d.HandleUpdate(ctx, callbackUpdate(2, 7, "pending_confirm:1")))

	require.NoError(t, d.HandleUpdate(ctx, statusUpdate))
	assert.Equal(t, msgStatusOpen(botBase), sender.messages[len(sender.messages)-1].Text)
}

func TestIrrelevantUpdatesAreDone(t *testing.T) {
	d, sender, _, _ := newDispatcherFixture(t)
	ctx := context.Background()

	require.NoError(t, d.HandleUpdate(ctx, json.RawMessage(`{"update_id":1,"message":{"message_id":1,"date":1,"text":"hello","from":{"id":7},"chat":{"id":7}}}`)))
	require.NoError(t, d.HandleUpdate(ctx, json.RawMessage(`{"update_id":2,"poll":{"id":"p1"}}`)))
	assert.Empty(t, sender.messages)
}

func TestNotifyAutoClosed(t *testing.T) {
	d, sender, st, _ := newDispatcherFixture(t)
	ctx := context.Background()

	admin, err := st.Employees().UpsertFromChat(ctx, storeChatUser(99, "Boss"))
	require.NoError(t, err)
	st.SetRoleOverride(admin.ID, model.RoleAdmin)

	endTime := botBase.Add(12 * time.Hour)
	d.NotifyAutoClosed(ctx, []core.AutoCloseNotice{{
		Shift:           &model.Shift{ID: 1, EmployeeID: 2},
		Employee:        &model.Employee{ID: 2, TelegramUserID: "7", DisplayName: "Anna"},
		EndTime:         endTime,
		DurationMinutes: 720,
	}})

	require.Len(t, sender.messages, 2)
	assert.Equal(t, "99", sender.messages[0].ChatID)
	assert.Equal(t, msgAdminAutoClosed("Anna", endTime, 12), sender.messages[0].Text)
	assert.Equal(t, "7", sender.messages[1].ChatID)
	assert.Equal(t, msgAutoClosedEmployee(12), sender.messages[1].Text)
}
