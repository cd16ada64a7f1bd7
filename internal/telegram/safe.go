package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"shifttrack.service/internal/eventlog"
)

var retryDelays = []time.Duration{300 * time.Millisecond, 800 * time.Millisecond, 1600 * time.Millisecond}

const (
	maxRetries      = 3
	maxDelayJitter  = 150 * time.Millisecond
	rateLimitJitter = 250 * time.Millisecond
)

// Result is the outcome of a resilient send. OK false means delivery is not
// guaranteed; callers proceed without the notification rather than failing
// their own transaction.
type Result struct {
	OK     bool
	Result json.RawMessage
	Reason string
}

// SafeSender wraps the raw client with retry, backoff and failure
// classification. Rate limits honor the server-specified wait; server and
// transient network errors back off on a fixed schedule; client errors give
// up immediately. Every failed attempt is recorded to the event log, and a
// broken event log never blocks the send.
type SafeSender struct {
	client *Client
	events *eventlog.Log
	sleep  func(time.Duration)
}

func NewSafeSender(client *Client, events *eventlog.Log) *SafeSender {
	return &SafeSender{client: client, events: events, sleep: time.Sleep}
}

func (s *SafeSender) SendMessage(ctx context.Context, chatID, text string) Result {
	return s.call(ctx, "sendMessage", chatID, SendMessageParams{ChatID: chatID, Text: text})
}

func (s *SafeSender) SendMessageWithKeyboard(ctx context.Context, chatID, text string, keyboard *InlineKeyboardMarkup) Result {
	return s.call(ctx, "sendMessage", chatID, SendMessageParams{ChatID: chatID, Text: text, ReplyMarkup: keyboard})
}

func (s *SafeSender) AnswerCallbackQuery(ctx context.Context, callbackQueryID, text string) Result {
	return s.call(ctx, "answerCallbackQuery", "", AnswerCallbackQueryParams{CallbackQueryID: callbackQueryID, Text: text})
}

func (s *SafeSender) call(ctx context.Context, method, chatID string, payload any) Result {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		raw, err := s.client.Call(ctx, method, payload)
		if err == nil {
			return Result{OK: true, Result: raw}
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			apiErr = &APIError{Class: ClassUnknown, Description: err.Error()}
		}
		willRetry := attempt < maxRetries && apiErr.Retryable()

		s.events.LogEvent(ctx, eventlog.Event{
			Level:  eventlog.LevelWarn,
			Kind:   "telegram_send_error",
			ChatID: chatID,
			Meta: map[string]any{
				"method":      method,
				"attempt":     attempt,
				"willRetry":   willRetry,
				"class":       string(apiErr.Class),
				"errorCode":   apiErr.Code,
				"description": apiErr.Description,
				"networkKind": apiErr.NetworkKind,
			},
			Err: err,
		})

		if !willRetry {
			return Result{Reason: apiErr.Reason()}
		}
		s.sleep(backoffDelay(apiErr, attempt))
	}
	return Result{Reason: "Telegram send failed"}
}

func backoffDelay(apiErr *APIError, attempt int) time.Duration {
	if apiErr.Class == ClassRateLimited {
		return apiErr.RetryAfter + time.Duration(rand.Int63n(int64(rateLimitJitter)))
	}
	if attempt >= len(retryDelays) {
		attempt = len(retryDelays) - 1
	}
	return retryDelays[attempt] + time.Duration(rand.Int63n(int64(maxDelayJitter)))
}
