package eventlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/sony/gobreaker"
)

// Alert is the operator-facing summary of an error-level event.
type Alert struct {
	Kind       string
	UpdateType string
	ChatID     string
	FromID     string
	ErrorName  string
	Summary    string
}

// Notifier delivers an Alert to one operator sink. Deliveries are
// best-effort and must be cheap to fail.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// MessageSender is the raw outbound chat transport. Alerts deliberately
// bypass the resilient send wrapper: the wrapper reports its own failures
// through the event log, and routing alerts back through it would recurse.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// ChatNotifier pushes alerts to a single operator chat. A circuit breaker
// stops it from hammering the chat API while the API itself is the thing
// failing.
type ChatNotifier struct {
	sender MessageSender
	chatID string
	cb     *gobreaker.CircuitBreaker
}

func NewChatNotifier(sender MessageSender, chatID string) *ChatNotifier {
	settings := gobreaker.Settings{
		Name:        "Operator-Chat-Alerts",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
	}

	return &ChatNotifier{
		sender: sender,
		chatID: chatID,
		cb:     gobreaker.NewCircuitBreaker(settings),
	}
}

func (n *ChatNotifier) Notify(ctx context.Context, alert Alert) error {
	if n.chatID == "" {
		return nil
	}

	text := FormatAlert(alert)
	_, err := n.cb.Execute(func() (interface{}, error) {
		return nil, n.sender.SendMessage(ctx, n.chatID, text)
	})
	if err != nil {
		return fmt.Errorf("chat alert: %w", err)
	}
	return nil
}

// FormatAlert renders the alert as a short plain-text message.
func FormatAlert(alert Alert) string {
	lines := []string{
		"Service error",
		"Kind: " + orDash(alert.Kind),
		"Update: " + orDash(alert.UpdateType),
		"fromId: " + orDash(alert.FromID),
		"chatId: " + orDash(alert.ChatID),
		orDash(alert.ErrorName) + ": " + orDash(alert.Summary),
	}
	return truncate(strings.Join(lines, "\n"), maxErrorMsg)
}

func orDash(value string) string {
	if value == "" {
		return "—"
	}
	return value
}

// EmailNotifier delivers alerts over SES to an on-call address.
type EmailNotifier struct {
	client    *ses.Client
	sender    string
	recipient string
}

func NewEmailNotifier(client *ses.Client, sender, recipient string) *EmailNotifier {
	return &EmailNotifier{client: client, sender: sender, recipient: recipient}
}

func (n *EmailNotifier) Notify(ctx context.Context, alert Alert) error {
	if n.recipient == "" {
		return nil
	}

	input := &ses.SendEmailInput{
		Source: aws.String(n.sender),
		Destination: &types.Destination{
			ToAddresses: []string{n.recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(fmt.Sprintf("[shifttrack] %s error", alert.Kind)),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(FormatAlert(alert)),
				},
			},
		},
	}

	if _, err := n.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("email alert: %w", err)
	}
	return nil
}
