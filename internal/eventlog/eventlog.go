// Package eventlog persists structured operational events with
// fingerprint-based deduplication of error entries and throttled operator
// alerting. LogEvent never fails: a log that can break its caller is worse
// than a lost log line.
package eventlog

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"shifttrack.service/internal/core"
	"shifttrack.service/internal/core/model"
	"shifttrack.service/internal/store"
)

const (
	LevelError = "error"
	LevelWarn  = "warn"
	LevelInfo  = "info"
)

const (
	maxErrorMsg   = 1000
	maxErrorStack = 12000

	// DedupeWindow is how long an error fingerprint suppresses repeats.
	DedupeWindow = 10 * time.Minute
)

// Event is one loggable occurrence. Err is only inspected for error-level
// events; Meta is shallow-sanitized and size-capped before storage.
type Event struct {
	Level      string
	Kind       string
	UpdateID   *int64
	ChatID     string
	FromID     string
	MessageID  *int64
	UpdateType string
	Meta       map[string]any
	Err        error
}

// Log writes events to the store and pushes error alerts to the configured
// sinks, at most once per kind per cooldown.
type Log struct {
	store     store.Store
	clock     core.Clock
	cooldown  time.Duration
	notifiers []Notifier

	mu           sync.Mutex
	lastNotified map[string]time.Time
}

func New(st store.Store, clock core.Clock, cooldown time.Duration, notifiers ...Notifier) *Log {
	return &Log{
		store:        st,
		clock:        clock,
		cooldown:     cooldown,
		notifiers:    notifiers,
		lastNotified: make(map[string]time.Time),
	}
}

// LogEvent records the event. It never returns an error; persistence
// failures fall back to the process logger.
func (l *Log) LogEvent(ctx context.Context, event Event) {
	if err := l.record(ctx, event); err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str("kind", event.Kind).
			Str("level", event.Level).
			Msg("Failed to persist event log entry")
	}
}

func (l *Log) record(ctx context.Context, event Event) error {
	now := l.clock.Now()

	errName, errMsg := describeError(event.Err)
	errMsg = truncate(errMsg, maxErrorMsg)
	var errStack string
	if event.Level == LevelError && event.Err != nil {
		errStack = truncate(string(debug.Stack()), maxErrorStack)
	}
	meta := sanitizeMeta(event.Meta)

	var fingerprint *string
	if event.Level == LevelError {
		fp := buildFingerprint(event.Kind, event.UpdateType, errName, errMsg, event.Meta)
		cutoff := now.Add(-DedupeWindow)

		exists, err := l.store.EventLog().HasRecentFingerprint(ctx, fp, cutoff)
		if err != nil {
			return err
		}
		if exists {
			// Same error already recorded inside the window.
			return nil
		}
		if err := l.store.EventLog().ClearExpiredFingerprint(ctx, fp, cutoff); err != nil {
			return err
		}
		fingerprint = &fp
	}

	entry := &model.EventLogEntry{
		CorrelationID: uuid.NewString(),
		Level:         event.Level,
		Kind:          event.Kind,
		UpdateID:      event.UpdateID,
		ChatID:        optional(event.ChatID),
		FromID:        optional(event.FromID),
		MessageID:     event.MessageID,
		UpdateType:    optional(event.UpdateType),
		Meta:          meta,
		ErrorName:     optional(errName),
		ErrorMsg:      optional(errMsg),
		ErrorStack:    optional(errStack),
		Fingerprint:   fingerprint,
		CreatedAt:     now,
	}
	if err := l.store.EventLog().Insert(ctx, entry); err != nil {
		return err
	}

	if event.Level == LevelError && len(l.notifiers) > 0 && l.allowNotification(event.Kind, now) {
		alert := Alert{
			Kind:       event.Kind,
			UpdateType: event.UpdateType,
			ChatID:     event.ChatID,
			FromID:     event.FromID,
			ErrorName:  errName,
			Summary:    firstLine(errMsg),
		}
		for _, notifier := range l.notifiers {
			if err := notifier.Notify(ctx, alert); err != nil {
				// Alerting is best-effort; a dead sink must not fail the log.
				log.Ctx(ctx).Warn().Err(err).Str("kind", event.Kind).Msg("Operator alert delivery failed")
			}
		}
	}
	return nil
}

// allowNotification enforces the per-kind cooldown. Entries past the
// cooldown are evicted on each call so the map stays bounded by the set of
// kinds active within one cooldown interval.
func (l *Log) allowNotification(kind string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for k, sentAt := range l.lastNotified {
		if now.Sub(sentAt) >= l.cooldown {
			delete(l.lastNotified, k)
		}
	}
	if _, throttled := l.lastNotified[kind]; throttled {
		return false
	}
	l.lastNotified[kind] = now
	return true
}

// buildFingerprint hashes the fields that identify an error class, so
// repeats of the same failure collapse while distinct failures do not. The
// callbackDataPrefix meta key participates so that errors from different
// button actions stay distinguishable.
func buildFingerprint(kind, updateType, errName, errMsg string, meta map[string]any) string {
	var callbackPrefix string
	if v, ok := meta["callbackDataPrefix"].(string); ok {
		callbackPrefix = v
	}
	payload := strings.Join([]string{kind, updateType, errName, firstLine(errMsg), callbackPrefix}, "|")
	sum := sha1.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func describeError(err error) (name, msg string) {
	if err == nil {
		return "", ""
	}
	name = strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
	return name, err.Error()
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}

func firstLine(value string) string {
	if idx := strings.IndexByte(value, '\n'); idx >= 0 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
