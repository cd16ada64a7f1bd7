// Package queue is the durable update intake: every inbound update is
// recorded exactly once by its external id, then processed at-least-once
// with claim-based dispatch and exponential backoff on handler failure.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"shifttrack.service/internal/core"
	"shifttrack.service/internal/core/model"
	"shifttrack.service/internal/eventlog"
	"shifttrack.service/internal/store"
)

const maxLastError = 500

// Handler processes one claimed update payload. A returned error (or a
// panic) schedules a retry; it never aborts the batch.
type Handler interface {
	HandleUpdate(ctx context.Context, payload json.RawMessage) error
}

// BatchSummary reports one processing pass. Picked counts rows selected,
// Processed rows actually claimed, Skipped rows lost to a concurrent
// worker, Failed rows that hit the terminal attempt cap this pass.
type BatchSummary struct {
	Picked    int `json:"picked"`
	Processed int `json:"processed"`
	Done      int `json:"done"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type Options struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

type Queue struct {
	store   store.Store
	events  *eventlog.Log
	clock   core.Clock
	handler Handler
	opts    Options
}

func New(st store.Store, events *eventlog.Log, clock core.Clock, handler Handler, opts Options) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 10 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Minute
	}
	return &Queue{store: st, events: events, clock: clock, handler: handler, opts: opts}
}

// Enqueue records the update. Duplicate deliveries of the same update id
// are expected and harmless; the stored payload is never overwritten.
// Returns whether a new row was created.
func (q *Queue) Enqueue(ctx context.Context, updateID int64, payload json.RawMessage) (bool, error) {
	inserted, err := q.store.Queue().Insert(ctx, updateID, payload, q.clock.Now())
	if err != nil {
		return false, fmt.Errorf("enqueue update %d: %w", updateID, err)
	}
	return inserted, nil
}

// ProcessBatch claims and dispatches up to limit due entries, oldest first.
// Handler failures are contained per entry: the entry is rescheduled with
// backoff (or marked failed at the attempt cap) and the pass continues.
func (q *Queue) ProcessBatch(ctx context.Context, limit int, now time.Time) (BatchSummary, error) {
	var summary BatchSummary

	rows, err := q.store.Queue().DuePending(ctx, now, limit)
	if err != nil {
		return summary, fmt.Errorf("select due updates: %w", err)
	}
	summary.Picked = len(rows)

	for _, row := range rows {
		claimed, err := q.store.Queue().Claim(ctx, row.ID, now)
		if err != nil {
			return summary, fmt.Errorf("claim update %d: %w", row.UpdateID, err)
		}
		if claimed == 0 {
			// Another worker got here first.
			summary.Skipped++
			continue
		}
		summary.Processed++

		if err := q.invoke(ctx, row.Payload); err != nil {
			if q.recordFailure(ctx, row, err) {
				summary.Failed++
			}
			continue
		}

		if err := q.store.Queue().MarkDone(ctx, row.ID); err != nil {
			return summary, fmt.Errorf("mark update %d done: %w", row.UpdateID, err)
		}
		summary.Done++
	}
	return summary, nil
}

// invoke shields the batch from handler panics; a panicking update is
// retried like any other failure.
func (q *Queue) invoke(ctx context.Context, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("update handler panic: %v", r)
		}
	}()
	return q.handler.HandleUpdate(ctx, payload)
}

// recordFailure reschedules or terminally fails the entry and logs the
// failure with the update's shape. Returns whether the entry is now failed.
func (q *Queue) recordFailure(ctx context.Context, row *model.UpdateQueueEntry, handlerErr error) bool {
	nextAttempts := row.Attempts + 1

	backoffSeconds := math.Min(
		math.Pow(2, float64(nextAttempts))*q.opts.BaseBackoff.Seconds(),
		q.opts.MaxBackoff.Seconds(),
	)
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	nextRunAt := q.clock.Now().Add(time.Duration(backoffSeconds*float64(time.Second)) + jitter)

	status := model.QueuePending
	if nextAttempts >= q.opts.MaxAttempts {
		status = model.QueueFailed
	}

	lastError := handlerErr.Error()
	if len(lastError) > maxLastError {
		lastError = lastError[:maxLastError]
	}

	if err := q.store.Queue().MarkFailure(ctx, row.ID, nextAttempts, lastError, nextRunAt, status); err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("update_id", row.UpdateID).Msg("Failed to record queue failure")
	}

	updateType, meta := extractUpdateMeta(row.Payload)
	meta["attempts"] = nextAttempts
	q.events.LogEvent(ctx, eventlog.Event{
		Level:      eventlog.LevelError,
		Kind:       "queue_update_error",
		UpdateID:   &row.UpdateID,
		UpdateType: updateType,
		Meta:       meta,
		Err:        handlerErr,
	})

	return status == model.QueueFailed
}
