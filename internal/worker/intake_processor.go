package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"

	"shifttrack.service/internal/queue"
)

// IntakeProcessor records relayed Telegram updates into the durable queue.
// Idempotent enqueue makes SQS redelivery harmless.
type IntakeProcessor struct {
	queue *queue.Queue
}

func NewIntakeProcessor(q *queue.Queue) *IntakeProcessor {
	return &IntakeProcessor{queue: q}
}

func (p *IntakeProcessor) Process(ctx context.Context, msg types.Message) (bool, int32, error) {
	if msg.Body == nil {
		return false, 0, fmt.Errorf("empty message body")
	}
	payload := json.RawMessage(*msg.Body)

	var envelope struct {
		UpdateID *int64 `json:"update_id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.UpdateID == nil {
		// Malformed relays can never succeed; drop them.
		return false, 0, fmt.Errorf("message is not a telegram update: %v", err)
	}

	inserted, err := p.queue.Enqueue(ctx, *envelope.UpdateID, payload)
	if err != nil {
		return true, 10, err
	}
	if !inserted {
		log.Ctx(ctx).Info().Int64("update_id", *envelope.UpdateID).Msg("Duplicate update delivery, skipping")
	}
	return false, 0, nil
}
