// Package worker consumes inbound updates from SQS and feeds them into the
// durable intake queue. SQS is the relay transport; the database queue is
// the source of truth for processing.
package worker

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"

	"shifttrack.service/pkg/logger"
	"shifttrack.service/pkg/telemetry"
)

type SQSClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Processor handles one SQS message and decides its fate: delete on
// success, delayed redelivery on a retryable failure, drop on a
// malformed message.
type Processor interface {
	Process(ctx context.Context, msg types.Message) (shouldRetry bool, retryDelay int32, err error)
}

// Consumer polls one SQS queue and fans messages out to a pool of
// processor goroutines.
type Consumer struct {
	client    SQSClient
	queueURL  string
	processor Processor
	// Concurrency controls how many messages are processed at once.
	Concurrency int
}

func NewConsumer(client SQSClient, queueURL string, processor Processor) *Consumer {
	return &Consumer{
		client:      client,
		queueURL:    queueURL,
		processor:   processor,
		Concurrency: 10,
	}
}

// Start runs the poll loop until the context is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	log.Info().Int("concurrency", c.Concurrency).Str("queue_url", c.queueURL).Msg("Update consumer started")

	messagesCh := make(chan types.Message, c.Concurrency)
	for i := 0; i < c.Concurrency; i++ {
		go c.processMessages(ctx, messagesCh)
	}
	c.pollMessages(ctx, messagesCh)
}

func (c *Consumer) pollMessages(ctx context.Context, messagesCh chan<- types.Message) {
	defer close(messagesCh)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Update consumer shutting down")
			return
		default:
			output, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:              &c.queueURL,
				MaxNumberOfMessages:   int32(c.Concurrency),
				WaitTimeSeconds:       20,
				MessageAttributeNames: []string{"All"},
			})
			if err != nil {
				log.Error().Err(err).Msg("Error receiving messages")
				continue
			}
			for _, msg := range output.Messages {
				messagesCh <- msg
			}
		}
	}
}

func (c *Consumer) processMessages(ctx context.Context, messagesCh <-chan types.Message) {
	for msg := range messagesCh {
		c.handleSingleMessage(ctx, msg)
	}
}

func (c *Consumer) handleSingleMessage(ctx context.Context, msg types.Message) {
	ctx, span := telemetry.StartSpanFromSQSMessage(ctx, msg)
	defer span.End()

	ctx = logger.EnrichContextWithLogger(ctx)

	shouldRetry, retryDelay, err := c.processor.Process(ctx, msg)

	if err != nil && shouldRetry {
		log.Ctx(ctx).Warn().Err(err).Int32("retry_delay", retryDelay).Msg("Intake failed, will retry")
		_, _ = c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
			QueueUrl:          &c.queueURL,
			ReceiptHandle:     msg.ReceiptHandle,
			VisibilityTimeout: retryDelay,
		})
		return
	}

	if err == nil {
		_, _ = c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      &c.queueURL,
			ReceiptHandle: msg.ReceiptHandle,
		})
		return
	}

	log.Ctx(ctx).Error().Err(err).Msg("Unrecoverable intake error, dropping message")
}
