// Entry point for the update queue worker
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/rs/zerolog/log"

	"shifttrack.service/internal/bot"
	"shifttrack.service/internal/config"
	"shifttrack.service/internal/core"
	"shifttrack.service/internal/eventlog"
	"shifttrack.service/internal/queue"
	"shifttrack.service/internal/store/postgres"
	"shifttrack.service/internal/telegram"
	"shifttrack.service/internal/worker"
	awspkg "shifttrack.service/pkg/aws"
	"shifttrack.service/pkg/database"
	"shifttrack.service/pkg/logger"
	"shifttrack.service/pkg/telemetry"
)

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}

	logger.Setup(cfg.IsLocalDev)

	shutdownTracer, err := telemetry.InitTracer("shifttrack-queue-worker", cfg.IsLocalDev)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init tracer")
	}
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	// DB connection
	db, err := database.NewInstrumentedConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening database")
	}
	defer db.Close()
	log.Info().Msg("Successfully connected to the database.")

	// AWS SDK Config
	awsCfg, err := awspkg.NewAWSConfig(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load SDK config")
	}

	// Initialize dependencies
	st := postgres.NewStore(db)
	clock := core.SystemClock()
	rules := core.ShiftRules{
		PendingActionTTL: time.Duration(cfg.PendingActionTTLMinutes) * time.Minute,
		MaxShift:         time.Duration(cfg.MaxShiftHours) * time.Hour,
		MinShiftMinutes:  cfg.MinShiftMinutes(),
		GraceMinutes:     cfg.ShortShiftGraceMinutes,
	}

	rawClient := telegram.NewClient(cfg.TelegramAPIURL, cfg.TelegramBotToken)
	var notifiers []eventlog.Notifier
	if cfg.ErrorNotifyBoss && cfg.TelegramBossChatID != "" {
		notifiers = append(notifiers, eventlog.NewChatNotifier(rawClient, cfg.TelegramBossChatID))
	}
	if cfg.ErrorNotifyEmail != "" {
		notifiers = append(notifiers, eventlog.NewEmailNotifier(ses.NewFromConfig(awsCfg), cfg.SESSender, cfg.ErrorNotifyEmail))
	}
	events := eventlog.New(st, clock, time.Duration(cfg.ErrorNotifyCooldownSec)*time.Second, notifiers...)

	sender := telegram.NewSafeSender(rawClient, events)
	pendingSvc := core.NewPendingActionService(st, clock, rules)
	shiftSvc := core.NewShiftService(st, clock, rules)
	dispatcher := bot.NewDispatcher(pendingSvc, shiftSvc, st, sender, clock, bot.Options{
		MaxShiftHours:             cfg.MaxShiftHours,
		NotifyEmployeeOnAutoClose: cfg.NotifyEmployeeOnAutoClose,
	})
	updateQueue := queue.New(st, events, clock, dispatcher, queue.Options{
		MaxAttempts: cfg.QueueMaxAttempts,
		BaseBackoff: time.Duration(cfg.QueueBaseBackoffSeconds) * time.Second,
		MaxBackoff:  time.Duration(cfg.QueueMaxBackoffSeconds) * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())

	// Optional SQS intake: a relay can push updates through SQS instead of
	// (or in addition to) the webhook.
	if cfg.UpdatesSQSQueueURL != "" {
		sqsClient := sqs.NewFromConfig(awsCfg)
		consumer := worker.NewConsumer(sqsClient, cfg.UpdatesSQSQueueURL, worker.NewIntakeProcessor(updateQueue))
		go consumer.Start(ctx)
	}

	// Processing loop: drain due entries on a fixed cadence.
	go func() {
		ticker := time.NewTicker(cfg.QueuePollInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				summary, err := updateQueue.ProcessBatch(ctx, cfg.QueueBatchLimit, clock.Now())
				if err != nil {
					log.Error().Err(err).Msg("Queue processing pass failed")
					continue
				}
				if summary.Picked > 0 {
					log.Info().
						Int("picked", summary.Picked).
						Int("done", summary.Done).
						Int("failed", summary.Failed).
						Int("skipped", summary.Skipped).
						Msg("Processed update batch")
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down queue worker...")

	cancel()
	log.Info().Msg("Queue worker exited gracefully")
}
