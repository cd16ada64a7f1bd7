// Entry point for the maintenance sweep worker
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/rs/zerolog/log"

	"shifttrack.service/internal/bot"
	"shifttrack.service/internal/config"
	"shifttrack.service/internal/core"
	"shifttrack.service/internal/eventlog"
	"shifttrack.service/internal/store/postgres"
	"shifttrack.service/internal/telegram"
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

	shutdownTracer, err := telemetry.InitTracer("shifttrack-sweep-worker", cfg.IsLocalDev)
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

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		ticker := time.NewTicker(cfg.SweepInterval())
		defer ticker.Stop()

		var lastRetention time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := clock.Now()
				sweepCtx := logger.EnrichContextWithLogger(ctx)

				expired, err := pendingSvc.ExpirePendingActions(sweepCtx, now, cfg.TickMaxExpirePending)
				if err != nil {
					log.Error().Err(err).Msg("Failed to expire pending actions")
				} else if expired > 0 {
					log.Info().Int64("expired", expired).Msg("Expired stale pending actions")
				}

				notices, err := shiftSvc.AutoCloseOverdueShifts(sweepCtx, now, cfg.TickMaxAutoClose)
				if err != nil {
					log.Error().Err(err).Msg("Auto-close sweep failed")
				}
				if len(notices) > 0 {
					log.Info().Int("auto_closed", len(notices)).Msg("Auto-closed overdue shifts")
					dispatcher.NotifyAutoClosed(sweepCtx, notices)
				}

				// Retention purges run at most once a day.
				if now.Sub(lastRetention) >= 24*time.Hour {
					lastRetention = now
					if purged, err := shiftSvc.PurgeOldPhotos(sweepCtx, now, cfg.PhotoRetentionDays, cfg.TickMaxExpirePending); err != nil {
						log.Error().Err(err).Msg("Photo retention purge failed")
					} else if purged > 0 {
						log.Info().Int64("purged", purged).Msg("Purged old shift photos")
					}
					if purged, err := shiftSvc.PurgeEventLog(sweepCtx, now, cfg.EventLogRetentionDays, cfg.TickMaxExpirePending); err != nil {
						log.Error().Err(err).Msg("Event log purge failed")
					} else if purged > 0 {
						log.Info().Int64("purged", purged).Msg("Purged old event log entries")
					}
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down sweep worker...")

	cancel()
	log.Info().Msg("Sweep worker exited gracefully")
}
