// Entry point for the webhook/tick REST API
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"shifttrack.service/internal/api"
	"shifttrack.service/internal/api/handler"
	"shifttrack.service/internal/bot"
	"shifttrack.service/internal/config"
	"shifttrack.service/internal/core"
	"shifttrack.service/internal/eventlog"
	"shifttrack.service/internal/queue"
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

	// Configure structured logging
	logger.Setup(cfg.IsLocalDev)

	// Configure OpenTelemetry Tracing
	shutdownTracer, err := telemetry.InitTracer("shifttrack-api", cfg.IsLocalDev)
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

	// Setup router and server
	router := api.NewRouter(
		&handler.WebhookHandler{
			Queue:       updateQueue,
			Secret:      cfg.WebhookSecret,
			HeaderToken: cfg.TelegramWebhookSecretToken,
		},
		&handler.TickHandler{
			Pending: pendingSvc,
			Shifts:  shiftSvc,
			Queue:   updateQueue,
			Clock:   clock,
			Notify:  dispatcher.NotifyAutoClosed,
			Config: handler.TickConfig{
				InternalSecret:        cfg.InternalSecret,
				QueueBatchLimit:       cfg.QueueBatchLimit,
				MaxExpirePending:      cfg.TickMaxExpirePending,
				MaxAutoClose:          cfg.TickMaxAutoClose,
				PhotoRetentionDays:    cfg.PhotoRetentionDays,
				EventLogRetentionDays: cfg.EventLogRetentionDays,
			},
		},
	)

	// Middleware to inject logger with trace ID
	loggerMiddleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = logger.EnrichContextWithLogger(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	// Wrap the router with OpenTelemetry middleware to create spans for each request
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: otelhttp.NewHandler(loggerMiddleware(router), "api"),
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.ServerPort).Msg("API Service starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exiting")
}
