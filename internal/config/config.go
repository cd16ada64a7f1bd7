package config

import (
	"time"

	"github.com/spf13/viper"
)

// All settings come from environment variables (pod env in EKS, .env via
// direnv locally). Defaults mirror the staging deployment.

type Config struct {
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	ServerPort string `mapstructure:"SERVER_PORT"`
	IsLocalDev bool   `mapstructure:"IS_LOCAL_DEV"`

	AWSRegion          string `mapstructure:"AWS_REGION"`
	AWSEndpoint        string `mapstructure:"AWS_ENDPOINT"`
	UpdatesSQSQueueURL string `mapstructure:"UPDATES_SQS_QUEUE_URL"`

	TelegramBotToken           string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIURL             string `mapstructure:"TELEGRAM_API_URL"`
	TelegramBossChatID         string `mapstructure:"TELEGRAM_BOSS_CHAT_ID"`
	WebhookSecret              string `mapstructure:"WEBHOOK_SECRET"`
	InternalSecret             string `mapstructure:"INTERNAL_SECRET"`
	TelegramWebhookSecretToken string `mapstructure:"TELEGRAM_WEBHOOK_SECRET_TOKEN"`

	MaxShiftHours           int `mapstructure:"MAX_SHIFT_HOURS"`
	MinShiftHours           int `mapstructure:"MIN_SHIFT_HOURS"`
	ShortShiftGraceMinutes  int `mapstructure:"SHORT_SHIFT_GRACE_MINUTES"`
	PendingActionTTLMinutes int `mapstructure:"PENDING_ACTION_TTL_MINUTES"`

	TickMaxAutoClose     int  `mapstructure:"TICK_MAX_AUTOCLOSE"`
	TickMaxExpirePending int  `mapstructure:"TICK_MAX_EXPIRE_PENDING"`
	PhotoRetentionDays   int  `mapstructure:"PHOTO_RETENTION_DAYS"`
	EventLogRetentionDays int `mapstructure:"EVENT_LOG_RETENTION_DAYS"`

	NotifyEmployeeOnAutoClose bool   `mapstructure:"NOTIFY_EMPLOYEE_ON_AUTOCLOSE"`
	ErrorNotifyBoss           bool   `mapstructure:"ERROR_NOTIFY_BOSS"`
	ErrorNotifyCooldownSec    int    `mapstructure:"ERROR_NOTIFY_COOLDOWN_SEC"`
	ErrorNotifyEmail          string `mapstructure:"ERROR_NOTIFY_EMAIL"`
	SESSender                 string `mapstructure:"SES_SENDER"`

	QueueMaxAttempts        int `mapstructure:"QUEUE_MAX_ATTEMPTS"`
	QueueBaseBackoffSeconds int `mapstructure:"QUEUE_BASE_BACKOFF_SECONDS"`
	QueueMaxBackoffSeconds  int `mapstructure:"QUEUE_MAX_BACKOFF_SECONDS"`
	QueueBatchLimit         int `mapstructure:"QUEUE_BATCH_LIMIT"`
	QueuePollIntervalSec    int `mapstructure:"QUEUE_POLL_INTERVAL_SECONDS"`
	SweepIntervalSec        int `mapstructure:"SWEEP_INTERVAL_SECONDS"`
}

// MinShiftMinutes is the minimum expected shift length in minutes.
func (c Config) MinShiftMinutes() int {
	return c.MinShiftHours * 60
}

// QueuePollInterval is how often the queue worker runs a processing pass.
func (c Config) QueuePollInterval() time.Duration {
	return time.Duration(c.QueuePollIntervalSec) * time.Second
}

// SweepInterval is how often the sweep worker runs maintenance.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("DB_HOST", "db")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "shifttrack_db")
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("IS_LOCAL_DEV", false)

	viper.SetDefault("AWS_REGION", "us-east-1")
	viper.SetDefault("AWS_ENDPOINT", "")
	viper.SetDefault("UPDATES_SQS_QUEUE_URL", "")

	viper.SetDefault("TELEGRAM_BOT_TOKEN", "")
	viper.SetDefault("TELEGRAM_API_URL", "https://api.telegram.org")
	viper.SetDefault("TELEGRAM_BOSS_CHAT_ID", "")
	viper.SetDefault("WEBHOOK_SECRET", "")
	viper.SetDefault("INTERNAL_SECRET", "")
	viper.SetDefault("TELEGRAM_WEBHOOK_SECRET_TOKEN", "")

	viper.SetDefault("MAX_SHIFT_HOURS", 12)
	viper.SetDefault("MIN_SHIFT_HOURS", 8)
	viper.SetDefault("SHORT_SHIFT_GRACE_MINUTES", 0)
	viper.SetDefault("PENDING_ACTION_TTL_MINUTES", 10)

	viper.SetDefault("TICK_MAX_AUTOCLOSE", 50)
	viper.SetDefault("TICK_MAX_EXPIRE_PENDING", 200)
	viper.SetDefault("PHOTO_RETENTION_DAYS", 3)
	viper.SetDefault("EVENT_LOG_RETENTION_DAYS", 14)

	viper.SetDefault("NOTIFY_EMPLOYEE_ON_AUTOCLOSE", true)
	viper.SetDefault("ERROR_NOTIFY_BOSS", false)
	viper.SetDefault("ERROR_NOTIFY_COOLDOWN_SEC", 60)
	viper.SetDefault("ERROR_NOTIFY_EMAIL", "")
	viper.SetDefault("SES_SENDER", "alerts@shifttrack-service.com")

	viper.SetDefault("QUEUE_MAX_ATTEMPTS", 10)
	viper.SetDefault("QUEUE_BASE_BACKOFF_SECONDS", 10)
	viper.SetDefault("QUEUE_MAX_BACKOFF_SECONDS", 600)
	viper.SetDefault("QUEUE_BATCH_LIMIT", 25)
	viper.SetDefault("QUEUE_POLL_INTERVAL_SECONDS", 2)
	viper.SetDefault("SWEEP_INTERVAL_SECONDS", 300)

	// Read in environment variables that match the keys.
	viper.AutomaticEnv()

	err = viper.Unmarshal(&config)
	return
}
