package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 12, cfg.MaxShiftHours)
	assert.Equal(t, 8, cfg.MinShiftHours)
	assert.Equal(t, 480, cfg.MinShiftMinutes())
	assert.Equal(t, 10, cfg.PendingActionTTLMinutes)
	assert.Equal(t, 10, cfg.QueueMaxAttempts)
	assert.Equal(t, 10, cfg.QueueBaseBackoffSeconds)
	assert.Equal(t, 600, cfg.QueueMaxBackoffSeconds)
	assert.Equal(t, 2*time.Second, cfg.QueuePollInterval())
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval())
	assert.Equal(t, 3, cfg.PhotoRetentionDays)
	assert.Equal(t, 14, cfg.EventLogRetentionDays)
	assert.True(t, cfg.NotifyEmployeeOnAutoClose)
	assert.False(t, cfg.ErrorNotifyBoss)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("MAX_SHIFT_HOURS", "10")
	t.Setenv("QUEUE_BATCH_LIMIT", "5")
	t.Setenv("IS_LOCAL_DEV", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.MaxShiftHours)
	assert.Equal(t, 5, cfg.QueueBatchLimit)
	assert.True(t, cfg.IsLocalDev)
}
