package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "NODE_ENV", "QUEUE_MAX_CONCURRENT", "QUEUE_TASK_TIMEOUT",
		"QUEUE_RETRY_ATTEMPTS", "CLEANUP_INTERVAL_HOURS", "CLEANUP_HOUR",
		"TASK_RETENTION_DAYS", "OSS_ACCESS_KEY_ID", "OSS_ACCESS_KEY_SECRET", "OSS_BUCKET",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, 10, cfg.QueueMaxConcurrent)
	assert.Equal(t, 300*time.Second, cfg.QueueTaskTimeout)
	assert.Equal(t, 3, cfg.QueueRetryAttempts)
	assert.Equal(t, 7, cfg.TaskRetentionDays)
	assert.Equal(t, 2, cfg.CleanupHour)
	assert.Equal(t, 24*time.Hour, cfg.CleanupInterval())
	assert.False(t, cfg.OSS.Configured())
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("QUEUE_MAX_CONCURRENT", "4")
	t.Setenv("QUEUE_TASK_TIMEOUT", "60")
	t.Setenv("QUEUE_RETRY_ATTEMPTS", "0")
	t.Setenv("CLEANUP_INTERVAL_HOURS", "6")
	t.Setenv("TASK_RETENTION_DAYS", "30")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 4, cfg.QueueMaxConcurrent)
	assert.Equal(t, 60*time.Second, cfg.QueueTaskTimeout)
	assert.Equal(t, 0, cfg.QueueRetryAttempts)
	assert.Equal(t, 6*time.Hour, cfg.CleanupInterval())
	assert.Equal(t, 30, cfg.TaskRetentionDays)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MalformedIntFallsBack(t *testing.T) {
	t.Setenv("QUEUE_MAX_CONCURRENT", "lots")
	cfg := Load()
	assert.Equal(t, 10, cfg.QueueMaxConcurrent)
}

func TestValidate_Bounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"concurrency too high", func(c *Config) { c.QueueMaxConcurrent = 101 }},
		{"concurrency too low", func(c *Config) { c.QueueMaxConcurrent = 0 }},
		{"timeout too short", func(c *Config) { c.QueueTaskTimeout = 10 * time.Second }},
		{"timeout too long", func(c *Config) { c.QueueTaskTimeout = 7200 * time.Second }},
		{"retries negative", func(c *Config) { c.QueueRetryAttempts = -1 }},
		{"retries too high", func(c *Config) { c.QueueRetryAttempts = 11 }},
		{"retention zero", func(c *Config) { c.TaskRetentionDays = 0 }},
		{"retention too long", func(c *Config) { c.TaskRetentionDays = 400 }},
		{"cleanup hour", func(c *Config) { c.CleanupHour = 24 }},
		{"empty port", func(c *Config) { c.Port = "" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Load()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_OSSRegionPrefix(t *testing.T) {
	t.Setenv("OSS_ACCESS_KEY_ID", "key")
	t.Setenv("OSS_ACCESS_KEY_SECRET", "secret")
	t.Setenv("OSS_BUCKET", "charts")
	t.Setenv("OSS_REGION", "us-east-1")

	cfg := Load()
	require.True(t, cfg.OSS.Configured())
	assert.Error(t, cfg.Validate())

	t.Setenv("OSS_REGION", "oss-us-east-1")
	cfg = Load()
	assert.NoError(t, cfg.Validate())
}

func TestOSSConfigured_RequiresAllThreeCredentials(t *testing.T) {
	t.Setenv("OSS_ACCESS_KEY_ID", "key")
	t.Setenv("OSS_BUCKET", "charts")

	cfg := Load()
	assert.False(t, cfg.OSS.Configured())
}

func TestDevelopment(t *testing.T) {
	t.Setenv("NODE_ENV", "development")
	assert.True(t, Load().Development())

	t.Setenv("NODE_ENV", "production")
	assert.False(t, Load().Development())
}
