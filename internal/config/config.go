package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type OSSConfig struct {
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	Region          string
	CustomDomain    string
	PathPrefix      string
}

// Configured reports whether all three required credentials are present.
// Anything less is treated as "no object store" and completed tasks fall
// back to inline data URLs.
func (o OSSConfig) Configured() bool {
	return o.AccessKeyID != "" && o.AccessKeySecret != "" && o.Bucket != ""
}

type Config struct {
	Port     string
	Env      string
	LogLevel string

	// OpenTelemetry (traces)
	OTELExporterOTLPEndpoint string
	OTELServiceName          string

	OSS OSSConfig

	QueueMaxConcurrent int
	QueueTaskTimeout   time.Duration
	QueueRetryAttempts int

	CleanupIntervalHours int
	CleanupHour          int
	TaskRetentionDays    int
}

func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "3000"),
		Env:      getEnv("NODE_ENV", "production"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", ""),

		OSS: OSSConfig{
			AccessKeyID:     getEnv("OSS_ACCESS_KEY_ID", ""),
			AccessKeySecret: getEnv("OSS_ACCESS_KEY_SECRET", ""),
			Bucket:          getEnv("OSS_BUCKET", ""),
			Region:          getEnv("OSS_REGION", "oss-cn-hangzhou"),
			CustomDomain:    getEnv("OSS_CUSTOM_DOMAIN", ""),
			PathPrefix:      getEnv("OSS_PATH_PREFIX", "charts/"),
		},

		QueueMaxConcurrent: getEnvAsInt("QUEUE_MAX_CONCURRENT", 10),
		QueueTaskTimeout:   time.Duration(getEnvAsInt("QUEUE_TASK_TIMEOUT", 300)) * time.Second,
		QueueRetryAttempts: getEnvAsInt("QUEUE_RETRY_ATTEMPTS", 3),

		CleanupIntervalHours: getEnvAsInt("CLEANUP_INTERVAL_HOURS", 24),
		CleanupHour:          getEnvAsInt("CLEANUP_HOUR", 2),
		TaskRetentionDays:    getEnvAsInt("TASK_RETENTION_DAYS", 7),
	}
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.QueueMaxConcurrent < 1 || c.QueueMaxConcurrent > 100 {
		return fmt.Errorf("QUEUE_MAX_CONCURRENT must be 1..100")
	}
	if c.QueueTaskTimeout < 30*time.Second || c.QueueTaskTimeout > 3600*time.Second {
		return fmt.Errorf("QUEUE_TASK_TIMEOUT must be 30..3600 seconds")
	}
	if c.QueueRetryAttempts < 0 || c.QueueRetryAttempts > 10 {
		return fmt.Errorf("QUEUE_RETRY_ATTEMPTS must be 0..10")
	}
	if c.CleanupIntervalHours < 1 {
		return fmt.Errorf("CLEANUP_INTERVAL_HOURS must be >= 1")
	}
	if c.CleanupHour < 0 || c.CleanupHour > 23 {
		return fmt.Errorf("CLEANUP_HOUR must be 0..23")
	}
	if c.TaskRetentionDays < 1 || c.TaskRetentionDays > 365 {
		return fmt.Errorf("TASK_RETENTION_DAYS must be 1..365")
	}
	if c.OSS.Configured() && !strings.HasPrefix(c.OSS.Region, "oss-") {
		return fmt.Errorf("OSS_REGION must begin with oss-")
	}
	return nil
}

// Development reports whether the verbose log sink should be enabled.
func (c *Config) Development() bool {
	return c.Env != "production"
}

// CleanupInterval converts the configured hours into the timer period the
// task manager uses for its recurring retention sweep.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalHours) * time.Hour
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
