// Package config provides configuration loading for the sync server.
package config

import (
	"os"
	"strconv"
	"time"
)

// ServerConfig holds sync server configuration.
type ServerConfig struct {
	// Server settings
	Port int
	Host string

	// DatabaseURL is the PostgreSQL connection string. Empty runs the
	// server on in-memory stores (development only).
	DatabaseURL string

	// Worker settings
	WorkerPollSecs   int
	WorkerBatchSize  int
	WorkerConcurrent int

	// Retry policy
	MaxAttempts       int
	InitialDelaySecs  int
	MaxDelaySecs      int
	ExponentialRetry  bool

	// Scheduler settings
	SchedulerTickSpec string
	CleanupSpec       string
	RetentionDays     int

	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string
}

// LoadServerConfig loads configuration from environment.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:              getEnvInt("SYNC_PORT", 8080),
		Host:              getEnv("SYNC_HOST", "0.0.0.0"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		WorkerPollSecs:    getEnvInt("SYNC_WORKER_POLL_SECS", 5),
		WorkerBatchSize:   getEnvInt("SYNC_WORKER_BATCH", 10),
		WorkerConcurrent:  getEnvInt("SYNC_WORKER_CONCURRENCY", 4),
		MaxAttempts:       getEnvInt("SYNC_MAX_ATTEMPTS", 3),
		InitialDelaySecs:  getEnvInt("SYNC_RETRY_INITIAL_SECS", 5),
		MaxDelaySecs:      getEnvInt("SYNC_RETRY_MAX_SECS", 300),
		ExponentialRetry:  getEnvBool("SYNC_RETRY_EXPONENTIAL", true),
		SchedulerTickSpec: getEnv("SYNC_SCHEDULER_TICK", "@every 1m"),
		CleanupSpec:       getEnv("SYNC_CLEANUP_SPEC", "@daily"),
		RetentionDays:     getEnvInt("SYNC_RETENTION_DAYS", 7),
		LogLevel:          getEnv("SYNC_LOG_LEVEL", "info"),
	}
}

// Retention converts the retention setting into a duration.
func (c *ServerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
