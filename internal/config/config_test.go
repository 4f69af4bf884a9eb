package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg := LoadServerConfig()
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 3, cfg.MaxAttempts)
	require.True(t, cfg.ExponentialRetry)
	require.Equal(t, 7*24*time.Hour, cfg.Retention())
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("SYNC_PORT", "9090")
	t.Setenv("SYNC_RETRY_EXPONENTIAL", "false")
	t.Setenv("SYNC_RETENTION_DAYS", "2")
	t.Setenv("SYNC_LOG_LEVEL", "debug")

	cfg := LoadServerConfig()
	require.Equal(t, 9090, cfg.Port)
	require.False(t, cfg.ExponentialRetry)
	require.Equal(t, 48*time.Hour, cfg.Retention())
	require.Equal(t, "debug", cfg.LogLevel)
}
