package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.InstanceID)
	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 90*time.Second, cfg.ClientTimeout())
	assert.Equal(t, 24*time.Hour, cfg.MessageTTL)
	assert.Equal(t, 100, cfg.MaxPendingMessages)
	assert.Equal(t, 5*time.Minute, cfg.PendingRetryInterval)
	assert.Equal(t, 1<<20, cfg.MaxMessageSize)
	assert.False(t, cfg.EnableDebug)
	assert.Empty(t, cfg.AMQPDSN)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("INSTANCE_ID", "env-instance")
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("HEARTBEAT_INTERVAL", "10")
	t.Setenv("CLIENT_TIMEOUT_MULTIPLIER", "2")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "env-instance", cfg.InstanceID)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr())
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 20*time.Second, cfg.ClientTimeout())
	assert.Equal(t, slog.LevelDebug, Level.Level())
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_addr: \":9090\"\nmax_pending_messages: 7\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 7, cfg.MaxPendingMessages)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("MAX_PENDING_MESSAGES", "0")

	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestLoadConfigSSLPairRequired(t *testing.T) {
	t.Setenv("SSL_CERTFILE", "/tmp/cert.pem")

	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, parseLevel("anything else"))
}

func TestDefaultInstanceIDUnique(t *testing.T) {
	a := defaultInstanceID()
	b := defaultInstanceID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
