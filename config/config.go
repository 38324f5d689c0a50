package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Level is shared with the logger so LOG_LEVEL changes in a watched config
// file apply without a restart.
var Level = new(slog.LevelVar)

type Redis struct {
	Host     string
	Port     int
	Password string
}

func (r Redis) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type Config struct {
	InstanceID string
	LogLevel   string
	HTTPAddr   string

	Redis Redis

	HeartbeatInterval       time.Duration
	ClientTimeoutMultiplier int
	MessageTTL              time.Duration
	MaxPendingMessages      int
	PendingRetryInterval    time.Duration
	MaxMessageSize          int
	RedisRetryDelay         time.Duration
	MaxReconnectAttempts    int

	EnableDebug bool
	SSLKeyFile  string
	SSLCertFile string

	AMQPDSN string
}

// ClientTimeout is the inactivity window after which a websocket session is
// considered dead.
func (c *Config) ClientTimeout() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.ClientTimeoutMultiplier)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("instance_id", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", ":8000")
	v.SetDefault("redis_host", "localhost")
	v.SetDefault("redis_port", 6379)
	v.SetDefault("redis_password", "")
	v.SetDefault("heartbeat_interval", 30)
	v.SetDefault("client_timeout_multiplier", 3)
	v.SetDefault("message_ttl_hours", 24)
	v.SetDefault("max_pending_messages", 100)
	v.SetDefault("pending_retry_interval", 300)
	v.SetDefault("max_message_size", 1<<20)
	v.SetDefault("redis_retry_delay", 1)
	v.SetDefault("max_reconnect_attempts", 10)
	v.SetDefault("enable_debug", false)
	v.SetDefault("ssl_keyfile", "")
	v.SetDefault("ssl_certfile", "")
	v.SetDefault("amqp_dsn", "")
}

// LoadConfig reads configuration from the environment and, when path is not
// empty, a YAML file. File values lose to environment values. The file is
// watched afterwards so the log level can be adjusted at runtime.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		v.OnConfigChange(func(_ fsnotify.Event) {
			Level.Set(parseLevel(v.GetString("log_level")))
		})
		v.WatchConfig()
	}

	cfg := fromViper(v)
	Level.Set(parseLevel(cfg.LogLevel))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{
		InstanceID: v.GetString("instance_id"),
		LogLevel:   v.GetString("log_level"),
		HTTPAddr:   v.GetString("http_addr"),
		Redis: Redis{
			Host:     v.GetString("redis_host"),
			Port:     v.GetInt("redis_port"),
			Password: v.GetString("redis_password"),
		},
		HeartbeatInterval:       time.Duration(v.GetInt("heartbeat_interval")) * time.Second,
		ClientTimeoutMultiplier: v.GetInt("client_timeout_multiplier"),
		MessageTTL:              time.Duration(v.GetInt("message_ttl_hours")) * time.Hour,
		MaxPendingMessages:      v.GetInt("max_pending_messages"),
		PendingRetryInterval:    time.Duration(v.GetInt("pending_retry_interval")) * time.Second,
		MaxMessageSize:          v.GetInt("max_message_size"),
		RedisRetryDelay:         time.Duration(v.GetInt("redis_retry_delay")) * time.Second,
		MaxReconnectAttempts:    v.GetInt("max_reconnect_attempts"),
		EnableDebug:             v.GetBool("enable_debug"),
		SSLKeyFile:              v.GetString("ssl_keyfile"),
		SSLCertFile:             v.GetString("ssl_certfile"),
		AMQPDSN:                 v.GetString("amqp_dsn"),
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = defaultInstanceID()
	}
	return cfg
}

func (c *Config) validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: heartbeat_interval must be positive")
	}
	if c.ClientTimeoutMultiplier <= 0 {
		return fmt.Errorf("config: client_timeout_multiplier must be positive")
	}
	if c.MaxPendingMessages <= 0 {
		return fmt.Errorf("config: max_pending_messages must be positive")
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("config: max_message_size must be positive")
	}
	if (c.SSLKeyFile == "") != (c.SSLCertFile == "") {
		return fmt.Errorf("config: ssl_keyfile and ssl_certfile must be set together")
	}
	return nil
}

// defaultInstanceID builds a host-scoped id with a random suffix so several
// instances on one machine stay distinguishable.
func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "notify"
	}
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s-%s", host, hex.EncodeToString(buf))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
