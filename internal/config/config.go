// Package config loads process-start defaults via viper and exposes the
// mutable runtime configuration cell described in spec.md §3/§4.A.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/hedge-system/hedge-ws/internal/logging"
)

// DefaultAuthToken is the fixed placeholder the spec requires production
// deployments to override.
const DefaultAuthToken = "hedge-system-default-token"

// Config holds process-start configuration loaded from environment/file by
// viper. It seeds the runtime cells (RuntimeConfig, serverstate.Status) but
// is itself immutable once loaded.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   logging.Config  `mapstructure:"logging"`
}

// ServerConfig contains network-level listener settings.
type ServerConfig struct {
	Host                     string `mapstructure:"host"`
	Port                     int    `mapstructure:"port"`
	HeartbeatIntervalSeconds int    `mapstructure:"heartbeat_interval_seconds"`
	ConnectionTimeoutSeconds int    `mapstructure:"connection_timeout_seconds"`
	MaxConnections           int    `mapstructure:"max_connections"`
}

// WebSocketConfig controls per-connection buffering.
type WebSocketConfig struct {
	SendChannelSize int `mapstructure:"send_channel_size"`
	ShardCount      int `mapstructure:"shard_count"`
}

// AuthConfig holds the shared token EAs must present in their AUTH message.
type AuthConfig struct {
	Token string `mapstructure:"token"`
}

// MetricsConfig controls the Prometheus HTTP endpoint.
type MetricsConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	Endpoint       string        `mapstructure:"endpoint"`
	RollupInterval time.Duration `mapstructure:"rollup_interval"`
}

// Load reads configuration from environment variables and an optional
// config file, the way go-server-3/internal/config/config.go does.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.heartbeat_interval_seconds", 30)
	v.SetDefault("server.connection_timeout_seconds", 300)
	v.SetDefault("server.max_connections", 10)

	v.SetDefault("websocket.send_channel_size", 1024)
	v.SetDefault("websocket.shard_count", 16)

	v.SetDefault("auth.token", DefaultAuthToken)

	v.SetDefault("metrics.listen_addr", ":9095")
	v.SetDefault("metrics.endpoint", "/metrics")
	v.SetDefault("metrics.rollup_interval", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("hedge-ws")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("HEDGEWS")
	v.AutomaticEnv()

	// Optional config file; absence is not an error.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.WebSocket.SendChannelSize <= 0 {
		cfg.WebSocket.SendChannelSize = 1024
	}
	if cfg.WebSocket.ShardCount <= 0 {
		cfg.WebSocket.ShardCount = 16
	}

	return cfg, nil
}
