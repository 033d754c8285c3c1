// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

// Package config loads layered configuration with koanf: built-in
// defaults, then an optional YAML file, then CADENCE_-prefixed
// environment variables. ENV > file > defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/cadence-realtime/config.yaml",
	"/etc/cadence-realtime/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CADENCE_CONFIG_PATH"

// envPrefix namespaces every environment variable the service reads.
const envPrefix = "CADENCE_"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Auth      AuthConfig      `koanf:"auth"`
	Bus       BusConfig       `koanf:"bus"`
	WebSocket WebSocketConfig `koanf:"websocket"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// Addr returns the host:port the server binds to.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AuthConfig configures JWT verification for the WebSocket handshake
// and the management API.
type AuthConfig struct {
	// JWTSecret signs and verifies HS256 tokens. Required; minimum 32
	// characters.
	JWTSecret string `koanf:"jwt_secret"`
}

// BusConfig selects and configures the pub/sub backend.
type BusConfig struct {
	// Backend is one of "redis", "nats" or "memory".
	Backend string `koanf:"backend"`

	Redis RedisConfig `koanf:"redis"`
	NATS  NATSConfig  `koanf:"nats"`
}

// RedisConfig configures the Redis bus and store.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	PoolSize int    `koanf:"pool_size"`
}

// NATSConfig configures the NATS bus.
type NATSConfig struct {
	URL           string        `koanf:"url"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// WebSocketConfig tunes connection handling.
type WebSocketConfig struct {
	// SendBuffer is the outbound queue depth per connection.
	SendBuffer int `koanf:"send_buffer"`

	// MaxMessageSize caps inbound frame size in bytes.
	MaxMessageSize int64 `koanf:"max_message_size"`

	// HeartbeatInterval is how often the monitor scans for stale
	// connections; HeartbeatTimeout is how long a connection may go
	// without a heartbeat before eviction.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `koanf:"heartbeat_timeout"`

	// InboundRateLimit caps client frames per second per connection;
	// InboundRateBurst is the burst allowance.
	InboundRateLimit float64 `koanf:"inbound_rate_limit"`
	InboundRateBurst int     `koanf:"inbound_rate_burst"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults, applied before file and
// environment layers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Auth: AuthConfig{
			JWTSecret: "",
		},
		Bus: BusConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Addr:     "127.0.0.1:6379",
				Password: "",
				DB:       0,
				PoolSize: 10,
			},
			NATS: NATSConfig{
				URL:           "nats://127.0.0.1:4222",
				ReconnectWait: 2 * time.Second,
			},
		},
		WebSocket: WebSocketConfig{
			SendBuffer:        256,
			MaxMessageSize:    64 << 10, // 64KB
			HeartbeatInterval: 30 * time.Second,
			HeartbeatTimeout:  2 * time.Minute,
			InboundRateLimit:  20,
			InboundRateBurst:  40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load reads configuration with koanf's layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. CADENCE_-prefixed environment variables (highest priority)
//
// CADENCE_SERVER_PORT maps to server.port, CADENCE_BUS_REDIS_ADDR to
// bus.redis.addr, and so on.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc maps CADENCE_BUS_REDIS_ADDR style names to koanf
// paths. Section prefixes with nested children (bus.redis, bus.nats)
// are mapped explicitly; everything else is section.rest_of_key.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	nested := []struct{ prefix, path string }{
		{"bus_redis_", "bus.redis."},
		{"bus_nats_", "bus.nats."},
	}
	for _, n := range nested {
		if strings.HasPrefix(key, n.prefix) {
			return n.path + strings.TrimPrefix(key, n.prefix)
		}
	}

	for _, section := range []string{"server", "auth", "bus", "websocket", "logging"} {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}

	return key
}

// sliceConfigPaths lists paths parsed as comma-separated slices when
// they arrive as strings from the environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice from YAML or defaults.
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}

	switch c.Bus.Backend {
	case "redis", "nats", "memory":
	default:
		return fmt.Errorf("bus.backend %q unknown, want redis, nats or memory", c.Bus.Backend)
	}

	if c.WebSocket.HeartbeatInterval <= 0 {
		return fmt.Errorf("websocket.heartbeat_interval must be positive")
	}
	if c.WebSocket.HeartbeatTimeout <= c.WebSocket.HeartbeatInterval {
		return fmt.Errorf("websocket.heartbeat_timeout must exceed the interval")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket.send_buffer must be positive")
	}

	return nil
}
