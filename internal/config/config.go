// Package config loads server configuration from the environment, with an
// optional .env file for development. Priority: ENV vars > .env > defaults.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration.
type Config struct {
	// Server basics
	Addr string `env:"ADDR" envDefault:":4000"`

	// Broker tunables
	RingBufferSize      int `env:"RING_BUFFER_SIZE" envDefault:"100"`
	SubscriberQueueSize int `env:"SUBSCRIBER_QUEUE_SIZE" envDefault:"512"`
	HeartbeatIntervalMS int `env:"HEARTBEAT_INTERVAL_MS" envDefault:"30000"`

	// Transport capacity
	MaxConnections int `env:"MAX_CONNECTIONS" envDefault:"10000"`
	SendBufferSize int `env:"SEND_BUFFER_SIZE" envDefault:"256"`

	// HTTP surface
	HTTPReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10s"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	// Connection admission rate limiting (disabled by default)
	ConnRateLimitEnabled     bool    `env:"CONN_RATE_LIMIT_ENABLED" envDefault:"false"`
	ConnRateLimitIPBurst     int     `env:"CONN_RATE_LIMIT_IP_BURST" envDefault:"10"`
	ConnRateLimitIPRate      float64 `env:"CONN_RATE_LIMIT_IP_RATE" envDefault:"1.0"`
	ConnRateLimitGlobalBurst int     `env:"CONN_RATE_LIMIT_GLOBAL_BURST" envDefault:"300"`
	ConnRateLimitGlobalRate  float64 `env:"CONN_RATE_LIMIT_GLOBAL_RATE" envDefault:"50.0"`

	// Monitoring
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// HeartbeatInterval returns the heartbeat cadence as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

// Load reads configuration from a .env file (if present) and environment
// variables, then validates it.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Running without a .env file is normal in production.
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("ADDR is required")
	}
	if c.RingBufferSize < 0 {
		return fmt.Errorf("RING_BUFFER_SIZE must be >= 0, got %d", c.RingBufferSize)
	}
	if c.SubscriberQueueSize < 1 {
		return fmt.Errorf("SUBSCRIBER_QUEUE_SIZE must be > 0, got %d", c.SubscriberQueueSize)
	}
	if c.HeartbeatIntervalMS < 1 {
		return fmt.Errorf("HEARTBEAT_INTERVAL_MS must be > 0, got %d", c.HeartbeatIntervalMS)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.SendBufferSize < 1 {
		return fmt.Errorf("SEND_BUFFER_SIZE must be > 0, got %d", c.SendBufferSize)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}
	return nil
}

// LogConfig logs the loaded configuration with structured fields.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr).
		Int("ring_buffer_size", c.RingBufferSize).
		Int("subscriber_queue_size", c.SubscriberQueueSize).
		Int("heartbeat_interval_ms", c.HeartbeatIntervalMS).
		Int("max_connections", c.MaxConnections).
		Int("send_buffer_size", c.SendBufferSize).
		Bool("conn_rate_limit_enabled", c.ConnRateLimitEnabled).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Server configuration loaded")
}
