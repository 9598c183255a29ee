package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseEnv(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{}
	require.NoError(t, env.Parse(cfg))
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := parseEnv(t)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":4000", cfg.Addr)
	assert.Equal(t, 100, cfg.RingBufferSize)
	assert.Equal(t, 512, cfg.SubscriberQueueSize)
	assert.Equal(t, 30000, cfg.HeartbeatIntervalMS)
	assert.Equal(t, 10000, cfg.MaxConnections)
	assert.Equal(t, 256, cfg.SendBufferSize)
	assert.Equal(t, 10*time.Second, cfg.HTTPReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.MetricsInterval)
	assert.False(t, cfg.ConnRateLimitEnabled)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("ADDR", "127.0.0.1:9999")
	t.Setenv("RING_BUFFER_SIZE", "25")
	t.Setenv("HEARTBEAT_INTERVAL_MS", "500")
	t.Setenv("CONN_RATE_LIMIT_ENABLED", "true")

	cfg := parseEnv(t)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:9999", cfg.Addr)
	assert.Equal(t, 25, cfg.RingBufferSize)
	assert.Equal(t, 500*time.Millisecond, cfg.HeartbeatInterval())
	assert.True(t, cfg.ConnRateLimitEnabled)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"empty addr":       func(c *Config) { c.Addr = "" },
		"negative ring":    func(c *Config) { c.RingBufferSize = -1 },
		"zero queue":       func(c *Config) { c.SubscriberQueueSize = 0 },
		"zero heartbeat":   func(c *Config) { c.HeartbeatIntervalMS = 0 },
		"zero max conns":   func(c *Config) { c.MaxConnections = 0 },
		"zero send buffer": func(c *Config) { c.SendBufferSize = 0 },
		"bad log level":    func(c *Config) { c.LogLevel = "verbose" },
		"bad log format":   func(c *Config) { c.LogFormat = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := parseEnv(t)
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestZeroRingDisablesReplayButValidates(t *testing.T) {
	t.Setenv("RING_BUFFER_SIZE", "0")
	cfg := parseEnv(t)
	assert.NoError(t, cfg.Validate())
}
