package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wsrtt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestLoadDefaults tests that an empty path yields the defaults
func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "/api/messaging", cfg.Server.Path)
	assert.Equal(t, 65536, cfg.Server.MaxMessageSize)
	assert.Equal(t, 54*time.Second, cfg.Server.PingInterval)
	assert.False(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, 1024, cfg.Driver.Size)
	assert.Equal(t, 500, cfg.Driver.FrequencyMs)
	assert.Equal(t, "wsrtt.points", cfg.NATS.Subject)
	assert.NoError(t, cfg.Validate())
}

// TestLoadFile tests that file values override defaults and keep the rest
func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, `
server:
  addr: 127.0.0.1:9000
  read_timeout: 30s
  inbound_buffer: 64
  transform_parallelism: 1
  rate_limit:
    enabled: true
    messages_per_second: 50
    burst: 10
driver:
  size: 70000
  delay_ms: 100
  duration: 1m
  corrected_average: true
logging:
  level: debug
  format: console
  file: /tmp/wsrtt.log
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 64, cfg.Server.InboundBuffer)
	assert.Equal(t, 1, cfg.Server.TransformParallelism)
	assert.Equal(t, RateLimitConfig{Enabled: true, MessagesPerSecond: 50, Burst: 10}, cfg.Server.RateLimit)
	assert.Equal(t, 70000, cfg.Driver.Size)
	assert.Equal(t, 500, cfg.Driver.FrequencyMs)
	assert.Equal(t, 100, cfg.Driver.DelayMs)
	assert.Equal(t, time.Minute, cfg.Driver.Duration)
	assert.True(t, cfg.Driver.CorrectedAverage)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 10, cfg.Logging.MaxSizeMB)
	assert.NoError(t, cfg.Validate())
}

// TestLoadErrors tests missing and malformed files
func TestLoadErrors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeFile(t, "server: [unclosed"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "server:\n  read_timeout: soon\n"))
	assert.Error(t, err)
}

// TestApplyEnv tests environment overrides
func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		EnvAddr:     ":9999",
		EnvURL:      "ws://example.com/api/messaging",
		EnvLogLevel: "  ",
		EnvNATSURL:  "nats://localhost:4222",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := Default()
	cfg.ApplyEnv(lookup)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "ws://example.com/api/messaging", cfg.Driver.URL)
	assert.Equal(t, "info", cfg.Logging.Level, "blank values are ignored")
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
}

// TestValidate tests the rejected settings
func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "zero message size", mutate: func(c *Config) { c.Server.MaxMessageSize = 0 }},
		{name: "negative buffer", mutate: func(c *Config) { c.Server.OutboundBuffer = -1 }},
		{name: "negative parallelism", mutate: func(c *Config) { c.Server.TransformParallelism = -2 }},
		{name: "rate limit without burst", mutate: func(c *Config) {
			c.Server.RateLimit = RateLimitConfig{Enabled: true, MessagesPerSecond: 10}
		}},
		{name: "negative size", mutate: func(c *Config) { c.Driver.Size = -1 }},
		{name: "zero frequency", mutate: func(c *Config) { c.Driver.FrequencyMs = 0 }},
		{name: "negative delay", mutate: func(c *Config) { c.Driver.DelayMs = -1 }},
		{name: "unknown log format", mutate: func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}
