// Package config loads the settings shared by the server and driver binaries.
//
// Values are layered: built-in defaults, then the YAML file, then WSRTT_*
// environment variables. Command-line flags are applied last by the binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Environment variables read by ApplyEnv.
const (
	EnvAddr     = "WSRTT_ADDR"
	EnvURL      = "WSRTT_URL"
	EnvLogLevel = "WSRTT_LOG_LEVEL"
	EnvNATSURL  = "WSRTT_NATS_URL"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Driver  DriverConfig  `yaml:"driver"`
	Logging LoggingConfig `yaml:"logging"`
	NATS    NATSConfig    `yaml:"nats"`
}

type ServerConfig struct {
	Addr             string        `yaml:"addr"`
	Path             string        `yaml:"path"`
	MaxMessageSize   int           `yaml:"max_message_size"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	CloseGracePeriod time.Duration `yaml:"close_grace_period"`

	// Zero keeps the buffers unbounded.
	InboundBuffer  int `yaml:"inbound_buffer"`
	OutboundBuffer int `yaml:"outbound_buffer"`
	// Zero runs every transform concurrently; 1 keeps submission order.
	TransformParallelism int `yaml:"transform_parallelism"`

	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	AllowAllOrigins bool            `yaml:"allow_all_origins"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	Burst             int     `yaml:"burst"`
}

type DriverConfig struct {
	URL         string `yaml:"url"`
	Size        int    `yaml:"size"`
	FrequencyMs int    `yaml:"frequency_ms"`
	DelayMs     int    `yaml:"delay_ms"`
	// Duration ends the run automatically. Zero runs until interrupted.
	Duration         time.Duration `yaml:"duration"`
	SeriesLength     int           `yaml:"series_length"`
	CorrectedAverage bool          `yaml:"corrected_average"`
}

// LoggingConfig selects the zap encoder and, when File is set, the
// lumberjack rotation settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NATSConfig enables publishing driver points when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             ":8080",
			Path:             "/api/messaging",
			MaxMessageSize:   64 * 1024,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     10 * time.Second,
			PingInterval:     54 * time.Second,
			CloseGracePeriod: time.Second,
			RateLimit: RateLimitConfig{
				MessagesPerSecond: 100,
				Burst:             200,
			},
			ShutdownTimeout: 5 * time.Second,
		},
		Driver: DriverConfig{
			URL:          "ws://localhost:8080/api/messaging",
			Size:         1024,
			FrequencyMs:  500,
			SeriesLength: 200,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		NATS: NATSConfig{
			Subject: "wsrtt.points",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides values from the environment. lookup is usually
// os.LookupEnv; blank values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	if v, ok := get(EnvAddr); ok {
		c.Server.Addr = v
	}
	if v, ok := get(EnvURL); ok {
		c.Driver.URL = v
	}
	if v, ok := get(EnvLogLevel); ok {
		c.Logging.Level = v
	}
	if v, ok := get(EnvNATSURL); ok {
		c.NATS.URL = v
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch {
	case c.Server.MaxMessageSize <= 0:
		return fmt.Errorf("%w: server.max_message_size must be positive", ErrInvalid)
	case c.Server.InboundBuffer < 0 || c.Server.OutboundBuffer < 0:
		return fmt.Errorf("%w: server buffers must not be negative", ErrInvalid)
	case c.Server.TransformParallelism < 0:
		return fmt.Errorf("%w: server.transform_parallelism must not be negative", ErrInvalid)
	case c.Server.RateLimit.Enabled && (c.Server.RateLimit.MessagesPerSecond <= 0 || c.Server.RateLimit.Burst <= 0):
		return fmt.Errorf("%w: server.rate_limit needs a positive rate and burst", ErrInvalid)
	case c.Driver.Size < 0:
		return fmt.Errorf("%w: driver.size must not be negative", ErrInvalid)
	case c.Driver.FrequencyMs <= 0:
		return fmt.Errorf("%w: driver.frequency_ms must be positive", ErrInvalid)
	case c.Driver.DelayMs < 0:
		return fmt.Errorf("%w: driver.delay_ms must not be negative", ErrInvalid)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: logging.format must be json or console", ErrInvalid)
	}
	return nil
}
