package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luciancaetano/wsrtt/internal/config"
)

// TestNewWritesToFile tests that JSON output lands in the rotated file
func TestNewWritesToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "wsrtt.log")
	logger, release, err := New(config.LoggingConfig{Level: "info", Format: "json", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("session opened", zap.String("session_id", "abc"))
	release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"session opened"`)
	assert.Contains(t, string(data), `"session_id":"abc"`)
	assert.NotContains(t, string(data), "hidden")
}

// TestNewRejectsBadConfig tests invalid levels and formats
func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  config.LoggingConfig
	}{
		{name: "level", cfg: config.LoggingConfig{Level: "loud", Format: "json"}},
		{name: "format", cfg: config.LoggingConfig{Level: "info", Format: "xml"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

// TestNewConsole tests that the console encoder builds
func TestNewConsole(t *testing.T) {
	t.Parallel()

	logger, release, err := New(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	defer release()

	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
}
