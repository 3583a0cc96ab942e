// Package logging builds the zap logger used by the binaries.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/luciancaetano/wsrtt/internal/config"
)

// New returns a logger for cfg and a function that flushes and releases
// its output. Output goes to stderr unless cfg.File is set, in which case
// it is written through a rotating file.
func New(cfg config.LoggingConfig) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch cfg.Format {
	case "", "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console":
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	var (
		out     zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
		release                     = func() {}
	)
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("logging: failed to create log directory: %w", err)
		}
		w := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out = zapcore.AddSync(w)
		release = func() { _ = w.Close() }
	}

	logger := zap.New(zapcore.NewCore(enc, out, level), zap.AddCaller())
	return logger, func() {
		_ = logger.Sync()
		release()
	}, nil
}
