// Command wsrtt-driver sends echo requests at a fixed rate and reports
// round-trip latency.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/luciancaetano/wsrtt/internal/config"
	"github.com/luciancaetano/wsrtt/internal/display"
	"github.com/luciancaetano/wsrtt/internal/driver"
	"github.com/luciancaetano/wsrtt/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "wsrtt-driver:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		url        string
		size       int
		frequency  int
		delay      int
		duration   time.Duration
		natsURL    string
		corrected  bool
		logLevel   string
	)
	flag.StringVar(&configPath, "config", "", "Configure File Path")
	flag.StringVar(&url, "url", "", "Echo endpoint, e.g. ws://localhost:8080/api/messaging")
	flag.IntVar(&size, "size", 0, "Content characters per request")
	flag.IntVar(&frequency, "frequency", 0, "Milliseconds between requests")
	flag.IntVar(&delay, "delay", 0, "Server-side response delay in milliseconds")
	flag.DurationVar(&duration, "duration", 0, "Stop after this long; 0 runs until interrupted")
	flag.StringVar(&natsURL, "nats-url", "", "Publish points to this NATS server")
	flag.BoolVar(&corrected, "corrected-average", false, "Report the arithmetic mean latency")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	// Load environment variables from .env if present.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnv(os.LookupEnv)

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "url":
			cfg.Driver.URL = url
		case "size":
			cfg.Driver.Size = size
		case "frequency":
			cfg.Driver.FrequencyMs = frequency
		case "delay":
			cfg.Driver.DelayMs = delay
		case "duration":
			cfg.Driver.Duration = duration
		case "nats-url":
			cfg.NATS.URL = natsURL
		case "corrected-average":
			cfg.Driver.CorrectedAverage = corrected
		case "log-level":
			cfg.Logging.Level = logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, release, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer release()

	runID := uuid.New().String()
	sinks := []display.Sink{display.NewLogSink(log)}
	if cfg.NATS.URL != "" {
		sink, err := display.DialNATS(cfg.NATS.URL, cfg.NATS.Subject, runID)
		if err != nil {
			return err
		}
		defer sink.Close()
		sinks = append(sinks, sink)
	}

	d := driver.New(driver.Options{
		RunID:            runID,
		SeriesLength:     cfg.Driver.SeriesLength,
		CorrectedAverage: cfg.Driver.CorrectedAverage,
		Logger:           log,
		Sinks:            sinks,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Driver.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Driver.Duration)
		defer cancel()
	}

	runCfg := driver.Config{
		URL:       cfg.Driver.URL,
		Size:      cfg.Driver.Size,
		Frequency: time.Duration(cfg.Driver.FrequencyMs) * time.Millisecond,
		Delay:     time.Duration(cfg.Driver.DelayMs) * time.Millisecond,
	}
	if err := d.Start(ctx, runCfg); err != nil {
		return err
	}
	runErr := d.Wait()

	m := d.Snapshot()
	log.Info("run finished",
		zap.String("status", string(d.Status())),
		zap.Int64("msg_tx", m.MsgTx),
		zap.Int64("msg_rx", m.MsgRx),
		zap.Int64("char_tx", m.CharTx),
		zap.Int64("char_rx", m.CharRx),
		zap.Duration("min_latency", m.MinLatency),
		zap.Duration("max_latency", m.MaxLatency),
		zap.Duration("avg_latency", m.AvgLatency),
		zap.Int("pending", d.Pending()),
	)
	return runErr
}
