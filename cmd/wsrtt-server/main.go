// Command wsrtt-server runs the round-trip echo endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/wsrtt"
	"github.com/luciancaetano/wsrtt/internal/config"
	"github.com/luciancaetano/wsrtt/internal/logging"
	"github.com/luciancaetano/wsrtt/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "wsrtt-server:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		addr       string
		path       string
		logLevel   string
		parallel   int
		allOrigins bool
	)
	flag.StringVar(&configPath, "config", "", "Configure File Path")
	flag.StringVar(&addr, "addr", "", "Listen address, e.g. :8080")
	flag.StringVar(&path, "path", "", "WebSocket route")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.IntVar(&parallel, "parallelism", 0, "Concurrent transforms per session; 1 keeps order")
	flag.BoolVar(&allOrigins, "all-origins", false, "Accept upgrades from any origin")
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
		case "addr":
			cfg.Server.Addr = addr
		case "path":
			cfg.Server.Path = path
		case "log-level":
			cfg.Logging.Level = logLevel
		case "parallelism":
			cfg.Server.TransformParallelism = parallel
		case "all-origins":
			cfg.Server.AllowAllOrigins = allOrigins
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

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	server := websocket.New(serverConfig(cfg.Server, reg, log))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	log.Info("shutting down", zap.Int("sessions", server.SessionCount()))
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Stop(stopCtx)
}

func serverConfig(c config.ServerConfig, reg *prometheus.Registry, log *zap.Logger) *websocket.ServerConfig {
	out := &websocket.ServerConfig{
		Addr:                 c.Addr,
		Path:                 c.Path,
		MaxMessageSize:       c.MaxMessageSize,
		ReadTimeout:          c.ReadTimeout,
		WriteTimeout:         c.WriteTimeout,
		PingInterval:         c.PingInterval,
		CloseGracePeriod:     c.CloseGracePeriod,
		InboundBuffer:        c.InboundBuffer,
		OutboundBuffer:       c.OutboundBuffer,
		TransformParallelism: c.TransformParallelism,
		RateLimitConfig:      websocket.NoRateLimit(),
		Logger:               log,
		Registry:             reg,
		OnSessionClose: func(s wsrtt.Session, voluntary bool) {
			log.Debug("session finished",
				zap.String("session_id", s.ID()),
				zap.Stringer("state", s.State()),
				zap.Bool("voluntary", voluntary),
			)
		},
	}
	if c.RateLimit.Enabled {
		out.RateLimitConfig = &websocket.RateLimitConfig{
			MessagesPerSecond: rate.Limit(c.RateLimit.MessagesPerSecond),
			Burst:             c.RateLimit.Burst,
			Enabled:           true,
		}
	}
	if c.AllowAllOrigins {
		out.CheckOrigin = func(*http.Request) bool { return true }
	}
	return out
}
