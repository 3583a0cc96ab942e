package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/wsrtt"
	"github.com/luciancaetano/wsrtt/internal/metrics"
)

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is called after the upgrade completes and before the session's
// loops start. It runs synchronously on the session goroutine.
type OnConnectFn = func(session wsrtt.Session)

// OnSessionCloseFn is invoked when a session has fully terminated. voluntary
// is true when the peer initiated the close handshake and the session ended
// without error.
type OnSessionCloseFn = func(session wsrtt.Session, voluntary bool)

type ServerConfig struct {
	Addr string
	// Path is the route upgraded to WebSocket. Defaults to wsrtt.DefaultMessagingPath.
	Path string

	// MaxMessageSize caps an assembled message. Defaults to wsrtt.MaxMessageSize.
	MaxMessageSize   int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	CloseGracePeriod time.Duration

	// Pipeline knobs. Zero values keep the unbounded defaults.
	InboundBuffer        int
	OutboundBuffer       int
	TransformParallelism int

	RateLimitConfig *RateLimitConfig
	CheckOrigin     CheckOriginFn
	OnConnect       OnConnectFn
	OnSessionClose  OnSessionCloseFn

	Logger *zap.Logger
	// Registry receives the server metrics. A private registry is used when nil.
	Registry *prometheus.Registry
}

// RateLimitConfig defines rate limiting configuration for sessions
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a peer can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// ParseDelay reads the delay query parameter in milliseconds. Absent,
// non-numeric and negative values all mean no delay.
func ParseDelay(raw string) time.Duration {
	ms, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// Server implements the wsrtt.EchoServer interface
type Server struct {
	addr     string
	path     string
	server   *http.Server
	router   *mux.Router
	sessions sync.Map // map[string]*Session
	wg       sync.WaitGroup

	opts     SessionOptions
	registry *prometheus.Registry
	metrics  *metrics.Collectors
	log      *zap.Logger

	// baseCtx is the parent of every session; cancelling it forces them down.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu             sync.RWMutex
	running        bool
	upgrader       websocket.Upgrader
	onConnect      OnConnectFn
	onSessionClose OnSessionCloseFn
}

// New creates an echo server from cfg. Missing values fall back to defaults:
// the /api/messaging path, a 64 KiB message cap, 60s read timeout, 10s
// write timeout, 54s pings and a 1s close grace period.
//
// The server uses the Gorilla WebSocket library with read/write buffer sizes of 1024 bytes.
func New(cfg *ServerConfig) *Server {
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = NoRateLimit()
	}
	if cfg.Path == "" {
		cfg.Path = wsrtt.DefaultMessagingPath
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = wsrtt.MaxMessageSize
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	log := cfg.Logger.Named("echo")
	collectors, err := metrics.New(cfg.Registry)
	if err != nil {
		log.Warn("metrics disabled", zap.Error(err))
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	s := &Server{
		addr: cfg.Addr,
		path: cfg.Path,
		opts: SessionOptions{
			MaxMessageSize:       cfg.MaxMessageSize,
			ReadTimeout:          cfg.ReadTimeout,
			WriteTimeout:         cfg.WriteTimeout,
			PingInterval:         cfg.PingInterval,
			CloseGracePeriod:     cfg.CloseGracePeriod,
			InboundBuffer:        cfg.InboundBuffer,
			OutboundBuffer:       cfg.OutboundBuffer,
			TransformParallelism: cfg.TransformParallelism,
			RateLimitConfig:      cfg.RateLimitConfig,
			Logger:               log,
			Metrics:              collectors,
		},
		registry:       cfg.Registry,
		metrics:        collectors,
		log:            log,
		baseCtx:        baseCtx,
		baseCancel:     baseCancel,
		onConnect:      cfg.OnConnect,
		onSessionClose: cfg.OnSessionClose,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}

	r := mux.NewRouter()
	r.HandleFunc(s.path, s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc(wsrtt.HealthPath, handleHealth).Methods(http.MethodGet)
	r.Handle(wsrtt.MetricsPath, promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	s.router = r

	return s
}

// Handler returns the router serving the echo path, health and metrics. It
// can be mounted on any http.Server instead of calling Start; Stop still
// closes the sessions it accepted.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the echo server
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New(wsrtt.ErrServerAlreadyRunning)
	}
	s.running = true
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}
	srv := s.server
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Check for immediate startup errors with a small timeout
	select {
	case err := <-errChan:
		// Reset running state without calling Stop to avoid deadlock
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case <-time.After(100 * time.Millisecond):
		s.log.Info("echo server listening", zap.String("addr", s.addr), zap.String("path", s.path))
		return nil
	}
}

// Stop shuts the listener down if Start was called, then closes every
// session with a normal closure and waits for them to finish until ctx
// expires. Sessions served through Handler are closed as well, even when
// Start was never called.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	if !s.running {
		srv = nil
	}
	s.running = false
	s.mu.Unlock()

	var shutdownErr error
	if srv != nil {
		shutdownErr = srv.Shutdown(ctx)
	}

	s.sessions.Range(func(key, value interface{}) bool {
		if session, ok := value.(*Session); ok {
			session.CloseWithCode(ctx, websocket.CloseNormalClosure, wsrtt.ReasonServerShutdown)
		}
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.baseCancel()
		<-done
	}

	s.log.Info("echo server stopped")
	return shutdownErr
}

// SessionCount returns the number of running sessions
func (s *Server) SessionCount() int {
	n := 0
	s.sessions.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// GetSession returns a session by ID
func (s *Server) GetSession(id string) (*Session, bool) {
	if session, ok := s.sessions.Load(id); ok {
		return session.(*Session), true
	}
	return nil, false
}

// handleWebSocket upgrades the request and runs the session on the request goroutine.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	delay := ParseDelay(r.URL.Query().Get(wsrtt.DelayQueryParam))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error response.
		s.log.Debug("upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	session := NewSession(conn, r.RemoteAddr, delay, s.opts)
	s.sessions.Store(session.ID(), session)
	s.wg.Add(1)
	s.metrics.SessionOpened()

	s.handleSession(session)
}

func (s *Server) handleSession(session *Session) {
	var runErr error
	defer func() {
		s.sessions.Delete(session.ID())
		code, _ := session.CloseStatus()
		voluntary := runErr == nil && code == 0
		if s.onSessionClose != nil {
			s.onSessionClose(session, voluntary)
		}
		s.wg.Done()
	}()

	session.log.Debug("session opened")
	if s.onConnect != nil {
		s.onConnect(session)
	}

	runErr = session.Run(s.baseCtx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}
