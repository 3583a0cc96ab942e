package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/wsrtt"
	"github.com/luciancaetano/wsrtt/internal/metrics"
	"github.com/luciancaetano/wsrtt/internal/pipeline"
	"github.com/luciancaetano/wsrtt/internal/protocol"
)

const (
	defaultReadTimeout      = 60 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultPingInterval     = 54 * time.Second
	defaultCloseGracePeriod = time.Second
)

var (
	// ErrSessionClosed is returned by CloseWithCode once a close was started.
	ErrSessionClosed = errors.New(wsrtt.ErrSessionClosed)

	errRateLimited = errors.New("rate limit exceeded")
)

// SessionOptions carries the per-connection settings derived from ServerConfig.
type SessionOptions struct {
	MaxMessageSize   int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	CloseGracePeriod time.Duration

	InboundBuffer        int
	OutboundBuffer       int
	TransformParallelism int

	RateLimitConfig *RateLimitConfig
	Logger          *zap.Logger
	Metrics         *metrics.Collectors
}

// Session implements the wsrtt.Session interface
type Session struct {
	id         string
	conn       *websocket.Conn
	remoteAddr string
	delay      time.Duration
	opts       SessionOptions

	ctx    context.Context
	cancel context.CancelFunc

	state       *atomic.Int32
	closeCode   *atomic.Int32
	closeReason *atomic.String

	assembler   *Assembler
	pipeline    *pipeline.Pipeline
	rateLimiter *rate.Limiter // Rate limiter for incoming messages
	log         *zap.Logger

	teardownOnce sync.Once
}

// NewSession wraps an upgraded connection. The session does nothing until Run is called.
func NewSession(conn *websocket.Conn, remoteAddr string, delay time.Duration, opts SessionOptions) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = wsrtt.MaxMessageSize
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.CloseGracePeriod <= 0 {
		opts.CloseGracePeriod = defaultCloseGracePeriod
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if delay < 0 {
		delay = 0
	}

	var limiter *rate.Limiter
	if opts.RateLimitConfig != nil && opts.RateLimitConfig.Enabled {
		limiter = rate.NewLimiter(opts.RateLimitConfig.MessagesPerSecond, opts.RateLimitConfig.Burst)
	}

	id := uuid.New().String()
	log := opts.Logger.With(
		zap.String("session_id", id),
		zap.String("remote_addr", remoteAddr),
		zap.Duration("delay", delay),
	)

	return &Session{
		id:          id,
		conn:        conn,
		remoteAddr:  remoteAddr,
		delay:       delay,
		opts:        opts,
		ctx:         ctx,
		cancel:      cancel,
		state:       atomic.NewInt32(int32(wsrtt.StateOpen)),
		closeCode:   atomic.NewInt32(0),
		closeReason: atomic.NewString(""),
		assembler:   NewAssembler(conn, opts.MaxMessageSize),
		pipeline: pipeline.New(pipeline.Options{
			Delay:            delay,
			Parallelism:      opts.TransformParallelism,
			InboundCapacity:  opts.InboundBuffer,
			OutboundCapacity: opts.OutboundBuffer,
			Logger:           log,
		}),
		rateLimiter: limiter,
		log:         log,
	}
}

// ID returns a unique identifier for the session
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the peer's remote network address
func (s *Session) RemoteAddr() string {
	return s.remoteAddr
}

// Context returns the session's lifecycle context
func (s *Session) Context() context.Context {
	return s.ctx
}

// Delay returns the response delay requested by the client
func (s *Session) Delay() time.Duration {
	return s.delay
}

// State returns the current lifecycle state
func (s *Session) State() wsrtt.SessionState {
	return wsrtt.SessionState(s.state.Load())
}

// IsAlive returns true while the session is open
func (s *Session) IsAlive() bool {
	return s.State() == wsrtt.StateOpen
}

// CloseStatus returns the close code and reason the server sent, if any.
func (s *Session) CloseStatus() (int, string) {
	return int(s.closeCode.Load()), s.closeReason.Load()
}

// Close closes the session with a normal closure
func (s *Session) Close(ctx context.Context) error {
	return s.CloseWithCode(ctx, websocket.CloseNormalClosure, "")
}

// CloseWithCode sends a close frame and lets the receive loop finish the
// handshake within the close grace period.
func (s *Session) CloseWithCode(ctx context.Context, code int, reason string) error {
	if !s.initiateClose(code, reason) {
		return ErrSessionClosed
	}
	deadline := time.Now().Add(s.opts.CloseGracePeriod)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return s.conn.SetReadDeadline(deadline)
}

// CheckRateLimit checks if the session has exceeded the rate limit
// Returns true if the message is allowed, false if rate limited
func (s *Session) CheckRateLimit() bool {
	if s.rateLimiter == nil {
		// Rate limiting disabled
		return true
	}
	return s.rateLimiter.Allow()
}

// Run drives the session until both loops have exited. The first loop to
// return cancels the other one.
func (s *Session) Run(parent context.Context) error {
	defer s.teardown()

	stop := context.AfterFunc(parent, s.cancel)
	defer stop()

	s.conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		if s.ctx.Err() != nil || !s.IsAlive() {
			return nil
		}
		return s.conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	})

	g, ctx := errgroup.WithContext(s.ctx)
	g.Go(func() error {
		defer s.cancel()
		return s.receiveLoop(ctx)
	})
	g.Go(func() error {
		defer s.cancel()
		return s.sendLoop(ctx)
	})
	g.Go(func() error {
		return s.keepalive(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		// Unblock a pending read.
		s.conn.SetReadDeadline(time.Now())
		return nil
	})

	err := g.Wait()
	if err != nil {
		s.log.Debug("session ended with error", zap.Error(err))
	}
	return err
}

func (s *Session) receiveLoop(ctx context.Context) error {
	for s.IsAlive() {
		msg, err := s.assembler.Next()
		if err != nil {
			return s.handleReceiveError(ctx, err)
		}

		// Reset read deadline after successful read
		s.conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))

		// Check rate limit before processing message
		if !s.CheckRateLimit() {
			s.log.Warn("rate limit exceeded")
			s.opts.Metrics.MessageRejected("rate_limit")
			s.closeAndDrain(websocket.ClosePolicyViolation, wsrtt.ReasonRateLimitExceeded)
			return errRateLimited
		}

		if err := s.pipeline.Submit(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.opts.Metrics.MessageReceived(len(msg.Content))
	}

	if s.State() == wsrtt.StateClosing {
		s.drain()
	}
	return nil
}

func (s *Session) handleReceiveError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrPeerClosed):
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			s.log.Debug("peer closed", zap.Int("code", closeErr.Code), zap.String("reason", closeErr.Text))
		}
		s.state.Store(int32(wsrtt.StateClosed))
		return nil

	case errors.Is(err, ErrMessageTooLarge):
		s.log.Warn("message too large", zap.Int("limit", s.assembler.Limit()))
		s.opts.Metrics.MessageRejected("too_large")
		s.closeAndDrain(websocket.CloseMessageTooBig, wsrtt.TooLargeReason(s.assembler.Limit()))
		return err

	case errors.Is(err, ErrUnsupportedMessageType):
		s.log.Warn("unsupported message type", zap.Error(err))
		s.opts.Metrics.MessageRejected("unsupported_type")
		s.closeAndDrain(websocket.CloseUnsupportedData, wsrtt.ReasonUnsupportedType)
		return err

	case errors.Is(err, protocol.ErrDecode):
		s.log.Warn("malformed message", zap.Error(err))
		s.opts.Metrics.MessageRejected("decode")
		s.closeAndDrain(websocket.CloseProtocolError, wsrtt.ReasonInvalidMessage)
		return err
	}

	if ctx.Err() != nil || s.State() != wsrtt.StateOpen {
		// Interrupted by cancellation or the close grace period.
		return nil
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		s.log.Info("unexpected websocket close", zap.Error(err))
	}
	return err
}

func (s *Session) sendLoop(ctx context.Context) error {
	for {
		msg, err := s.pipeline.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, pipeline.ErrCompleted) || errors.Is(err, pipeline.ErrAborted) {
				return nil
			}
			return err
		}

		if !s.IsAlive() {
			// A close frame is out; discard until the receive side finishes.
			continue
		}

		data, err := protocol.Encode(msg)
		if err != nil {
			s.log.Error(wsrtt.ErrFailedToEncode, zap.String("id", msg.ID.String()), zap.Error(err))
			continue
		}

		s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			if ctx.Err() != nil || !s.IsAlive() {
				return nil
			}
			return err
		}
		s.opts.Metrics.MessageSent(len(msg.Content))
	}
}

// keepalive pings the peer so idle sessions survive the read deadline.
func (s *Session) keepalive(ctx context.Context) error {
	if s.opts.PingInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !s.IsAlive() {
				continue
			}
			deadline := time.Now().Add(s.opts.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if ctx.Err() != nil || !s.IsAlive() {
					return nil
				}
				return err
			}
		}
	}
}

// initiateClose sends the close frame once and moves the session to Closing.
func (s *Session) initiateClose(code int, reason string) bool {
	if !s.state.CAS(int32(wsrtt.StateOpen), int32(wsrtt.StateClosing)) {
		return false
	}
	s.closeCode.Store(int32(code))
	s.closeReason.Store(reason)

	message := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(s.opts.WriteTimeout)
	if err := s.conn.WriteControl(websocket.CloseMessage, message, deadline); err != nil {
		s.log.Debug("failed to send close frame", zap.Int("code", code), zap.Error(err))
	}
	return true
}

func (s *Session) closeAndDrain(code int, reason string) {
	if s.initiateClose(code, reason) {
		s.drain()
	}
}

// drain reads and discards frames until the peer answers the close frame or
// the grace period runs out. Leaving unread bytes in the socket would turn
// the final close into a reset.
func (s *Session) drain() {
	s.conn.SetReadDeadline(time.Now().Add(s.opts.CloseGracePeriod))
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			return
		}
	}
}

func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		s.cancel()
		s.pipeline.Complete()
		s.pipeline.Abort()
		s.state.Store(int32(wsrtt.StateClosed))
		s.conn.Close()

		code, _ := s.CloseStatus()
		s.opts.Metrics.SessionClosed(code)
		s.log.Debug("session closed",
			zap.Int("code", code),
			zap.Int64("dropped", s.pipeline.Dropped()),
		)
	})
}
