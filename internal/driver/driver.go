// Package driver generates echo requests at a fixed size and rate and
// measures how long each one takes to come back.
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luciancaetano/wsrtt"
	"github.com/luciancaetano/wsrtt/internal/display"
	"github.com/luciancaetano/wsrtt/internal/latency"
	"github.com/luciancaetano/wsrtt/internal/protocol"
)

var (
	// ErrRunning is returned by Start while a run is in progress.
	ErrRunning = errors.New(wsrtt.ErrDriverRunning)
	// ErrInvalidConfig wraps every Config validation failure.
	ErrInvalidConfig = errors.New("invalid driver config")
)

const (
	fillChar         = "A"
	writeTimeout     = 10 * time.Second
	closeGracePeriod = time.Second
)

// Status mirrors the connection state shown to the operator.
type Status string

const (
	StatusIdle       Status = ""
	StatusConnecting Status = "CONNECTING"
	StatusOpen       Status = "OPEN"
	StatusClosed     Status = "CLOSED"
	StatusError      Status = "ERROR"
)

// Config describes one run.
type Config struct {
	// URL of the echo endpoint, e.g. ws://localhost:8080/api/messaging.
	URL string
	// Size is the number of content characters per request.
	Size int
	// Frequency is the interval between two requests.
	Frequency time.Duration
	// Delay is passed to the server, which holds each response that long.
	Delay time.Duration
}

// DefaultConfig returns 1024-character requests every 500ms with no delay.
func DefaultConfig() Config {
	return Config{
		URL:       "ws://localhost:8080" + wsrtt.DefaultMessagingPath,
		Size:      1024,
		Frequency: 500 * time.Millisecond,
	}
}

// Validate checks size >= 0, frequency > 0, delay >= 0 and a ws/wss URL.
func (c Config) Validate() error {
	if c.Size < 0 {
		return fmt.Errorf("%w: size must not be negative", ErrInvalidConfig)
	}
	if c.Frequency <= 0 {
		return fmt.Errorf("%w: frequency must be positive", ErrInvalidConfig)
	}
	if c.Delay < 0 {
		return fmt.Errorf("%w: delay must not be negative", ErrInvalidConfig)
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: url scheme must be ws or wss", ErrInvalidConfig)
	}
	return nil
}

// endpoint returns the URL with the delay query parameter set.
func (c Config) endpoint() string {
	u, _ := url.Parse(c.URL)
	q := u.Query()
	q.Set(wsrtt.DelayQueryParam, strconv.FormatInt(c.Delay.Milliseconds(), 10))
	u.RawQuery = q.Encode()
	return u.String()
}

// Options configures a Driver.
type Options struct {
	// RunID labels every run of this driver. A fresh uuid is used per run
	// when empty.
	RunID string
	// SeriesLength bounds the point series. Defaults to display.DefaultSeriesLength.
	SeriesLength     int
	CorrectedAverage bool
	Sinks            []display.Sink
	Dialer           *websocket.Dialer
	Logger           *zap.Logger
}

// Driver runs one test at a time. Start may be called again after the
// previous run ended; every counter is reset.
type Driver struct {
	fixedID string
	tracker *latency.Tracker
	series  *display.Series
	sink    display.Sink
	dialer  *websocket.Dialer
	log     *zap.Logger

	status *atomic.String
	seq    *atomic.Int64

	mu      sync.Mutex
	running bool
	runID   string
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// New creates an idle driver.
func New(opts Options) *Driver {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}

	done := make(chan struct{})
	close(done)

	return &Driver{
		fixedID: opts.RunID,
		tracker: latency.New(latency.Options{CorrectedAverage: opts.CorrectedAverage}),
		series:  display.NewSeries(opts.SeriesLength),
		sink:    display.Multi(opts.Sinks),
		dialer:  opts.Dialer,
		log:     opts.Logger.Named("driver"),
		status:  atomic.NewString(string(StatusIdle)),
		seq:     atomic.NewInt64(0),
		done:    done,
	}
}

// Start validates cfg, connects and begins sending. It returns once the
// connection is open; the run continues until Stop, ctx is cancelled or the
// connection ends.
func (d *Driver) Start(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrRunning
	}

	d.tracker.Reset()
	d.series.Reset()
	d.seq.Store(0)
	d.err = nil
	d.runID = d.fixedID
	if d.runID == "" {
		d.runID = uuid.New().String()
	}
	d.status.Store(string(StatusConnecting))

	log := d.log.With(zap.String("run_id", d.runID))
	endpoint := cfg.endpoint()

	conn, _, err := d.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		d.status.Store(string(StatusError))
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	d.status.Store(string(StatusOpen))
	log.Info("driver started",
		zap.String("url", endpoint),
		zap.Int("size", cfg.Size),
		zap.Duration("frequency", cfg.Frequency),
	)

	runCtx, cancel := context.WithCancel(ctx)
	d.running = true
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.run(runCtx, cancel, conn, cfg, log, d.done)
	return nil
}

// Stop ends the current run with a normal close and waits for it to finish.
// It is a no-op when nothing is running.
func (d *Driver) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	cancel()
	<-done
}

// Wait blocks until the current run is over and returns why it ended. A
// close frame from the server other than a normal closure is returned as a
// *websocket.CloseError.
func (d *Driver) Wait() error {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()

	<-done

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Running reports whether a run is in progress.
func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Driver) Status() Status {
	return Status(d.status.Load())
}

// RunID identifies the current or last run.
func (d *Driver) RunID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runID
}

func (d *Driver) Snapshot() latency.Metrics {
	return d.tracker.Snapshot()
}

// Points returns the most recent round trips, oldest first.
func (d *Driver) Points() []latency.Point {
	return d.series.Points()
}

// Pending returns the number of requests without a response so far.
func (d *Driver) Pending() int {
	return d.tracker.Pending()
}

func (d *Driver) run(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, cfg Config, log *zap.Logger, done chan struct{}) {
	var readErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return d.sendLoop(gctx, conn, cfg)
	})
	g.Go(func() error {
		defer cancel()
		readErr = d.readLoop(gctx, conn, log)
		return readErr
	})
	g.Go(func() error {
		<-gctx.Done()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		// Fails harmlessly when the server closed first.
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		conn.SetReadDeadline(time.Now().Add(closeGracePeriod))
		return nil
	})

	err := g.Wait()
	conn.Close()
	// A close frame explains the end of the run better than the write that
	// failed because of it.
	if readErr != nil {
		err = readErr
	}

	var closeErr *websocket.CloseError
	switch {
	case err == nil:
		d.status.Store(string(StatusClosed))
	case errors.As(err, &closeErr):
		d.status.Store(string(StatusClosed))
		if closeErr.Code == websocket.CloseNormalClosure {
			err = nil
		}
	default:
		d.status.Store(string(StatusError))
	}

	m := d.tracker.Snapshot()
	log.Info("driver stopped",
		zap.Int64("msg_tx", m.MsgTx),
		zap.Int64("msg_rx", m.MsgRx),
		zap.Duration("avg_latency", m.AvgLatency),
		zap.Int("pending", d.tracker.Pending()),
		zap.Error(err),
	)

	d.mu.Lock()
	d.err = err
	d.running = false
	d.mu.Unlock()
	close(done)
}

func (d *Driver) sendLoop(ctx context.Context, conn *websocket.Conn, cfg Config) error {
	content := strings.Repeat(fillChar, cfg.Size)
	ticker := time.NewTicker(cfg.Frequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		now := time.Now()
		msg := protocol.AppMessage{
			ID:      protocol.NumericID(d.seq.Inc()),
			Type:    protocol.Request,
			Content: content,
			Date:    json.RawMessage(strconv.FormatInt(now.UnixMilli(), 10)),
		}
		data, err := protocol.Encode(msg)
		if err != nil {
			return err
		}

		// Record before writing so a fast response always finds its request.
		d.tracker.OnSend(msg.ID.String(), len(data), now)

		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (d *Driver) readLoop(ctx context.Context, conn *websocket.Conn, log *zap.Logger) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return closeErr
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		at := time.Now()

		if messageType != websocket.TextMessage {
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			log.Warn("ignoring undecodable response", zap.Error(err))
			continue
		}

		point, ok := d.tracker.OnReceive(msg.ID.String(), len(data), at)
		if !ok {
			continue
		}
		d.series.Add(point)
		if err := d.sink.Publish(point, d.tracker.Snapshot()); err != nil {
			log.Warn("failed to publish point", zap.Error(err))
		}
	}
}
