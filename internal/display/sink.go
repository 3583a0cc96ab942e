package display

import (
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/luciancaetano/wsrtt/internal/latency"
)

// DefaultSubject is the NATS subject points are published on.
const DefaultSubject = "wsrtt.points"

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Sink receives every resolved point together with the aggregates at that
// moment.
type Sink interface {
	Publish(p latency.Point, m latency.Metrics) error
}

// Frame is the JSON document a NATSSink publishes. Durations are in
// milliseconds so a chart can plot them directly.
type Frame struct {
	RunID      string  `json:"runId,omitempty"`
	Seq        int64   `json:"seq"`
	ID         string  `json:"id"`
	LatencyMs  float64 `json:"latencyMs"`
	MsgRx      int64   `json:"msgRx"`
	MsgTx      int64   `json:"msgTx"`
	CharRx     int64   `json:"charRx"`
	CharTx     int64   `json:"charTx"`
	MinLatency float64 `json:"minLatencyMs"`
	MaxLatency float64 `json:"maxLatencyMs"`
	AvgLatency float64 `json:"avgLatencyMs"`
}

// NewFrame flattens a point and its metrics.
func NewFrame(runID string, p latency.Point, m latency.Metrics) Frame {
	return Frame{
		RunID:      runID,
		Seq:        p.Seq,
		ID:         p.ID,
		LatencyMs:  millis(p.Latency),
		MsgRx:      m.MsgRx,
		MsgTx:      m.MsgTx,
		CharRx:     m.CharRx,
		CharTx:     m.CharTx,
		MinLatency: millis(m.MinLatency),
		MaxLatency: millis(m.MaxLatency),
		AvgLatency: millis(m.AvgLatency),
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// publisher is the part of *nats.Conn a NATSSink needs.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes frames to a NATS subject for an external chart.
type NATSSink struct {
	pub     publisher
	conn    *nats.Conn
	subject string
	runID   string
}

// DialNATS connects to url and returns a sink publishing on subject.
func DialNATS(url, subject, runID string) (*NATSSink, error) {
	conn, err := nats.Connect(url, nats.Name("wsrtt-driver"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	s := newNATSSink(conn, subject, runID)
	s.conn = conn
	return s, nil
}

func newNATSSink(pub publisher, subject, runID string) *NATSSink {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSink{pub: pub, subject: subject, runID: runID}
}

func (s *NATSSink) Publish(p latency.Point, m latency.Metrics) error {
	data, err := codec.Marshal(NewFrame(s.runID, p, m))
	if err != nil {
		return err
	}
	return s.pub.Publish(s.subject, data)
}

// Close flushes pending publishes and closes the connection, if the sink
// owns one.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Flush()
	s.conn.Close()
	return err
}

// LogSink writes every point to a zap logger at debug level.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Publish(p latency.Point, m latency.Metrics) error {
	s.log.Debug("round trip",
		zap.Int64("seq", p.Seq),
		zap.String("id", p.ID),
		zap.Duration("latency", p.Latency),
		zap.Duration("avg", m.AvgLatency),
		zap.Int64("msg_rx", m.MsgRx),
		zap.Int64("msg_tx", m.MsgTx),
	)
	return nil
}

// Multi fans a point out to several sinks. Every sink is tried; the errors
// are joined.
type Multi []Sink

func (ms Multi) Publish(p latency.Point, m latency.Metrics) error {
	var errs []error
	for _, s := range ms {
		if err := s.Publish(p, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
