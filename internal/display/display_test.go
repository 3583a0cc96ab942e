package display

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/luciancaetano/wsrtt/internal/latency"
)

func point(seq int64) latency.Point {
	return latency.Point{Seq: seq, ID: "id", Latency: time.Duration(seq) * time.Millisecond}
}

// TestSeriesWindow tests that the ring keeps the newest points in order
func TestSeriesWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		length  int
		add     int
		wantLen int
		first   int64
	}{
		{name: "empty", length: 3, add: 0, wantLen: 0},
		{name: "partial", length: 3, add: 2, wantLen: 2, first: 1},
		{name: "exactly full", length: 3, add: 3, wantLen: 3, first: 1},
		{name: "wrapped", length: 3, add: 7, wantLen: 3, first: 5},
		{name: "default length", length: 0, add: 250, wantLen: DefaultSeriesLength, first: 51},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := NewSeries(tt.length)
			for i := 1; i <= tt.add; i++ {
				s.Add(point(int64(i)))
			}

			points := s.Points()
			require.Len(t, points, tt.wantLen)
			assert.Equal(t, tt.wantLen, s.Len())
			for i, p := range points {
				assert.Equal(t, tt.first+int64(i), p.Seq)
			}
		})
	}
}

// TestSeriesReset tests that Reset empties the ring
func TestSeriesReset(t *testing.T) {
	t.Parallel()

	s := NewSeries(2)
	s.Add(point(1))
	s.Add(point(2))
	s.Add(point(3))
	s.Reset()

	assert.Empty(t, s.Points())
	s.Add(point(9))
	assert.Equal(t, []latency.Point{point(9)}, s.Points())
}

type fakePublisher struct {
	subject string
	data    [][]byte
	err     error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subject = subject
	f.data = append(f.data, data)
	return f.err
}

// TestNATSSinkPublish tests the subject and frame written to NATS
func TestNATSSinkPublish(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	sink := newNATSSink(pub, "", "run-1")

	m := latency.Metrics{MsgRx: 1, MsgTx: 2, AvgLatency: 1500 * time.Microsecond}
	require.NoError(t, sink.Publish(latency.Point{Seq: 1, ID: "1", Latency: 3 * time.Millisecond}, m))

	assert.Equal(t, DefaultSubject, pub.subject)
	require.Len(t, pub.data, 1)

	var frame Frame
	require.NoError(t, codec.Unmarshal(pub.data[0], &frame))
	assert.Equal(t, "run-1", frame.RunID)
	assert.Equal(t, "1", frame.ID)
	assert.Equal(t, 3.0, frame.LatencyMs)
	assert.Equal(t, 1.5, frame.AvgLatency)
	assert.Equal(t, int64(2), frame.MsgTx)

	// A sink without its own connection closes cleanly.
	assert.NoError(t, sink.Close())
}

// TestLogSink tests that points are logged at debug level
func TestLogSink(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Publish(point(4), latency.Metrics{}))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "round trip", entries[0].Message)
	assert.Equal(t, int64(4), entries[0].ContextMap()["seq"])
}

// TestMultiJoinsErrors tests that one failing sink does not stop the others
func TestMultiJoinsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	failing := &fakePublisher{err: boom}
	ok := &fakePublisher{}

	sinks := Multi{newNATSSink(failing, "a", ""), newNATSSink(ok, "b", "")}
	err := sinks.Publish(point(1), latency.Metrics{})

	assert.ErrorIs(t, err, boom)
	assert.Len(t, ok.data, 1)
}
